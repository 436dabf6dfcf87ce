package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunStreamsTaggedOutput(t *testing.T) {
	buf := NewLogBuffer()
	r := New()

	code, err := r.Run(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", "echo out1; echo err1 1>&2; echo out2"},
	}, buf)
	require.NoError(t, err)
	require.Equal(t, 0, code)

	lines := buf.Since(0)
	require.Len(t, lines, 3)

	var stdout, stderr []string
	for _, l := range lines {
		switch l.Stream {
		case StreamStdout:
			stdout = append(stdout, l.Text)
		case StreamStderr:
			stderr = append(stderr, l.Text)
		}
	}
	require.Equal(t, []string{"out1", "out2"}, stdout)
	require.Equal(t, []string{"err1"}, stderr)
}

func TestRunNonZeroExit(t *testing.T) {
	buf := NewLogBuffer()
	r := New()

	code, err := r.Run(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", "echo failing; exit 2"},
	}, buf)
	require.Equal(t, 2, code)

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 2, ee.Code)

	// Full output preserved regardless of outcome.
	require.Equal(t, 1, buf.Len())
	require.Equal(t, "failing", buf.Since(0)[0].Text)
}

func TestRunSpawnError(t *testing.T) {
	buf := NewLogBuffer()
	r := New()

	_, err := r.Run(context.Background(), Cmd{Path: "/nonexistent/binary-xyz"}, buf)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
}

func TestRunCapture(t *testing.T) {
	buf := NewLogBuffer()
	r := New()

	out, code, err := r.RunCapture(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", `echo '{"ok":true}'; echo progress 1>&2`},
	}, buf)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.JSONEq(t, `{"ok":true}`, string(out))

	// stderr still lands in the buffer
	lines := buf.Since(0)
	require.Len(t, lines, 1)
	require.Equal(t, StreamStderr, lines[0].Stream)
}

func TestRunWithEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	buf := NewLogBuffer()
	r := New()

	code, err := r.Run(context.Background(), Cmd{
		Path: "sh",
		Args: []string{"-c", "pwd; printf '%s\\n' \"$MARKER\""},
		Dir:  dir,
		Env:  map[string]string{"MARKER": "hello"},
	}, buf)
	require.NoError(t, err)
	require.Equal(t, 0, code)

	lines := buf.Since(0)
	require.Len(t, lines, 2)
	require.Equal(t, dir, lines[0].Text)
	require.Equal(t, "hello", lines[1].Text)
}
