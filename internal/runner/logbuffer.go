package runner

import (
	"encoding/json"
	"sync"
	"time"
)

// Output streams.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Line is one buffered output line with its monotonic sequence number.
type Line struct {
	Seq    int       `json:"seq"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
}

// LogBuffer is an append-only per-operation output buffer. Sequence numbers
// start at 1 and grow monotonically, so consumers can poll with "lines since
// N" instead of depending on delivery timing. An optional notify callback
// observes every appended line in emission order.
type LogBuffer struct {
	// appendMu serializes Append end to end, including the notify call, so
	// callbacks observe sequence numbers in order. mu guards the slice and
	// callback pointer for readers, which never hold appendMu.
	appendMu sync.Mutex
	mu       sync.Mutex
	lines    []Line
	notify   func(Line)
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// OnAppend registers a callback invoked synchronously for each appended line.
// Must be set before the producer starts writing.
func (b *LogBuffer) OnAppend(fn func(Line)) {
	b.mu.Lock()
	b.notify = fn
	b.mu.Unlock()
}

// Append adds one line to the buffer and returns its sequence number. The
// notify callback runs before the next Append may proceed, so subscribers
// see lines in sequence order.
func (b *LogBuffer) Append(stream, text string) int {
	b.appendMu.Lock()
	defer b.appendMu.Unlock()

	b.mu.Lock()
	line := Line{Seq: len(b.lines) + 1, Stream: stream, Text: text, Time: time.Now().UTC()}
	b.lines = append(b.lines, line)
	notify := b.notify
	b.mu.Unlock()

	if notify != nil {
		notify(line)
	}
	return line.Seq
}

// Since returns all lines with a sequence number greater than seq.
func (b *LogBuffer) Since(seq int) []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(b.lines) {
		return nil
	}
	out := make([]Line, len(b.lines)-seq)
	copy(out, b.lines[seq:])
	return out
}

// Len returns the number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// MarshalJSON serializes the full buffer for durable storage on the
// operation record.
func (b *LogBuffer) MarshalJSON() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lines == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(b.lines)
}
