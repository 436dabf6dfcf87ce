package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is a scriptable client connection: writes are recorded, reads are
// fed through a channel.
type fakeConn struct {
	mu       sync.Mutex
	writes   []Envelope
	incoming chan []byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	raw, ok := <-f.incoming
	if !ok {
		return nil, errors.New("connection closed")
	}
	return raw, nil
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, v.(Envelope))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.incoming)
	}
	return nil
}

func (f *fakeConn) written() []Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Envelope{}, f.writes...)
}

func (f *fakeConn) feed(t *testing.T, env Envelope) {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	f.incoming <- raw
}

func fastOptions(maxAttempts int) *ClientOptions {
	return &ClientOptions{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestOfflineQueueFlushesInOrder(t *testing.T) {
	conn := newFakeConn()
	dials := 0
	dial := func(ctx context.Context) (ClientConn, error) {
		dials++
		if dials == 1 {
			return nil, errors.New("connection refused")
		}
		return conn, nil
	}

	c := NewClient(dial, fastOptions(5))

	// all of these queue: there is no connection yet
	c.Subscribe("deployment_status_update")
	c.JoinRoom(RoomForDeployment("web-1"))
	c.Send(TypeHeartbeatResponse, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		return len(conn.written()) == 3
	}, time.Second, 5*time.Millisecond)

	got := conn.written()
	require.Equal(t, TypeSubscribe, got[0].Type)
	require.Equal(t, TypeJoinRoom, got[1].Type)
	require.Equal(t, TypeHeartbeatResponse, got[2].Type)

	// a live connection writes directly, after the flushed backlog
	c.LeaveRoom(RoomForDeployment("web-1"))
	require.Eventually(t, func() bool {
		return len(conn.written()) == 4
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, TypeLeaveRoom, conn.written()[3].Type)
}

func TestGivesUpAfterAttemptBudget(t *testing.T) {
	dials := 0
	dial := func(ctx context.Context) (ClientConn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	c := NewClient(dial, fastOptions(3))
	var lost int
	var mu sync.Mutex
	c.OnConnectionLost(func() {
		mu.Lock()
		lost++
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not give up")
	}

	state, _ := c.State()
	require.Equal(t, StateGivenUp, state)
	require.Equal(t, 4, dials) // initial + the full retry budget
	mu.Lock()
	require.Equal(t, 1, lost)
	mu.Unlock()
}

func TestHeartbeatAnsweredImmediately(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (ClientConn, error) { return conn, nil }

	c := NewClient(dial, fastOptions(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		state, _ := c.State()
		return state == StateConnected
	}, time.Second, 5*time.Millisecond)

	conn.feed(t, NewEvent(TypeHeartbeat, nil))

	require.Eventually(t, func() bool {
		for _, env := range conn.written() {
			if env.Type == TypeHeartbeatResponse {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestHandlersDispatchByEventType(t *testing.T) {
	conn := newFakeConn()
	dial := func(ctx context.Context) (ClientConn, error) { return conn, nil }

	c := NewClient(dial, fastOptions(1))
	received := make(chan DeploymentStatusPayload, 1)
	c.On(TypeDeploymentStatusUpdate, func(env Envelope) {
		var p DeploymentStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			received <- p
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	conn.feed(t, NewEvent(TypeDeploymentStatusUpdate, DeploymentStatusPayload{Deployment: "web-1", Status: "ready"}))

	select {
	case p := <-received:
		require.Equal(t, "web-1", p.Deployment)
		require.Equal(t, "ready", p.Status)
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestReconnectAfterReadFailure(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	var dials atomic.Int32
	dial := func(ctx context.Context) (ClientConn, error) {
		if dials.Add(1) == 1 {
			return first, nil
		}
		return second, nil
	}

	c := NewClient(dial, fastOptions(5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		state, _ := c.State()
		return state == StateConnected
	}, time.Second, 5*time.Millisecond)

	// kill the first connection; the client should redial and recover
	first.Close()

	require.Eventually(t, func() bool {
		state, _ := c.State()
		return dials.Load() == 2 && state == StateConnected
	}, time.Second, 5*time.Millisecond)

	c.Send(TypeHeartbeatResponse, nil)
	require.Eventually(t, func() bool {
		return len(second.written()) == 1
	}, time.Second, 5*time.Millisecond)
}
