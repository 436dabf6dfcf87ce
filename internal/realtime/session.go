package realtime

import (
	"sync"
	"time"
)

// Transport is one live connection's write side. The hub owns the session;
// reads are driven by the connection handler feeding Hub.HandleMessage.
type Transport interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one realtime connection with its subscriptions and room
// memberships. Writes are serialized; gorilla permits one concurrent writer.
type Session struct {
	ID string

	mu            sync.Mutex
	transport     Transport
	subscriptions map[string]struct{}
	rooms         map[string]struct{}
	lastLiveness  time.Time
}

func (s *Session) send(env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport.WriteJSON(env)
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastLiveness = now
	s.mu.Unlock()
}

func (s *Session) livenessAge(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastLiveness)
}

func (s *Session) subscribe(topic string) {
	s.mu.Lock()
	s.subscriptions[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) unsubscribe(topic string) {
	s.mu.Lock()
	delete(s.subscriptions, topic)
	s.mu.Unlock()
}

func (s *Session) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subscriptions[topic]
	return ok
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.transport.Close()
}
