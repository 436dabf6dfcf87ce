package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/runner"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// Hub is the realtime broadcaster: a registry of sessions organized into
// topic subscriptions and rooms. Delivery is best-effort, at-most-once; a
// failed send is dropped and logged, never retried. Durable truth lives in
// the operation and deployment records, not in delivered messages.
type Hub struct {
	heartbeatInterval time.Duration
	livenessTimeout   time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]struct{}
}

func NewHub(heartbeatInterval, livenessTimeout time.Duration) *Hub {
	return &Hub{
		heartbeatInterval: heartbeatInterval,
		livenessTimeout:   livenessTimeout,
		sessions:          map[string]*Session{},
		rooms:             map[string]map[string]struct{}{},
	}
}

// Register creates a session for a connected transport.
func (h *Hub) Register(t Transport) *Session {
	s := &Session{
		ID:            uuid.NewString(),
		transport:     t,
		subscriptions: map[string]struct{}{},
		rooms:         map[string]struct{}{},
		lastLiveness:  time.Now(),
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	logger.L().Info("session registered", zap.String("session_id", s.ID))
	return s
}

// Unregister removes a session from the registry and every room, and closes
// its transport.
func (h *Hub) Unregister(sessionID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
		for room := range s.rooms {
			h.removeFromRoomLocked(room, sessionID)
		}
	}
	h.mu.Unlock()
	if ok {
		s.close()
		logger.L().Info("session unregistered", zap.String("session_id", sessionID))
	}
}

// HandleMessage processes one inbound frame from a session. Malformed or
// unknown messages produce an error event to that session only; they never
// propagate to other sessions.
func (h *Hub) HandleMessage(s *Session, raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		logger.L().Warn("rejected inbound message", zap.Error(err), zap.String("session_id", s.ID))
		h.SendToSession(s.ID, NewEvent(TypeError, ErrorPayload{Message: err.Error()}))
		return
	}

	switch in.Type {
	case TypeSubscribe:
		s.subscribe(in.Topic)
	case TypeUnsubscribe:
		s.unsubscribe(in.Topic)
	case TypeJoinRoom:
		h.JoinRoom(s, in.Room)
	case TypeLeaveRoom:
		h.LeaveRoom(s, in.Room)
	case TypeHeartbeatResponse:
		s.touch(time.Now())
	}
}

// JoinRoom adds the session to a room, creating the room lazily.
func (h *Hub) JoinRoom(s *Session, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = map[string]struct{}{}
		h.rooms[room] = members
	}
	members[s.ID] = struct{}{}
	h.mu.Unlock()

	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()
}

// LeaveRoom removes the session from a room; empty rooms are destroyed.
func (h *Hub) LeaveRoom(s *Session, room string) {
	h.mu.Lock()
	h.removeFromRoomLocked(room, s.ID)
	h.mu.Unlock()

	s.mu.Lock()
	delete(s.rooms, room)
	s.mu.Unlock()
}

func (h *Hub) removeFromRoomLocked(room, sessionID string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, sessionID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// SendToSession delivers one event to one session, best-effort.
func (h *Hub) SendToSession(sessionID string, env Envelope) {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := s.send(env); err != nil {
		logger.L().Debug("send to session failed, dropped", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// Broadcast delivers the event to every session matching the predicate.
func (h *Hub) Broadcast(env Envelope, match func(*Session) bool) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if match == nil || match(s) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(env); err != nil {
			logger.L().Debug("broadcast send failed, dropped", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// SendToRoom delivers the event to every member of the room.
func (h *Hub) SendToRoom(room string, env Envelope) {
	h.mu.RLock()
	var targets []*Session
	for id := range h.rooms[room] {
		if s, ok := h.sessions[id]; ok {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(env); err != nil {
			logger.L().Debug("room send failed, dropped", zap.String("room", room), zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// Emit fans the event out to the room's members plus every session
// subscribed to the event type, delivering at most once per session.
func (h *Hub) Emit(eventType string, payload any, room string) {
	env := NewEvent(eventType, payload)

	h.mu.RLock()
	seen := map[string]*Session{}
	if room != "" {
		for id := range h.rooms[room] {
			if s, ok := h.sessions[id]; ok {
				seen[id] = s
			}
		}
	}
	for id, s := range h.sessions {
		if _, dup := seen[id]; dup {
			continue
		}
		if s.subscribed(eventType) {
			seen[id] = s
		}
	}
	h.mu.RUnlock()

	for _, s := range seen {
		if err := s.send(env); err != nil {
			logger.L().Debug("emit send failed, dropped", zap.String("event", eventType), zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// Run drives the periodic liveness probe: each tick sends a heartbeat to
// every session and forcibly disconnects any whose last liveness response
// exceeds the timeout, bounding memory from abandoned connections.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	hb := NewEvent(TypeHeartbeat, nil)
	for _, s := range all {
		if s.livenessAge(now) > h.livenessTimeout {
			logger.L().Info("evicting unresponsive session", zap.String("session_id", s.ID))
			h.Unregister(s.ID)
			continue
		}
		if err := s.send(hb); err != nil {
			logger.L().Debug("heartbeat send failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
}

// SessionCount returns the number of registered sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of members of a room (0 when absent).
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Domain notification helpers. The hub satisfies the orchestrator's
// Notifier so operation progress streams straight to subscribers.

func RoomForDeployment(name string) string { return "deployment:" + name }
func RoomForOperation(id uuid.UUID) string { return "operation:" + id.String() }

// NotifyDeploymentUpdate announces a deployment status change.
func (h *Hub) NotifyDeploymentUpdate(deployment, status string) {
	h.Emit(TypeDeploymentStatusUpdate, DeploymentStatusPayload{Deployment: deployment, Status: status}, RoomForDeployment(deployment))
}

// NotifyInstanceStateChange announces a provisioned instance state change.
func (h *Hub) NotifyInstanceStateChange(deployment, instance, state string) {
	h.Emit(TypeInstanceStateChange, InstanceStatePayload{Deployment: deployment, Instance: instance, State: state}, RoomForDeployment(deployment))
}

func (h *Hub) OperationLog(operationID uuid.UUID, line runner.Line) {
	h.Emit(TypeOperationLog, OperationLogPayload{
		OperationID: operationID.String(),
		Seq:         line.Seq,
		Stream:      line.Stream,
		Text:        line.Text,
		Time:        line.Time,
	}, RoomForOperation(operationID))
}

func (h *Hub) OperationStatus(operationID uuid.UUID, deployment, kind, status string) {
	h.Emit(TypeOperationStatus, OperationStatusPayload{
		OperationID: operationID.String(),
		Deployment:  deployment,
		Kind:        kind,
		Status:      status,
	}, RoomForDeployment(deployment))
}

func (h *Hub) DeploymentUpdate(deployment, status string) {
	h.NotifyDeploymentUpdate(deployment, status)
}

func (h *Hub) DriftDetected(deployment string, result *models.DriftResult) {
	h.Emit(TypeDriftDetected, result, RoomForDeployment(deployment))
}
