package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/runner"
	"github.com/opsforge/engine/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventChannel is the redis pub/sub channel bridging worker-side operation
// progress into the API process's hub.
const EventChannel = "realtime:events"

type bridgeEvent struct {
	Type    string          `json:"type"`
	Room    string          `json:"room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher forwards notifications over redis. It satisfies the
// orchestrator's Notifier in the worker process, where no hub lives.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) publish(eventType, room string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		logger.L().Error("encode bridge payload failed", zap.Error(err), zap.String("event", eventType))
		return
	}
	ev, _ := json.Marshal(bridgeEvent{Type: eventType, Room: room, Payload: b})
	if err := p.rdb.Publish(context.Background(), EventChannel, ev).Err(); err != nil {
		// Best-effort like any other realtime delivery.
		logger.L().Debug("publish bridge event failed", zap.Error(err), zap.String("event", eventType))
	}
}

func (p *Publisher) OperationLog(operationID uuid.UUID, line runner.Line) {
	p.publish(TypeOperationLog, RoomForOperation(operationID), OperationLogPayload{
		OperationID: operationID.String(),
		Seq:         line.Seq,
		Stream:      line.Stream,
		Text:        line.Text,
		Time:        line.Time,
	})
}

func (p *Publisher) OperationStatus(operationID uuid.UUID, deployment, kind, status string) {
	p.publish(TypeOperationStatus, RoomForDeployment(deployment), OperationStatusPayload{
		OperationID: operationID.String(),
		Deployment:  deployment,
		Kind:        kind,
		Status:      status,
	})
}

func (p *Publisher) DeploymentUpdate(deployment, status string) {
	p.publish(TypeDeploymentStatusUpdate, RoomForDeployment(deployment), DeploymentStatusPayload{Deployment: deployment, Status: status})
}

func (p *Publisher) DriftDetected(deployment string, result *models.DriftResult) {
	p.publish(TypeDriftDetected, RoomForDeployment(deployment), result)
}

// Forwarder subscribes to the bridge channel and replays worker events into
// the hub.
type Forwarder struct {
	rdb *redis.Client
	hub *Hub
}

func NewForwarder(rdb *redis.Client, hub *Hub) *Forwarder {
	return &Forwarder{rdb: rdb, hub: hub}
}

// Run consumes bridge events until ctx is canceled.
func (f *Forwarder) Run(ctx context.Context) {
	sub := f.rdb.Subscribe(ctx, EventChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev bridgeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.L().Warn("malformed bridge event, dropped", zap.Error(err))
				continue
			}
			f.hub.Emit(ev.Type, json.RawMessage(ev.Payload), ev.Room)
		}
	}
}
