package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"roomcast/internal/events"
	"roomcast/internal/telemetry"
	"roomcast/pkg/logger"

	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// ErrInvalidPayload is returned for payloads that are not a JSON document.
var ErrInvalidPayload = errors.New("broadcast payload is not valid JSON")

type BusConfig struct {
	Channel      string
	InstanceID   string
	RetryBackoff time.Duration
}

// Bus fans payloads out to room or user connections on every instance: it
// delivers to local connections first, then publishes an envelope that peer
// instances replay against their own registries.
type Bus struct {
	registry *Registry
	broker   events.Broker
	cfg      BusConfig
	log      *logger.Logger
	metrics  *telemetry.Metrics

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewBus creates a bus bound to registry and broker
func NewBus(registry *Registry, broker events.Broker, cfg BusConfig, log *logger.Logger, metrics *telemetry.Metrics) *Bus {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Bus{
		registry: registry,
		broker:   broker,
		cfg:      cfg,
		log:      log.Named("broadcast"),
		metrics:  metrics,
	}
}

// InstanceID returns the id stamped on published envelopes
func (b *Bus) InstanceID() string {
	return b.cfg.InstanceID
}

// Deliver pushes payload to every connection in roomID except excludeConnID
// and returns the number of local connections reached. Publish failures are
// logged and never returned. A payload that is not valid JSON is refused
// outright so that no instance sees it.
func (b *Bus) Deliver(ctx context.Context, roomID string, payload []byte, excludeConnID string) int {
	if !b.validPayload(ctx, events.TargetRoom, roomID, payload) {
		return 0
	}
	n := b.deliverLocal(ctx, events.TargetRoom, roomID, payload, excludeConnID)
	b.publish(ctx, events.TargetRoom, roomID, payload, excludeConnID)
	return n
}

// DeliverToUser pushes payload to every connection of userID.
func (b *Bus) DeliverToUser(ctx context.Context, userID string, payload []byte) int {
	if !b.validPayload(ctx, events.TargetUser, userID, payload) {
		return 0
	}
	n := b.deliverLocal(ctx, events.TargetUser, userID, payload, "")
	b.publish(ctx, events.TargetUser, userID, payload, "")
	return n
}

func (b *Bus) validPayload(ctx context.Context, kind events.TargetKind, targetID string, payload []byte) bool {
	if json.Valid(payload) {
		return true
	}
	b.log.WithContext(ctx).Error("refusing broadcast",
		zap.String("target_kind", string(kind)),
		zap.String("target_id", targetID),
		zap.Error(ErrInvalidPayload),
	)
	return false
}

func (b *Bus) deliverLocal(ctx context.Context, kind events.TargetKind, targetID string, payload []byte, excludeConnID string) int {
	var conns []Conn
	if kind == events.TargetRoom {
		conns = b.registry.roomSnapshot(targetID, excludeConnID)
	} else {
		conns = b.registry.userSnapshot(targetID)
	}

	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) {
			delivered++
		}
	}
	b.metrics.Delivered(ctx, string(kind), delivered)
	return delivered
}

func (b *Bus) publish(ctx context.Context, kind events.TargetKind, targetID string, payload []byte, excludeConnID string) {
	env := events.Envelope{
		TargetKind:       kind,
		TargetID:         targetID,
		OriginInstanceID: b.cfg.InstanceID,
		Payload:          json.RawMessage(payload),
	}
	if excludeConnID != "" {
		env.ExcludeConnectionID = &excludeConnID
	}

	data, err := json.Marshal(env)
	if err != nil {
		b.log.WithContext(ctx).Error("failed to encode broadcast envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.broker.Publish(ctx, b.cfg.Channel, data); err != nil {
		b.metrics.PublishFailed(ctx)
		b.log.WithContext(ctx).Warn("broker publish failed, peers will miss this event",
			zap.String("target_kind", string(kind)),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
	}
}

// Start launches the broker listener. It keeps resubscribing with a fixed
// backoff until Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go b.listen(ctx, b.done)
}

func (b *Bus) listen(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		started := time.Now()
		err := b.broker.Subscribe(ctx, b.cfg.Channel, func(data []byte) {
			b.handleEnvelope(ctx, data)
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("subscription ended")
		}

		if time.Since(started) > b.cfg.RetryBackoff {
			attempt = 0
		}
		attempt++
		b.metrics.ListenerRestarted(ctx)
		b.log.Logger.Warn("broker listener disconnected, restarting",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", b.cfg.RetryBackoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.RetryBackoff):
		}
	}
}

func (b *Bus) handleEnvelope(ctx context.Context, data []byte) {
	env, err := events.DecodeEnvelope(data)
	if err != nil {
		b.log.Logger.Warn("dropping malformed broadcast envelope", zap.Error(err))
		return
	}
	// local delivery already happened on the origin instance
	if env.OriginInstanceID == b.cfg.InstanceID {
		return
	}

	b.inflight.Add(1)
	defer b.inflight.Done()
	b.deliverLocal(ctx, env.TargetKind, env.TargetID, env.Payload, env.Exclude())
}

// Stop cancels the listener and waits up to grace for in-flight deliveries.
func (b *Bus) Stop(grace time.Duration) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	finished := make(chan struct{})
	go func() {
		<-done
		b.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("broadcast listener did not stop within %s", grace)
	}
}
