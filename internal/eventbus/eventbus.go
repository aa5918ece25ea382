// Package eventbus implements the notification/alert sinks named in
// spec §6 — health_alert, performance_alert, relationship_event — over
// NATS core pub/sub. Grounded on the teacher's
// infrastructure/eventbus/nats.go (connect/reconnect handling,
// subject-per-event-type, JSON payloads), simplified to plain
// publish/subscribe since relationship_event's delivery is explicitly
// out of scope for durability per the spec.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/okinrev/veza-web-app/internal/perf"
)

// RelationshipEventKind enumerates the follow-graph mutations C9
// publishes after a successful write.
type RelationshipEventKind string

const (
	EventFollow   RelationshipEventKind = "follow"
	EventUnfollow RelationshipEventKind = "unfollow"
	EventBlock    RelationshipEventKind = "block"
	EventUnblock  RelationshipEventKind = "unblock"
	EventMute     RelationshipEventKind = "mute"
	EventUnmute   RelationshipEventKind = "unmute"
)

// RelationshipEvent is the payload published on every successful C9
// mutation.
type RelationshipEvent struct {
	Actor     string                `json:"actor"`
	Target    string                `json:"target"`
	Kind      RelationshipEventKind `json:"kind"`
	Timestamp time.Time             `json:"timestamp"`
}

// Config holds the connection parameters for the NATS bus.
type Config struct {
	URL            string
	ClientName     string
	ConnectTimeout time.Duration
	MaxReconnect   int
	ReconnectWait  time.Duration
}

// DefaultConfig mirrors the teacher's reconnect-forever posture.
func DefaultConfig() Config {
	return Config{
		URL:            nats.DefaultURL,
		ClientName:     "followd",
		ConnectTimeout: 10 * time.Second,
		MaxReconnect:   -1,
		ReconnectWait:  2 * time.Second,
	}
}

// Bus publishes relationship/health/performance events onto NATS
// subjects. It implements perf.Sink and poolopt.HealthSink directly so
// a single Bus can back all three notification sinks named in spec §6.
type Bus struct {
	cfg    Config
	nc     *nats.Conn
	logger *zap.Logger
}

// New dials url and returns a connected Bus.
func New(cfg Config, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("eventbus disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("eventbus reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}

	return &Bus{cfg: cfg, nc: nc, logger: logger}, nil
}

// Close closes the underlying connection without draining it.
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

// PublishRelationshipEvent publishes a relationship_event, per spec
// §6's "invoked by C9 after successful mutations."
func (b *Bus) PublishRelationshipEvent(ev RelationshipEvent) {
	ev.Timestamp = time.Now()
	data, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal relationship event", zap.Error(err))
		return
	}
	subject := "relationship.events." + string(ev.Kind)
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish relationship event", zap.Error(err), zap.String("subject", subject))
	}
}

// HealthAlert implements poolopt.HealthSink, publishing a health_alert
// per optimizer cycle.
func (b *Bus) HealthAlert(severity, message string) {
	b.publishAlert("alerts.health", map[string]string{"severity": severity, "message": message})
}

// PerformanceAlert implements perf.Sink, publishing a performance_alert
// whenever C1 observes a slow, very-slow, or failed query.
func (b *Bus) PerformanceAlert(alert perf.Alert) {
	b.publishAlert("alerts.performance", map[string]string{
		"kind":        string(alert.Kind),
		"message":     alert.Message,
		"fingerprint": alert.Metric.Fingerprint,
	})
}

func (b *Bus) publishAlert(subject string, payload map[string]string) {
	payload["timestamp"] = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal alert", zap.Error(err))
		return
	}
	if err := b.nc.Publish(subject, data); err != nil {
		b.logger.Warn("failed to publish alert", zap.Error(err), zap.String("subject", subject))
	}
}
