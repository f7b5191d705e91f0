package emit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"sentrygate/internal/model"
)

// NATS subjects for forwarded records.
const (
	SubjectAccessEvents = "sentrygate.access"
	SubjectFindings     = "sentrygate.findings"
)

// Publisher forwards records to NATS as JSON. This is the alerting
// side-effect hook: downstream consumers decide what to do with the
// messages, the engines only publish and move on.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger

	// onError is invoked on publish failures, used for metrics.
	onError func()
}

// NewPublisher creates a NATS record publisher.
func NewPublisher(nc *nats.Conn, logger *slog.Logger, onError func()) *Publisher {
	return &Publisher{nc: nc, logger: logger, onError: onError}
}

// Emit publishes the record to its subject. Failures are logged and counted,
// never propagated: a broken alert hook must not stall a monitoring loop.
func (p *Publisher) Emit(ctx context.Context, rec model.Record) {
	if p.nc == nil || !p.nc.IsConnected() {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("failed to marshal record", "event_type", rec.Kind(), "error", err)
		p.fail()
		return
	}

	msg := &nats.Msg{
		Data:   data,
		Header: nats.Header{},
	}
	msg.Header.Set("x-event-type", rec.Kind())
	msg.Header.Set("x-timestamp", time.Now().UTC().Format(time.RFC3339))

	switch r := rec.(type) {
	case model.Finding:
		msg.Subject = SubjectFindings
		msg.Header.Set("x-finding-id", r.ID)
		msg.Header.Set("x-severity", r.Severity)
	default:
		msg.Subject = SubjectAccessEvents
	}

	if err := p.nc.PublishMsg(msg); err != nil {
		p.logger.Error("failed to publish record", "subject", msg.Subject, "error", err)
		p.fail()
	}
}

func (p *Publisher) fail() {
	if p.onError != nil {
		p.onError()
	}
}
