// Package dispatch drains the durable outbound queue into the push and email
// transports. Delivery is at-least-once: a cycle that committed but crashed
// before draining leaves its jobs queued, and transports must tolerate a
// repeat.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xeipuuv/gojsonschema"

	"github.com/AudiusProject/apps-sub003/internal/store"
)

// Renderer produces the human-readable payload for a queued job. Rendering
// (templates, copy, localization) is an external collaborator.
type Renderer interface {
	Render(job store.DeliveryJob) (json.RawMessage, error)
}

// Transport accepts a rendered payload for a channel. Push and email
// transports live outside this subsystem.
type Transport interface {
	Send(ctx context.Context, payload json.RawMessage) error
}

// Rendered payloads must carry at least a recipient list and the
// channel-appropriate text fields before they reach a transport.
const pushSchema = `{
	"type": "object",
	"required": ["title", "body", "recipient_ids"],
	"properties": {
		"title":         {"type": "string", "minLength": 1},
		"body":          {"type": "string"},
		"recipient_ids": {"type": "array", "items": {"type": "integer"}, "minItems": 1}
	}
}`

const emailSchema = `{
	"type": "object",
	"required": ["subject", "html", "recipient_ids"],
	"properties": {
		"subject":       {"type": "string", "minLength": 1},
		"html":          {"type": "string", "minLength": 1},
		"recipient_ids": {"type": "array", "items": {"type": "integer"}, "minItems": 1}
	}
}`

// Dispatcher drains delivery jobs for the channels it has transports for.
type Dispatcher struct {
	store      *store.Store
	renderer   Renderer
	transports map[string]Transport
	schemas    map[string]*gojsonschema.Schema
	batchSize  int
}

// New builds a Dispatcher. transports is keyed by channel; channels without
// a transport cannot be drained.
func New(s *store.Store, renderer Renderer, transports map[string]Transport) (*Dispatcher, error) {
	schemas := map[string]*gojsonschema.Schema{}
	for channel, raw := range map[string]string{
		store.ChannelPush:  pushSchema,
		store.ChannelEmail: emailSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", channel, err)
		}
		schemas[channel] = schema
	}
	return &Dispatcher{
		store:      s,
		renderer:   renderer,
		transports: transports,
		schemas:    schemas,
		batchSize:  100,
	}, nil
}

// Drain processes queued jobs for one channel in FIFO order until the queue
// is empty, returning the number handed to the transport. A job that fails
// to render, validate, or send is logged and dropped; retry policy belongs
// to the transport or the job scheduler, not here.
func (d *Dispatcher) Drain(ctx context.Context, channel string) (int, error) {
	transport, ok := d.transports[channel]
	if !ok {
		return 0, fmt.Errorf("no transport for channel %q", channel)
	}

	sent := 0
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		jobs, err := d.store.NextDeliveries(channel, d.batchSize)
		if err != nil {
			return sent, fmt.Errorf("fetch deliveries: %w", err)
		}
		if len(jobs) == 0 {
			return sent, nil
		}
		for _, job := range jobs {
			if d.deliver(ctx, transport, channel, job) {
				sent++
			}
			if err := d.store.DeleteDelivery(job.ID); err != nil {
				return sent, fmt.Errorf("dequeue delivery %d: %w", job.ID, err)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, transport Transport, channel string, job store.DeliveryJob) bool {
	payload, err := d.renderer.Render(job)
	if err != nil {
		slog.Error("render delivery failed, dropping job",
			"channel", channel, "notification_id", job.NotificationID, "error", err)
		return false
	}

	result, err := d.schemas[channel].Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil || !result.Valid() {
		slog.Error("rendered payload failed validation, dropping job",
			"channel", channel, "notification_id", job.NotificationID,
			"error", err, "violations", validationSummary(result))
		return false
	}

	if err := transport.Send(ctx, payload); err != nil {
		slog.Error("transport rejected delivery, dropping job",
			"channel", channel, "notification_id", job.NotificationID, "error", err)
		return false
	}
	return true
}

func validationSummary(result *gojsonschema.Result) []string {
	if result == nil {
		return nil
	}
	out := make([]string, 0, len(result.Errors()))
	for _, item := range result.Errors() {
		out = append(out, item.Field()+": "+item.Description())
	}
	return out
}
