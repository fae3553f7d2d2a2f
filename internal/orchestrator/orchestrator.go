// Package orchestrator translates batched agent envelopes into batched
// responses: request_job delegates to the order builder, report_job to
// the item lifecycle, heartbeat and log to the registry and logging
// sink. Every inbound event gets exactly one response envelope, in
// input order, echoing its reply token.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/faults"
	"github.com/mediaverse/hub/internal/orders"
	"github.com/mediaverse/hub/internal/protocol"
	"github.com/mediaverse/hub/internal/registry"
	"github.com/mediaverse/hub/internal/store"
)

// NoJobsText is the benign answer when nothing is assignable.
const NoJobsText = "no jobs available"

// Orchestrator is the webhook protocol state machine.
type Orchestrator struct {
	store    *store.Store
	builder  *orders.Builder
	registry *registry.Registry
	faults   *faults.Orchestrator
	bus      *bus.Bus
	logger   *slog.Logger
}

// New wires an Orchestrator.
func New(s *store.Store, b *orders.Builder, r *registry.Registry, f *faults.Orchestrator, evb *bus.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:    s,
		builder:  b,
		registry: r,
		faults:   f,
		bus:      evb,
		logger:   logger,
	}
}

// ProcessEnvelope handles one inbound envelope. Events are processed
// strictly in declared order; a failing event becomes an error message
// bound to its reply token and processing continues.
func (o *Orchestrator) ProcessEnvelope(env protocol.MessageEnvelope) []protocol.ResponseEnvelope {
	platformName := ""
	if client, err := o.store.GetClientByCode(env.ClientCode); err == nil {
		platformName = client.Platform
	}
	o.registry.Touch(env.ClientCode, platformName)

	responses := make([]protocol.ResponseEnvelope, 0, len(env.Events))
	for _, event := range env.Events {
		responses = append(responses, protocol.ResponseEnvelope{
			ReplyToken: event.ReplyToken,
			Messages:   o.dispatch(env.ClientCode, event),
		})
	}
	return responses
}

// dispatch routes one event, containing panics and errors.
func (o *Orchestrator) dispatch(clientCode string, event protocol.Event) (msgs []protocol.ResponseMessage) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling %s: %v", event.Type, r)
			o.faults.Handle(err, faults.KindUnknown, faults.SeverityHigh, map[string]any{
				"client_code": clientCode,
				"event_type":  event.Type,
			})
			msgs = []protocol.ResponseMessage{
				protocol.NewError(protocol.CodeProcessingError, err.Error()),
			}
		}
	}()

	var err error
	switch event.Type {
	case protocol.EventRequestJob:
		msgs, err = o.handleRequestJob(clientCode, event)
	case protocol.EventReportJob:
		msgs, err = o.handleReportJob(clientCode, event)
	case protocol.EventHeartbeat:
		msgs, err = o.handleHeartbeat(clientCode)
	case protocol.EventLog:
		msgs = o.handleLog(clientCode, event)
	default:
		return []protocol.ResponseMessage{
			protocol.NewError(protocol.CodeUnknownEvent, fmt.Sprintf("unknown event type %q", event.Type)),
		}
	}

	if err != nil {
		o.faults.Handle(err, classify(err), faults.SeverityMedium, map[string]any{
			"client_code": clientCode,
			"event_type":  event.Type,
		})
		return []protocol.ResponseMessage{
			protocol.NewError(protocol.CodeProcessingError, err.Error()),
		}
	}
	return msgs
}

func (o *Orchestrator) handleRequestJob(clientCode string, event protocol.Event) ([]protocol.ResponseMessage, error) {
	quantity := payloadInt(event.Payload, "quantity", 1)
	prodCode := payloadString(event.Payload, "prod_code")

	if o.bus != nil {
		_ = o.bus.Publish("job/requested", map[string]any{
			"client_code": clientCode,
			"quantity":    quantity,
		}, "orchestrator")
	}

	result, err := o.builder.Build(clientCode, "", quantity, prodCode)
	if err != nil {
		// Builder failures are benign to the agent.
		o.faults.Handle(err, classify(err), faults.SeverityMedium, map[string]any{
			"client_code": clientCode,
		})
		return []protocol.ResponseMessage{protocol.NewText(NoJobsText)}, nil
	}
	if result == nil || len(result.Payloads) == 0 {
		return []protocol.ResponseMessage{protocol.NewText(NoJobsText)}, nil
	}

	msgs := make([]protocol.ResponseMessage, 0, len(result.Payloads))
	for _, p := range result.Payloads {
		msgs = append(msgs, protocol.NewJobAssignment(p.JobID, "/api/video/"+p.MediaHash, map[string]any{
			"title":           p.Title,
			"description":     p.Description,
			"tags":            p.Tags,
			"affiliate_url":   p.AffiliateURL,
			"affiliate_label": p.AffiliateLabel,
			"platform_config": p.PlatformConfig,
		}))
	}

	o.registry.SetCurrentJob(clientCode, result.Payloads[0].JobID)
	if o.bus != nil {
		_ = o.bus.Publish("job/assigned", map[string]any{
			"client_code": clientCode,
			"order_id":    result.Order.ID,
			"jobs":        len(result.Payloads),
		}, "orchestrator")
	}
	return msgs, nil
}

func (o *Orchestrator) handleReportJob(clientCode string, event protocol.Event) ([]protocol.ResponseMessage, error) {
	jobID := int64(payloadInt(event.Payload, "job_id", 0))
	if jobID == 0 {
		return nil, fmt.Errorf("report_job missing job_id")
	}
	outcome := payloadString(event.Payload, "status")

	result, err := o.store.ReportItem(jobID,
		outcome,
		payloadString(event.Payload, "external_id"),
		payloadString(event.Payload, "external_url"),
		payloadString(event.Payload, "log"))
	if err != nil {
		return nil, fmt.Errorf("report job %d: %w", jobID, err)
	}

	success := result.Outcome != store.ItemStatusFailed
	o.registry.RecordOutcome(clientCode, success)

	topic := "job/completed"
	if !success {
		topic = "job/failed"
	}
	if o.bus != nil {
		_ = o.bus.Publish(topic, map[string]any{
			"client_code": clientCode,
			"job_id":      jobID,
			"outcome":     result.Outcome,
		}, "orchestrator")
		if result.Outcome == store.ItemStatusSkipped {
			_ = o.bus.Publish("order/duplicate_blocked", map[string]any{
				"client_code": clientCode,
				"job_id":      jobID,
				"media_id":    result.MediaID,
				"platform":    result.Platform,
			}, "orchestrator")
		}
		if result.OrderCompleted {
			_ = o.bus.Publish("order/completed", map[string]any{
				"order_id": result.OrderID,
			}, "orchestrator")
		}
	}

	return []protocol.ResponseMessage{protocol.NewAck()}, nil
}

func (o *Orchestrator) handleHeartbeat(clientCode string) ([]protocol.ResponseMessage, error) {
	if client, err := o.store.GetClientByCode(clientCode); err == nil {
		if err := o.store.TouchClient(client.ID, time.Now()); err != nil {
			return nil, fmt.Errorf("touch client: %w", err)
		}
	}
	if o.bus != nil {
		_ = o.bus.Publish("client/heartbeat", map[string]any{
			"client_code": clientCode,
		}, "orchestrator")
	}
	return []protocol.ResponseMessage{protocol.NewAck()}, nil
}

func (o *Orchestrator) handleLog(clientCode string, event protocol.Event) []protocol.ResponseMessage {
	message := payloadString(event.Payload, "message")
	level := payloadString(event.Payload, "level")

	args := []any{"client_code", clientCode}
	switch level {
	case "debug":
		o.logger.Debug(message, args...)
	case "warning", "warn":
		o.logger.Warn(message, args...)
	case "error", "critical":
		o.logger.Error(message, args...)
	default:
		o.logger.Info(message, args...)
	}
	return []protocol.ResponseMessage{protocol.NewAck()}
}

// classify maps store-level errors onto the fault taxonomy.
func classify(err error) faults.Kind {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return faults.KindValidation
	case errors.Is(err, store.ErrDuplicatePosting):
		return faults.KindDatabase
	default:
		return faults.KindDatabase
	}
}

// payloadInt reads an integer field from an untyped JSON payload.
func payloadInt(payload map[string]any, key string, fallback int) int {
	if payload == nil {
		return fallback
	}
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
