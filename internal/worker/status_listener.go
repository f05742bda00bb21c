package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/consult-api/internal/model"
	"github.com/jwalitptl/consult-api/pkg/logger"
	"github.com/jwalitptl/consult-api/pkg/messaging"
)

// StatusHandler is called for every decoded status event
type StatusHandler func(ctx context.Context, event *model.StatusEvent) error

// StatusListener consumes consultation status events from the broker
type StatusListener struct {
	broker  messaging.Broker
	channel string
	handle  StatusHandler
	logger  *logger.Logger
}

func NewStatusListener(broker messaging.Broker, channel string, handle StatusHandler, log *logger.Logger) *StatusListener {
	if log == nil {
		log = logger.Nop()
	}
	l := &StatusListener{
		broker:  broker,
		channel: channel,
		handle:  handle,
		logger:  log.With("status_listener"),
	}
	if l.handle == nil {
		l.handle = l.logEvent
	}
	return l
}

// Run blocks until ctx is done or the subscription closes
func (l *StatusListener) Run(ctx context.Context) error {
	messages, err := l.broker.Subscribe(ctx, l.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.channel, err)
	}

	l.logger.Info("Listening for status events", "channel", l.channel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event model.StatusEvent
			if err := json.Unmarshal(msg, &event); err != nil {
				l.logger.Warn("Dropping malformed status event", "error", err.Error())
				continue
			}
			if err := l.handle(ctx, &event); err != nil {
				l.logger.Error(err, "Failed to handle status event", "consultation_id", event.ConsultationID.String())
			}
		}
	}
}

func (l *StatusListener) logEvent(_ context.Context, event *model.StatusEvent) error {
	fields := []interface{}{
		"consultation_id", event.ConsultationID.String(),
		"doctor_id", event.DoctorID.String(),
		"status", string(event.Status),
	}
	if event.Error != "" {
		fields = append(fields, "error", event.Error)
	}
	l.logger.Info("Consultation status changed", fields...)
	return nil
}
