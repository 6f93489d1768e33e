// Package events turns committed canonical entity writes into representative lifecycle events
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Publisher sends encoded events; *kafka.Producer implements it
type Publisher interface {
	PublishEvents(ctx context.Context, events ...*kafka.RepresentativeEvent) error
}

// Emitter handles event emission for fern
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
	newID     func() string
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Notify emits representative.created or representative.updated for change, followed by
// representative.status_changed when an existing representative changed status
func (e *Emitter) Notify(ctx context.Context, change models.EntityChange) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Notify")
	defer span.End()

	if change.Entity == nil {
		return errors.New("change has no entity")
	}

	eventType := EventTypeRepresentativeUpdated
	if change.Kind == models.ChangeCreated {
		eventType = EventTypeRepresentativeCreated
	}

	data, err := json.Marshal(newPayload(change))
	if err != nil {
		return errors.Wrap(err, "failed to encode representative payload")
	}

	events := []*kafka.RepresentativeEvent{e.event(eventType, change, data)}
	if change.StatusChanged() {
		events = append(events, e.event(EventTypeRepresentativeStatusChanged, change, nil))
	}

	if err := e.publisher.PublishEvents(ctx, events...); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"canonical_id": change.Entity.CanonicalID,
			"event_type":   eventType,
		}).Error("Failed to emit representative events")
		return err
	}
	return nil
}

func (e *Emitter) event(eventType EventType, change models.EntityChange, data json.RawMessage) *kafka.RepresentativeEvent {
	return &kafka.RepresentativeEvent{
		EventID:        e.newID(),
		EventType:      string(eventType),
		SchemaVersion:  SchemaVersion,
		CanonicalID:    change.Entity.CanonicalID,
		RunID:          change.RunID,
		Version:        change.Entity.Version,
		CurrentStatus:  string(change.Entity.CurrentStatus),
		PreviousStatus: string(change.PreviousStatus),
		Data:           data,
		Timestamp:      e.now(),
	}
}
