package backend

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/store"
)

// ResourceEvent is published after every successful create, update or delete
type ResourceEvent struct {
	Resource   string          `json:"resource"`
	Operation  core.Operation  `json:"operation"`
	ResourceID uuid.UUID       `json:"resource_id"`
	Owner      *uuid.UUID      `json:"owner,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	RequestID  string          `json:"request_id,omitempty"`
}

// Publisher delivers resource events to the outside world
type Publisher interface {
	Publish(ctx context.Context, event ResourceEvent) error
}

// KafkaPublisher publishes resource events to a kafka topic, keyed by resource id
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher for the given brokers and topic
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish implements Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, event ResourceEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ResourceID.String()),
		Value: value,
	})
}

// Close flushes pending messages and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Event is handed to resource event handlers after a successful mutation. Previous is the
// record before an update or delete, Current the record after a create or update.
type Event struct {
	Resource  string
	Operation core.Operation
	Principal *access.Authorization
	Current   *store.Document
	Previous  *store.Document
}

type eventHandler func(ctx context.Context, event Event) error

// HandleResourceEvent installs a handler which is called after every successful operation of
// the given kinds on resource. If no operations are specified, the handler will be installed
// for create, update and delete.
//
// Handlers run after the operation is committed, their errors are logged and do not change the
// operation's result.
func (b *Backend) HandleResourceEvent(resource string, handler func(ctx context.Context, event Event) error, operations ...core.Operation) {
	if _, ok := b.resources[resource]; !ok {
		logger.Default().Fatalf("handle resource event for %s: no such resource", resource)
	}
	if len(operations) == 0 {
		operations = []core.Operation{core.OperationCreate, core.OperationUpdate, core.OperationDelete}
	}
	for _, operation := range operations {
		key := eventKey(resource, operation)
		logger.Default().Debugf("install resource event handler for %s", key)
		b.eventHandlers[key] = append(b.eventHandlers[key], handler)
	}
}

func eventKey(resource string, operation core.Operation) string {
	return resource + "(" + string(operation) + ")"
}

// emit runs the event handlers and publishes the event. Failures are logged only.
func (b *Backend) emit(ctx context.Context, event Event) {
	rlog := logger.FromContext(ctx)
	for _, handler := range b.eventHandlers[eventKey(event.Resource, event.Operation)] {
		if err := handler(ctx, event); err != nil {
			rlog.WithError(err).Warnf("resource event handler for %s failed", eventKey(event.Resource, event.Operation))
		}
	}

	if b.publisher == nil {
		return
	}
	doc := event.Current
	if doc == nil {
		doc = event.Previous
	}
	re := ResourceEvent{
		Resource:   event.Resource,
		Operation:  event.Operation,
		ResourceID: doc.ID,
		Timestamp:  time.Now().UTC(),
		RequestID:  logger.RequestIDFromContext(ctx),
	}
	if doc.Owner != uuid.Nil {
		owner := doc.Owner
		re.Owner = &owner
	}
	if event.Current != nil {
		re.Payload, _ = json.Marshal(event.Current.Properties)
	}
	if err := b.publisher.Publish(ctx, re); err != nil {
		rlog.WithError(err).Warnf("cannot publish %s event for %s %s", event.Operation, event.Resource, doc.ID)
	}
}
