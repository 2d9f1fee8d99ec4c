package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/store"
)

// NotificationResource is the resource holding user notifications
const NotificationResource = "notification"

// the notification states
const (
	NotificationUnread = "unread"
	NotificationRead   = "read"
)

// ErrIncompleteReference is returned when a notification names a reference model without
// a reference, or the other way round
var ErrIncompleteReference = errors.New("ref_model and ref must be set together")

// NotificationRequest describes a notification for a user. RefModel and Ref optionally
// point to the record the notification is about.
type NotificationRequest struct {
	User     uuid.UUID
	Title    string
	Message  string
	RefModel string
	Ref      uuid.UUID
	// Status defaults to unread
	Status string
}

// Notifier appends notifications for users to the notification collection
type Notifier struct {
	store store.Store
}

// NewNotifier returns a new notifier on top of the store
func NewNotifier(st store.Store) *Notifier {
	return &Notifier{store: st}
}

// Notify creates a notification record owned by the target user
func (n *Notifier) Notify(ctx context.Context, request NotificationRequest) (*store.Document, error) {
	if request.User == uuid.Nil {
		return nil, fmt.Errorf("notification without user")
	}
	if (request.RefModel == "") != (request.Ref == uuid.Nil) {
		return nil, ErrIncompleteReference
	}
	status := request.Status
	if status == "" {
		status = NotificationUnread
	}
	properties := map[string]interface{}{
		"title":   request.Title,
		"message": request.Message,
		"status":  status,
	}
	if request.RefModel != "" {
		properties["ref_model"] = request.RefModel
		properties["ref"] = request.Ref.String()
	}
	doc := &store.Document{Resource: NotificationResource, Owner: request.User, Properties: properties}
	if err := n.store.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("cannot create notification: %w", err)
	}
	return doc, nil
}

// NotifyBestEffort creates a notification and only logs failures. The caller's
// operation is never affected.
func (n *Notifier) NotifyBestEffort(ctx context.Context, request NotificationRequest) {
	if _, err := n.Notify(ctx, request); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("cannot notify user %s about '%s'", request.User, request.Title)
	}
}
