package desk

import (
	"context"
	"fmt"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/backend"
)

// InstallHooks installs the support ticket notifications. The creator of a ticket is
// told that it was received, the owner is told when somebody else resolves it.
func InstallHooks(b *backend.Backend) {
	notifier := b.Notifier()
	if notifier == nil {
		return
	}

	b.HandleResourceEvent(SupportTicketResource, func(ctx context.Context, event backend.Event) error {
		ticket := event.Current
		notifier.NotifyBestEffort(ctx, backend.NotificationRequest{
			User:     ticket.Owner,
			Title:    "Support ticket received",
			Message:  fmt.Sprintf("We received your support ticket '%v'", ticket.Properties["name"]),
			RefModel: SupportTicketResource,
			Ref:      ticket.ID,
		})
		return nil
	}, core.OperationCreate)

	b.HandleResourceEvent(SupportTicketResource, func(ctx context.Context, event backend.Event) error {
		ticket := event.Current
		if ticket.Properties["status"] != TicketResolved || event.Previous.Properties["status"] == TicketResolved {
			return nil
		}
		if event.Principal != nil && event.Principal.ID == ticket.Owner {
			return nil
		}
		notifier.NotifyBestEffort(ctx, backend.NotificationRequest{
			User:     ticket.Owner,
			Title:    "Support ticket resolved",
			Message:  fmt.Sprintf("Your support ticket '%v' has been resolved", ticket.Properties["name"]),
			RefModel: SupportTicketResource,
			Ref:      ticket.ID,
		})
		return nil
	}, core.OperationUpdate)
}
