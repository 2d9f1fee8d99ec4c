/*
Package desk defines the support desk: its resources, their JSON schemas and the
notifications sent when support tickets change.

The backend is created with

	b, err := desk.New(&backend.Builder{
		Store:     st,
		Router:    router,
		KssDriver: driver,
	})

Config and Validator of the builder are provided by this package.
*/
package desk

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/relabs-tech/supportdesk/core/backend"
	"github.com/relabs-tech/supportdesk/core/schema"
)

// the resources of the support desk
const (
	UserResource          = backend.UserResource
	FileResource          = backend.FileResource
	CommunityResource     = "community"
	SupportTicketResource = "support_ticket"
	NotificationResource  = backend.NotificationResource
)

// the states of a support ticket
const (
	TicketPending  = "pending"
	TicketResolved = "resolved"
)

//go:embed configuration.json
var configuration string

//go:embed schemas
var schemas embed.FS

// Configuration returns the backend configuration of the support desk
func Configuration() string {
	return configuration
}

// NewValidator returns a validator with all schemas of the support desk
func NewValidator() (*schema.Validator, error) {
	sub, err := fs.Sub(schemas, "schemas")
	if err != nil {
		return nil, err
	}
	return schema.NewValidatorFromFS(sub)
}

// New creates the support desk backend and installs its notification hooks
func New(bb *backend.Builder) (*backend.Backend, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("cannot load schemas: %w", err)
	}
	builder := *bb
	builder.Config = configuration
	builder.Validator = validator
	b, err := backend.New(&builder)
	if err != nil {
		return nil, err
	}
	InstallHooks(b)
	return b, nil
}
