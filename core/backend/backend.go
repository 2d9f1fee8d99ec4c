package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/backend/kss"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/schema"
	"github.com/relabs-tech/supportdesk/core/store"
)

// UserResource is the resource holding the user records. If it is configured, the backend
// serves /users/me and /users/notifications.
const UserResource = "user"

// Backend is the generic authorized rest backend
type Backend struct {
	config        Configuration
	store         store.Store
	router        *mux.Router
	validator     *schema.Validator
	attachments   *AttachmentManager
	notifier      *Notifier
	publisher     Publisher
	log           *logrus.Logger
	resources     map[string]*resource
	order         []string
	eventHandlers map[string][]eventHandler
	cors          bool
}

// resource is a configured resource with its compiled policy
type resource struct {
	resourceConfiguration
	policy     access.Policy
	defaults   map[string]interface{}
	writable   map[string]bool
	restricted map[string]bool
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// Store persists the documents. This is mandatory.
	Store store.Store
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Validator holds the JSON schemas referenced by the configuration. This is mandatory.
	Validator *schema.Validator
	// KssDriver stores uploaded files. This is mandatory if a resource has attachments.
	KssDriver kss.Driver
	// Publisher receives an event for every create, update and delete. This is optional.
	Publisher Publisher
	// Logger is the base logger for all requests. Defaults to the logrus standard logger.
	Logger *logrus.Logger
	// EnableCORS adds permissive CORS headers to all routes
	EnableCORS bool
	// EnableCompression compresses responses for clients which accept it
	EnableCompression bool
}

// New realizes the actual backend. It creates the collections (if they do not exist)
// and adds the routes to the router
func New(bb *Builder) (*Backend, error) {
	var config Configuration
	if err := json.Unmarshal([]byte(bb.Config), &config); err != nil {
		return nil, fmt.Errorf("parse error in backend configuration: %w", err)
	}
	if bb.Store == nil {
		return nil, fmt.Errorf("Store is missing")
	}
	if bb.Router == nil {
		return nil, fmt.Errorf("Router is missing")
	}
	if bb.Validator == nil {
		return nil, fmt.Errorf("Validator is missing")
	}
	log := bb.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	b := &Backend{
		config:        config,
		store:         bb.Store,
		router:        bb.Router,
		validator:     bb.Validator,
		publisher:     bb.Publisher,
		log:           log,
		resources:     map[string]*resource{},
		eventHandlers: map[string][]eventHandler{},
		cors:          bb.EnableCORS,
	}

	withAttachments := false
	for i := range config.Resources {
		r, err := b.compile(config.Resources[i])
		if err != nil {
			return nil, err
		}
		if _, ok := b.resources[r.Resource]; ok {
			return nil, fmt.Errorf("resource %s is configured twice", r.Resource)
		}
		b.resources[r.Resource] = r
		b.order = append(b.order, r.Resource)
		withAttachments = withAttachments || r.Attachments != nil
	}

	if withAttachments {
		if _, ok := b.resources[FileResource]; !ok {
			return nil, fmt.Errorf("attachments require a %s resource", FileResource)
		}
		if bb.KssDriver == nil {
			return nil, fmt.Errorf("attachments require a KssDriver")
		}
	}
	if bb.KssDriver != nil {
		b.attachments = NewAttachmentManager(bb.Store, bb.KssDriver)
	}
	if _, ok := b.resources[NotificationResource]; ok {
		b.notifier = NewNotifier(bb.Store)
	}

	ctx := context.Background()
	for _, name := range b.order {
		if err := b.store.EnsureCollection(ctx, name); err != nil {
			return nil, fmt.Errorf("cannot create collection %s: %w", name, err)
		}
	}

	logger.AddRequestID(b.router, b.log)
	if bb.EnableCORS {
		b.handleCORS()
	}
	if bb.EnableCompression {
		b.handleCompression()
	}
	access.HandleAuthorizationRoute(b.router)
	b.handleVersion(b.router)
	b.handleRoutes(b.router)
	return b, nil
}

// MustNew is like New but panics on configuration errors
func MustNew(bb *Builder) *Backend {
	b, err := New(bb)
	if err != nil {
		panic(err)
	}
	return b
}

// compile checks a resource configuration against the validator and builds its policy
func (b *Backend) compile(rc resourceConfiguration) (*resource, error) {
	if err := rc.normalize(); err != nil {
		return nil, err
	}
	if rc.enabled(core.OperationCreate) || rc.enabled(core.OperationUpdate) {
		if rc.SchemaID == "" {
			return nil, fmt.Errorf("resource %s: schema_id is missing", rc.Resource)
		}
	}
	for _, id := range []string{rc.SchemaID, rc.updateSchemaID()} {
		if id != "" && !b.validator.HasSchema(id) {
			return nil, fmt.Errorf("resource %s: unknown schema %s", rc.Resource, id)
		}
	}
	defaults, err := rc.defaults()
	if err != nil {
		return nil, err
	}
	r := &resource{
		resourceConfiguration: rc,
		policy:                access.NewPolicy(rc.Resource, rc.Permits),
		defaults:              defaults,
		restricted:            map[string]bool{},
	}
	if len(rc.Properties) > 0 {
		r.writable = map[string]bool{}
		for _, property := range rc.Properties {
			r.writable[property] = true
		}
	}
	for _, property := range rc.Restricted {
		r.restricted[property] = true
	}
	return r, nil
}

func (b *Backend) resource(name string) (*resource, error) {
	r, ok := b.resources[name]
	if !ok {
		return nil, internal(4701, fmt.Errorf("no such resource %s", name))
	}
	return r, nil
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Store returns the document store of the backend
func (b *Backend) Store() store.Store {
	return b.store
}

// Notifier returns the notifier, or nil if no notification resource is configured
func (b *Backend) Notifier() *Notifier {
	return b.notifier
}

// handleRoutes adds the routes of all configured resources
func (b *Backend) handleRoutes(router *mux.Router) {
	logger.Default().Debugln("backend: HandleRoutes")

	// these must be registered before /users/{user_id}, which would match them
	if _, ok := b.resources[UserResource]; ok {
		b.handleUserRoutes(router)
	}
	for _, name := range b.order {
		b.createResource(router, b.resources[name])
	}
}

// methods returns the methods for a route, including OPTIONS for CORS preflight requests
func (b *Backend) methods(method string) []string {
	if b.cors {
		return []string{http.MethodOptions, method}
	}
	return []string{method}
}
