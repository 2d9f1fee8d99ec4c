/*
Package store persists resource documents.

A document is a JSON object with a small set of core columns: the identifier, an optional
owner, the creation and update timestamps and a revision counter. Everything else lives in
the document's properties.

Two implementations are provided: Postgres, which keeps one table per resource with the
properties in a jsonb column, and Memory, which is used in tests and for local development.
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("document not found")

// ErrAlreadyExists is returned when a document with the same identifier exists already
var ErrAlreadyExists = errors.New("document already exists")

// Document is a stored resource record
type Document struct {
	ID         uuid.UUID
	Resource   string
	Owner      uuid.UUID
	Properties map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Revision   int
}

// Clone returns a deep copy of the document
func (d *Document) Clone() *Document {
	c := *d
	c.Properties = cloneProperties(d.Properties)
	return &c
}

func cloneProperties(properties map[string]interface{}) map[string]interface{} {
	c := map[string]interface{}{}
	if properties == nil {
		return c
	}
	data, err := json.Marshal(properties)
	if err != nil {
		// properties came out of json, this cannot happen
		panic(err)
	}
	json.Unmarshal(data, &c)
	return c
}

// Operator is a filter operator
type Operator string

// the supported filter operators
const (
	// Equal matches if the property equals the value
	Equal Operator = "="
	// Like matches if the property matches the value, where * matches any sequence of characters
	Like Operator = "~"
)

// Filter restricts a listing to documents with matching properties
type Filter struct {
	Property string
	Operator Operator
	Value    string
}

// Query describes a listing
type Query struct {
	// Owner restricts the listing to documents of this owner, uuid.Nil means no restriction
	Owner   uuid.UUID
	Filters []Filter
	// From and Until restrict the creation time, zero values mean no restriction
	From  time.Time
	Until time.Time
	// Limit is the page size, Page starts at 1
	Limit     int
	Page      int
	Ascending bool
}

func (q Query) offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.limit()
}

func (q Query) limit() int {
	if q.Limit < 1 {
		return 100
	}
	return q.Limit
}

// Page is a result page of a listing
type Page struct {
	Documents  []*Document
	TotalCount int
}

// Store is the persistence interface for resource documents.
//
// Create assigns an identifier unless the document has one already, and sets the timestamps and
// the revision. Update replaces the properties of an existing document; identifier, owner and
// creation time are immutable. Both write the stored state back into the passed document.
type Store interface {
	EnsureCollection(ctx context.Context, resource string) error
	Create(ctx context.Context, doc *Document) error
	Read(ctx context.Context, resource string, id uuid.UUID) (*Document, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, resource string, id uuid.UUID) error
	List(ctx context.Context, resource string, query Query) (*Page, error)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
