// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/schema"
	"github.com/relabs-tech/supportdesk/core/store"
)

// Object is the rendered, flat JSON representation of a document
type Object map[string]interface{}

// Payload is the body of a create or update request. Either Raw holds a JSON object, or
// Properties holds the already decoded form values. Files are the uploads for the
// resource's attachment field.
type Payload struct {
	Raw        []byte
	Properties map[string]interface{}
	Files      []*multipart.FileHeader
}

// ListResult is one page of a listing
type ListResult struct {
	Objects    []Object
	Limit      int
	Page       int
	TotalCount int
}

// PageCount returns the number of pages for the total count
func (l *ListResult) PageCount() int {
	return ((l.TotalCount - 1) / l.Limit) + 1
}

func principal(ctx context.Context) (*access.Authorization, error) {
	auth := access.AuthorizationFromContext(ctx)
	if auth == nil {
		return nil, ErrUnauthorized
	}
	return auth, nil
}

// List returns one page of the resource's documents the principal may see. Principals
// which are authorized by ownership only see their own documents.
func (b *Backend) List(ctx context.Context, resource string, query store.Query) (*ListResult, error) {
	r, err := b.resource(resource)
	if err != nil {
		return nil, err
	}
	auth, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	allowed, ownedOnly := r.policy.ListScope(auth)
	if !allowed {
		return nil, ErrForbidden
	}
	if ownedOnly {
		if query.Owner != uuid.Nil && query.Owner != auth.ID {
			// restricted to somebody else's documents, the intersection is empty
			return &ListResult{Objects: []Object{}, Limit: queryLimit(query), Page: queryPage(query)}, nil
		}
		query.Owner = auth.ID
	}
	query.Limit = queryLimit(query)
	query.Page = queryPage(query)

	page, err := b.store.List(ctx, resource, query)
	if err != nil {
		return nil, internal(4702, err)
	}

	result := &ListResult{
		Objects:    make([]Object, 0, len(page.Documents)),
		Limit:      query.Limit,
		Page:       query.Page,
		TotalCount: page.TotalCount,
	}
	owners := map[uuid.UUID]interface{}{}
	for _, doc := range page.Documents {
		object := r.render(doc)
		if r.ExpandOwner {
			if _, ok := owners[doc.Owner]; !ok {
				owners[doc.Owner] = b.expandOwner(ctx, doc.Owner)
			}
			object[r.OwnerField] = owners[doc.Owner]
		}
		if r.Resource == FileResource {
			b.addDownloadURL(ctx, r, doc, object)
		}
		result.Objects = append(result.Objects, object)
	}
	return result, nil
}

func queryLimit(query store.Query) int {
	if query.Limit < 1 {
		return 100
	}
	return query.Limit
}

func queryPage(query store.Query) int {
	if query.Page < 1 {
		return 1
	}
	return query.Page
}

// Get returns a single document. Attachments are expanded into file objects with download
// urls.
func (b *Backend) Get(ctx context.Context, resource string, id uuid.UUID) (Object, error) {
	r, err := b.resource(resource)
	if err != nil {
		return nil, err
	}
	auth, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := b.read(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if r.policy.Authorize(auth, core.OperationRead, doc.Owner) != access.Allow {
		return nil, ErrForbidden
	}
	return b.present(ctx, r, doc), nil
}

// Create validates the payload and creates a new document. Owned resources are owned
// by the principal, self owned resources by the new document itself. Principals granted
// the create operation by one of their roles may name a different owner in the owner field.
func (b *Backend) Create(ctx context.Context, resource string, payload *Payload) (Object, error) {
	r, err := b.resource(resource)
	if err != nil {
		return nil, err
	}
	auth, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if r.policy.Authorize(auth, core.OperationCreate, uuid.Nil) != access.Allow {
		return nil, ErrForbidden
	}
	if payload == nil {
		payload = &Payload{}
	}
	input, err := decode(r, payload)
	if err != nil {
		return nil, err
	}
	properties, err := b.properties(r, auth, core.OperationCreate, input)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{Resource: resource, Properties: map[string]interface{}{}}
	for k, v := range r.defaults {
		doc.Properties[k] = v
	}
	for k, v := range properties {
		doc.Properties[k] = v
	}
	if result, err := b.validator.ValidateDocument(doc.Properties, r.SchemaID); err != nil {
		return nil, internal(4704, err)
	} else if !result.Valid() {
		return nil, &ValidationError{Errors: result.Errors}
	}

	switch {
	case r.SelfOwned:
		doc.ID = uuid.New()
		doc.Owner = doc.ID
	case r.owned():
		doc.Owner = auth.ID
		if target, ok := input[r.OwnerField]; ok && target != nil && r.policy.GrantedByOwnRole(auth, core.OperationCreate) {
			if doc.Owner, err = ownerID(r, target); err != nil {
				return nil, err
			}
		}
	}

	var staged []uuid.UUID
	if r.Attachments != nil {
		files, err := b.stage(ctx, r, auth, payload)
		if err != nil {
			return nil, err
		}
		staged = documentIDs(files)
		doc.Properties[r.Attachments.Field] = idStrings(staged)
	}

	if err = b.store.Create(ctx, doc); err != nil {
		b.discard(ctx, staged)
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, badRequest("%s already exists", r.Label)
		}
		return nil, internal(4703, err)
	}
	logger.FromContext(ctx).Infof("created %s %s", resource, doc.ID)

	b.emit(ctx, Event{Resource: resource, Operation: core.OperationCreate, Principal: auth, Current: doc})
	return b.present(ctx, r, doc), nil
}

// Update validates the payload and merges it into the existing document. Omitted
// properties are preserved. Uploaded files replace all previously attached files.
func (b *Backend) Update(ctx context.Context, resource string, id uuid.UUID, payload *Payload) (Object, error) {
	r, err := b.resource(resource)
	if err != nil {
		return nil, err
	}
	auth, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	doc, err := b.read(ctx, r, id)
	if err != nil {
		return nil, err
	}
	if r.policy.Authorize(auth, core.OperationUpdate, doc.Owner) != access.Allow {
		return nil, ErrForbidden
	}
	if payload == nil {
		payload = &Payload{}
	}
	input, err := decode(r, payload)
	if err != nil {
		return nil, err
	}
	properties, err := b.properties(r, auth, core.OperationUpdate, input)
	if err != nil {
		return nil, err
	}
	if result, err := b.validator.ValidateDocument(properties, r.updateSchemaID()); err != nil {
		return nil, internal(4704, err)
	} else if !result.Valid() {
		return nil, &ValidationError{Errors: result.Errors}
	}

	previous := doc.Clone()
	for k, v := range properties {
		doc.Properties[k] = v
	}
	// constraints spanning several properties only hold for the merged record
	if r.updateSchemaID() != r.SchemaID {
		merged := map[string]interface{}{}
		for k, v := range doc.Properties {
			if r.Attachments == nil || k != r.Attachments.Field {
				merged[k] = v
			}
		}
		if result, err := b.validator.ValidateDocument(merged, r.SchemaID); err != nil {
			return nil, internal(4704, err)
		} else if !result.Valid() {
			return nil, &ValidationError{Errors: result.Errors}
		}
	}

	var staged, replaced []uuid.UUID
	if r.Attachments != nil && len(payload.Files) > 0 {
		files, err := b.stage(ctx, r, auth, payload)
		if err != nil {
			return nil, err
		}
		staged = documentIDs(files)
		replaced = attachmentIDs(previous.Properties[r.Attachments.Field])
		doc.Properties[r.Attachments.Field] = idStrings(staged)
	}

	if err = b.store.Update(ctx, doc); err != nil {
		b.discard(ctx, staged)
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound(r.Label)
		}
		return nil, internal(4705, err)
	}
	// the record no longer references the replaced files
	if len(replaced) > 0 {
		if err = b.attachments.DetachAll(ctx, replaced); err != nil {
			logger.FromContext(ctx).WithError(err).Warnf("cannot detach replaced files of %s %s", resource, id)
		}
	}
	logger.FromContext(ctx).Infof("updated %s %s", resource, id)

	b.emit(ctx, Event{Resource: resource, Operation: core.OperationUpdate, Principal: auth, Current: doc, Previous: previous})
	return b.present(ctx, r, doc), nil
}

// Delete detaches all attached files and removes the document
func (b *Backend) Delete(ctx context.Context, resource string, id uuid.UUID) error {
	r, err := b.resource(resource)
	if err != nil {
		return err
	}
	auth, err := principal(ctx)
	if err != nil {
		return err
	}
	doc, err := b.read(ctx, r, id)
	if err != nil {
		return err
	}
	if r.policy.Authorize(auth, core.OperationDelete, doc.Owner) != access.Allow {
		return ErrForbidden
	}
	if r.Attachments != nil {
		if err = b.attachments.DetachAll(ctx, attachmentIDs(doc.Properties[r.Attachments.Field])); err != nil {
			return internal(4706, err)
		}
	}
	if err = b.store.Delete(ctx, resource, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(r.Label)
		}
		return internal(4707, err)
	}
	logger.FromContext(ctx).Infof("deleted %s %s", resource, id)

	b.emit(ctx, Event{Resource: resource, Operation: core.OperationDelete, Principal: auth, Previous: doc})
	return nil
}

func (b *Backend) read(ctx context.Context, r *resource, id uuid.UUID) (*store.Document, error) {
	doc, err := b.store.Read(ctx, r.Resource, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound(r.Label)
	}
	if err != nil {
		return nil, internal(4708, err)
	}
	return doc, nil
}

// decode returns the payload's properties as sent by the client
func decode(r *resource, payload *Payload) (map[string]interface{}, error) {
	if len(payload.Files) > 0 && r.Attachments == nil {
		return nil, badRequest("%s does not accept files", r.Label)
	}
	if payload.Properties != nil {
		return payload.Properties, nil
	}
	if len(payload.Raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var v interface{}
	err := json.Unmarshal(payload.Raw, &v)
	object, ok := v.(map[string]interface{})
	if err != nil || !ok {
		return nil, &ValidationError{Errors: []schema.FieldError{{
			Field:   schema.RootField,
			Message: schema.RootField + ": request body must be a JSON object",
		}}}
	}
	return object, nil
}

// ownerID parses the owner a principal assigns to a new record
func ownerID(r *resource, value interface{}) (uuid.UUID, error) {
	s, _ := value.(string)
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, &ValidationError{Errors: []schema.FieldError{{
			Field:   r.OwnerField,
			Message: r.OwnerField + ": must be a uuid",
		}}}
	}
	return id, nil
}

// properties filters the decoded input down to the properties a client may write. Null
// values are dropped, reserved properties are ignored.
func (b *Backend) properties(r *resource, auth *access.Authorization, operation core.Operation, input map[string]interface{}) (map[string]interface{}, error) {
	reserved := r.reserved()
	properties := map[string]interface{}{}
	var restricted []string
	for k, v := range input {
		if v == nil || reserved[k] {
			continue
		}
		if r.writable != nil && !r.writable[k] {
			continue
		}
		if r.restricted[k] {
			restricted = append(restricted, k)
		}
		properties[k] = v
	}
	if len(restricted) > 0 && !r.policy.GrantedByRole(auth, operation) {
		return nil, fmt.Errorf("%s %v: %w", r.Resource, restricted, ErrForbidden)
	}
	return properties, nil
}

// stage uploads the payload's files of an attachment resource
func (b *Backend) stage(ctx context.Context, r *resource, auth *access.Authorization, payload *Payload) ([]*store.Document, error) {
	if len(payload.Files) == 0 {
		return nil, nil
	}
	files, err := b.attachments.Attach(ctx, payload.Files, r.Attachments.Destination, auth.ID)
	if err != nil {
		return nil, internal(4710, err)
	}
	return files, nil
}

// discard detaches staged files after a failed write
func (b *Backend) discard(ctx context.Context, staged []uuid.UUID) {
	if len(staged) == 0 {
		return
	}
	if err := b.attachments.DetachAll(ctx, staged); err != nil {
		logger.FromContext(ctx).WithError(err).Warn("cannot detach staged files")
	}
}

// render flattens a document. The core keys always win over properties of the same name.
func (r *resource) render(doc *store.Document) Object {
	object := Object{}
	for k, v := range doc.Properties {
		object[k] = v
	}
	object[r.Resource+"_id"] = doc.ID
	object["created_at"] = doc.CreatedAt
	object["updated_at"] = doc.UpdatedAt
	object["revision"] = doc.Revision
	if r.OwnerField != "" {
		object[r.OwnerField] = doc.Owner
	}
	return object
}

// present renders a single document with its attachments expanded
func (b *Backend) present(ctx context.Context, r *resource, doc *store.Document) Object {
	object := r.render(doc)
	if r.Resource == FileResource {
		b.addDownloadURL(ctx, r, doc, object)
	}
	if r.Attachments != nil {
		object[r.Attachments.Field] = b.expandFiles(ctx, r, attachmentIDs(doc.Properties[r.Attachments.Field]))
	}
	return object
}

// expandFiles returns the file objects for the ids. Files which are gone are skipped.
func (b *Backend) expandFiles(ctx context.Context, r *resource, ids []uuid.UUID) []Object {
	files := make([]Object, 0, len(ids))
	fr := b.resources[FileResource]
	for _, id := range ids {
		doc, err := b.store.Read(ctx, FileResource, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.FromContext(ctx).WithError(err).Warnf("cannot read file %s", id)
			}
			continue
		}
		object := fr.render(doc)
		if url, err := b.attachments.DownloadURL(ctx, doc, r.presignedURLValidity()); err == nil {
			object["url"] = url
		} else {
			logger.FromContext(ctx).WithError(err).Warnf("cannot sign url for file %s", id)
		}
		files = append(files, object)
	}
	return files
}

func (b *Backend) addDownloadURL(ctx context.Context, r *resource, doc *store.Document, object Object) {
	if b.attachments == nil {
		return
	}
	url, err := b.attachments.DownloadURL(ctx, doc, r.presignedURLValidity())
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("cannot sign url for file %s", doc.ID)
		return
	}
	object["url"] = url
}

// expandOwner returns the public profile of a user, or the plain id if there is no such user
func (b *Backend) expandOwner(ctx context.Context, owner uuid.UUID) interface{} {
	if _, ok := b.resources[UserResource]; !ok {
		return owner
	}
	doc, err := b.store.Read(ctx, UserResource, owner)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Warnf("cannot expand owner %s", owner)
		}
		return owner
	}
	return Object{
		"user_id": doc.ID,
		"email":   doc.Properties["email"],
		"name":    doc.Properties["name"],
	}
}
