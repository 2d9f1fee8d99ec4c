package backend

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/supportdesk/core/backend/kss"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/store"
)

// FileResource is the resource holding the metadata of uploaded files
const FileResource = "file"

// AttachmentManager owns the lifecycle of uploaded files. The bytes live in a kss driver,
// the metadata in the file collection of the store.
//
// A file is attached to exactly one record. Detaching removes bytes and metadata, and
// succeeds for files which are already gone.
type AttachmentManager struct {
	store  store.Store
	driver kss.Driver
}

// NewAttachmentManager returns a new attachment manager
func NewAttachmentManager(st store.Store, driver kss.Driver) *AttachmentManager {
	return &AttachmentManager{store: st, driver: driver}
}

// fileName strips any directory from a client supplied file name
func fileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

// Attach stores the uploaded files under destination and creates their metadata records,
// owned by uploader. The returned records are in upload order. If one file fails, the
// files of this call which were already stored are detached again.
func (m *AttachmentManager) Attach(ctx context.Context, files []*multipart.FileHeader, destination string, uploader uuid.UUID) ([]*store.Document, error) {
	staged := make([]*store.Document, 0, len(files))
	for i, fh := range files {
		doc, err := m.attachOne(ctx, fh, destination, uploader)
		if err != nil {
			if cleanupErr := m.DetachAll(ctx, documentIDs(staged)); cleanupErr != nil {
				logger.FromContext(ctx).WithError(cleanupErr).Warn("cannot clean up staged files")
			}
			return nil, fmt.Errorf("cannot attach file %d '%s': %w", i, fh.Filename, err)
		}
		staged = append(staged, doc)
	}
	return staged, nil
}

func (m *AttachmentManager) attachOne(ctx context.Context, fh *multipart.FileHeader, destination string, uploader uuid.UUID) (*store.Document, error) {
	id := uuid.New()
	key := path.Join(destination, id.String(), fileName(fh.Filename))
	contentType := fh.Header.Get("Content-Type")

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err = m.driver.Upload(ctx, key, f, contentType); err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:       id,
		Resource: FileResource,
		Owner:    uploader,
		Properties: map[string]interface{}{
			"name":         fh.Filename,
			"size":         fh.Size,
			"content_type": contentType,
			"key":          key,
		},
	}
	if err = m.store.Create(ctx, doc); err != nil {
		if deleteErr := m.driver.Delete(ctx, key); deleteErr != nil {
			logger.FromContext(ctx).WithError(deleteErr).Warnf("cannot delete orphaned file %s", key)
		}
		return nil, err
	}
	logger.FromContext(ctx).Debugf("attached file %s as %s", fh.Filename, key)
	return doc, nil
}

// Detach removes the bytes and the metadata of a file. Missing bytes or missing metadata
// count as success.
func (m *AttachmentManager) Detach(ctx context.Context, id uuid.UUID) error {
	doc, err := m.store.Read(ctx, FileResource, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if key, _ := doc.Properties["key"].(string); key != "" {
		if err = m.driver.Delete(ctx, key); err != nil {
			return fmt.Errorf("cannot delete bytes of file %s: %w", id, err)
		}
	}
	err = m.store.Delete(ctx, FileResource, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	logger.FromContext(ctx).Debugf("detached file %s", id)
	return nil
}

// DetachAll detaches all files. It continues after failures and returns all errors joined.
func (m *AttachmentManager) DetachAll(ctx context.Context, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		if err := m.Detach(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DownloadURL returns a pre-signed download url for a file record
func (m *AttachmentManager) DownloadURL(ctx context.Context, doc *store.Document, validity time.Duration) (string, error) {
	key, _ := doc.Properties["key"].(string)
	if key == "" {
		return "", fmt.Errorf("file %s has no key", doc.ID)
	}
	return m.driver.GetPreSignedURL(ctx, key, validity)
}

func documentIDs(docs []*store.Document) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return ids
}

// attachmentIDs returns the file ids held by an attachment property. Entries which are not
// file ids are skipped.
func attachmentIDs(value interface{}) []uuid.UUID {
	var ids []uuid.UUID
	add := func(s string) {
		if id, err := uuid.Parse(s); err == nil {
			ids = append(ids, id)
		}
	}
	switch v := value.(type) {
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				add(s)
			}
		}
	case []string:
		for _, s := range v {
			add(s)
		}
	case string:
		add(v)
	}
	return ids
}

func idStrings(ids []uuid.UUID) []interface{} {
	result := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		result = append(result, id.String())
	}
	return result
}
