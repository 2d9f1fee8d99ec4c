package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory Store. It is safe for concurrent use.
type Memory struct {
	mutex       sync.RWMutex
	collections map[string]map[uuid.UUID]*Document
	last        time.Time
}

// NewMemory returns a new empty in-memory store
func NewMemory() *Memory {
	return &Memory{collections: map[string]map[uuid.UUID]*Document{}}
}

// EnsureCollection creates the collection for resource if it does not exist yet
func (m *Memory) EnsureCollection(ctx context.Context, resource string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.collections[resource]; !ok {
		m.collections[resource] = map[uuid.UUID]*Document{}
	}
	return nil
}

func (m *Memory) collection(resource string) (map[uuid.UUID]*Document, error) {
	c, ok := m.collections[resource]
	if !ok {
		return nil, fmt.Errorf("unknown collection %s", resource)
	}
	return c, nil
}

// Create implements Store
func (m *Memory) Create(ctx context.Context, doc *Document) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, err := m.collection(doc.Resource)
	if err != nil {
		return err
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if _, ok := c[doc.ID]; ok {
		return ErrAlreadyExists
	}
	doc.CreatedAt = now()
	if !doc.CreatedAt.After(m.last) {
		// keep creation order stable for listings
		doc.CreatedAt = m.last.Add(time.Microsecond)
	}
	m.last = doc.CreatedAt
	doc.UpdatedAt = doc.CreatedAt
	doc.Revision = 1
	doc.Properties = cloneProperties(doc.Properties)
	c[doc.ID] = doc.Clone()
	return nil
}

// Read implements Store
func (m *Memory) Read(ctx context.Context, resource string, id uuid.UUID) (*Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	c, err := m.collection(resource)
	if err != nil {
		return nil, err
	}
	doc, ok := c[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Update implements Store
func (m *Memory) Update(ctx context.Context, doc *Document) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, err := m.collection(doc.Resource)
	if err != nil {
		return err
	}
	existing, ok := c[doc.ID]
	if !ok {
		return ErrNotFound
	}
	updated := existing.Clone()
	updated.Properties = cloneProperties(doc.Properties)
	if t := now(); t.After(existing.UpdatedAt) {
		updated.UpdatedAt = t
	}
	updated.Revision = existing.Revision + 1
	c[doc.ID] = updated
	*doc = *updated.Clone()
	return nil
}

// Delete implements Store
func (m *Memory) Delete(ctx context.Context, resource string, id uuid.UUID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, err := m.collection(resource)
	if err != nil {
		return err
	}
	if _, ok := c[id]; !ok {
		return ErrNotFound
	}
	delete(c, id)
	return nil
}

// List implements Store
func (m *Memory) List(ctx context.Context, resource string, query Query) (*Page, error) {
	matchers := make([]func(*Document) bool, 0, len(query.Filters))
	for _, filter := range query.Filters {
		matcher, err := filterMatcher(filter)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, matcher)
	}

	m.mutex.RLock()
	c, err := m.collection(resource)
	if err != nil {
		m.mutex.RUnlock()
		return nil, err
	}
	var all []*Document
	for _, doc := range c {
		if query.Owner != uuid.Nil && doc.Owner != query.Owner {
			continue
		}
		if !query.From.IsZero() && doc.CreatedAt.Before(query.From) {
			continue
		}
		if !query.Until.IsZero() && doc.CreatedAt.After(query.Until) {
			continue
		}
		matches := true
		for _, matcher := range matchers {
			matches = matches && matcher(doc)
		}
		if matches {
			all = append(all, doc.Clone())
		}
	}
	m.mutex.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt) == query.Ascending
		}
		return (a.ID.String() < b.ID.String()) == query.Ascending
	})

	page := &Page{TotalCount: len(all)}
	offset := query.offset()
	if offset >= len(all) {
		page.Documents = []*Document{}
		return page, nil
	}
	end := offset + query.limit()
	if end > len(all) {
		end = len(all)
	}
	page.Documents = all[offset:end]
	return page, nil
}

func filterMatcher(filter Filter) (func(*Document) bool, error) {
	value := func(doc *Document) (string, bool) {
		v, ok := doc.Properties[filter.Property]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprint(v), true
	}
	switch filter.Operator {
	case Equal:
		return func(doc *Document) bool {
			v, ok := value(doc)
			return ok && v == filter.Value
		}, nil
	case Like:
		pattern := "^" + strings.ReplaceAll(regexp.QuoteMeta(filter.Value), `\*`, ".*") + "$"
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		return func(doc *Document) bool {
			v, ok := value(doc)
			return ok && re.MatchString(v)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported filter operator '%s'", filter.Operator)
	}
}
