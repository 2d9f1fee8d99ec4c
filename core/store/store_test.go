package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStore runs the behaviour every Store implementation must provide
func testStore(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "ticket"))
	require.NoError(t, s.EnsureCollection(ctx, "ticket"), "ensure collection must be idempotent")

	t.Run("create and read", func(t *testing.T) {
		owner := uuid.New()
		doc := &Document{Resource: "ticket", Owner: owner, Properties: map[string]interface{}{
			"name":  "printer",
			"files": []string{"a", "b"},
		}}
		require.NoError(t, s.Create(ctx, doc))
		assert.NotEqual(t, uuid.Nil, doc.ID)
		assert.Equal(t, 1, doc.Revision)
		assert.False(t, doc.CreatedAt.IsZero())
		assert.Equal(t, doc.CreatedAt, doc.UpdatedAt)

		read, err := s.Read(ctx, "ticket", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.ID, read.ID)
		assert.Equal(t, owner, read.Owner)
		assert.Equal(t, "printer", read.Properties["name"])
		assert.Equal(t, []interface{}{"a", "b"}, read.Properties["files"])
		assert.True(t, doc.CreatedAt.Equal(read.CreatedAt))
	})

	t.Run("create with preset id", func(t *testing.T) {
		id := uuid.New()
		doc := &Document{ID: id, Resource: "ticket", Properties: map[string]interface{}{}}
		require.NoError(t, s.Create(ctx, doc))
		assert.Equal(t, id, doc.ID)

		again := &Document{ID: id, Resource: "ticket", Properties: map[string]interface{}{}}
		assert.ErrorIs(t, s.Create(ctx, again), ErrAlreadyExists)

		read, err := s.Read(ctx, "ticket", id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Nil, read.Owner)
	})

	t.Run("read missing", func(t *testing.T) {
		_, err := s.Read(ctx, "ticket", uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update", func(t *testing.T) {
		owner := uuid.New()
		doc := &Document{Resource: "ticket", Owner: owner, Properties: map[string]interface{}{"status": "pending"}}
		require.NoError(t, s.Create(ctx, doc))
		createdAt := doc.CreatedAt

		update := &Document{ID: doc.ID, Resource: "ticket", Owner: uuid.New(), Properties: map[string]interface{}{"status": "resolved"}}
		require.NoError(t, s.Update(ctx, update))
		assert.Equal(t, 2, update.Revision)
		assert.Equal(t, owner, update.Owner, "owner is immutable")
		assert.True(t, createdAt.Equal(update.CreatedAt), "creation time is immutable")
		assert.False(t, update.UpdatedAt.Before(createdAt))

		read, err := s.Read(ctx, "ticket", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, "resolved", read.Properties["status"])
		assert.Equal(t, 2, read.Revision)

		missing := &Document{ID: uuid.New(), Resource: "ticket", Properties: map[string]interface{}{}}
		assert.ErrorIs(t, s.Update(ctx, missing), ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		doc := &Document{Resource: "ticket", Properties: map[string]interface{}{}}
		require.NoError(t, s.Create(ctx, doc))
		require.NoError(t, s.Delete(ctx, "ticket", doc.ID))
		assert.ErrorIs(t, s.Delete(ctx, "ticket", doc.ID), ErrNotFound)
		_, err := s.Read(ctx, "ticket", doc.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent updates", func(t *testing.T) {
		doc := &Document{Resource: "ticket", Properties: map[string]interface{}{"n": 0}}
		require.NoError(t, s.Create(ctx, doc))
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.Update(ctx, &Document{ID: doc.ID, Resource: "ticket", Properties: map[string]interface{}{"n": i}}))
			}(i)
		}
		wg.Wait()
		read, err := s.Read(ctx, "ticket", doc.ID)
		require.NoError(t, err)
		assert.Equal(t, 11, read.Revision)
	})
}

// testList runs the listing behaviour every Store implementation must provide
func testList(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "community"))

	alice, bob := uuid.New(), uuid.New()
	var ids []uuid.UUID
	for i, name := range []string{"alpha", "beta", "gamma", "delta", "alphabet"} {
		owner := alice
		if i%2 == 1 {
			owner = bob
		}
		doc := &Document{Resource: "community", Owner: owner, Properties: map[string]interface{}{"name": name}}
		require.NoError(t, s.Create(ctx, doc))
		ids = append(ids, doc.ID)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := s.List(ctx, "community", Query{Limit: 100})
	require.NoError(t, err)
	require.Len(t, page.Documents, 5)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, ids[4], page.Documents[0].ID, "newest first by default")

	page, err = s.List(ctx, "community", Query{Limit: 100, Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, ids[0], page.Documents[0].ID)

	page, err = s.List(ctx, "community", Query{Owner: bob, Limit: 100})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	for _, doc := range page.Documents {
		assert.Equal(t, bob, doc.Owner)
	}

	page, err = s.List(ctx, "community", Query{Filters: []Filter{{Property: "name", Operator: Equal, Value: "gamma"}}})
	require.NoError(t, err)
	require.Len(t, page.Documents, 1)
	assert.Equal(t, ids[2], page.Documents[0].ID)

	page, err = s.List(ctx, "community", Query{Filters: []Filter{{Property: "name", Operator: Like, Value: "alpha*"}}})
	require.NoError(t, err)
	assert.Len(t, page.Documents, 2)

	page, err = s.List(ctx, "community", Query{Limit: 2, Page: 2, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Documents, 2)
	assert.Equal(t, 5, page.TotalCount)
	assert.Equal(t, ids[2], page.Documents[0].ID)
	assert.Equal(t, ids[3], page.Documents[1].ID)

	page, err = s.List(ctx, "community", Query{Limit: 2, Page: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Documents)
	assert.Equal(t, 5, page.TotalCount)

	first, err := s.Read(ctx, "community", ids[1])
	require.NoError(t, err)
	page, err = s.List(ctx, "community", Query{From: first.CreatedAt, Ascending: true})
	require.NoError(t, err)
	require.Len(t, page.Documents, 4)
	assert.Equal(t, ids[1], page.Documents[0].ID)

	_, err = s.List(ctx, "community", Query{Filters: []Filter{{Property: "name", Operator: "<", Value: "x"}}})
	assert.Error(t, err)
}
