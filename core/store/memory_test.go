package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestMemory_List(t *testing.T) {
	testList(t, NewMemory())
}

func TestMemory_UnknownCollection(t *testing.T) {
	m := NewMemory()
	err := m.Create(context.Background(), &Document{Resource: "nothing"})
	assert.Error(t, err)
	_, err = m.Read(context.Background(), "nothing", uuid.New())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestMemory_Isolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.EnsureCollection(ctx, "ticket"))

	properties := map[string]interface{}{"name": "printer"}
	doc := &Document{Resource: "ticket", Properties: properties}
	require.NoError(t, m.Create(ctx, doc))

	// mutating what the caller holds must not leak into the store
	properties["name"] = "changed"
	doc.Properties["name"] = "changed"
	read, err := m.Read(ctx, "ticket", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "printer", read.Properties["name"])

	read.Properties["name"] = "changed again"
	again, err := m.Read(ctx, "ticket", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "printer", again.Properties["name"])
}
