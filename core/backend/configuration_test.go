package backend_test

import (
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/supportdesk/core/backend"
	"github.com/relabs-tech/supportdesk/core/schema"
	"github.com/relabs-tech/supportdesk/core/store"
)

func TestNew_ConfigurationErrors(t *testing.T) {
	validator, err := schema.NewValidator(schemas, refs)
	require.NoError(t, err)

	tests := []struct {
		name   string
		config string
		errMsg string
	}{
		{"parse error", `{"resources": [`, "parse error"},
		{"invalid name", `{"resources": [{"resource": "Support-Ticket"}]}`, "invalid resource name"},
		{"missing schema", `{"resources": [{"resource": "community"}]}`, "schema_id is missing"},
		{"read only without schema", `{"resources": [{"resource": "community", "operations": ["list", "read"]}]}`, ""},
		{"unknown schema", `{"resources": [{"resource": "community", "schema_id": "http://some_host.com/nope.json"}]}`, "unknown schema"},
		{"duplicate", `{"resources": [
			{"resource": "community", "operations": ["read"]},
			{"resource": "community", "operations": ["read"]}]}`, "configured twice"},
		{"reserved property", `{"resources": [{"resource": "community", "operations": ["read"], "properties": ["created_at"]}]}`, "reserved"},
		{"restricted reserved", `{"resources": [{"resource": "community", "operations": ["read"], "owner_field": "owner", "restricted": ["owner"]}]}`, "invalid restricted property"},
		{"expand without owner", `{"resources": [{"resource": "community", "operations": ["read"], "expand_owner": true}]}`, "expand_owner requires an owner_field"},
		{"attachments without file resource", `{"resources": [{"resource": "community", "operations": ["read"], "attachments": {}}]}`, "attachments require a file resource"},
		{"invalid default", `{"resources": [{"resource": "community", "operations": ["read"], "default": ["a"]}]}`, "invalid default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := backend.New(&backend.Builder{
				Config:    tc.config,
				Store:     store.NewMemory(),
				Router:    mux.NewRouter(),
				Validator: validator,
			})
			if tc.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

func TestNew_AttachmentsRequireDriver(t *testing.T) {
	validator, err := schema.NewValidator(schemas, refs)
	require.NoError(t, err)

	_, err = backend.New(&backend.Builder{
		Config: `{"resources": [
			{"resource": "file", "operations": ["read"]},
			{"resource": "community", "operations": ["read"], "attachments": {}}]}`,
		Store:     store.NewMemory(),
		Router:    mux.NewRouter(),
		Validator: validator,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KssDriver")

	_, err = backend.New(&backend.Builder{Config: configurationJSON, Router: mux.NewRouter(), Validator: validator})
	assert.Error(t, err)

	assert.Panics(t, func() {
		backend.MustNew(&backend.Builder{Config: "{", Store: store.NewMemory(), Router: mux.NewRouter(), Validator: validator})
	})
}
