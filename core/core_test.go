package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {
	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	err := json.Unmarshal([]byte(`{"operations":["create","read","update","delete","list"]}`), &object)
	require.NoError(t, err)
	assert.Equal(t, []Operation{OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList}, object.Operations)

	err = json.Unmarshal([]byte(`{"operations":["clear"]}`), &object)
	assert.Error(t, err, "invalid operation accepted")
}

func TestPlural(t *testing.T) {
	assert.Equal(t, "communities", Plural("community"))
	assert.Equal(t, "support_tickets", Plural("support_ticket"))
	assert.Equal(t, "users", Plural("user"))
	assert.Equal(t, "children", Plural("child"))
}
