// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Resources []resourceConfiguration `json:"resources"`
}

// resourceConfiguration describes a resource with its authorized CRUD workflow
type resourceConfiguration struct {
	Resource    string `json:"resource"`
	Label       string `json:"label"`
	Description string `json:"description"`
	// SchemaID validates create payloads, UpdateSchemaID validates update payloads and
	// defaults to SchemaID
	SchemaID       string `json:"schema_id"`
	UpdateSchemaID string `json:"update_schema_id"`
	// Properties are the properties clients may write. If empty, every property
	// except the reserved ones may be written.
	Properties []string `json:"properties"`
	// Restricted properties may only be written by principals authorized by role, not by
	// ownership alone
	Restricted []string        `json:"restricted"`
	Default    json.RawMessage `json:"default"`
	// OwnerField makes the resource owned. The owner is rendered under this name.
	OwnerField string `json:"owner_field"`
	// SelfOwned resources are owned by the record itself, e.g. a user owns its user record.
	// The owner field is optional for them.
	SelfOwned   bool             `json:"self_owned"`
	ExpandOwner bool             `json:"expand_owner"`
	Operations  []core.Operation `json:"operations"`
	Permits     []access.Permit  `json:"permits"`
	// Attachments makes the resource carry an ordered list of uploaded files
	Attachments *attachmentConfiguration `json:"attachments"`
}

// attachmentConfiguration describes the file attachments of a resource
type attachmentConfiguration struct {
	// Field is the property holding the file ids and the multipart field carrying uploads
	Field string `json:"field"`
	// Destination is the key prefix in the kss driver
	Destination string `json:"destination"`
	// PresignedURLValidity is the validity of download urls in seconds
	PresignedURLValidity int `json:"presigned_url_validity"`
}

var validProperty = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reserved properties are managed by the backend and never written by clients
func (rc *resourceConfiguration) reserved() map[string]bool {
	r := map[string]bool{
		rc.Resource + "_id": true,
		"created_at":        true,
		"updated_at":        true,
		"revision":          true,
	}
	if rc.OwnerField != "" {
		r[rc.OwnerField] = true
	}
	if rc.Attachments != nil {
		r[rc.Attachments.Field] = true
	}
	return r
}

func (rc *resourceConfiguration) owned() bool {
	return rc.OwnerField != "" || rc.SelfOwned
}

func (rc *resourceConfiguration) updateSchemaID() string {
	if rc.UpdateSchemaID != "" {
		return rc.UpdateSchemaID
	}
	return rc.SchemaID
}

func (rc *resourceConfiguration) presignedURLValidity() time.Duration {
	if rc.Attachments == nil || rc.Attachments.PresignedURLValidity <= 0 {
		return time.Hour
	}
	return time.Duration(rc.Attachments.PresignedURLValidity) * time.Second
}

func (rc *resourceConfiguration) enabled(operation core.Operation) bool {
	for _, op := range rc.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// normalize fills in defaults and checks the configuration of a single resource
func (rc *resourceConfiguration) normalize() error {
	if !validProperty.MatchString(rc.Resource) {
		return fmt.Errorf("invalid resource name '%s'", rc.Resource)
	}
	if rc.Label == "" {
		rc.Label = rc.Resource
	}
	if len(rc.Operations) == 0 {
		rc.Operations = core.AllOperations
	}
	if rc.ExpandOwner && rc.OwnerField == "" {
		return fmt.Errorf("resource %s: expand_owner requires an owner_field", rc.Resource)
	}
	if rc.Attachments != nil {
		if rc.Attachments.Field == "" {
			rc.Attachments.Field = "files"
		}
		if rc.Attachments.Destination == "" {
			rc.Attachments.Destination = "public/" + strings.ReplaceAll(core.Plural(rc.Resource), "_", "-")
		}
	}
	for _, property := range rc.Properties {
		if !validProperty.MatchString(property) {
			return fmt.Errorf("resource %s: invalid property name '%s'", rc.Resource, property)
		}
		if rc.reserved()[property] {
			return fmt.Errorf("resource %s: property '%s' is reserved", rc.Resource, property)
		}
	}
	for _, property := range rc.Restricted {
		if !validProperty.MatchString(property) || rc.reserved()[property] {
			return fmt.Errorf("resource %s: invalid restricted property '%s'", rc.Resource, property)
		}
	}
	return nil
}

// defaults returns the default properties of the resource
func (rc *resourceConfiguration) defaults() (map[string]interface{}, error) {
	defaults := map[string]interface{}{}
	if len(rc.Default) == 0 {
		return defaults, nil
	}
	if err := json.Unmarshal(rc.Default, &defaults); err != nil {
		return nil, fmt.Errorf("resource %s: invalid default: %w", rc.Resource, err)
	}
	return defaults, nil
}
