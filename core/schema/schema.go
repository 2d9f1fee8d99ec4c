// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package schema validates JSON documents against JSON schemas.

Validation never fails on malformed input. Instead it returns a Result with an
ordered list of field errors, which callers can hand out to clients as is.
*/
package schema

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// RootField is the field name used for errors concerning the entire document
const RootField = "(root)"

// FieldError is a single validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the outcome of a validation. A result without errors is valid.
type Result struct {
	Errors []FieldError
}

// Valid returns true if the validated document satisfied the schema
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Validator is a utility to validate JSON object against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from the root will be used as toplevel schemas, while json files in refs/ will be used
// as references. The refs directory is optional.
func NewValidatorFromFS(schemaFS fs.FS) (*Validator, error) {
	readDir := func(dir string) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(schemaFS, dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read dir %s: %w", dir, err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			str, err := fs.ReadFile(schemaFS, path.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s': %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemas, err := readDir(".")
	if err != nil {
		return nil, err
	}

	var refs []string
	if _, err := fs.Stat(schemaFS, "refs"); err == nil {
		if refs, err = readDir("refs"); err != nil {
			return nil, err
		}
	}

	return NewValidator(schemas, refs)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schemaHeader struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schemaHeader{}
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		sl := gojsonschema.NewSchemaLoader()
		for _, ref := range refs {
			if err := sl.AddSchemas(gojsonschema.NewStringLoader(ref)); err != nil {
				return nil, fmt.Errorf("cannot add ref %s: %w", ref, err)
			}
		}
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s: %w", s.ID, err)
		}
		validator.schemaValidators[s.ID] = compiled
	}
	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// Validate validates the given raw json against schemaID. An error is only returned if
// the schema is unknown; malformed json yields an invalid result.
func (v *Validator) Validate(payload []byte, schemaID string) (Result, error) {
	if !json.Valid(payload) {
		if !v.HasSchema(schemaID) {
			return Result{}, fmt.Errorf("there is no schema %s", schemaID)
		}
		return Result{Errors: []FieldError{{Field: RootField, Message: "malformed JSON document"}}}, nil
	}
	return v.validate(gojsonschema.NewBytesLoader(payload), schemaID)
}

// ValidateDocument validates the given go value against schemaID. The value must be
// serializable to JSON, typically it is a map[string]interface{}.
func (v *Validator) ValidateDocument(document interface{}, schemaID string) (Result, error) {
	return v.validate(gojsonschema.NewGoLoader(document), schemaID)
}

func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) (Result, error) {
	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return Result{}, fmt.Errorf("there is no schema %s", schemaID)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		// the loader could not produce a document, this is the client's problem
		return Result{Errors: []FieldError{{Field: RootField, Message: err.Error()}}}, nil
	}
	if result.Valid() {
		return Result{}, nil
	}
	return Result{Errors: fieldErrors(result.Errors())}, nil
}

// fieldErrors converts gojsonschema errors into field errors, sorted by field and message
func fieldErrors(resultErrors []gojsonschema.ResultError) []FieldError {
	errs := make([]FieldError, 0, len(resultErrors))
	for _, e := range resultErrors {
		field := e.Field()
		if e.Type() == "required" {
			if property, ok := e.Details()["property"].(string); ok {
				if field == RootField {
					field = property
				} else {
					field = field + "." + property
				}
			}
		}
		message := e.Description()
		if !strings.HasPrefix(message, field) {
			message = field + ": " + message
		}
		errs = append(errs, FieldError{Field: field, Message: message})
	}
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Message < errs[j].Message
	})
	return errs
}
