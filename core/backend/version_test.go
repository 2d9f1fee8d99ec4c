// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"net/http"
	"testing"

	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/backend"
)

// TestVersion verifies that the /version endpoint works
func TestVersion(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))

	var version struct {
		Version string `json:"version"`
	}
	_, err := admin.RawGet("/version", &version)
	if err != nil {
		t.Fatal(err)
	}
	if version.Version != "unset" {
		t.Fatalf("Expecting 'unset' version by default, got %s", version.Version)
	}

	backend.Version = "another version"
	defer func() { backend.Version = "unset" }()

	_, err = admin.RawGet("/version", &version)
	if err != nil {
		t.Fatal(err)
	}
	if version.Version != "another version" {
		t.Fatalf("Execting 'another version', got %s", version.Version)
	}

	status, _ := do(t, s.client(principal(access.RoleUser)), http.MethodGet, "/version", nil)
	if status != http.StatusForbidden {
		t.Fatalf("Expecting status %d for users, got %d", http.StatusForbidden, status)
	}
	status, _ = do(t, s.anonymous(), http.MethodGet, "/version", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("Expecting status %d without principal, got %d", http.StatusUnauthorized, status)
	}
}
