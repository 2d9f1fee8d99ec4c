package backend_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/client"
	"github.com/relabs-tech/supportdesk/core/schema"
)

type errorResponse struct {
	Message string              `json:"message"`
	Errors  []schema.FieldError `json:"errors"`
}

// do sends a request and decodes the error response
func do(t *testing.T, c client.Client, method, path string, body interface{}) (int, errorResponse) {
	status, _, data, err := c.Do(method, path, nil, body)
	require.NoError(t, err)
	var response errorResponse
	if status >= http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(data, &response), string(data))
	}
	return status, response
}

func createTicket(t *testing.T, c client.Client, name string) map[string]interface{} {
	var ticket map[string]interface{}
	_, err := c.Collection("support_ticket").Create(map[string]string{"name": name, "description": "crash on save"}, &ticket)
	require.NoError(t, err)
	return ticket
}

func TestCommunity_CreateGet(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))
	user := s.client(principal(access.RoleUser))

	var community map[string]interface{}
	status, err := admin.Collection("community").Create(map[string]string{"name": "Engineers"}, &community)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Engineers", community["name"])
	assert.Equal(t, "", community["description"])
	assert.Equal(t, float64(1), community["revision"])
	assert.NotEmpty(t, community["created_at"])
	id, err := uuid.Parse(community["community_id"].(string))
	require.NoError(t, err)

	var read map[string]interface{}
	_, err = user.Collection("community").Item(id).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, community, read)

	status, response := do(t, user, http.MethodPost, "/communities", map[string]string{"name": "Engineers"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "You are not allowed to access this resource", response.Message)

	subAdmin := s.client(principal(access.RoleSubAdmin))
	status, err = subAdmin.Collection("community").Create(map[string]string{"name": "Designers", "description": "pixels"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	var communities []map[string]interface{}
	_, err = user.Collection("community").List(&communities)
	require.NoError(t, err)
	assert.Len(t, communities, 2)
}

func TestNotFoundBeforeAuthorization(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))
	user := s.client(principal(access.RoleUser))

	status, response := do(t, user, http.MethodDelete, "/communities/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Community not found", response.Message)

	status, response = do(t, user, http.MethodPut, "/communities/"+uuid.New().String(), map[string]string{"name": "x"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Community not found", response.Message)

	status, response = do(t, user, http.MethodGet, "/support_tickets/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SupportTicket not found", response.Message)

	var community map[string]interface{}
	_, err := admin.Collection("community").Create(map[string]string{"name": "Engineers"}, &community)
	require.NoError(t, err)
	status, _ = do(t, user, http.MethodDelete, "/communities/"+community["community_id"].(string), nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestUnauthenticated(t *testing.T) {
	s := newTestService(t)
	anonymous := s.anonymous()

	status, response := do(t, anonymous, http.MethodGet, "/communities", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "authentication required", response.Message)

	// no validation happens for unauthenticated requests
	status, _ = do(t, anonymous, http.MethodPost, "/support_tickets", []byte(`{`))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = do(t, anonymous, http.MethodGet, "/communities/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, response = do(t, s.client(principal(access.RoleUser)), http.MethodGet, "/communities/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid community_id 'not-a-uuid'", response.Message)
}

func TestTicket_Validation(t *testing.T) {
	s := newTestService(t)
	user := s.client(principal(access.RoleUser))

	status, response := do(t, user, http.MethodPost, "/support_tickets", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation Error", response.Message)
	assert.Equal(t, []schema.FieldError{
		{Field: "description", Message: "description is required"},
		{Field: "name", Message: "name is required"},
	}, response.Errors)

	status, response = do(t, user, http.MethodPost, "/support_tickets", map[string]string{"name": "", "description": "x"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, "name", response.Errors[0].Field)
	assert.Contains(t, response.Errors[0].Message, "name: ")

	status, response = do(t, user, http.MethodPost, "/support_tickets", map[string]string{"name": "Bug", "description": "x", "status": "open"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, "status", response.Errors[0].Field)

	for _, body := range []string{`[1,2]`, `{`, `"ticket"`} {
		status, response = do(t, user, http.MethodPost, "/support_tickets", []byte(body))
		assert.Equal(t, http.StatusBadRequest, status, body)
		require.Len(t, response.Errors, 1, body)
		assert.Equal(t, schema.RootField, response.Errors[0].Field)
	}

	// same payload, same result
	_, first := do(t, user, http.MethodPost, "/support_tickets", map[string]string{"status": "open"})
	_, second := do(t, user, http.MethodPost, "/support_tickets", map[string]string{"status": "open"})
	assert.Equal(t, first, second)
	assert.Len(t, first.Errors, 3)
}

func TestTicket_CreateIgnoresManagedProperties(t *testing.T) {
	s := newTestService(t)
	author := principal(access.RoleUser)
	user := s.client(author)

	var ticket map[string]interface{}
	_, err := user.Collection("support_ticket").Create(map[string]interface{}{
		"name":        "Bug",
		"description": "crash on save",
		"status":      nil,
		"priority":    "high",
		"created_by":  uuid.New().String(),
		"revision":    42,
		"files":       []string{uuid.New().String()},
	}, &ticket)
	require.NoError(t, err)
	assert.Equal(t, "pending", ticket["status"])
	assert.Equal(t, author.ID.String(), ticket["created_by"])
	assert.Equal(t, float64(1), ticket["revision"])
	assert.Equal(t, []interface{}{}, ticket["files"])
	assert.NotContains(t, ticket, "priority")
}

func TestTicket_CreateForAnotherUser(t *testing.T) {
	s := newTestService(t)
	subAdmin := s.client(principal(access.RoleSubAdmin))
	author := principal(access.RoleUser)

	var ticket map[string]interface{}
	status, err := subAdmin.Collection("support_ticket").Create(map[string]string{
		"name": "Bug", "description": "reported by phone", "created_by": author.ID.String(),
	}, &ticket)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, author.ID.String(), ticket["created_by"])

	// the author now owns it
	var read map[string]interface{}
	_, err = s.client(author).Collection("support_ticket").Item(uuid.MustParse(ticket["support_ticket_id"].(string))).Read(&read)
	require.NoError(t, err)
	assert.Equal(t, "reported by phone", read["description"])

	status, response := do(t, subAdmin, http.MethodPost, "/support_tickets", map[string]interface{}{
		"name": "Bug", "description": "crash on save", "created_by": 42,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, "created_by", response.Errors[0].Field)
}

func list(t *testing.T, c client.Collection) ([]map[string]interface{}, client.Page) {
	var objects []map[string]interface{}
	status, page, err := c.ListWithPage(&objects)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	return objects, page
}

func TestTicket_OwnerScopedListing(t *testing.T) {
	s := newTestService(t)
	a, b := principal(access.RoleUser), principal(access.RoleUser)
	createTicket(t, s.client(a), "first")
	createTicket(t, s.client(a), "second")
	createTicket(t, s.client(b), "third")

	tickets, _ := list(t, s.client(a).Collection("support_ticket"))
	require.Len(t, tickets, 2)
	for _, ticket := range tickets {
		assert.Equal(t, a.ID.String(), ticket["created_by"])
	}

	tickets, _ = list(t, s.client(b).Collection("support_ticket"))
	require.Len(t, tickets, 1)
	assert.Equal(t, "third", tickets[0]["name"])

	// a cannot widen the listing with an owner filter
	tickets, _ = list(t, s.client(a).Collection("support_ticket").WithFilter("created_by", b.ID.String()))
	assert.Len(t, tickets, 0)

	for _, role := range []string{access.RoleAdmin, access.RoleSubAdmin} {
		tickets, page := list(t, s.client(principal(role)).Collection("support_ticket"))
		assert.Len(t, tickets, 3, role)
		assert.Equal(t, client.Page{Limit: "100", TotalCount: "3", PageCount: "1", CurrentPage: "1"}, page)
	}

	admin := s.client(principal(access.RoleAdmin)).Collection("support_ticket")

	tickets, _ = list(t, admin.WithFilter("created_by", a.ID.String()))
	assert.Len(t, tickets, 2)

	// newest first by default
	tickets, _ = list(t, admin)
	assert.Equal(t, "third", tickets[0]["name"])
	tickets, _ = list(t, admin.WithParameter("order", "asc"))
	assert.Equal(t, "first", tickets[0]["name"])

	tickets, page := list(t, admin.WithParameter("limit", "2"))
	assert.Len(t, tickets, 2)
	assert.Equal(t, "2", page.PageCount)
	tickets, page = list(t, admin.WithParameter("limit", "2").WithParameter("page", "2"))
	assert.Len(t, tickets, 1)
	assert.Equal(t, "2", page.CurrentPage)
	assert.Equal(t, "3", page.TotalCount)

	tickets, _ = list(t, admin.WithFilter("name", "first"))
	assert.Len(t, tickets, 1)
	tickets, _ = list(t, admin.WithParameter("filter", "name~*ir*"))
	assert.Len(t, tickets, 2)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	tickets, _ = list(t, admin.WithParameter("from", future))
	assert.Len(t, tickets, 0)
	tickets, _ = list(t, admin.WithParameter("until", future))
	assert.Len(t, tickets, 3)
}

func TestTicket_ListQueryErrors(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))

	for _, query := range []string{
		"limit=0",
		"limit=101",
		"limit=many",
		"page=0",
		"order=sideways",
		"from=yesterday",
		"foo=bar",
		"filter=name",
		"filter=created_by~someone",
		"filter=revision=1",
		"limit=1&limit=2",
	} {
		status, _ := do(t, admin, http.MethodGet, "/support_tickets?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, status, query)
	}
}

func TestTicket_OwnerExpansion(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))

	var user map[string]interface{}
	_, err := admin.Collection("user").Create(map[string]string{"email": "ada@example.com", "name": "Ada"}, &user)
	require.NoError(t, err)
	ada := &access.Authorization{ID: uuid.MustParse(user["user_id"].(string)), Roles: []string{access.RoleUser}}
	ticket := createTicket(t, s.client(ada), "Bug")
	createTicket(t, s.client(principal(access.RoleUser)), "Orphan")

	tickets, _ := list(t, admin.Collection("support_ticket").WithParameter("order", "asc"))
	require.Len(t, tickets, 2)
	assert.Equal(t, map[string]interface{}{
		"user_id": ada.ID.String(),
		"email":   "ada@example.com",
		"name":    "Ada",
	}, tickets[0]["created_by"])
	// owners without user record stay plain ids
	assert.IsType(t, "", tickets[1]["created_by"])

	// reading a single ticket does not expand the owner
	assert.Equal(t, ada.ID.String(), ticket["created_by"])
}

func TestTicket_Update(t *testing.T) {
	s := newTestService(t)
	owner := principal(access.RoleUser)
	ticket := createTicket(t, s.client(owner), "Bug")
	id := uuid.MustParse(ticket["support_ticket_id"].(string))
	item := s.client(owner).Collection("support_ticket").Item(id)

	var updated map[string]interface{}
	status, err := item.Update(map[string]string{"description": "crash on load"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bug", updated["name"])
	assert.Equal(t, "crash on load", updated["description"])
	assert.Equal(t, float64(2), updated["revision"])
	assert.Equal(t, ticket["created_at"], updated["created_at"])
	created, err := time.Parse(time.RFC3339Nano, ticket["created_at"].(string))
	require.NoError(t, err)
	modified, err := time.Parse(time.RFC3339Nano, updated["updated_at"].(string))
	require.NoError(t, err)
	assert.False(t, modified.Before(created))

	status, _ = do(t, s.client(principal(access.RoleUser)), http.MethodPut, item.Path(), map[string]string{"name": "Mine"})
	assert.Equal(t, http.StatusForbidden, status)

	admin := s.client(principal(access.RoleAdmin)).Collection("support_ticket").Item(id)
	_, err = admin.Update(map[string]string{"status": "resolved"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, "resolved", updated["status"])
	assert.Equal(t, "crash on load", updated["description"])

	_, err = item.Update(map[string]string{"status": "pending"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, "pending", updated["status"])

	status, response := do(t, s.client(owner), http.MethodPut, item.Path(), map[string]string{"status": "closed"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation Error", response.Message)

	status, _ = do(t, s.client(owner), http.MethodPut, item.Path(), map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTicket_DoubleDelete(t *testing.T) {
	s := newTestService(t)
	owner := principal(access.RoleUser)
	ticket := createTicket(t, s.client(owner), "Bug")
	path := "/support_tickets/" + ticket["support_ticket_id"].(string)

	status, _, data, err := s.client(owner).Do(http.MethodDelete, path, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"message":"Deleted successfully"}`, string(data))

	status, response := do(t, s.client(owner), http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SupportTicket not found", response.Message)

	status, _ = do(t, s.client(owner), http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUser_RestrictedPropertiesAndMe(t *testing.T) {
	s := newTestService(t)
	admin := s.client(principal(access.RoleAdmin))

	var user map[string]interface{}
	_, err := admin.Collection("user").Create(map[string]string{"email": "ada@example.com"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "user", user["role"])
	id := uuid.MustParse(user["user_id"].(string))
	me := s.client(&access.Authorization{ID: id, Roles: []string{access.RoleUser}})

	var read map[string]interface{}
	_, err = me.RawGet("/users/me", &read)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", read["email"])

	_, err = me.Collection("user").Item(id).Update(map[string]string{"name": "Ada"}, &read)
	require.NoError(t, err)
	assert.Equal(t, "Ada", read["name"])

	status, _ := do(t, me, http.MethodPut, "/users/"+id.String(), map[string]string{"role": access.RoleAdmin})
	assert.Equal(t, http.StatusForbidden, status)

	_, err = admin.Collection("user").Item(id).Update(map[string]string{"role": access.RoleSubAdmin}, &read)
	require.NoError(t, err)
	assert.Equal(t, access.RoleSubAdmin, read["role"])

	status, _ = do(t, me, http.MethodGet, "/users", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, response := do(t, s.client(principal(access.RoleUser)), http.MethodGet, "/users/me", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "User not found", response.Message)

	status, _ = do(t, s.client(principal(access.RoleUser)), http.MethodGet, "/users/"+id.String(), nil)
	assert.Equal(t, http.StatusForbidden, status)
}
