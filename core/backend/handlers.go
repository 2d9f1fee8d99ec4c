package backend

import (
	"context"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
	"github.com/relabs-tech/supportdesk/core/logger"
	"github.com/relabs-tech/supportdesk/core/store"
)

// maxMemory is the part of a multipart form kept in memory, the rest goes to temporary files
const maxMemory = 32 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		http.Error(w, "internal error 4790", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// requestContext returns the request context with a logger carrying the principal
func requestContext(r *http.Request) (context.Context, *logrus.Entry) {
	ctx := r.Context()
	if auth := access.AuthorizationFromContext(ctx); auth != nil {
		return logger.ContextWithLoggerIdentity(ctx, auth.ID.String())
	}
	return ctx, logger.FromContext(ctx)
}

// begin logs the call and rejects requests without principal
func begin(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	ctx, rlog := requestContext(req)
	rlog.Infoln("called route for", req.URL, req.Method)
	if access.AuthorizationFromContext(ctx) == nil {
		writeError(w, req, ErrUnauthorized)
		return ctx, false
	}
	return ctx, true
}

// createResource adds the routes for every enabled operation of a resource
func (b *Backend) createResource(router *mux.Router, r *resource) {
	resource := r.Resource
	listRoute := "/" + core.Plural(resource)
	itemRoute := listRoute + "/{" + resource + "_id}"

	logger.Default().Debugln("resource:", resource)

	itemID := func(req *http.Request) (uuid.UUID, error) {
		value := mux.Vars(req)[resource+"_id"]
		id, err := uuid.Parse(value)
		if err != nil {
			return uuid.Nil, badRequest("invalid %s_id '%s'", resource, value)
		}
		return id, nil
	}

	if r.enabled(core.OperationList) {
		logger.Default().Debugf("  handle list route: %s GET", listRoute)
		router.HandleFunc(listRoute, func(w http.ResponseWriter, req *http.Request) {
			ctx, ok := begin(w, req)
			if !ok {
				return
			}
			query, err := parseListQuery(req, r)
			if err != nil {
				writeError(w, req, err)
				return
			}
			result, err := b.List(ctx, resource, query)
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeList(w, result)
		}).Methods(b.methods(http.MethodGet)...)
	}

	if r.enabled(core.OperationRead) {
		logger.Default().Debugf("  handle get route: %s GET", itemRoute)
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, req *http.Request) {
			ctx, ok := begin(w, req)
			if !ok {
				return
			}
			id, err := itemID(req)
			if err != nil {
				writeError(w, req, err)
				return
			}
			object, err := b.Get(ctx, resource, id)
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, object)
		}).Methods(b.methods(http.MethodGet)...)
	}

	if r.enabled(core.OperationCreate) {
		logger.Default().Debugf("  handle create route: %s POST", listRoute)
		router.HandleFunc(listRoute, func(w http.ResponseWriter, req *http.Request) {
			ctx, ok := begin(w, req)
			if !ok {
				return
			}
			payload, err := readPayload(req, r)
			if err != nil {
				writeError(w, req, err)
				return
			}
			object, err := b.Create(ctx, resource, payload)
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusCreated, object)
		}).Methods(b.methods(http.MethodPost)...)
	}

	if r.enabled(core.OperationUpdate) {
		logger.Default().Debugf("  handle update route: %s PUT", itemRoute)
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, req *http.Request) {
			ctx, ok := begin(w, req)
			if !ok {
				return
			}
			id, err := itemID(req)
			if err != nil {
				writeError(w, req, err)
				return
			}
			payload, err := readPayload(req, r)
			if err != nil {
				writeError(w, req, err)
				return
			}
			object, err := b.Update(ctx, resource, id, payload)
			if err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, object)
		}).Methods(b.methods(http.MethodPut)...)
	}

	if r.enabled(core.OperationDelete) {
		logger.Default().Debugf("  handle delete route: %s DELETE", itemRoute)
		router.HandleFunc(itemRoute, func(w http.ResponseWriter, req *http.Request) {
			ctx, ok := begin(w, req)
			if !ok {
				return
			}
			id, err := itemID(req)
			if err != nil {
				writeError(w, req, err)
				return
			}
			if err = b.Delete(ctx, resource, id); err != nil {
				writeError(w, req, err)
				return
			}
			writeJSON(w, http.StatusOK, messageResponse{Message: "Deleted successfully"})
		}).Methods(b.methods(http.MethodDelete)...)
	}
}

// handleUserRoutes adds the routes for the principal's own user record and notifications
func (b *Backend) handleUserRoutes(router *mux.Router) {
	logger.Default().Debugln("  handle route: /users/me GET")
	router.HandleFunc("/users/me", func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := begin(w, req)
		if !ok {
			return
		}
		auth, err := principal(ctx)
		if err != nil {
			writeError(w, req, err)
			return
		}
		object, err := b.Get(ctx, UserResource, auth.ID)
		if err != nil {
			writeError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, object)
	}).Methods(b.methods(http.MethodGet)...)

	nr, ok := b.resources[NotificationResource]
	if !ok {
		return
	}
	logger.Default().Debugln("  handle route: /users/notifications GET")
	router.HandleFunc("/users/notifications", func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := begin(w, req)
		if !ok {
			return
		}
		auth, err := principal(ctx)
		if err != nil {
			writeError(w, req, err)
			return
		}
		query, err := parseListQuery(req, nr)
		if err != nil {
			writeError(w, req, err)
			return
		}
		query.Owner = auth.ID
		result, err := b.List(ctx, NotificationResource, query)
		if err != nil {
			writeError(w, req, err)
			return
		}
		writeList(w, result)
	}).Methods(b.methods(http.MethodGet)...)
}

func writeList(w http.ResponseWriter, result *ListResult) {
	w.Header().Set("Pagination-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(result.TotalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(result.PageCount()))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(result.Page))
	writeJSON(w, http.StatusOK, result.Objects)
}

// parseListQuery interprets the query parameters of a list request
func parseListQuery(req *http.Request, r *resource) (store.Query, error) {
	query := store.Query{Limit: 100, Page: 1}
	for key, array := range req.URL.Query() {
		var err error
		if key != "filter" && len(array) > 1 {
			return query, badRequest("illegal parameter array '%s'", key)
		}
		value := array[0]
		switch key {
		case "limit":
			query.Limit, err = strconv.Atoi(value)
			if err == nil && (query.Limit < 1 || query.Limit > 100) {
				err = fmt.Errorf("out of range")
			}
		case "page":
			query.Page, err = strconv.Atoi(value)
			if err == nil && query.Page < 1 {
				err = fmt.Errorf("out of range")
			}
		case "until":
			query.Until, err = time.Parse(time.RFC3339, value)
		case "from":
			query.From, err = time.Parse(time.RFC3339, value)
		case "order":
			if value != "asc" && value != "desc" {
				err = fmt.Errorf("order must be asc or desc")
				break
			}
			query.Ascending = value == "asc"
		case "filter":
			for _, value := range array {
				if err = addFilter(&query, r, value); err != nil {
					break
				}
			}
		default:
			err = fmt.Errorf("unknown")
		}
		if err != nil {
			return query, badRequest("parameter '%s': %s", key, err.Error())
		}
	}
	return query, nil
}

// addFilter adds a property=value or property~value filter. A filter on the owner field
// restricts the owner.
func addFilter(query *store.Query, r *resource, value string) error {
	operator := store.Equal
	i := strings.IndexRune(value, '=')
	if i < 0 {
		i = strings.IndexRune(value, '~')
		if i < 0 {
			return fmt.Errorf("cannot parse filter, must be of type property=value or property~value")
		}
		operator = store.Like
	}
	property, filterValue := value[:i], value[i+1:]
	if !validProperty.MatchString(property) {
		return fmt.Errorf("invalid filter property '%s'", property)
	}
	if r.OwnerField != "" && property == r.OwnerField {
		owner, err := uuid.Parse(filterValue)
		if err != nil || operator != store.Equal {
			return fmt.Errorf("%s must be compared with a uuid", property)
		}
		query.Owner = owner
		return nil
	}
	if r.reserved()[property] {
		return fmt.Errorf("cannot filter by '%s'", property)
	}
	query.Filters = append(query.Filters, store.Filter{Property: property, Operator: operator, Value: filterValue})
	return nil
}

// readPayload reads a JSON or multipart/form-data request body. Files are only accepted in
// the attachment field, either repeated under the same key or as indexed keys field[0],
// field[1]...
func readPayload(req *http.Request, r *resource) (*Payload, error) {
	mediaType, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, badRequest("cannot read request body: %s", err.Error())
		}
		return &Payload{Raw: body}, nil
	}

	if err := req.ParseMultipartForm(maxMemory); err != nil {
		return nil, badRequest("cannot parse multipart form: %s", err.Error())
	}
	form := req.MultipartForm
	payload := &Payload{Properties: map[string]interface{}{}}
	for key, values := range form.Value {
		if len(values) > 0 {
			payload.Properties[key] = values[0]
		}
	}

	field := ""
	if r.Attachments != nil {
		field = r.Attachments.Field
	}
	type indexedFile struct {
		index int
		files []*multipart.FileHeader
	}
	var indexed []indexedFile
	for key, files := range form.File {
		if field != "" && key == field {
			payload.Files = append(payload.Files, files...)
			continue
		}
		if field != "" && strings.HasPrefix(key, field+"[") && strings.HasSuffix(key, "]") {
			index, err := strconv.Atoi(key[len(field)+1 : len(key)-1])
			if err == nil && index >= 0 {
				indexed = append(indexed, indexedFile{index: index, files: files})
				continue
			}
		}
		return nil, badRequest("unexpected file field '%s'", key)
	}
	sort.Slice(indexed, func(i, j int) bool { return indexed[i].index < indexed[j].index })
	for _, f := range indexed {
		payload.Files = append(payload.Files, f.files...)
	}
	return payload, nil
}
