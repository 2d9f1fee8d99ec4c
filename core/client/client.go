// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to a REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/supportdesk/core"
	"github.com/relabs-tech/supportdesk/core/access"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            url,
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client with a bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization and a random identity
// (this works only directly against the mux router, for a normal client
//
//	use WithToken()))
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		ID:    uuid.New(),
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
//
//	use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Authorization returns the authorization of the client, or nil
func (c Client) Authorization() *access.Authorization {
	return c.auth
}

// Context returns the request context of the client including its authorization
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Collection represents a collection of particular resource
type Collection struct {
	client     *Client
	resource   string
	parameters []string
}

// Collection returns a new collection client
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:   &c,
		resource: resource,
	}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	return Collection{
		client:   r.client,
		resource: r.resource,
		// we want a true copy to avoid side effects
		parameters: append(append([]string{}, r.parameters...), parameter),
	}
}

// WithFilter returns a new collection client with a URL filter parameter added.
// This is a shortcut for WithParameter("filter", key+"="+value)
func (r Collection) WithFilter(key string, value string) Collection {
	return r.WithParameter("filter", key+"="+value)
}

// CollectionPath returns the created path for the collection plus optional query strings
func (r Collection) CollectionPath() string {
	path := "/" + core.Plural(r.resource)
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Create creates a new item.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// CreateMultipart creates a new item from form fields and files. Expects http.StatusCreated.
func (r Collection) CreateMultipart(fields map[string]string, files []File, result interface{}) (int, error) {
	return r.client.PostMultipart(r.CollectionPath(), fields, files, result)
}

// List gets one page of the collection.
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can be []map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Page describes the pagination headers of a list response
type Page struct {
	Limit       string
	TotalCount  string
	PageCount   string
	CurrentPage string
}

// ListWithPage is like List but also returns the pagination headers
func (r Collection) ListWithPage(result interface{}) (int, Page, error) {
	status, header, err := r.client.RawGetWithHeader(r.CollectionPath(), nil, result)
	var page Page
	if header != nil {
		page = Page{
			Limit:       header.Get("Pagination-Limit"),
			TotalCount:  header.Get("Pagination-Total-Count"),
			PageCount:   header.Get("Pagination-Page-Count"),
			CurrentPage: header.Get("Pagination-Current-Page"),
		}
	}
	return status, page, err
}

// Item represents a single item in a collection
type Item struct {
	col Collection
	id  uuid.UUID
}

// Item gets an item from a collection
func (r Collection) Item(id uuid.UUID) Item {
	return Item{col: r, id: id}
}

// Path returns the path of the item
func (r Item) Path() string {
	return "/" + core.Plural(r.col.resource) + "/" + r.id.String()
}

// Read reads an item. Expects http.StatusOK.
func (r Item) Read(result interface{}) (int, error) {
	return r.col.client.RawGet(r.Path(), result)
}

// Update updates an item. Expects http.StatusOK.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.col.client.RawPut(r.Path(), body, result)
}

// UpdateMultipart updates an item from form fields and files. Expects http.StatusOK.
func (r Item) UpdateMultipart(fields map[string]string, files []File, result interface{}) (int, error) {
	return r.col.client.PutMultipart(r.Path(), fields, files, result)
}

// Delete deletes an item. Expects http.StatusOK.
func (r Item) Delete() (int, error) {
	return r.col.client.RawDelete(r.Path())
}

// Do sends a request and returns the status, the response header and the response body
// whatever the status is. body can be nil, a []byte or anything which marshals to JSON.
func (c Client) Do(method, path string, header map[string]string, body interface{}) (int, http.Header, []byte, error) {
	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
		contentType = "application/json"
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return http.StatusBadRequest, nil, nil, err
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	hdr := map[string]string{}
	if contentType != "" {
		hdr["Content-Type"] = contentType
	}
	for k, v := range header {
		hdr[k] = v
	}
	return c.send(method, path, hdr, reader)
}

func (c Client) send(method, path string, header map[string]string, body io.Reader) (int, http.Header, []byte, error) {
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, body)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Add(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}

	if c.token != "" {
		r.Header.Add("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	return res.StatusCode, res.Header, resBody, err
}

// expect checks the status and decodes the response body into result
func expect(status int, want int, resBody []byte, result interface{}) error {
	if status != want {
		return fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, want, strings.TrimSpace(string(resBody)))
	}
	if len(resBody) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = resBody
		return nil
	}
	return json.Unmarshal(resBody, result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawGetWithHeader is like RawGet but sends the additional header and returns the
// response header.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	status, resHeader, resBody, err := c.send(http.MethodGet, path, header, nil)
	if err != nil {
		return status, nil, err
	}
	return status, resHeader, expect(status, http.StatusOK, resBody, result)
}

// RawPost posts the body to path. Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can be a []byte, result can be a raw *[]byte. result can be nil.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.Do(http.MethodPost, path, nil, body)
	if err != nil {
		return status, err
	}
	return status, expect(status, http.StatusCreated, resBody, result)
}

// RawPut puts the body to path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	status, _, resBody, err := c.Do(http.MethodPut, path, nil, body)
	if err != nil {
		return status, err
	}
	return status, expect(status, http.StatusOK, resBody, result)
}

// RawDelete deletes the resource at path. Expects http.StatusOK as response, otherwise it
// will flag an error.
func (c Client) RawDelete(path string) (int, error) {
	status, _, resBody, err := c.send(http.MethodDelete, path, nil, nil)
	if err != nil {
		return status, err
	}
	return status, expect(status, http.StatusOK, resBody, nil)
}

// File is a file for a multipart request
type File struct {
	// Field is the form field, e.g. "files" or "files[0]"
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Multipart encodes fields and files as multipart/form-data. It returns the body and
// its content type.
func Multipart(fields map[string]string, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, f.Field, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err = part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

// DoMultipart sends a multipart/form-data request and returns the status, the response
// header and the response body whatever the status is.
func (c Client) DoMultipart(method, path string, fields map[string]string, files []File) (int, http.Header, []byte, error) {
	data, contentType, err := Multipart(fields, files)
	if err != nil {
		return http.StatusBadRequest, nil, nil, err
	}
	return c.send(method, path, map[string]string{"Content-Type": contentType}, bytes.NewReader(data))
}

// PostMultipart posts a multipart/form-data request. Expects http.StatusCreated.
func (c Client) PostMultipart(path string, fields map[string]string, files []File, result interface{}) (int, error) {
	status, _, resBody, err := c.DoMultipart(http.MethodPost, path, fields, files)
	if err != nil {
		return status, err
	}
	return status, expect(status, http.StatusCreated, resBody, result)
}

// PutMultipart puts a multipart/form-data request. Expects http.StatusOK.
func (c Client) PutMultipart(path string, fields map[string]string, files []File, result interface{}) (int, error) {
	status, _, resBody, err := c.DoMultipart(http.MethodPut, path, fields, files)
	if err != nil {
		return status, err
	}
	return status, expect(status, http.StatusOK, resBody, result)
}
