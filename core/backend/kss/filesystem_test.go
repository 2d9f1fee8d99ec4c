package kss_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/supportdesk/core/backend/kss"
)

func newLocal(t *testing.T) (*kss.LocalFilesystem, *mux.Router) {
	router := mux.NewRouter()
	u, err := url.Parse("https://localhost")
	require.NoError(t, err)
	f, err := kss.NewLocalFilesystem(router, kss.LocalConfiguration{BasePath: t.TempDir()}, *u)
	require.NoError(t, err)
	return f, router
}

func get(router *mux.Router, rawURL string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, rawURL, nil))
	return rec
}

func TestLocal_UploadGet(t *testing.T) {
	ctx := context.Background()
	f, router := newLocal(t)

	key := "public/support-tickets/1234/report.txt"
	require.NoError(t, f.Upload(ctx, key, bytes.NewReader([]byte("123")), "text/plain"))
	assert.True(t, f.Exists(key))

	getURL, err := f.GetPreSignedURL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(getURL, "https://localhost"+kss.FilesystemRoute))

	rec := get(router, getURL)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "123", rec.Body.String())

	// a tainted url is not authorized
	other, err := f.GetPreSignedURL(ctx, "some other key", time.Minute)
	require.NoError(t, err)
	tainted, err := url.Parse(other)
	require.NoError(t, err)
	v := tainted.Query()
	v.Set("key", key)
	tainted.RawQuery = v.Encode()
	assert.Equal(t, http.StatusUnauthorized, get(router, tainted.String()).Code)

	// an expired url is not authorized
	expired, err := f.GetPreSignedURL(ctx, key, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(router, expired).Code)
}

func TestLocal_Delete(t *testing.T) {
	ctx := context.Background()
	f, router := newLocal(t)

	key := "public/support-tickets/5678/a.png"
	require.NoError(t, f.Upload(ctx, key, bytes.NewReader([]byte{1, 2, 3}), "image/png"))
	getURL, err := f.GetPreSignedURL(ctx, key, time.Minute)
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx, key))
	assert.False(t, f.Exists(key))
	assert.Equal(t, http.StatusNotFound, get(router, getURL).Code)

	// deleting again is not an error
	assert.NoError(t, f.Delete(ctx, key))
}

func TestLocal_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	f, _ := newLocal(t)

	assert.Error(t, f.Upload(ctx, "../escape", bytes.NewReader(nil), ""))
	assert.Error(t, f.Delete(ctx, ""))
	_, err := f.GetPreSignedURL(ctx, "a/../../b", time.Minute)
	assert.Error(t, err)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := kss.New(mux.NewRouter(), kss.Configuration{DriverType: "floppy"}, url.URL{})
	assert.Error(t, err)

	_, err = kss.New(mux.NewRouter(), kss.Configuration{DriverType: kss.DriverTypeLocal}, url.URL{})
	assert.Error(t, err)

	d, err := kss.New(mux.NewRouter(), kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: t.TempDir()},
	}, url.URL{})
	require.NoError(t, err)
	assert.NotNil(t, d)
}
