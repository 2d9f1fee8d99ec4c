package kss

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/supportdesk/core/logger"
)

// FilesystemRoute is the route under which the local filesystem serves signed downloads
const FilesystemRoute = "/filesystem"

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
	// PrivateKey signs download URLs. If nil, a random key is generated.
	PrivateKey *rsa.PrivateKey
}

// LocalFilesystem is a Driver which keeps files in a local folder. Downloads are served
// through the router with RSA signed URLs.
type LocalFilesystem struct {
	baseFolder string
	publicURL  url.URL
	privateKey *rsa.PrivateKey
}

// NewLocalFilesystem returns a new LocalFilesystem and installs its download route
func NewLocalFilesystem(router *mux.Router, config LocalConfiguration, publicURL url.URL) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("local kss driver requires a base path")
	}
	privateKey := config.PrivateKey
	if privateKey == nil {
		logger.Default().Warn("No private key provided to sign URLs, a random one will be generated")
		logger.Default().Warn("This can only work when running in a single instance configuration")

		var err error
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create base path: %w", err)
	}
	f := &LocalFilesystem{baseFolder: config.BasePath, publicURL: publicURL, privateKey: privateKey}

	logger.Default().Debugln("filesystem routes enabled")
	logger.Default().Debugln("  handle route: " + FilesystemRoute + " GET")
	router.HandleFunc(FilesystemRoute, f.handler).Methods(http.MethodGet)
	return f, nil
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..")
}

func (f *LocalFilesystem) filePath(key string) string {
	return filepath.Join(f.baseFolder, filepath.FromSlash(key), "file")
}

func (f *LocalFilesystem) handler(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	v := r.URL.Query()
	key := v.Get("key")

	if !f.isValid(key, v.Get("expiry"), v.Get("signature")) {
		rlog.Errorf("invalid signature for %s", r.URL.String())
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	rlog.Infof("Filesystem: [%s] key: '%s'", r.Method, key)
	filePath := f.filePath(key)
	if _, err := os.Stat(filePath); err != nil {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, filePath)
}

// Upload implements Driver
func (f *LocalFilesystem) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key '%s'", key)
	}
	filePath := f.filePath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return fmt.Errorf("cannot create folder for key '%s': %w", key, err)
	}
	dstFile, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("cannot create file for key '%s': %w", key, err)
	}
	defer dstFile.Close()
	if _, err = io.Copy(dstFile, body); err != nil {
		return fmt.Errorf("cannot write file for key '%s': %w", key, err)
	}
	return nil
}

// Delete implements Driver
func (f *LocalFilesystem) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key '%s'", key)
	}
	return os.RemoveAll(filepath.Join(f.baseFolder, filepath.FromSlash(key)))
}

// Exists returns true if there are bytes stored for key
func (f *LocalFilesystem) Exists(key string) bool {
	_, err := os.Stat(f.filePath(key))
	return err == nil
}

func signedData(key, expiry string) []byte {
	hashed := sha256.Sum256([]byte(http.MethodGet + "|" + key + "|" + expiry))
	return hashed[:]
}

// GetPreSignedURL implements Driver
func (f *LocalFilesystem) GetPreSignedURL(ctx context.Context, key string, expireIn time.Duration) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid key '%s'", key)
	}
	expiry := time.Now().Add(expireIn).UTC().Format(time.RFC3339)
	signature, err := rsa.SignPKCS1v15(rand.Reader, f.privateKey, crypto.SHA256, signedData(key, expiry))
	if err != nil {
		return "", fmt.Errorf("cannot sign url: %w", err)
	}

	v := url.Values{}
	v.Set("key", key)
	v.Set("expiry", expiry)
	v.Set("signature", base64.RawURLEncoding.EncodeToString(signature))
	u := url.URL{
		Scheme:   f.publicURL.Scheme,
		Host:     f.publicURL.Host,
		Path:     strings.TrimSuffix(f.publicURL.Path, "/") + FilesystemRoute,
		RawQuery: v.Encode(),
	}
	return u.String(), nil
}

// isValid tells whether or not the signature is valid for key and not yet expired
func (f *LocalFilesystem) isValid(key, expiry, signature string) bool {
	if !validKey(key) || expiry == "" {
		return false
	}
	t, err := time.Parse(time.RFC3339, expiry)
	if err != nil || t.Before(time.Now()) {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return rsa.VerifyPKCS1v15(&f.privateKey.PublicKey, crypto.SHA256, signedData(key, expiry), sig) == nil
}
