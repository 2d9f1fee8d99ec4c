// Package kss stores file bytes outside of the document store.
//
// There are currently two possible drivers: a local file system and AWS S3.
package kss

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/mux"
)

// Driver defines the interface for the KSS service
type Driver interface {
	// Upload stores the bytes read from body under key
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	// Delete removes the key. Deleting a key which does not exist is not an error.
	Delete(ctx context.Context, key string) error
	// GetPreSignedURL returns a download URL for key which is valid for expireIn
	GetPreSignedURL(ctx context.Context, key string, expireIn time.Duration) (string, error)
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// New creates the driver selected by the configuration. The router and the public URL are
// only used by the local driver, which serves its downloads itself.
func New(router *mux.Router, config Configuration, publicURL url.URL) (Driver, error) {
	switch config.DriverType {
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("local kss driver requires a local configuration")
		}
		f, err := NewLocalFilesystem(router, *config.LocalConfiguration, publicURL)
		if err != nil {
			return nil, err
		}
		return f, nil
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("s3 kss driver requires an s3 configuration")
		}
		s, err := NewS3(*config.S3Configuration)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown kss driver type '%s'", config.DriverType)
	}
}
