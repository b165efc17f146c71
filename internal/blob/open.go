// Package blob opens the configured blob store driver. Callers depend on
// core.Store; only this package imports the driver packages.
package blob

import (
	"context"
	"fmt"

	"poolcore/internal/blob/core"
	"poolcore/internal/blob/fs"
	"poolcore/internal/blob/memory"
	"poolcore/internal/blob/s3"
	"poolcore/internal/config"
)

// Store aliases core.Store for callers outside the blob tree.
type Store = core.Store

// Open constructs the driver selected by cfg.Driver (fs when empty).
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch core.Driver(cfg.Driver) {
	case "", core.DriverFilesystem:
		return fs.New(cfg.FSRoot, fs.WithPublicURL(cfg.PublicURL))
	case core.DriverMemory:
		return memory.New(), nil
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
