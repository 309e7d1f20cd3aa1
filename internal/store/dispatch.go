package store

import (
	"context"
	"errors"
	"io"
	"time"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/acrlabs/backuppy/internal/backuperrors"
)

// ProtocolConfig is the `protocol.*` block of a backup set's config,
// covering all three drivers; only the fields relevant to Protocol are
// read. Ported from the dispatch performed by
// original_source/backuppy/stores/__init__.py's get_backup_store.
type ProtocolConfig struct {
	Type string

	// local
	Location string

	// s3
	Bucket         string
	AWSRegion      string
	AWSAccessKeyID string
	AWSSecretKey   string
	StorageClass   string

	// ftp
	Addr     string
	User     string
	Password string
	Root     string
}

// NewDriver dispatches on cfg.Type to construct the matching backend
// driver, returning UnknownProtocol for anything else.
func NewDriver(ctx context.Context, cfg ProtocolConfig) (Driver, error) {
	switch cfg.Type {
	case "local":
		return NewLocalDriver(cfg.Location)
	case "s3":
		awsCfg, err := awscfg.LoadDefaultConfig(ctx,
			awscfg.WithRegion(cfg.AWSRegion),
			awscfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, "")),
		)
		if err != nil {
			return nil, err
		}
		return &S3Driver{
			Client:       s3.NewFromConfig(awsCfg),
			Bucket:       cfg.Bucket,
			StorageClass: s3types.StorageClass(cfg.StorageClass),
		}, nil
	case "ftp":
		return &FTPDriver{
			Addr:     cfg.Addr,
			User:     cfg.User,
			Password: cfg.Password,
			Root:     cfg.Root,
		}, nil
	default:
		return nil, &backuperrors.UnknownProtocol{Protocol: cfg.Type}
	}
}

// retryingDriver wraps a Driver with exponential backoff around transient
// backend failures.
type retryingDriver struct {
	inner      Driver
	maxElapsed time.Duration
}

// WithRetry wraps d so every operation retries transient failures with
// exponential backoff, capped at maxElapsed.
func WithRetry(d Driver, maxElapsed time.Duration) Driver {
	return &retryingDriver{inner: d, maxElapsed: maxElapsed}
}

func (r *retryingDriver) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.maxElapsed
	return backoff.Retry(func() error {
		if err := op(); err != nil {
			var nf *backuperrors.NotFound
			if errors.As(err, &nf) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

func (r *retryingDriver) Save(ctx context.Context, localPath, remoteName string) error {
	return r.retry(ctx, func() error { return r.inner.Save(ctx, localPath, remoteName) })
}

func (r *retryingDriver) Load(ctx context.Context, remoteName string, w io.Writer) error {
	return r.retry(ctx, func() error { return r.inner.Load(ctx, remoteName, w) })
}

func (r *retryingDriver) Query(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := r.retry(ctx, func() error {
		results, err := r.inner.Query(ctx, prefix)
		if err != nil {
			return err
		}
		out = results
		return nil
	})
	return out, err
}

func (r *retryingDriver) Delete(ctx context.Context, remoteName string) error {
	return r.retry(ctx, func() error { return r.inner.Delete(ctx, remoteName) })
}
