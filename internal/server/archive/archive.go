// Package archive periodically exports each owner's documents to S3-compatible
// object storage, one JSON object per owner and kind.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masparrito/lactokeeper-sub001/internal/logging"
	"github.com/Masparrito/lactokeeper-sub001/internal/server/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader is the part of *s3.Client the archiver needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source lists what to export.
type Source interface {
	Owners(ctx context.Context) ([]string, error)
	Documents(ctx context.Context, owner string) ([]*models.Document, error)
}

type Archiver struct {
	source   Source
	uploader Uploader
	bucket   string
	interval time.Duration
	logger   logging.Logger
	now      func() time.Time
}

func New(source Source, uploader Uploader, bucket string, interval time.Duration, logger logging.Logger) *Archiver {
	return &Archiver{
		source:   source,
		uploader: uploader,
		bucket:   bucket,
		interval: interval,
		logger:   logger.With("module", "archive"),
		now:      time.Now,
	}
}

// Key returns the object key of an export.
func Key(owner, kind string, at time.Time) string {
	return fmt.Sprintf("owners/%s/%s/%d.json", owner, kind, at.Unix())
}

// Run exports every interval until ctx is done. A failed round is logged and
// retried on the next tick.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info(ctx, "archiver started", "bucket", a.bucket, "interval", a.interval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info(ctx, "archiver stopped")
			return nil
		case <-ticker.C:
			n, err := a.ExportOnce(ctx)
			if err != nil {
				a.logger.Error(ctx, "archive round failed", "error", err)
				continue
			}
			a.logger.Info(ctx, "archive round done", "objects", n)
		}
	}
}

// ExportOnce writes one object per owner and kind and returns how many were
// written. Owners that fail are skipped; the first error is returned.
func (a *Archiver) ExportOnce(ctx context.Context) (int, error) {
	owners, err := a.source.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("list owners: %w", err)
	}

	at := a.now()
	written := 0
	var firstErr error
	for _, owner := range owners {
		n, err := a.exportOwner(ctx, owner, at)
		written += n
		if err != nil {
			a.logger.Warn(ctx, "owner export failed", "owner", owner, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return written, firstErr
}

func (a *Archiver) exportOwner(ctx context.Context, owner string, at time.Time) (int, error) {
	docs, err := a.source.Documents(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("list documents of %s: %w", owner, err)
	}

	var kinds []string
	byKind := map[string][]map[string]any{}
	for _, d := range docs {
		if _, ok := byKind[d.Kind]; !ok {
			kinds = append(kinds, d.Kind)
		}
		byKind[d.Kind] = append(byKind[d.Kind], d.Wire())
	}

	written := 0
	for _, kind := range kinds {
		body, err := json.Marshal(byKind[kind])
		if err != nil {
			return written, fmt.Errorf("encode %s/%s: %w", owner, kind, err)
		}
		_, err = a.uploader.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(Key(owner, kind, at)),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return written, fmt.Errorf("upload %s/%s: %w", owner, kind, err)
		}
		written++
	}
	return written, nil
}
