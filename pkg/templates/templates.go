// SPDX-License-Identifier: Apache-2.0

// Package templates fetches per-tenant UI templates from object storage
// into a local views directory. It subscribes to tenant lifecycle events of
// the entity store and processes them strictly in order, one at a time.
package templates

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// TemplateFiles is the fixed set of files fetched per tenant.
var TemplateFiles = []string{"index.html", "login.html", "logout.html", "error.html"}

// opTimeout caps one create or remove operation.
const opTimeout = 30 * time.Second

// ObjectFetcher is the part of the S3 API the loader needs.
type ObjectFetcher interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type op struct {
	kind   entities.TenantOp
	tenant entities.Tenant
}

// Loader downloads tenant templates to <views>/<tenant-slug>/. Operations
// are serialized per instance so a remove never races a create for the
// same tenant.
type Loader struct {
	viewsDir string

	// NewFetcher builds the object-store client for a tenant's template
	// coordinates. Tests replace it with a fake.
	NewFetcher func(ctx context.Context, tpl *entities.TenantTemplates) (ObjectFetcher, error)

	ops       chan op
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a template loader writing below viewsDir.
func New(viewsDir string) *Loader {
	return &Loader{
		viewsDir:   viewsDir,
		NewFetcher: newS3Fetcher,
		ops:        make(chan op, 16),
	}
}

// Start launches the worker goroutine.
func (l *Loader) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Shutdown stops accepting operations and drains the queue.
func (l *Loader) Shutdown(ctx context.Context) error {
	l.closeOnce.Do(func() { close(l.ops) })
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle enqueues a tenant lifecycle event. Meant to be registered as the
// entity store's tenant observer.
func (l *Loader) Handle(kind entities.TenantOp, tenant entities.Tenant) {
	l.ops <- op{kind: kind, tenant: tenant}
}

func (l *Loader) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-l.ops:
			if !ok {
				return
			}
			opCtx, cancel := context.WithTimeout(ctx, opTimeout)
			switch o.kind {
			case entities.TenantCreated:
				l.create(opCtx, o.tenant)
			case entities.TenantRemoved:
				l.remove(o.tenant)
			}
			cancel()
		}
	}
}

// create downloads the template set for a tenant. A missing object or a
// failed download is logged and the remaining files are still fetched; the
// tenant then falls back to the default templates for the missing ones.
func (l *Loader) create(ctx context.Context, tenant entities.Tenant) {
	tpl := tenant.Config.Templates
	if tpl == nil {
		logger.Debugw("tenant has no template configuration", "tenant", tenant.Name)
		return
	}

	fetcher, err := l.NewFetcher(ctx, tpl)
	if err != nil {
		logger.Errorw("cannot build template storage client",
			"tenant", tenant.Name, "host", tpl.Host, "error", err)
		return
	}

	dir := filepath.Join(l.viewsDir, tenant.Slug())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Errorw("cannot create tenant views directory", "dir", dir, "error", err)
		return
	}

	for _, name := range TemplateFiles {
		key := path.Join(tpl.Path, name)
		out, err := fetcher.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(tpl.Bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noKey *s3types.NoSuchKey
			if errors.As(err, &noKey) {
				logger.Debugw("template object not present, skipping",
					"tenant", tenant.Name, "key", key)
			} else {
				logger.Warnw("template download failed",
					"tenant", tenant.Name, "key", key, "error", err)
			}
			continue
		}
		if err := writeTemplate(filepath.Join(dir, name), out.Body); err != nil {
			logger.Warnw("cannot store template",
				"tenant", tenant.Name, "file", name, "error", err)
		}
	}
	logger.Infow("tenant templates loaded", "tenant", tenant.Name, "dir", dir)
}

func (l *Loader) remove(tenant entities.Tenant) {
	dir := filepath.Join(l.viewsDir, tenant.Slug())
	if err := os.RemoveAll(dir); err != nil {
		logger.Warnw("cannot remove tenant views directory", "dir", dir, "error", err)
		return
	}
	logger.Infow("tenant templates removed", "tenant", tenant.Name, "dir", dir)
}

func writeTemplate(dest string, body io.ReadCloser) error {
	defer func() { _ = body.Close() }()
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// newS3Fetcher builds an S3 client for the tenant's coordinates. Buckets on
// third-party object stores are addressed path-style.
func newS3Fetcher(ctx context.Context, tpl *entities.TenantTemplates) (ObjectFetcher, error) {
	region := tpl.Region
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(tpl.AccessKey, tpl.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}
	endpoint := tpl.Host
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	}), nil
}
