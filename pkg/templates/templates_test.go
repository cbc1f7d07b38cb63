// SPDX-License-Identifier: Apache-2.0

package templates

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uitsmijter/uitsmijter/pkg/entities"
)

// fakeFetcher serves objects from a map keyed by "bucket/key".
type fakeFetcher struct {
	mu      sync.Mutex
	objects map[string]string
	gets    []string
}

func (f *fakeFetcher) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := *params.Bucket + "/" + *params.Key
	f.gets = append(f.gets, key)
	body, ok := f.objects[key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func templatedTenant(name string) entities.Tenant {
	return entities.Tenant{
		Name: name,
		Config: entities.TenantSpec{
			Hosts: []string{"id." + name + ".example"},
			Templates: &entities.TenantTemplates{
				Host:      "minio.internal",
				Bucket:    "themes",
				Path:      name,
				AccessKey: "ak",
				SecretKey: "sk",
			},
		},
	}
}

func startLoader(t *testing.T, fetcher ObjectFetcher) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	l := New(dir)
	l.NewFetcher = func(context.Context, *entities.TenantTemplates) (ObjectFetcher, error) {
		return fetcher, nil
	}
	l.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l, dir
}

func TestLoaderDownloadsTemplateSet(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{objects: map[string]string{
		"themes/cheese/index.html":  "<h1>index</h1>",
		"themes/cheese/login.html":  "<h1>login</h1>",
		"themes/cheese/logout.html": "<h1>logout</h1>",
		"themes/cheese/error.html":  "<h1>error</h1>",
	}}
	l, dir := startLoader(t, fetcher)

	l.Handle(entities.TenantCreated, templatedTenant("cheese"))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "cheese", "error.html"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	for _, name := range TemplateFiles {
		data, err := os.ReadFile(filepath.Join(dir, "cheese", name))
		require.NoError(t, err)
		assert.Contains(t, string(data), strings.TrimSuffix(name, ".html"))
	}
}

func TestLoaderSkipsMissingObjects(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{objects: map[string]string{
		"themes/cheese/login.html": "<h1>login</h1>",
	}}
	l, dir := startLoader(t, fetcher)

	l.Handle(entities.TenantCreated, templatedTenant("cheese"))

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "cheese", "login.html"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)

	// All four objects were attempted despite misses.
	fetcher.mu.Lock()
	gets := len(fetcher.gets)
	fetcher.mu.Unlock()
	assert.Equal(t, len(TemplateFiles), gets)

	_, err := os.Stat(filepath.Join(dir, "cheese", "index.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoaderRemoveDeletesDirectory(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{objects: map[string]string{
		"themes/cheese/login.html": "<h1>login</h1>",
	}}
	l, dir := startLoader(t, fetcher)

	tenant := templatedTenant("cheese")
	l.Handle(entities.TenantCreated, tenant)
	l.Handle(entities.TenantRemoved, tenant)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "cheese"))
		return os.IsNotExist(err)
	}, 3*time.Second, 10*time.Millisecond)
}

func TestLoaderIgnoresTenantsWithoutTemplates(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{objects: map[string]string{}}
	l, dir := startLoader(t, fetcher)

	l.Handle(entities.TenantCreated, entities.Tenant{Name: "plain"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))

	_, err := os.Stat(filepath.Join(dir, "plain"))
	assert.True(t, os.IsNotExist(err))
	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Empty(t, fetcher.gets)
}

func TestLoaderSlugPathForNamespacedTenant(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{objects: map[string]string{
		"themes/team/login.html": "<h1>login</h1>",
	}}
	l, dir := startLoader(t, fetcher)

	tenant := templatedTenant("team")
	tenant.Name = "Default/Team"
	tenant.Config.Templates.Path = "team"
	l.Handle(entities.TenantCreated, tenant)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "default-team", "login.html"))
		return err == nil
	}, 3*time.Second, 10*time.Millisecond)
}
