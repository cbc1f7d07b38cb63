// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	yamlv3 "gopkg.in/yaml.v3"
	sigyaml "sigs.k8s.io/yaml"

	apiv1 "github.com/uitsmijter/uitsmijter/api/v1"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// Subdirectories of the config directory holding entity files.
const (
	tenantSubdir = "Tenants"
	clientSubdir = "Clients"
)

// FileLoader loads tenants and clients from YAML files below a config
// directory and keeps the store in sync with filesystem changes. Files use
// the same schema as the custom resources, with `file(path)` as ref.
type FileLoader struct {
	dir        string
	reconciler *Reconciler

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

// NewFileLoader creates a file loader rooted at dir, which is expected to
// contain Tenants/ and Clients/ subdirectories.
func NewFileLoader(dir string, reconciler *Reconciler) *FileLoader {
	return &FileLoader{dir: dir, reconciler: reconciler}
}

// Start scans both subdirectories and begins watching them. A missing
// subdirectory is logged and skipped.
func (l *FileLoader) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	for _, sub := range []string{tenantSubdir, clientSubdir} {
		dir := filepath.Join(l.dir, sub)
		if _, err := os.Stat(dir); err != nil {
			logger.Warnw("config directory not found, skipping", "dir", dir)
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		l.scan(dir)
	}

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Shutdown closes the watcher and waits for the event loop to drain.
func (l *FileLoader) Shutdown(ctx context.Context) error {
	if l.watcher != nil {
		_ = l.watcher.Close()
	}
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

func (l *FileLoader) scan(dir string) {
	names, err := os.ReadDir(dir)
	if err != nil {
		logger.Warnw("cannot read config directory", "dir", dir, "error", err)
		return
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name() < names[j].Name() })
	for _, entry := range names {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		l.apply(Added, filepath.Join(dir, entry.Name()))
	}
}

func (l *FileLoader) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handle(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnw("file watcher error", "error", err)
		}
	}
}

func (l *FileLoader) handle(event fsnotify.Event) {
	if !isYAML(event.Name) {
		return
	}
	switch {
	case event.Op.Has(fsnotify.Create):
		l.apply(Added, event.Name)
	case event.Op.Has(fsnotify.Write):
		l.apply(Modified, event.Name)
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		ref := entities.FileRef(event.Name)
		switch kindOfDir(event.Name) {
		case tenantSubdir:
			l.reconciler.RemoveTenantByRef(ref)
		case clientSubdir:
			l.reconciler.RemoveClientByRef(ref)
		}
	}
}

// apply parses the file and feeds it into the reconciler. Malformed files
// are logged and skipped; the loader never aborts.
func (l *FileLoader) apply(event EventType, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warnw("cannot read entity file", "path", path, "error", err)
		return
	}

	var head struct {
		Kind string `yaml:"kind"`
	}
	if err := yamlv3.Unmarshal(data, &head); err != nil {
		logger.Warnw("malformed entity file", "path", path, "error", err)
		return
	}

	switch kindOfDir(path) {
	case tenantSubdir:
		if head.Kind != "" && head.Kind != "Tenant" {
			logger.Warnw("unexpected kind in tenant directory", "path", path, "kind", head.Kind)
			return
		}
		var doc apiv1.Tenant
		if err := sigyaml.Unmarshal(data, &doc); err != nil {
			logger.Warnw("malformed tenant file", "path", path, "error", err)
			return
		}
		if doc.Name == "" {
			logger.Warnw("tenant file has no metadata.name", "path", path)
			return
		}
		l.reconciler.ApplyTenant(event, entities.Tenant{
			Name:   doc.Name,
			Config: doc.Spec,
			Ref:    entities.FileRef(path),
		})
	case clientSubdir:
		if head.Kind != "" && head.Kind != "Client" {
			logger.Warnw("unexpected kind in client directory", "path", path, "kind", head.Kind)
			return
		}
		var doc apiv1.Client
		if err := sigyaml.Unmarshal(data, &doc); err != nil {
			logger.Warnw("malformed client file", "path", path, "error", err)
			return
		}
		client := entities.Client{
			Name:   doc.Name,
			Config: doc.Spec,
			Ref:    entities.FileRef(path),
		}
		if err := client.Validate(); err != nil {
			logger.Warnw("invalid client file", "path", path, "error", err)
			return
		}
		l.reconciler.ApplyClient(event, client)
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func kindOfDir(path string) string {
	return filepath.Base(filepath.Dir(path))
}
