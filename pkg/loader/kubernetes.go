// SPDX-License-Identifier: Apache-2.0

package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	apiv1 "github.com/uitsmijter/uitsmijter/api/v1"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
)

// KubernetesLoader lists then watches the Tenant and Client custom
// resources. The initial list retries with exponential backoff while the
// API signals readiness failure (HTTP 429); loss of an established watch
// stream is fatal and surfaced through the onFatal callback, which flips
// readiness.
type KubernetesLoader struct {
	client     dynamic.Interface
	namespace  string
	reconciler *Reconciler
	onFatal    func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewKubernetesLoader creates a loader over the given dynamic client. An
// empty namespace watches all namespaces.
func NewKubernetesLoader(client dynamic.Interface, namespace string, reconciler *Reconciler, onFatal func(error)) *KubernetesLoader {
	return &KubernetesLoader{
		client:     client,
		namespace:  namespace,
		reconciler: reconciler,
		onFatal:    onFatal,
	}
}

// Start lists both resource kinds, applies them and begins watching from
// the list revision. Watches outlive the Start context; they are bound to
// Shutdown.
func (l *KubernetesLoader) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	kinds := []struct {
		gvr   schema.GroupVersionResource
		apply func(EventType, *unstructured.Unstructured)
	}{
		{apiv1.TenantGVR, l.applyTenant},
		{apiv1.ClientGVR, l.applyClient},
	}
	for _, kind := range kinds {
		list, err := l.list(ctx, kind.gvr)
		if err != nil {
			cancel()
			return fmt.Errorf("list %s: %w", kind.gvr.Resource, err)
		}
		for i := range list.Items {
			kind.apply(Added, &list.Items[i])
		}
		w, err := l.resource(kind.gvr).Watch(watchCtx, metav1.ListOptions{ResourceVersion: list.GetResourceVersion()})
		if err != nil {
			l.fatal(fmt.Errorf("watch %s: %w", kind.gvr.Resource, err))
			continue
		}
		l.wg.Add(1)
		go l.watch(watchCtx, kind.gvr, w, kind.apply)
	}
	return nil
}

// Shutdown cancels the watches and waits for them to stop.
func (l *KubernetesLoader) Shutdown(ctx context.Context) error {
	if l.cancel != nil {
		l.cancel()
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

// list retrieves all resources of a kind, retrying on 429 with exponential
// backoff from 1s up to a 30s cap, at most 10 attempts. Any other error is
// permanent.
func (l *KubernetesLoader) list(ctx context.Context, gvr schema.GroupVersionResource) (*unstructured.UnstructuredList, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second

	return backoff.Retry(ctx, func() (*unstructured.UnstructuredList, error) {
		list, err := l.resource(gvr).List(ctx, metav1.ListOptions{})
		if err != nil {
			if apierrors.IsTooManyRequests(err) {
				logger.Warnw("kubernetes api not ready, retrying", "resource", gvr.Resource)
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return list, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(10))
}

func (l *KubernetesLoader) watch(ctx context.Context, gvr schema.GroupVersionResource, w watch.Interface, apply func(EventType, *unstructured.Unstructured)) {
	defer l.wg.Done()
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.ResultChan():
			if !ok {
				if ctx.Err() != nil {
					return
				}
				l.fatal(fmt.Errorf("watch stream for %s closed", gvr.Resource))
				return
			}
			obj, ok := event.Object.(*unstructured.Unstructured)
			switch event.Type {
			case watch.Added:
				if ok {
					apply(Added, obj)
				}
			case watch.Modified:
				if ok {
					apply(Modified, obj)
				}
			case watch.Deleted:
				if ok {
					apply(Deleted, obj)
				}
			case watch.Error:
				l.fatal(fmt.Errorf("watch for %s failed: %v", gvr.Resource, event.Object))
				return
			case watch.Bookmark:
			}
		}
	}
}

func (l *KubernetesLoader) resource(gvr schema.GroupVersionResource) dynamic.ResourceInterface {
	if l.namespace == "" {
		return l.client.Resource(gvr)
	}
	return l.client.Resource(gvr).Namespace(l.namespace)
}

func (l *KubernetesLoader) applyTenant(event EventType, u *unstructured.Unstructured) {
	t, err := tenantFromUnstructured(u)
	if err != nil {
		logger.Warnw("malformed tenant resource skipped", "name", u.GetName(), "error", err)
		return
	}
	l.reconciler.ApplyTenant(event, t)
}

func (l *KubernetesLoader) applyClient(event EventType, u *unstructured.Unstructured) {
	c, err := clientFromUnstructured(u)
	if err != nil {
		logger.Warnw("malformed client resource skipped", "name", u.GetName(), "error", err)
		return
	}
	l.reconciler.ApplyClient(event, c)
}

func (l *KubernetesLoader) fatal(err error) {
	logger.Errorw("kubernetes loader failed", "error", err)
	if l.onFatal != nil {
		l.onFatal(err)
	}
}

// tenantFromUnstructured decodes via a JSON round-trip so that field types
// with text unmarshallers decode the same way as from YAML files.
func tenantFromUnstructured(u *unstructured.Unstructured) (entities.Tenant, error) {
	data, err := u.MarshalJSON()
	if err != nil {
		return entities.Tenant{}, err
	}
	var obj apiv1.Tenant
	if err := json.Unmarshal(data, &obj); err != nil {
		return entities.Tenant{}, err
	}
	return entities.Tenant{
		Name:   namespacedName(obj.Namespace, obj.Name),
		Config: obj.Spec,
		Ref:    entities.KubernetesRef(string(obj.UID), obj.ResourceVersion),
	}, nil
}

func clientFromUnstructured(u *unstructured.Unstructured) (entities.Client, error) {
	data, err := u.MarshalJSON()
	if err != nil {
		return entities.Client{}, err
	}
	var obj apiv1.Client
	if err := json.Unmarshal(data, &obj); err != nil {
		return entities.Client{}, err
	}
	c := entities.Client{
		Name:   namespacedName(obj.Namespace, obj.Name),
		Config: obj.Spec,
		Ref:    entities.KubernetesRef(string(obj.UID), obj.ResourceVersion),
	}
	if err := c.Validate(); err != nil {
		return entities.Client{}, err
	}
	return c, nil
}

func namespacedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}
