// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"

	"github.com/uitsmijter/uitsmijter/pkg/config"
	"github.com/uitsmijter/uitsmijter/pkg/entities"
	"github.com/uitsmijter/uitsmijter/pkg/loader"
	"github.com/uitsmijter/uitsmijter/pkg/logger"
	"github.com/uitsmijter/uitsmijter/pkg/metrics"
	"github.com/uitsmijter/uitsmijter/pkg/provider"
	"github.com/uitsmijter/uitsmijter/pkg/server"
	"github.com/uitsmijter/uitsmijter/pkg/session"
	"github.com/uitsmijter/uitsmijter/pkg/templates"
	"github.com/uitsmijter/uitsmijter/pkg/token"
)

type serveFlags struct {
	Address  string
	ViewsDir string
	KeysDir  string
}

// serve wires every component and runs the HTTP server until SIGINT or
// SIGTERM.
func serve(parent context.Context, flags serveFlags) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.Load()
	logger.Initialize(settings.IsRelease())
	logger.Infow("starting uitsmijter", "version", settings.Version)

	store := entities.NewStore()
	m := metrics.New()
	store.SetChangeHook(func() {
		m.ObserveEntityCounts(store.Counts())
	})

	templateLoader := templates.New(flags.ViewsDir)
	templateLoader.Start(ctx)
	store.SetTenantObserver(templateLoader.Handle)

	sessions, err := session.NewFromSettings(ctx, settings)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer func() { _ = sessions.Close() }()

	keys, err := keyProvider(flags.KeysDir)
	if err != nil {
		return err
	}
	tokens := token.NewService(keys)

	if settings.AllowMissingProviders {
		logger.Warn("ALLOW_MISSING_PROVIDERS is active: tenants without provider scripts accept any credentials")
	}
	chain := &provider.Chain{
		AllowMissing: settings.AllowMissingProviders,
		Timeout:      config.ProviderTimeout,
	}

	views, err := server.NewViews(flags.ViewsDir)
	if err != nil {
		return fmt.Errorf("views: %w", err)
	}

	srv := server.New(settings, store, sessions, tokens, keys, chain, m, views)

	loaders, err := startLoaders(ctx, settings, store, srv)
	if err != nil {
		return err
	}

	err = srv.Run(ctx, flags.Address)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, l := range loaders {
		if serr := l.Shutdown(shutdownCtx); serr != nil {
			logger.Warnw("loader shutdown incomplete", "error", serr)
		}
	}
	if terr := templateLoader.Shutdown(shutdownCtx); terr != nil {
		logger.Warnw("template loader shutdown incomplete", "error", terr)
	}
	return err
}

// startLoaders brings up the filesystem loader and, when enabled, the
// Kubernetes CRD loader.
func startLoaders(ctx context.Context, settings *config.Settings,
	store *entities.Store, srv *server.Server) ([]loader.Loader, error) {

	reconciler := &loader.Reconciler{Store: store}
	var loaders []loader.Loader

	fileLoader := loader.NewFileLoader(settings.Directory, reconciler)
	if err := fileLoader.Start(ctx); err != nil {
		return nil, fmt.Errorf("file loader: %w", err)
	}
	loaders = append(loaders, fileLoader)

	if settings.SupportKubernetesCRD {
		cfg, err := rest.InClusterConfig()
		if err != nil {
			return loaders, fmt.Errorf("kubernetes loader: %w", err)
		}
		client, err := dynamic.NewForConfig(cfg)
		if err != nil {
			return loaders, fmt.Errorf("kubernetes loader: %w", err)
		}
		namespace := ""
		if settings.ScopedKubernetesCRD {
			namespace = settings.Namespace
		}
		kubeLoader := loader.NewKubernetesLoader(client, namespace, reconciler, srv.LoaderFailed)
		if err := kubeLoader.Start(ctx); err != nil {
			return loaders, fmt.Errorf("kubernetes loader: %w", err)
		}
		loaders = append(loaders, kubeLoader)
		logger.Infow("kubernetes entity loader started", "namespace", namespace)
	}
	return loaders, nil
}

// keyProvider loads PEM signing keys from disk, or generates an ephemeral
// key pair when no directory is configured.
func keyProvider(dir string) (token.KeyProvider, error) {
	if dir == "" {
		return token.NewGeneratingProvider(), nil
	}
	provider, err := token.NewFileProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("signing keys: %w", err)
	}
	return provider, nil
}
