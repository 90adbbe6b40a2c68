/*
This file is part of Cloud Native PostgreSQL.

Copyright (C) 2019-2022 EnterpriseDB Corporation.
*/

// Package multicache implements a cache that is able to work on multiple
// namespaces but also able to read data from a namespace which is beside
// the specified ones. This matters for this control plane because a
// Pageserver's Cluster, or a Branch's Project, may live in a namespace the
// operator was not configured to watch; rather than granting it a
// cluster-wide watch, cross-namespace lookups fall through to a second
// cache scoped to the operator's own namespace.
package multicache

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

type multiNamespaceCache struct {
	namespaces    map[string]struct{}
	multiCache    cache.Cache
	externalCache cache.Cache
}

// Just to ensure we respect the interface
var _ cache.Cache = &multiNamespaceCache{}

// DelegatingMultiNamespacedCacheBuilder returns a cache creation function.
// The created cache is able to work on multiple namespaces but also to
// respond, as a plain client, to requests belonging to namespaces
// different from the specified ones.
func DelegatingMultiNamespacedCacheBuilder(namespaces []string, operatorNamespace string) cache.NewCacheFunc {
	return func(config *rest.Config, opts cache.Options) (cache.Cache, error) {
		set := make(map[string]struct{}, len(namespaces))
		defaults := make(map[string]cache.Config, len(namespaces))
		for _, ns := range namespaces {
			set[ns] = struct{}{}
			defaults[ns] = cache.Config{}
		}

		multiOpts := opts
		multiOpts.DefaultNamespaces = defaults
		multiCache, err := cache.New(config, multiOpts)
		if err != nil {
			return nil, fmt.Errorf("error creating multi-namespace cache: %w", err)
		}

		externalOpts := opts
		externalOpts.DefaultNamespaces = map[string]cache.Config{operatorNamespace: {}}
		externalCache, err := cache.New(config, externalOpts)
		if err != nil {
			return nil, fmt.Errorf("error creating external cache: %w", err)
		}

		return &multiNamespaceCache{
			namespaces:    set,
			multiCache:    multiCache,
			externalCache: externalCache,
		}, nil
	}
}

// Methods for multiNamespaceCache to conform to the cache.Informers interface.

func (c *multiNamespaceCache) GetInformer(
	ctx context.Context, obj client.Object, opts ...cache.InformerGetOption,
) (cache.Informer, error) {
	return c.multiCache.GetInformer(ctx, obj, opts...)
}

func (c *multiNamespaceCache) GetInformerForKind(
	ctx context.Context, gvk schema.GroupVersionKind, opts ...cache.InformerGetOption,
) (cache.Informer, error) {
	return c.multiCache.GetInformerForKind(ctx, gvk, opts...)
}

func (c *multiNamespaceCache) RemoveInformer(ctx context.Context, obj client.Object) error {
	return c.multiCache.RemoveInformer(ctx, obj)
}

func (c *multiNamespaceCache) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- c.multiCache.Start(ctx) }()
	go func() { errCh <- c.externalCache.Start(ctx) }()

	<-ctx.Done()
	return nil
}

func (c *multiNamespaceCache) WaitForCacheSync(ctx context.Context) bool {
	return c.multiCache.WaitForCacheSync(ctx) && c.externalCache.WaitForCacheSync(ctx)
}

func (c *multiNamespaceCache) IndexField(
	ctx context.Context, obj client.Object, field string, extractValue client.IndexerFunc,
) error {
	return c.multiCache.IndexField(ctx, obj, field, extractValue)
}

// Methods for multiNamespaceCache to conform to the client.Reader interface.

func (c *multiNamespaceCache) Get(
	ctx context.Context, key client.ObjectKey, obj client.Object, opts ...client.GetOption,
) error {
	// If the object we are looking for is in one of the watched namespaces
	// just use the multi-cache, otherwise fall through to the operator's
	// own namespace cache.
	if key.Namespace != "" {
		if _, watched := c.namespaces[key.Namespace]; watched {
			return c.multiCache.Get(ctx, key, obj, opts...)
		}
	}
	return c.externalCache.Get(ctx, key, obj, opts...)
}

func (c *multiNamespaceCache) List(ctx context.Context, list client.ObjectList, opts ...client.ListOption) error {
	return c.multiCache.List(ctx, list, opts...)
}
