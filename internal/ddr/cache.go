package ddr

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"docground/internal/catalog"
	"docground/internal/validator"
)

// cacheKey ties a result to the snapshot it was computed against, so a new
// catalog load never serves stale verdicts.
type cacheKey struct {
	generation uint64
	kind       catalog.Kind
	claim      string
	maxResults int
}

type resultCache struct {
	lru *lru.Cache[cacheKey, validator.Result]
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		return &resultCache{}
	}
	c, err := lru.New[cacheKey, validator.Result](size)
	if err != nil {
		return &resultCache{}
	}
	return &resultCache{lru: c}
}

func (c *resultCache) get(k cacheKey) (validator.Result, bool) {
	if c.lru == nil {
		return validator.Result{}, false
	}
	res, ok := c.lru.Get(k)
	recordCacheLookup(context.Background(), ok)
	if !ok {
		return validator.Result{}, false
	}
	res.MatchedSymbols = slices.Clone(res.MatchedSymbols)
	return res, true
}

func (c *resultCache) add(k cacheKey, res validator.Result) {
	if c.lru == nil {
		return
	}
	res.MatchedSymbols = slices.Clone(res.MatchedSymbols)
	c.lru.Add(k, res)
}

func (c *resultCache) purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

func (c *resultCache) size() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
