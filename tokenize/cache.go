package tokenize

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

// Texts longer than this are encoded directly and never cached.
const maxCachedLen = 512

// Cache is an LRU from record text to token ids, safe to share between
// tokenizer instances of the same vocabulary. Datasets such as wikitext
// repeat short lines (headings, blank lines) very often.
// Cached ids are shared, callers must not modify them.
type Cache struct {
	lru *lru.Cache
}

// NewCache returns a cache holding up to size texts, or nil when size is
// not positive. A nil *Cache is valid and disables caching.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating token cache")
	}
	return &Cache{lru: cache}, nil
}

// Len returns the number of cached texts.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// Wrap returns t with encoding routed through the cache.
func (c *Cache) Wrap(t Tokenizer) Tokenizer {
	if c == nil {
		return t
	}
	return &cachedTokenizer{Tokenizer: t, cache: c}
}

type cachedTokenizer struct {
	Tokenizer
	cache *Cache
}

func (t *cachedTokenizer) Encode(text string) ([]uint32, error) {
	if len(text) > maxCachedLen {
		return t.Tokenizer.Encode(text)
	}
	if ids, ok := t.cache.lru.Get(text); ok {
		return ids.([]uint32), nil
	}
	ids, err := t.Tokenizer.Encode(text)
	if err != nil {
		return nil, err
	}
	t.cache.lru.Add(text, ids)
	return ids, nil
}
