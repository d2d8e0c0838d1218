// Package cache memoizes a whole pass's effect on a test case: the content
// the file held when the pass started, mapped to the content it held when
// the pass last ran to completion over that exact input.
//
// The cache is process-local and in-memory only: it exists to let a single
// driver invocation skip re-running an entire pass (every state it would
// have enumerated, every interestingness test it would have executed)
// against content it has already reduced within the same run — for example
// the same test case handed to the same pass twice because an earlier pass
// looped back to a previously-seen state — not to persist results across
// separate invocations of the binary. It is consulted exactly once at pass
// entry and written exactly once at pass exit, never per attempt: a hit
// skips the whole pass, not one candidate within it.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache maps (pass identity, pre-pass content key) to the content that pass
// produced the last time it ran to completion over that exact input.
type Cache struct {
	mu   sync.Mutex
	byID map[string]map[string][]byte
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{byID: make(map[string]map[string][]byte)}
}

// Key hashes content into the lookup key Lookup/Store use, so content
// equality is tested without pinning two full copies of it in the map.
func Key(content []byte) string {
	sum := sha256.Sum256(content)

	return hex.EncodeToString(sum[:])
}

// Lookup returns the remembered post-pass content for identity+key, if any.
func (c *Cache) Lookup(identity, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.byID[identity]
	if !ok {
		return nil, false
	}

	content, ok := bucket[key]

	return content, ok
}

// Store remembers content as the result of running identity's pass to
// completion over the input hashed into key.
func (c *Cache) Store(identity, key string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.byID[identity]
	if !ok {
		bucket = make(map[string][]byte)
		c.byID[identity] = bucket
	}

	bucket[key] = content
}

// Forget discards every entry cached under identity.
func (c *Cache) Forget(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.byID, identity)
}

// Len reports the number of distinct (identity, key) entries currently
// cached, for diagnostics and tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, bucket := range c.byID {
		n += len(bucket)
	}

	return n
}
