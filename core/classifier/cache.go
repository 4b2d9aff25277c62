package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache stores classification results by cacheKey.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) (Profile, bool)
	Add(key string, p Profile)
	Len() int
}

type lruCache struct {
	lru *expirable.LRU[string, Profile]
}

// NewLRUCache returns a Cache holding at most size entries, each for at most ttl.
func NewLRUCache(size int, ttl time.Duration) Cache {
	if size <= 0 {
		return NopCache{}
	}
	return &lruCache{lru: expirable.NewLRU[string, Profile](size, nil, ttl)}
}

func (c *lruCache) Get(key string) (Profile, bool) { return c.lru.Get(key) }
func (c *lruCache) Add(key string, p Profile)      { c.lru.Add(key, p) }
func (c *lruCache) Len() int                       { return c.lru.Len() }

// NopCache caches nothing.
type NopCache struct{}

func (NopCache) Get(string) (Profile, bool) { return Profile{}, false }
func (NopCache) Add(string, Profile)        {}
func (NopCache) Len() int                   { return 0 }

// cacheKey hashes everything the classification depends on.
// Recipient roles are sorted: their order does not change the result.
func cacheKey(in Input) string {
	roles := make([]string, len(in.RecipientRoles))
	copy(roles, in.RecipientRoles)
	sort.Strings(roles)

	h := sha256.New()
	h.Write([]byte(in.Text))
	h.Write([]byte{0})
	h.Write([]byte(in.SenderRole))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(roles, "\x1f")))
	return hex.EncodeToString(h.Sum(nil))
}
