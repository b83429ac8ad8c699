package panel

import (
	"sync"

	"golang.org/x/exp/maps"
)


// the cache is advisory and for display only. It is never used to decide which endpoint is active.
// Entries for endpoints that are no longer in any subscription are kept.
type PingCache struct {
	// protocol url -> latest ping millis
	PingResults map[string]float64 `json:"pingResults"`
	// opaque display string
	LastPingTime string `json:"lastPingTime"`
}

func NewPingCache() *PingCache {
	return &PingCache{
		PingResults: map[string]float64{},
	}
}

func (self *PingCache) Get(protocolUrl string) (float64, bool) {
	if self == nil {
		return 0, false
	}
	ping, ok := self.PingResults[protocolUrl]
	return ping, ok
}

func (self *PingCache) Len() int {
	if self == nil {
		return 0
	}
	return len(self.PingResults)
}

func (self *PingCache) Clone() *PingCache {
	if self == nil {
		return NewPingCache()
	}
	pingResults := maps.Clone(self.PingResults)
	if pingResults == nil {
		pingResults = map[string]float64{}
	}
	return &PingCache{
		PingResults:  pingResults,
		LastPingTime: self.LastPingTime,
	}
}


// entries of `latest` win over entries of `stored`
// entries only in `stored` are kept, so a persisted cache can be merged under the in-memory one at any time
func MergePingCache(stored *PingCache, latest *PingCache) *PingCache {
	next := stored.Clone()
	if latest != nil {
		maps.Copy(next.PingResults, latest.PingResults)
		if latest.LastPingTime != "" {
			next.LastPingTime = latest.LastPingTime
		}
	}
	return next
}


type CacheStore interface {
	// a store that was never written loads an empty cache
	Load() (*PingCache, error)
	// stores every entry of the cache. Entries missing from `cache` are not removed.
	Store(cache *PingCache) error
	Close() error
}


// keeps the cache for the lifetime of the process
type MemoryCacheStore struct {
	mutex sync.Mutex
	cache *PingCache
}

func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{
		cache: NewPingCache(),
	}
}

func (self *MemoryCacheStore) Load() (*PingCache, error) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.cache.Clone(), nil
}

func (self *MemoryCacheStore) Store(cache *PingCache) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	nextCache := self.cache.Clone()
	if cache != nil {
		maps.Copy(nextCache.PingResults, cache.PingResults)
		nextCache.LastPingTime = cache.LastPingTime
	}
	self.cache = nextCache
	return nil
}

func (self *MemoryCacheStore) Close() error {
	return nil
}
