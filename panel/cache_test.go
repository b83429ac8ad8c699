package panel

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-playground/assert/v2"
)


func testCacheStore(t *testing.T, cacheStore CacheStore) {
	// never written
	cache, err := cacheStore.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cache.Len(), 0)
	assert.Equal(t, cache.LastPingTime, "")

	err = cacheStore.Store(&PingCache{
		PingResults: map[string]float64{
			"ss://a": 10,
			"ss://b": 20.5,
		},
		LastPingTime: "t1",
	})
	assert.Equal(t, err, nil)

	cache, err = cacheStore.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cache.PingResults, map[string]float64{
		"ss://a": 10,
		"ss://b": 20.5,
	})
	assert.Equal(t, cache.LastPingTime, "t1")

	// entries missing from a store are kept
	err = cacheStore.Store(&PingCache{
		PingResults: map[string]float64{
			"ss://b": 30,
		},
		LastPingTime: "t2",
	})
	assert.Equal(t, err, nil)

	cache, err = cacheStore.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cache.PingResults, map[string]float64{
		"ss://a": 10,
		"ss://b": 30,
	})
	assert.Equal(t, cache.LastPingTime, "t2")

	// loads are copies
	cache.PingResults["ss://c"] = 1
	cache, err = cacheStore.Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cache.Len(), 2)
}

func TestMemoryCacheStore(t *testing.T) {
	cacheStore := NewMemoryCacheStore()
	defer cacheStore.Close()
	testCacheStore(t, cacheStore)
}

func TestPebbleCacheStore(t *testing.T) {
	cacheStore, err := NewPebbleCacheStoreWithOptions("cache", &pebble.Options{
		FS:     vfs.NewMem(),
		Logger: &pebbleLogger{},
	})
	assert.Equal(t, err, nil)
	defer cacheStore.Close()
	testCacheStore(t, cacheStore)
}

func TestPebbleCacheStoreReopen(t *testing.T) {
	fs := vfs.NewMem()

	cacheStore, err := NewPebbleCacheStoreWithOptions("cache", &pebble.Options{
		FS: fs,
	})
	assert.Equal(t, err, nil)
	err = cacheStore.Store(&PingCache{
		PingResults: map[string]float64{
			"vmess://eyJwcyI6IlRva3lvIn0=": 42,
		},
		LastPingTime: "2024-01-02 03:04:05",
	})
	assert.Equal(t, err, nil)
	err = cacheStore.Close()
	assert.Equal(t, err, nil)

	cacheStore, err = NewPebbleCacheStoreWithOptions("cache", &pebble.Options{
		FS: fs,
	})
	assert.Equal(t, err, nil)
	defer cacheStore.Close()

	cache, err := cacheStore.Load()
	assert.Equal(t, err, nil)
	ping, ok := cache.Get("vmess://eyJwcyI6IlRva3lvIn0=")
	assert.Equal(t, ok, true)
	assert.Equal(t, ping, float64(42))
	assert.Equal(t, cache.LastPingTime, "2024-01-02 03:04:05")
}

func TestPingCacheNil(t *testing.T) {
	var cache *PingCache
	_, ok := cache.Get("ss://a")
	assert.Equal(t, ok, false)
	assert.Equal(t, cache.Len(), 0)
	assert.Equal(t, cache.Clone().Len(), 0)
}

func TestMergePingCache(t *testing.T) {
	stored := &PingCache{
		PingResults: map[string]float64{
			"ss://a": 42,
			"ss://b": 5,
		},
		LastPingTime: "earlier",
	}
	latest := &PingCache{
		PingResults: map[string]float64{
			"ss://a": 10,
			"ss://c": -1,
		},
		LastPingTime: "later",
	}

	merged := MergePingCache(stored, latest)
	assert.Equal(t, merged.PingResults, map[string]float64{
		"ss://a": 10,
		"ss://b": 5,
		"ss://c": -1,
	})
	assert.Equal(t, merged.LastPingTime, "later")
	// inputs are not changed
	assert.Equal(t, stored.PingResults["ss://a"], float64(42))
	assert.Equal(t, latest.Len(), 2)

	// an unset time keeps the stored one
	merged = MergePingCache(stored, NewPingCache())
	assert.Equal(t, merged.LastPingTime, "earlier")
	assert.Equal(t, merged.Len(), 2)

	assert.Equal(t, MergePingCache(nil, nil).Len(), 0)
}
