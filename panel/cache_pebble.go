package panel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/golang/glog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)


// key layout:
//   pingResults/<protocol url>  -> DoubleValue ping millis
//   lastPingTime                -> StringValue
const pingResultsKeyPrefix = "pingResults/"
const lastPingTimeKey = "lastPingTime"


// durable cache that survives restarts of the panel
type PebbleCacheStore struct {
	db *pebble.DB
}

func NewPebbleCacheStore(path string) (*PebbleCacheStore, error) {
	return NewPebbleCacheStoreWithOptions(path, &pebble.Options{
		Logger: &pebbleLogger{},
	})
}

func NewPebbleCacheStoreWithOptions(path string, options *pebble.Options) (*PebbleCacheStore, error) {
	db, err := pebble.Open(path, options)
	if err != nil {
		return nil, fmt.Errorf("open ping cache %s: %w", path, err)
	}
	return &PebbleCacheStore{
		db: db,
	}, nil
}

func (self *PebbleCacheStore) Load() (*PingCache, error) {
	cache := NewPingCache()

	iter, err := self.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(pingResultsKeyPrefix),
		UpperBound: []byte(pingResultsKeyPrefix + "\xff"),
	})
	if err != nil {
		return nil, err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		protocolUrl := strings.TrimPrefix(string(iter.Key()), pingResultsKeyPrefix)
		ping := &wrapperspb.DoubleValue{}
		if err := proto.Unmarshal(iter.Value(), ping); err != nil {
			// the cache is advisory, drop unreadable entries
			glog.Warningf("[cache]skip unreadable ping entry %s = %s\n", protocolUrl, err)
			continue
		}
		cache.PingResults[protocolUrl] = ping.GetValue()
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}

	value, closer, err := self.db.Get([]byte(lastPingTimeKey))
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		lastPingTime := &wrapperspb.StringValue{}
		unmarshalErr := proto.Unmarshal(value, lastPingTime)
		closer.Close()
		if unmarshalErr == nil {
			cache.LastPingTime = lastPingTime.GetValue()
		}
	}

	return cache, nil
}

// all entries are written in one batch so a crash never leaves a partially stored cache
func (self *PebbleCacheStore) Store(cache *PingCache) error {
	if cache == nil {
		return nil
	}

	batch := self.db.NewBatch()
	defer batch.Close()

	for protocolUrl, ping := range cache.PingResults {
		value, err := proto.Marshal(wrapperspb.Double(ping))
		if err != nil {
			return err
		}
		if err := batch.Set([]byte(pingResultsKeyPrefix+protocolUrl), value, nil); err != nil {
			return err
		}
	}
	value, err := proto.Marshal(wrapperspb.String(cache.LastPingTime))
	if err != nil {
		return err
	}
	if err := batch.Set([]byte(lastPingTimeKey), value, nil); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

func (self *PebbleCacheStore) Close() error {
	return self.db.Close()
}


// routes pebble logs into glog
type pebbleLogger struct {
}

func (self *pebbleLogger) Infof(format string, args ...any) {
	if glog.V(LogLevelTrace) {
		glog.Infof("[pebble]"+format, args...)
	}
}

func (self *pebbleLogger) Errorf(format string, args ...any) {
	glog.Errorf("[pebble]"+format, args...)
}

func (self *pebbleLogger) Fatalf(format string, args ...any) {
	glog.Fatalf("[pebble]"+format, args...)
}
