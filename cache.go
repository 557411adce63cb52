package lemonproxy

import (
	"encoding/json"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/denismitr/lemonproxy/internal/lru"
	"github.com/denismitr/lemonproxy/internal/storage"
	"github.com/tidwall/gjson"
)

type byteCache interface {
	Add(key uint64, value []byte) bool
	Get(key uint64) ([]byte, bool)
	Remove(key uint64)
	Purge()
	Count() int
	Stats() lru.Stats
}

// recordCache maps identities to the last known raw payload. Payloads are kept
// encoded so every read hands out a fresh copy.
type recordCache struct {
	c      byteCache
	idPath string
}

func newRecordCache(cfg *Config, idField string) (*recordCache, error) {
	rc := &recordCache{idPath: gjsonPath(idField)}

	if cfg.DisableCache {
		rc.c = lru.NullCache{}
		return rc, nil
	}

	c, err := lru.NewShardedCache(cfg.CacheShards, cfg.CacheMaxBytes, nil)
	if err != nil {
		return nil, err
	}

	rc.c = c
	return rc, nil
}

func (rc *recordCache) hash(k storage.Key) uint64 {
	return xxhash.Sum64String(k.Typed())
}

func (rc *recordCache) set(k storage.Key, raw []byte) {
	rc.c.Add(rc.hash(k), raw)
}

func (rc *recordCache) setData(k storage.Key, data M) error {
	raw, err := storage.Encode(data)
	if err != nil {
		return err
	}

	rc.set(k, raw)
	return nil
}

// get returns a copy of the cached payload for k.
func (rc *recordCache) get(k storage.Key) (M, bool) {
	raw, ok := rc.c.Get(rc.hash(k))
	if !ok {
		return nil, false
	}

	// hashed keys may collide, the payload carries the real identity
	cached, ok := payloadKey(gjson.GetBytes(raw, rc.idPath))
	if !ok || !cached.Equal(k) {
		return nil, false
	}

	data, err := storage.Decode(raw)
	if err != nil {
		rc.remove(k)
		return nil, false
	}

	return data, true
}

func (rc *recordCache) remove(k storage.Key) {
	rc.c.Remove(rc.hash(k))
}

func (rc *recordCache) purge() {
	rc.c.Purge()
}

func (rc *recordCache) len() int {
	return rc.c.Count()
}

func (rc *recordCache) stats() lru.Stats {
	return rc.c.Stats()
}

// payloadKey reads an identity from the raw token, float64 would round
// integers past 2^53.
func payloadKey(res gjson.Result) (storage.Key, bool) {
	var (
		k   storage.Key
		err error
	)

	switch res.Type {
	case gjson.Number:
		k, err = storage.KeyOf(json.Number(res.Raw))
	case gjson.String:
		k, err = storage.KeyOf(res.Str)
	default:
		return storage.Key{}, false
	}

	return k, err == nil
}

// gjsonPath escapes a field name so gjson reads it literally.
func gjsonPath(field string) string {
	var b strings.Builder
	for _, r := range field {
		if strings.ContainsRune(`.*?|#@\!=<>%`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
