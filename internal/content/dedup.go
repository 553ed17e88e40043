package content

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Deduplicator remembers content fingerprints for a TTL window so repeat
// extractions of the same page body can be flagged.
type Deduplicator struct {
	cache  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewDeduplicator builds a deduplicator whose fingerprints expire after ttl.
func NewDeduplicator(ttl time.Duration) *Deduplicator {
	return &Deduplicator{
		cache: gocache.New(ttl, ttl*2),
	}
}

// Fingerprint returns the md5 hex digest of text after lowercasing and
// collapsing whitespace, so cosmetic reflows hash identically.
func Fingerprint(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := md5.Sum([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Seen reports whether equivalent content was recorded within the TTL
// window, recording it either way.
func (d *Deduplicator) Seen(text string) bool {
	fp := Fingerprint(text)
	if _, found := d.cache.Get(fp); found {
		d.hits.Add(1)
		return true
	}
	d.misses.Add(1)
	d.cache.SetDefault(fp, struct{}{})
	return false
}

// DedupStats reports duplicate-detection counters.
type DedupStats struct {
	Tracked    int   `json:"tracked"`
	Duplicates int64 `json:"duplicates"`
	Unique     int64 `json:"unique"`
}

func (d *Deduplicator) Stats() DedupStats {
	return DedupStats{
		Tracked:    d.cache.ItemCount(),
		Duplicates: d.hits.Load(),
		Unique:     d.misses.Load(),
	}
}

// Reset drops all remembered fingerprints.
func (d *Deduplicator) Reset() {
	d.cache.Flush()
}
