package relay

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/signal-sink/internal/model"
)

// Signature derives the dedup identity of a payload: a SHA-256 over the
// source name and the full content, hex encoded. Text content is NFC
// normalized first so visually identical strings with different Unicode
// compositions collapse to one signature; binary content hashes as-is.
func Signature(source model.Source, payload model.Payload) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	if text, ok := payload.Text(); ok {
		h.Write([]byte(norm.NFC.String(text)))
	} else {
		h.Write(payload.Bytes())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Deduper remembers recently seen signatures in a bounded LRU so the seen
// set cannot grow without limit during long sessions. Evicting an old
// signature means an identical payload could be re-admitted later; that
// trade is deliberate.
type Deduper struct {
	cache *lru.Cache[string, struct{}]
	size  int
}

// NewDeduper creates a Deduper remembering up to size signatures.
func NewDeduper(size int) (*Deduper, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, eris.Wrap(err, "relay: create dedup cache")
	}
	return &Deduper{cache: cache, size: size}, nil
}

// Seen reports whether sig was observed before, and records it either way.
func (d *Deduper) Seen(sig string) bool {
	if d.cache.Contains(sig) {
		d.cache.Add(sig, struct{}{}) // refresh recency
		return true
	}
	d.cache.Add(sig, struct{}{})
	return false
}

// Forget drops a signature, re-admitting the payload on next sight.
func (d *Deduper) Forget(sig string) {
	d.cache.Remove(sig)
}

// Len reports the number of remembered signatures.
func (d *Deduper) Len() int {
	return d.cache.Len()
}

// Cap reports the maximum number of signatures the cache holds.
func (d *Deduper) Cap() int {
	return d.size
}

// Reset clears the seen set.
func (d *Deduper) Reset() {
	d.cache.Purge()
}
