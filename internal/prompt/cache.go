package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tbourn/go-pattern-backend/internal/domain"
)

// Cached memoizes a Composer by canonical input. Only successful
// compositions are cached; validation errors are recomputed.
type Cached struct {
	next  Composer
	cache *lru.Cache[string, string]
}

// NewCached wraps next with an LRU of the given size (defaults to 256).
func NewCached(next Composer, size int) (*Cached, error) {
	if next == nil {
		next = Standard{}
	}
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

// Compose implements Composer.
func (c *Cached) Compose(fields domain.PromptFields, freeText string) (string, error) {
	key := cacheKey(fields, freeText)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	out, err := c.next.Compose(fields, freeText)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, out)
	return out, nil
}

// Len reports the number of cached prompts.
func (c *Cached) Len() int { return c.cache.Len() }

func cacheKey(fields domain.PromptFields, freeText string) string {
	f := fields.Normalized()
	h := sha256.New()
	for _, s := range []string{f.Motif, f.Style, f.ColorPalette, f.Region, f.Complexity, strings.Join(strings.Fields(freeText), " ")} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
