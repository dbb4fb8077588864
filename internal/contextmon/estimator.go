// Package contextmon tracks context-window pressure for a task and reduces the
// file scope when the estimated prompt no longer fits comfortably.
package contextmon

import (
	"fmt"
	"os"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func initEncoding() {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// CountTokens returns a token count using the cl100k_base encoding, falling
// back to a character heuristic when tiktoken is unavailable.
func CountTokens(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

// estimateFast is the heuristic fallback: max(runes/4, word count).
func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	estimate := len([]rune(trimmed)) / 4
	if words := len(strings.Fields(trimmed)); estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

const estimatorCacheSize = 2048

// Estimator counts file tokens with an LRU cache keyed by path, size, and
// mtime, so repeated per-iteration scans of an unchanged scope stay cheap.
type Estimator struct {
	cache *lru.Cache[string, int]
}

// NewEstimator creates a token estimator.
func NewEstimator() (*Estimator, error) {
	cache, err := lru.New[string, int](estimatorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	return &Estimator{cache: cache}, nil
}

// FileTokens returns the token count of the file at path. Unreadable files
// count as zero; scope lists routinely reference files an iteration is about
// to create.
func (e *Estimator) FileTokens(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if tokens, ok := e.cache.Get(key); ok {
		return tokens
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	tokens := CountTokens(string(data))
	e.cache.Add(key, tokens)
	return tokens
}
