package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

const matchCacheSize = 1024

// GlobFilter filters change events by collection name using glob patterns
type GlobFilter struct {
	collectionGlobs []glob.Glob
	matches         *lru.Cache[string, bool]
}

// NewGlobFilter creates a new glob-based filter
// Empty patterns match everything
func NewGlobFilter(collectionPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		collectionGlobs: make([]glob.Glob, 0, len(collectionPatterns)),
	}

	for _, pattern := range collectionPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid collection pattern %q: %w", pattern, err)
		}
		filter.collectionGlobs = append(filter.collectionGlobs, g)
	}

	cache, err := lru.New[string, bool](matchCacheSize)
	if err != nil {
		return nil, err
	}
	filter.matches = cache

	return filter, nil
}

// Match returns true if the collection matches a configured pattern
// If no patterns are configured, all collections match
func (f *GlobFilter) Match(collection string) bool {
	if len(f.collectionGlobs) == 0 {
		return true
	}
	if matched, ok := f.matches.Get(collection); ok {
		return matched
	}

	matched := false
	for _, g := range f.collectionGlobs {
		if g.Match(collection) {
			matched = true
			break
		}
	}

	f.matches.Add(collection, matched)
	return matched
}
