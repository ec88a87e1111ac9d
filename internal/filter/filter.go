// Package filter decides which walked entries take part in a run.
package filter

import (
	"fmt"
	"strings"

	"github.com/bamsammich/fsu/internal/domain"
)

type rule struct {
	pat     *pattern
	include bool
}

// Chain is an ordered list of include/exclude rules plus size bounds for
// regular files. The first rule that matches decides; an entry no rule
// matches is kept.
type Chain struct {
	rules   []rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude adds an exclude rule for the given pattern.
func (c *Chain) AddExclude(pat string) error {
	return c.add(pat, false)
}

// AddInclude adds an include rule for the given pattern.
func (c *Chain) AddInclude(pat string) error {
	return c.add(pat, true)
}

// AddRule parses a rule in filter-file syntax: "+ PATTERN" includes,
// "- PATTERN" or a bare pattern excludes.
func (c *Chain) AddRule(line string) error {
	switch {
	case strings.HasPrefix(line, "+ "):
		return c.AddInclude(strings.TrimSpace(line[2:]))
	case strings.HasPrefix(line, "- "):
		return c.AddExclude(strings.TrimSpace(line[2:]))
	default:
		return c.AddExclude(line)
	}
}

func (c *Chain) add(pat string, include bool) error {
	p, err := compile(pat)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", pat, err)
	}
	c.rules = append(c.rules, rule{pat: p, include: include})
	return nil
}

// SetMinSize drops regular files smaller than n bytes.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops regular files larger than n bytes.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain keeps everything.
func (c *Chain) Empty() bool {
	return c == nil || len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Excludes reports whether the entry at rel (relative to the walk root,
// no leading slash) should be left out. A nil chain excludes nothing.
func (c *Chain) Excludes(rel string, st domain.Stat) bool {
	if c.Empty() {
		return false
	}
	if st.IsRegular() {
		if c.minSize > 0 && st.Size < c.minSize {
			return true
		}
		if c.maxSize > 0 && st.Size > c.maxSize {
			return true
		}
	}
	dir := st.IsDir()
	for _, r := range c.rules {
		if r.pat.match(rel, dir) {
			return !r.include
		}
	}
	return false
}
