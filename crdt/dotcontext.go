package crdt

import (
	"sort"
)

// Structs

// DotContext records exactly which dots a replica has
// seen. Dots delivered in order are folded into the
// compact clock, dots that arrive ahead of a gap wait
// in the cloud until the gap is closed.
type DotContext struct {
	compact VClock
	cloud   map[Dot]struct{}
}

// Functions

// NewDotContext returns an empty dot context.
func NewDotContext() *DotContext {

	return &DotContext{
		compact: NewVClock(),
		cloud:   make(map[Dot]struct{}),
	}
}

// Contains reports whether dot d has been seen.
func (c *DotContext) Contains(d Dot) bool {

	if c.compact.Contains(d) {
		return true
	}

	_, found := c.cloud[d]

	return found
}

// Insert marks dot d as seen.
func (c *DotContext) Insert(d Dot) {

	if (d.Counter == 0) || c.Contains(d) {
		return
	}

	c.cloud[d] = struct{}{}
	c.compactCloud()
}

// compactCloud moves every cloud dot that directly
// continues the compact clock of its actor into it.
func (c *DotContext) compactCloud() {

	changed := true

	for changed {

		changed = false

		for d := range c.cloud {

			switch {
			case d.Counter <= c.compact[d.Actor]:
				delete(c.cloud, d)
			case d.Counter == (c.compact[d.Actor] + 1):
				c.compact[d.Actor] = d.Counter
				delete(c.cloud, d)
				changed = true
			}
		}
	}
}

// Covers reports whether every dot up to clock v
// has been seen, i.e. no gaps remain below v.
func (c *DotContext) Covers(v VClock) bool {
	return c.compact.Dominates(v)
}

// Max returns the point-wise maximum over all seen dots.
func (c *DotContext) Max() VClock {

	m := c.compact.Clone()
	for d := range c.cloud {
		m.Apply(d)
	}

	return m
}

// Compact returns a copy of the gap-free part of the context.
func (c *DotContext) Compact() VClock {
	return c.compact.Clone()
}

// Cloud returns the dots seen ahead of a gap in ascending order.
func (c *DotContext) Cloud() []Dot {

	dots := make([]Dot, 0, len(c.cloud))
	for d := range c.cloud {
		dots = append(dots, d)
	}

	sort.Slice(dots, func(i, j int) bool {
		return dots[i].Less(dots[j])
	})

	return dots
}

// Merge adds every dot seen by other to c.
func (c *DotContext) Merge(other *DotContext) {

	c.compact.Merge(other.compact)

	for d := range other.cloud {
		c.cloud[d] = struct{}{}
	}

	c.compactCloud()
}

// Clone returns a deep copy of c.
func (c *DotContext) Clone() *DotContext {

	clone := &DotContext{
		compact: c.compact.Clone(),
		cloud:   make(map[Dot]struct{}, len(c.cloud)),
	}

	for d := range c.cloud {
		clone.cloud[d] = struct{}{}
	}

	return clone
}
