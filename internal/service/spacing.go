package service

import (
	"math/rand"
	"sync"
	"time"
)

// Spacer draws humanlike gaps between consecutive sends of one account.
type Spacer struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSpacer(lo, hi time.Duration, seed int64) *Spacer {
	if hi < lo {
		lo, hi = hi, lo
	}
	return &Spacer{Min: lo, Max: hi, rnd: rand.New(rand.NewSource(seed))}
}

// Gap is uniform in [Min, Max] at one-second resolution.
func (s *Spacer) Gap() time.Duration {
	span := int64((s.Max - s.Min) / time.Second)
	if span <= 0 {
		return s.Min
	}
	s.mu.Lock()
	n := s.rnd.Int63n(span + 1)
	s.mu.Unlock()
	return s.Min + time.Duration(n)*time.Second
}

// slotCursor hands out strictly increasing send times for one account. The
// first slot is now, unless prev is set, in which case it is prev+gap when
// that is later than now.
type slotCursor struct {
	spacer *Spacer
	now    time.Time
	prev   *time.Time
}

func newSlotCursor(spacer *Spacer, now time.Time, prev *time.Time) *slotCursor {
	return &slotCursor{spacer: spacer, now: now, prev: prev}
}

func (c *slotCursor) Next() time.Time {
	next := c.now
	if c.prev != nil {
		if candidate := c.prev.Add(c.spacer.Gap()); candidate.After(next) {
			next = candidate
		}
	}
	c.prev = &next
	return next
}

// mark and rewind give back a slot that was drawn but not used.
func (c *slotCursor) mark() *time.Time { return c.prev }

func (c *slotCursor) rewind(prev *time.Time) { c.prev = prev }
