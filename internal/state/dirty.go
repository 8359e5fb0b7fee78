package state

import (
	"sort"
	"time"
)

// DirtyTracker decides when the snapshot document gets flushed. Critical
// changes (position lifecycle, watchlist membership) persist immediately;
// everything else waits for the throttle window, bounding worst-case loss
// of non-critical data to one window.
type DirtyTracker struct {
	dirty     bool
	critical  bool
	reasons   map[string]struct{}
	lastWrite time.Time
}

// NewDirtyTracker returns a clean tracker. lastWrite starts at zero so the
// first non-critical change persists on the next check.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{reasons: make(map[string]struct{})}
}

// Mark records a pending change. critical forces the next ShouldPersist to
// return true regardless of the throttle.
func (d *DirtyTracker) Mark(reason string, critical bool) {
	d.dirty = true
	if critical {
		d.critical = true
	}
	d.reasons[reason] = struct{}{}
}

// ShouldPersist reports whether a snapshot write is due at now.
func (d *DirtyTracker) ShouldPersist(now time.Time, throttle time.Duration) bool {
	if d.critical {
		return true
	}
	return d.dirty && now.Sub(d.lastWrite) >= throttle
}

// Clear resets the tracker after a confirmed successful write.
func (d *DirtyTracker) Clear(now time.Time) {
	d.dirty = false
	d.critical = false
	d.reasons = make(map[string]struct{})
	d.lastWrite = now
}

// Dirty reports whether any change is pending.
func (d *DirtyTracker) Dirty() bool { return d.dirty }

// Critical reports whether a critical change is pending.
func (d *DirtyTracker) Critical() bool { return d.critical }

// Reasons returns the pending reasons, sorted for stable log output.
func (d *DirtyTracker) Reasons() []string {
	out := make([]string, 0, len(d.reasons))
	for r := range d.reasons {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
