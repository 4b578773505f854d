// Package unread keeps a client's per-channel unread counters eventually
// consistent by reconciling push-delivered events with a periodic poll of the
// server-recomputed counts. The poll result always wins; push events only
// shorten perceived latency.
package unread

import (
	"context"
	"sync"
	"time"

	"github.com/projecthub/internal/logger"
	"github.com/projecthub/internal/model"
)

// Fetcher retrieves the authoritative unread counts.
type Fetcher interface {
	FetchUnreadCounts(ctx context.Context) (model.UnreadCounts, error)
}

const fetchTimeout = 10 * time.Second

// Aggregator merges push events with the reconciliation poll. Displayed
// values come from the last completed fetch; optimistic increments are
// visual-only and are overwritten, not added to, by the next poll.
type Aggregator struct {
	fetcher  Fetcher
	interval time.Duration

	mu          sync.Mutex
	system      int
	im          int
	lastFetched time.Time
	visible     bool

	refetch chan struct{}
}

func NewAggregator(fetcher Fetcher, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Aggregator{
		fetcher:  fetcher,
		interval: interval,
		visible:  true,
		refetch:  make(chan struct{}, 1),
	}
}

// Run polls on the fixed interval until ctx is cancelled. Ticks while the
// host page is hidden are skipped; an out-of-band refetch request (push
// event, visibility return) polls immediately.
func (a *Aggregator) Run(ctx context.Context) {
	// Prime the counters so the first displayed value is authoritative.
	a.poll(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.isVisible() {
				a.poll(ctx)
			}
		case <-a.refetch:
			a.poll(ctx)
		}
	}
}

// poll fetches the authoritative counts and overwrites the displayed values.
// A failed fetch leaves the previous values in place; it is never treated as
// zero unread.
func (a *Aggregator) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	counts, err := a.fetcher.FetchUnreadCounts(fetchCtx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Errorf("unread poll: %v (keeping previous values)", err)
		}
		return
	}
	a.mu.Lock()
	a.system = counts.System
	a.im = counts.IM
	a.lastFetched = time.Now()
	a.mu.Unlock()
}

// Bump applies a provisional increment for a push event and schedules an
// immediate reconciliation fetch rather than trusting the increment.
func (a *Aggregator) Bump(channel model.UnreadChannel) {
	a.mu.Lock()
	switch channel {
	case model.ChannelSystem:
		a.system++
	case model.ChannelIM:
		a.im++
	}
	a.mu.Unlock()
	a.requestRefetch()
}

// SetVisible pauses polling while the host page is hidden and triggers an
// immediate fetch when it becomes visible again.
func (a *Aggregator) SetVisible(visible bool) {
	a.mu.Lock()
	wasVisible := a.visible
	a.visible = visible
	a.mu.Unlock()
	if visible && !wasVisible {
		a.requestRefetch()
	}
}

func (a *Aggregator) isVisible() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.visible
}

func (a *Aggregator) requestRefetch() {
	select {
	case a.refetch <- struct{}{}:
	default:
		// A refetch is already pending; one fetch reconciles everything.
	}
}

// Counts returns the currently displayed values.
func (a *Aggregator) Counts() (system, im int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.system, a.im
}

// LastFetched returns when the last successful poll completed.
func (a *Aggregator) LastFetched() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastFetched
}
