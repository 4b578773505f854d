package unread

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/projecthub/internal/model"
)

type stubFetcher struct {
	mu     sync.Mutex
	counts model.UnreadCounts
	err    error
	calls  int
}

func (s *stubFetcher) set(counts model.UnreadCounts, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts, s.err = counts, err
}

func (s *stubFetcher) FetchUnreadCounts(context.Context) (model.UnreadCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.counts, s.err
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestPollOverwritesOptimisticIncrements(t *testing.T) {
	f := &stubFetcher{}
	f.set(model.UnreadCounts{System: 2, IM: 5}, nil)
	a := NewAggregator(f, time.Hour)

	a.poll(context.Background())
	if sys, im := a.Counts(); sys != 2 || im != 5 {
		t.Fatalf("Counts = (%d, %d), want (2, 5)", sys, im)
	}

	// Three push events arrive; the display bumps immediately.
	a.Bump(model.ChannelIM)
	a.Bump(model.ChannelIM)
	a.Bump(model.ChannelSystem)
	if sys, im := a.Counts(); sys != 3 || im != 7 {
		t.Fatalf("Counts after bumps = (%d, %d), want (3, 7)", sys, im)
	}

	// The server recomputed lower values (messages were read elsewhere).
	// The poll overwrites, it never adds.
	f.set(model.UnreadCounts{System: 0, IM: 3}, nil)
	a.poll(context.Background())
	if sys, im := a.Counts(); sys != 0 || im != 3 {
		t.Fatalf("Counts after poll = (%d, %d), want (0, 3)", sys, im)
	}
}

func TestFailedPollKeepsPreviousValues(t *testing.T) {
	f := &stubFetcher{}
	f.set(model.UnreadCounts{System: 1, IM: 4}, nil)
	a := NewAggregator(f, time.Hour)

	a.poll(context.Background())
	before := a.LastFetched()

	f.set(model.UnreadCounts{}, errors.New("503"))
	a.poll(context.Background())

	if sys, im := a.Counts(); sys != 1 || im != 4 {
		t.Fatalf("Counts after failed poll = (%d, %d), want (1, 4)", sys, im)
	}
	if !a.LastFetched().Equal(before) {
		t.Fatal("failed poll must not advance LastFetched")
	}
}

func TestBumpTriggersRefetch(t *testing.T) {
	f := &stubFetcher{}
	f.set(model.UnreadCounts{System: 0, IM: 1}, nil)
	a := NewAggregator(f, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	waitFor(t, func() bool { return f.callCount() >= 1 })

	f.set(model.UnreadCounts{System: 0, IM: 2}, nil)
	a.Bump(model.ChannelIM)

	// The bump schedules an immediate reconciliation instead of waiting for
	// the hour-long ticker.
	waitFor(t, func() bool {
		_, im := a.Counts()
		return im == 2
	})

	cancel()
	<-done
}

func TestVisibilityReturnTriggersRefetch(t *testing.T) {
	f := &stubFetcher{}
	f.set(model.UnreadCounts{System: 1, IM: 0}, nil)
	a := NewAggregator(f, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(ctx)
	}()

	waitFor(t, func() bool { return f.callCount() >= 1 })

	a.SetVisible(false)
	f.set(model.UnreadCounts{System: 6, IM: 0}, nil)
	a.SetVisible(true)

	waitFor(t, func() bool {
		sys, _ := a.Counts()
		return sys == 6
	})

	cancel()
	<-done
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/unread-count" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"system":3,"im":7}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "tok")
	counts, err := f.FetchUnreadCounts(context.Background())
	if err != nil {
		t.Fatalf("FetchUnreadCounts: %v", err)
	}
	if counts.System != 3 || counts.IM != 7 {
		t.Fatalf("counts = %+v", counts)
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "tok")
	if _, err := f.FetchUnreadCounts(context.Background()); err == nil {
		t.Fatal("want error on 500 response")
	}
}
