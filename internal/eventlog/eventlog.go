// Package eventlog is the per-branch, totally ordered, append-only event stream.
// Appends are persisted through the store before they reach live subscribers,
// and Subscribe stitches the persisted backlog to the live tail without gaps
// or duplicates.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/store"
	"github.com/branchline/pkg/models"
)

const (
	DefaultPageLimit  = 100
	MaxPageLimit      = 1000
	DefaultBufferSize = 256
)

// ErrSubscriberLagged is reported by a subscription whose consumer fell so far
// behind that its buffer filled. The consumer should resubscribe from the last
// sequence it saw.
var ErrSubscriberLagged = errors.New("eventlog: subscriber lagged behind")

// ErrClosed is reported by a subscription after Close or context cancellation
var ErrClosed = errors.New("eventlog: subscription closed")

// Appender is the write side of the log
type Appender interface {
	Append(ctx context.Context, branchID string, typ models.EventType, payload any) (*models.Event, error)
}

// Log fans appended events out to subscribers
type Log struct {
	store        store.Store
	bufferSize   int
	pageLimit    int
	maxPageLimit int

	mu       sync.Mutex
	branches map[string]*branchLog
}

type branchLog struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Option customizes a Log
type Option func(*Log)

// WithBufferSize sets how many undelivered events a subscriber may hold
func WithBufferSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.bufferSize = n
		}
	}
}

// WithPageLimits overrides the default and maximum page sizes of Page
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(l *Log) {
		if maxLimit > 0 {
			l.maxPageLimit = maxLimit
		}
		if defaultLimit > 0 && defaultLimit <= l.maxPageLimit {
			l.pageLimit = defaultLimit
		}
	}
}

func New(st store.Store, opts ...Option) *Log {
	l := &Log{
		store:        st,
		bufferSize:   DefaultBufferSize,
		pageLimit:    DefaultPageLimit,
		maxPageLimit: MaxPageLimit,
		branches:     make(map[string]*branchLog),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) branch(branchID string) *branchLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.branches[branchID]
	if !ok {
		b = &branchLog{subs: make(map[*Subscription]struct{})}
		l.branches[branchID] = b
	}
	return b
}

// Append persists an event with the next sequence number and delivers it to
// live subscribers of the branch.
func (l *Log) Append(ctx context.Context, branchID string, typ models.EventType, payload any) (*models.Event, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}

	ev := &models.Event{
		ID:       uuid.NewString(),
		BranchID: branchID,
		Type:     typ,
		Payload:  raw,
	}

	b := l.branch(branchID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := l.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}

	for sub := range b.subs {
		if !offer(sub.ch, ev) {
			log.Warn().
				Str("branch_id", branchID).
				Int64("sequence", ev.Sequence).
				Msg("Dropping lagged event subscriber")
			delete(b.subs, sub)
			sub.finish(ErrSubscriberLagged)
		}
	}

	return ev, nil
}

// Subscription is a live view of one branch's log
type Subscription struct {
	// Backlog holds persisted events with sequence greater than the
	// subscription cursor, read atomically with registration.
	Backlog []*models.Event

	ch     chan *models.Event
	branch *branchLog
	once   sync.Once
	errMu  sync.Mutex
	err    error
	stop   chan struct{}
}

// C delivers events appended after the backlog. It is closed when the
// subscription ends; Err then reports why.
func (s *Subscription) C() <-chan *models.Event { return s.ch }

// Err returns nil while the subscription is live
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close detaches the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.branch.mu.Lock()
	delete(s.branch.subs, s)
	s.branch.mu.Unlock()
	s.finish(ErrClosed)
}

// finish must be called with the subscriber already removed from its branch
func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.ch)
		close(s.stop)
	})
}

// Subscribe returns every persisted event after the cursor together with a
// channel of subsequent events. Every event with sequence > after is observed
// exactly once across Backlog and C. The subscription ends when ctx is done.
func (l *Log) Subscribe(ctx context.Context, branchID string, after int64) (*Subscription, error) {
	if after < 0 {
		return nil, models.Errorf(models.CodeInvalidArgument, "cursor must be >= 0, got %d", after)
	}

	b := l.branch(branchID)
	b.mu.Lock()
	backlog, err := l.store.ListEvents(ctx, branchID, after, 0)
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	sub := &Subscription{
		Backlog: backlog,
		ch:      make(chan *models.Event, l.bufferSize),
		branch:  b,
		stop:    make(chan struct{}),
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.stop:
		}
	}()

	return sub, nil
}

// Page is one page of a cursor read
type Page struct {
	Events  []*models.Event `json:"events"`
	Next    int64           `json:"next"`
	HasMore bool            `json:"hasMore"`
}

// Page reads persisted events after the cursor. limit <= 0 selects the
// default page size and values above the maximum are clamped.
func (l *Log) Page(ctx context.Context, branchID string, after int64, limit int) (*Page, error) {
	if after < 0 {
		return nil, models.Errorf(models.CodeInvalidArgument, "cursor must be >= 0, got %d", after)
	}
	if limit <= 0 {
		limit = l.pageLimit
	}
	if limit > l.maxPageLimit {
		limit = l.maxPageLimit
	}

	events, err := l.store.ListEvents(ctx, branchID, after, limit+1)
	if err != nil {
		return nil, err
	}

	page := &Page{Events: events, Next: after}
	if len(events) > limit {
		page.Events = events[:limit]
		page.HasMore = true
	}
	if n := len(page.Events); n > 0 {
		page.Next = page.Events[n-1].Sequence
	}
	return page, nil
}

// PageLimits reports the default and maximum page sizes
func (l *Log) PageLimits() (defaultLimit, maxLimit int) { return l.pageLimit, l.maxPageLimit }

// LastSequence returns the highest sequence appended to the branch, or 0
func (l *Log) LastSequence(ctx context.Context, branchID string) (int64, error) {
	return l.store.LastSequence(ctx, branchID)
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage(`{}`), nil
		}
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
