// Package memory provides an in-process work queue for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/headless-fetch/internal/crawler"
)

// Store keeps queue items in memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nextID  int64
	items   map[int64]crawler.QueueItem
	claimed map[int64]bool
	// pending holds queued, unclaimed ids in insertion order.
	pending []int64
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		items:   make(map[int64]crawler.QueueItem),
		claimed: make(map[int64]bool),
	}
}

// Add enqueues rawURL with status queued.
func (s *Store) Add(ctx context.Context, rawURL string) (crawler.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("add: %w", err)
	}
	normalized, host, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.QueueItem{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	item := crawler.QueueItem{
		ID:     s.nextID,
		URL:    normalized,
		Host:   host,
		Status: crawler.StatusQueued,
	}
	s.items[item.ID] = item
	s.pending = append(s.pending, item.ID)
	return item, nil
}

// Get returns the item with id.
func (s *Store) Get(_ context.Context, id int64) (crawler.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return crawler.QueueItem{}, fmt.Errorf("get %d: %w", id, crawler.ErrItemNotFound)
	}
	return item, nil
}

// Update applies update to the item with id and returns the result.
func (s *Store) Update(ctx context.Context, id int64, update crawler.Update) (crawler.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("update %d: %w", id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return crawler.QueueItem{}, fmt.Errorf("update %d: %w", id, crawler.ErrItemNotFound)
	}
	item = update.Apply(item)
	s.items[id] = item
	return item, nil
}

// Claim hands out the oldest queued item not claimed before.
func (s *Store) Claim(ctx context.Context) (crawler.QueueItem, error) {
	if err := ctx.Err(); err != nil {
		return crawler.QueueItem{}, fmt.Errorf("claim: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		item := s.items[id]
		if s.claimed[id] || item.Status != crawler.StatusQueued {
			continue
		}
		s.claimed[id] = true
		return item, nil
	}
	return crawler.QueueItem{}, crawler.ErrQueueEmpty
}

// Counts returns the number of items per status.
func (s *Store) Counts(context.Context) (map[crawler.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[crawler.Status]int)
	for _, item := range s.items {
		out[item.Status]++
	}
	return out, nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns a snapshot of all items ordered by id.
func (s *Store) Items() []crawler.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]crawler.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
