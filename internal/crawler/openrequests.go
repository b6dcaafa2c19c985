package crawler

import (
	"errors"
	"sync"

	"github.com/JakeFAU/headless-fetch/internal/browser"
)

// ErrRequestNotOpen is returned when removing a request that is not in the set.
var ErrRequestNotOpen = errors.New("request not in open request set")

// OpenRequestSet tracks requests whose navigation completed and whose fetch
// cycle has not been cleaned up yet. Its size feeds admission control.
type OpenRequestSet struct {
	mu       sync.Mutex
	requests map[*browser.Request]struct{}
	observer func(int)
}

// NewOpenRequestSet creates an empty set. observer, when non-nil, is called
// with the new size after every change. It runs under the set's lock and must
// not call back into the set.
func NewOpenRequestSet(observer func(int)) *OpenRequestSet {
	return &OpenRequestSet{
		requests: make(map[*browser.Request]struct{}),
		observer: observer,
	}
}

// Add inserts req.
func (s *OpenRequestSet) Add(req *browser.Request) {
	if req == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req] = struct{}{}
	s.notify()
}

// Remove deletes req, returning ErrRequestNotOpen if it was not present.
func (s *OpenRequestSet) Remove(req *browser.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req]; !ok {
		return ErrRequestNotOpen
	}
	delete(s.requests, req)
	s.notify()
	return nil
}

// Contains reports whether req is open.
func (s *OpenRequestSet) Contains(req *browser.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.requests[req]
	return ok
}

// Len returns the number of open requests.
func (s *OpenRequestSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// notify must be called with mu held so observers see sizes in order.
func (s *OpenRequestSet) notify() {
	if s.observer != nil {
		s.observer(len(s.requests))
	}
}
