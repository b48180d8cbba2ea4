package control

import (
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/gpufence/internal/syncfw"
)

// SWStore holds the software timelines clients create to produce fences
// from outside the engine.
type SWStore struct {
	mu        sync.Mutex
	timelines map[uuid.UUID]*syncfw.SWTimeline
}

func NewSWStore() *SWStore {
	return &SWStore{
		timelines: make(map[uuid.UUID]*syncfw.SWTimeline),
	}
}

func (s *SWStore) Create(name string) (uuid.UUID, *syncfw.SWTimeline) {
	id := uuid.New()
	tl := syncfw.NewSWTimeline(name)
	s.mu.Lock()
	s.timelines[id] = tl
	s.mu.Unlock()
	return id, tl
}

func (s *SWStore) Get(id uuid.UUID) (*syncfw.SWTimeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tl, ok := s.timelines[id]
	return tl, ok
}

// Delete removes and destroys the timeline behind id.
func (s *SWStore) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	tl, ok := s.timelines[id]
	delete(s.timelines, id)
	s.mu.Unlock()
	if ok {
		tl.Destroy()
	}
	return ok
}

// Close destroys every remaining timeline.
func (s *SWStore) Close() {
	s.mu.Lock()
	tls := s.timelines
	s.timelines = make(map[uuid.UUID]*syncfw.SWTimeline)
	s.mu.Unlock()
	for _, tl := range tls {
		tl.Destroy()
	}
}
