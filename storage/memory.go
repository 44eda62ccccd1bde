package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/wmkit/webmentions"
)

// Memory keeps mentions in a map. Contents are lost on restart; intended
// for tests and throwaway setups.
type Memory struct {
	mu       sync.RWMutex
	mentions map[webmentions.Key]*webmentions.Mention
}

var _ webmentions.Storage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{mentions: map[webmentions.Key]*webmentions.Mention{}}
}

func (s *Memory) Store(m *webmentions.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Normalize()
	now := time.Now().UTC()
	key := webmentions.Key{Source: m.Source, Target: m.Target, Direction: m.Direction}

	stored := *m
	if existing, ok := s.mentions[key]; ok && existing.CreatedAt != nil {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt == nil {
		if stored.Published != nil {
			stored.CreatedAt = stored.Published
		} else {
			stored.CreatedAt = &now
		}
	}
	stored.UpdatedAt = &now
	s.mentions[key] = &stored
	return nil
}

func (s *Memory) Delete(source, target string, direction webmentions.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mentions, webmentions.Key{Source: source, Target: target, Direction: direction})
	return nil
}

func (s *Memory) Retrieve(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var mentions []*webmentions.Mention
	for key, m := range s.mentions {
		if key.Direction != direction {
			continue
		}
		resourceOf := key.Target
		if direction == webmentions.DirectionOut {
			resourceOf = key.Source
		}
		if resourceOf != resource {
			continue
		}
		copied := *m
		mentions = append(mentions, &copied)
	}
	sort.Slice(mentions, func(i, j int) bool {
		a, b := mentions[i], mentions[j]
		if a.CreatedAt != nil && b.CreatedAt != nil && !a.CreatedAt.Equal(*b.CreatedAt) {
			return a.CreatedAt.Before(*b.CreatedAt)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Target < b.Target
	})
	return mentions, nil
}
