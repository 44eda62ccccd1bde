package webmentions_test

import (
	"sync"

	webmentions "github.com/wmkit/webmentions"
)

// fakeStorage records mentions in memory and can be told to fail, so tests
// can drive the processors through storage error paths.
type fakeStorage struct {
	mu       sync.Mutex
	mentions map[webmentions.Key]*webmentions.Mention
	order    []webmentions.Key

	storeErr    error
	deleteErr   error
	retrieveErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{mentions: map[webmentions.Key]*webmentions.Mention{}}
}

func (s *fakeStorage) Store(m *webmentions.Mention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.storeErr != nil {
		return s.storeErr
	}
	key := m.Key()
	if _, ok := s.mentions[key]; !ok {
		s.order = append(s.order, key)
	}
	copied := *m
	s.mentions[key] = &copied
	return nil
}

func (s *fakeStorage) Delete(source, target string, direction webmentions.Direction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	key := webmentions.Key{Source: source, Target: target, Direction: direction}
	if _, ok := s.mentions[key]; ok {
		delete(s.mentions, key)
		for i, k := range s.order {
			if k == key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *fakeStorage) Retrieve(resource string, direction webmentions.Direction) ([]*webmentions.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retrieveErr != nil {
		return nil, s.retrieveErr
	}
	var mentions []*webmentions.Mention
	for _, key := range s.order {
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
		copied := *s.mentions[key]
		mentions = append(mentions, &copied)
	}
	return mentions, nil
}

func (s *fakeStorage) get(key webmentions.Key) (*webmentions.Mention, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mentions[key]
	if !ok {
		return nil, false
	}
	copied := *m
	return &copied, true
}

func (s *fakeStorage) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mentions)
}

// recordingNotifier collects notifier invocations for assertions.
type recordingNotifier struct {
	mu        sync.Mutex
	processed []*webmentions.Mention
	deleted   []*webmentions.Mention
}

func (n *recordingNotifier) MentionProcessed(m *webmentions.Mention) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, m)
}

func (n *recordingNotifier) MentionDeleted(m *webmentions.Mention) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, m)
}

func (n *recordingNotifier) processedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.processed)
}

func (n *recordingNotifier) deletedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deleted)
}
