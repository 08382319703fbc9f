package lsm_tree

import (
	"DKV/internal/domain"
	"math/rand"
	"sync"
	"time"
)

const (
	defaultMaxLevel = 12
	defaultP        = 0.5
)

// SkipList is an ordered byte-key map guarded by its own RWMutex, so callers
// need no external locking.
type SkipList struct {
	mu       sync.RWMutex
	maxLevel int
	p        float64
	level    int
	rand     *rand.Rand
	len      int
	head     *Element
}

type Element struct {
	key   []byte
	value []byte
	next  []*Element
}

func NewSkipList(maxLevel int, p float64) *SkipList {
	return &SkipList{
		maxLevel: maxLevel,
		p:        p,
		level:    1,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		head: &Element{
			next: make([]*Element, maxLevel),
		},
	}
}

// Len is the number of keys.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

// findPredecessors fills update with the rightmost element before key at each level.
func (s *SkipList) findPredecessors(key []byte, update []*Element) *Element {
	curr := s.head
	for i := s.maxLevel - 1; i >= 0; i-- {
		for curr.next[i] != nil && domain.CompareKeys(curr.next[i].key, key) < 0 {
			curr = curr.next[i]
		}
		if update != nil {
			update[i] = curr
		}
	}
	return curr.next[0]
}

// Set stores value under key and returns the value it replaced, if any.
func (s *SkipList) Set(key, value []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*Element, s.maxLevel)
	if e := s.findPredecessors(key, update); e != nil && domain.CompareKeys(e.key, key) == 0 {
		old := e.value
		e.value = value
		return old, true
	}

	level := s.randomLevel()
	if level > s.level {
		for i := s.level; i < level; i++ {
			update[i] = s.head
		}
		s.level = level
	}

	e := &Element{
		key:   key,
		value: value,
		next:  make([]*Element, level),
	}
	for i := range level {
		e.next[i] = update[i].next[i]
		update[i].next[i] = e
	}
	s.len++
	return nil, false
}

func (s *SkipList) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e := s.findPredecessors(key, nil); e != nil && domain.CompareKeys(e.key, key) == 0 {
		return e.value, true
	}
	return nil, false
}

// Remove unlinks key and returns its value.
func (s *SkipList) Remove(key []byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update := make([]*Element, s.maxLevel)
	e := s.findPredecessors(key, update)
	if e == nil || domain.CompareKeys(e.key, key) != 0 {
		return nil, false
	}
	for i := range e.next {
		if update[i].next[i] == e {
			update[i].next[i] = e.next[i]
		}
	}
	for s.level > 1 && s.head.next[s.level-1] == nil {
		s.level--
	}
	s.len--
	return e.value, true
}

// Each calls fn for every entry in ascending key order and stops at the
// first error. Writers are blocked while it runs.
func (s *SkipList) Each(fn func(key, value []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for curr := s.head.next[0]; curr != nil; curr = curr.next[0] {
		if err := fn(curr.key, curr.value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SkipList) randomLevel() int {
	level := 1
	for s.rand.Float64() < s.p && level < s.maxLevel {
		level++
	}
	return level
}
