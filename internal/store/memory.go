package store

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// MemoryDocumentStore is an in-process DocumentStore with subscription support.
type MemoryDocumentStore struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]subscription
	nextID int
}

type subscription struct {
	path string
	fn   func(value any, exists bool)
}

type notification struct {
	fn     func(value any, exists bool)
	value  any
	exists bool
}

// NewMemoryDocumentStore returns an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		root: map[string]any{},
		subs: map[int]subscription{},
	}
}

func (s *MemoryDocumentStore) Get(ctx context.Context, path string) (any, bool, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.lookup(segments)
	if !ok {
		return nil, false, nil
	}
	copied, err := normalize(value)
	if err != nil {
		return nil, false, err
	}
	return copied, true, nil
}

func (s *MemoryDocumentStore) Set(ctx context.Context, path string, value any) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	normalized, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.write(segments, normalized)
	pending := s.collect(segments)
	s.mu.Unlock()

	dispatch(pending)
	return nil
}

func (s *MemoryDocumentStore) Update(ctx context.Context, path string, values map[string]any) error {
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}
	type child struct {
		segments []string
		value    any
	}
	children := make([]child, 0, len(values))
	for key, value := range values {
		keySegments, err := SplitPath(key)
		if err != nil {
			return err
		}
		normalized, err := normalize(value)
		if err != nil {
			return err
		}
		full := append(append([]string{}, segments...), keySegments...)
		children = append(children, child{segments: full, value: normalized})
	}

	s.mu.Lock()
	for _, c := range children {
		s.write(c.segments, c.value)
	}
	pending := s.collect(segments)
	s.mu.Unlock()

	dispatch(pending)
	return nil
}

func (s *MemoryDocumentStore) Transaction(ctx context.Context, path string, fn func(current any, exists bool) (any, error)) (any, error) {
	segments, err := SplitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	current, exists := s.lookup(segments)
	if exists {
		if current, err = normalize(current); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	next, err := fn(current, exists)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	normalized, err := normalize(next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.write(segments, normalized)
	pending := s.collect(segments)
	s.mu.Unlock()

	dispatch(pending)
	return normalized, nil
}

// Subscribe registers fn for changes at or below path. fn is invoked once
// immediately with the current value.
func (s *MemoryDocumentStore) Subscribe(path string, fn func(value any, exists bool)) func() {
	path = JoinPath(path)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = subscription{path: path, fn: fn}
	segments, _ := SplitPath(path)
	value, exists := s.lookup(segments)
	value, _ = normalize(value)
	s.mu.Unlock()

	fn(value, exists)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *MemoryDocumentStore) lookup(segments []string) (any, bool) {
	var node any = s.root
	for _, segment := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

func (s *MemoryDocumentStore) write(segments []string, value any) {
	parents := make([]map[string]any, 0, len(segments))
	node := s.root
	for _, segment := range segments[:len(segments)-1] {
		parents = append(parents, node)
		next, ok := node[segment].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			next = map[string]any{}
			node[segment] = next
		}
		node = next
	}

	leaf := segments[len(segments)-1]
	if value == nil {
		delete(node, leaf)
	} else {
		node[leaf] = value
	}

	// drop now-empty ancestors
	for i := len(parents) - 1; i >= 0; i-- {
		child := parents[i][segments[i]].(map[string]any)
		if len(child) > 0 {
			break
		}
		delete(parents[i], segments[i])
	}
}

func (s *MemoryDocumentStore) collect(changed []string) []notification {
	changedPath := strings.Join(changed, "/")
	var pending []notification
	for _, sub := range s.subs {
		if !related(sub.path, changedPath) {
			continue
		}
		segments, err := SplitPath(sub.path)
		if err != nil {
			continue
		}
		value, exists := s.lookup(segments)
		value, _ = normalize(value)
		pending = append(pending, notification{fn: sub.fn, value: value, exists: exists})
	}
	return pending
}

func related(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func dispatch(pending []notification) {
	for _, n := range pending {
		n.fn(n.value, n.exists)
	}
}

// normalize converts a value into its JSON shaped equivalent and detaches it from the caller.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encode document value")
	}
	var out any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, errors.Wrap(err, "decode document value")
	}
	return out, nil
}
