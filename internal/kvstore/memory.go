package kvstore

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory.
// A single RWMutex serializes writers, which gives every primitive per-key atomicity.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	counters map[string]int64
	hashes   map[string]map[string]string
	sets     map[string]map[string]struct{}
	lists    map[string][]string // head at index 0
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]int64),
		hashes:   make(map[string]map[string]string),
		sets:     make(map[string]map[string]struct{}),
		lists:    make(map[string][]string),
	}
}

// checkType fails when key is already bound to a different kind than want.
// Caller must hold mu.
func (m *MemoryStore) checkType(key, want string) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.counters[key]; ok && want != "counter" {
		return ErrWrongType
	}
	if _, ok := m.hashes[key]; ok && want != "hash" {
		return ErrWrongType
	}
	if _, ok := m.sets[key]; ok && want != "set" {
		return ErrWrongType
	}
	if _, ok := m.lists[key]; ok && want != "list" {
		return ErrWrongType
	}
	return nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "counter"); err != nil {
		return 0, err
	}
	m.counters[key]++
	return m.counters[key], nil
}

func (m *MemoryStore) HGet(ctx context.Context, key, field string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "hash"); err != nil {
		return "", err
	}
	value, ok := m.hashes[key][field]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "hash"); err != nil {
		return nil, err
	}
	result := make(map[string]string, len(m.hashes[key]))
	for field, value := range m.hashes[key] {
		result[field] = value
	}
	return result, nil
}

func (m *MemoryStore) HSet(ctx context.Context, key string, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "hash"); err != nil {
		return err
	}
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string, len(values))
		m.hashes[key] = hash
	}
	for field, value := range values {
		hash[field] = value
	}
	return nil
}

func (m *MemoryStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "hash"); err != nil {
		return false, err
	}
	hash, ok := m.hashes[key]
	if !ok {
		hash = make(map[string]string)
		m.hashes[key] = hash
	}
	if _, exists := hash[field]; exists {
		return false, nil
	}
	hash[field] = value
	return true, nil
}

func (m *MemoryStore) HKeys(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "hash"); err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(m.hashes[key]))
	for field := range m.hashes[key] {
		fields = append(fields, field)
	}
	return fields, nil
}

func (m *MemoryStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "set"); err != nil {
		return 0, err
	}
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		m.sets[key] = set
	}
	var added int64
	for _, member := range members {
		if _, exists := set[member]; exists {
			continue
		}
		set[member] = struct{}{}
		added++
	}
	return added, nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "set"); err != nil {
		return nil, err
	}
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	return members, nil
}

func (m *MemoryStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "set"); err != nil {
		return false, err
	}
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *MemoryStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "list"); err != nil {
		return 0, err
	}
	list := m.lists[key]
	prefix := make([]string, len(values))
	for i, value := range values {
		prefix[len(values)-1-i] = value
	}
	m.lists[key] = append(prefix, list...)
	return int64(len(m.lists[key])), nil
}

func (m *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkType(key, "list"); err != nil {
		return nil, err
	}
	list := m.lists[key]
	from, to, ok := NormalizeRange(start, stop, int64(len(list)))
	if !ok {
		return []string{}, nil
	}
	result := make([]string, to-from)
	copy(result, list[from:to])
	return result, nil
}

func (m *MemoryStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkType(key, "list"); err != nil {
		return err
	}
	list, exists := m.lists[key]
	if !exists {
		return nil
	}
	from, to, ok := NormalizeRange(start, stop, int64(len(list)))
	if !ok {
		delete(m.lists, key)
		return nil
	}
	kept := make([]string, to-from)
	copy(kept, list[from:to])
	m.lists[key] = kept
	return nil
}

func (m *MemoryStore) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, key := range keys {
		delete(m.counters, key)
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.lists, key)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Counter exposes the current value of a counter without incrementing it.
func (m *MemoryStore) Counter(key string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[key]
}
