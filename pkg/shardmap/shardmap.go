// Package shardmap 提供按 key 分片加锁的并发 map。
// 同一 key 上的读改写严格串行，不同 key 之间只在落入同一分片时短暂竞争分片锁，没有全局锁。
package shardmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultShards = 64

type entry[V any] struct {
	mu    sync.Mutex
	value V
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[V]
}

// Map 分片 map
type Map[V any] struct {
	shards []*shard[V]
}

// New 创建分片 map，n <= 0 时使用默认分片数
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = defaultShards
	}
	m := &Map[V]{shards: make([]*shard[V], n)}
	for i := range m.shards {
		m.shards[i] = &shard[V]{entries: make(map[string]*entry[V])}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *Map[V]) lookup(key string) (*entry[V], bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	return e, ok
}

// Load 读取 key 的当前值
func (m *Map[V]) Load(key string) (V, bool) {
	e, ok := m.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, true
}

// Store 写入或覆盖 key
func (m *Map[V]) Store(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry[V]{}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	e.value = value
	e.mu.Unlock()
}

// Update 在 key 的锁内执行 fn；key 不存在时返回 false 且不调用 fn
func (m *Map[V]) Update(key string, fn func(v *V)) bool {
	e, ok := m.lookup(key)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.value)
	return true
}

// Range 遍历快照，fn 返回 false 时停止
func (m *Map[V]) Range(fn func(key string, v V) bool) {
	for _, s := range m.shards {
		s.mu.RLock()
		keys := make([]string, 0, len(s.entries))
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		for _, k := range keys {
			v, ok := m.Load(k)
			if ok && !fn(k, v) {
				return
			}
		}
	}
}

// Upsert 在 key 的锁内执行 fn，key 不存在时先以零值创建；exists 表示调用前是否已存在
func (m *Map[V]) Upsert(key string, fn func(v *V, exists bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	e, exists := s.entries[key]
	if !exists {
		e = &entry[V]{}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.value, exists)
}
