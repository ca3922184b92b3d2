// store.go implements the sharded in-memory key space. Each key holds a
// live *loglogbeta.Sketch; since a Sketch carries no locking of its own
// (external synchronization is part of its contract), the shard mutexes
// here are what make concurrent client access safe.
//
// Sharding Strategy
// =================
//
// Keys are distributed over 256 independent shards by FNV-1a hash, each
// shard with its own RWMutex. Two concurrent writes to different keys
// typically land on different shards and proceed in parallel, while 256
// shards remain cheap to iterate when the snapshotter walks the key space.
//
// Handlers never receive a raw sketch pointer. All access goes through
// View (shared lock, read-only callback) or Mutate (exclusive lock,
// read-modify-write callback), which keeps every sketch operation inside
// the right critical section.

package main

import (
	"hash/fnv"
	"sync"

	"llb.lopezb.com/internal/pds/loglogbeta"
)

// shardCount of 256 keeps contention negligible at typical workloads
// while the snapshot walk stays fast.
const shardCount = 256

// Shard is a single slice of the key space with its own lock. Locking one
// shard never blocks the other 255.
type Shard struct {
	mu   sync.RWMutex
	data map[string]*loglogbeta.Sketch
}

// Store routes keys to shards.
type Store struct {
	shards [shardCount]*Shard
}

func NewStore() *Store {
	s := &Store{}
	for i := 0; i < shardCount; i++ {
		s.shards[i] = &Shard{
			data: make(map[string]*loglogbeta.Sketch),
		}
	}
	return s
}

func (s *Store) getShard(key string) *Shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// View executes a read-only callback under the shard's read lock. The
// callback receives nil if the key does not exist. The sketch must not be
// mutated and must not escape the callback.
func (s *Store) View(key string, fn func(sk *loglogbeta.Sketch) error) error {
	shard := s.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()

	return fn(shard.data[key])
}

// Mutate atomically reads, modifies, and updates a key under the shard's
// write lock. The callback receives the current sketch (nil if absent) and
// returns the sketch to store plus whether to store it. Returning false
// leaves the map untouched, which lets handlers abort on type or precision
// errors without a partial write.
func (s *Store) Mutate(key string, fn func(sk *loglogbeta.Sketch) (*loglogbeta.Sketch, bool)) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	next, changed := fn(shard.data[key])
	if changed {
		shard.data[key] = next
	}
}

// Set stores a sketch unconditionally. Used by the snapshot loader, which
// runs before any client connection exists.
func (s *Store) Set(key string, sk *loglogbeta.Sketch) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	shard.data[key] = sk
}

// Delete removes a key. Reports whether it existed.
func (s *Store) Delete(key string) bool {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	_, ok := shard.data[key]
	if ok {
		delete(shard.data, key)
	}
	return ok
}

// Len returns the total number of keys across all shards.
func (s *Store) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.data)
		shard.mu.RUnlock()
	}
	return total
}
