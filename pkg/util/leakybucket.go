package util

import (
	"sync"
	"time"
)

type LeakyBucket struct {
	capacity     int
	leakInterval time.Duration
	tokens       int
	lastLeakTime time.Time
	now          func() time.Time
	mu           sync.Mutex
}

// Creates a new rate limiter using the leaky bucket algorithm. The bucket
// admits up to capacity requests and drains one slot every window/capacity.
func NewLeakyBucket(capacity int, window time.Duration) *LeakyBucket {
	return newLeakyBucket(capacity, window, time.Now)
}

func newLeakyBucket(capacity int, window time.Duration, now func() time.Time) *LeakyBucket {
	if capacity < 1 {
		capacity = 1
	}
	leakInterval := window / time.Duration(capacity)
	if leakInterval <= 0 {
		leakInterval = time.Nanosecond
	}
	return &LeakyBucket{
		capacity:     capacity,
		leakInterval: leakInterval,
		lastLeakTime: now(),
		now:          now,
	}
}

func (b *LeakyBucket) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.leak()

	if b.tokens < b.capacity {
		b.tokens++
		return true
	}

	return false
}

// Returns true once the bucket has fully drained
func (b *LeakyBucket) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leak()
	return b.tokens == 0
}

func (b *LeakyBucket) leak() {
	now := b.now()
	elapsed := now.Sub(b.lastLeakTime)
	leakedTokens := int(elapsed / b.leakInterval)
	if leakedTokens > 0 {
		b.tokens -= leakedTokens
		if b.tokens < 0 {
			b.tokens = 0
		}
		b.lastLeakTime = b.lastLeakTime.Add(time.Duration(leakedTokens) * b.leakInterval)
	}
}

// KeyedLeakyBucket maintains one LeakyBucket per key, typically a client
// address. Drained buckets are pruned on access.
type KeyedLeakyBucket struct {
	capacity int
	window   time.Duration
	now      func() time.Time
	buckets  map[string]*LeakyBucket
	mu       sync.Mutex
}

func NewKeyedLeakyBucket(capacity int, window time.Duration) *KeyedLeakyBucket {
	return &KeyedLeakyBucket{
		capacity: capacity,
		window:   window,
		now:      time.Now,
		buckets:  make(map[string]*LeakyBucket),
	}
}

func (k *KeyedLeakyBucket) AllowRequest(key string) bool {
	k.mu.Lock()
	bucket, ok := k.buckets[key]
	if !ok {
		bucket = newLeakyBucket(k.capacity, k.window, k.now)
		k.buckets[key] = bucket
	}
	if len(k.buckets) > 1024 {
		for id, b := range k.buckets {
			if id != key && b.Empty() {
				delete(k.buckets, id)
			}
		}
	}
	k.mu.Unlock()
	return bucket.AllowRequest()
}
