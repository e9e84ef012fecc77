package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 5 * time.Minute
)

type entry struct {
	key      string
	value    any
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) live(now time.Time) bool {
	return now.Sub(e.storedAt) <= e.ttl
}

type Options struct {
	Name         string
	Capacity     int
	DefaultTTL   time.Duration
	// SingleFlight makes concurrent misses for one key share a single
	// producer call. The shared call runs detached from the callers'
	// cancellation.
	SingleFlight bool
	RedactKeys   bool
	Now          func() time.Time
	Registerer   prometheus.Registerer
}

// Store is a bounded in-memory TTL cache. Entries expire lazily on Read and
// are evicted in insertion order once Capacity is reached; reads never
// change the eviction order.
type Store struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	capacity   int
	defaultTTL time.Duration
	redact     bool
	now        func() time.Time
	metrics    *metrics

	singleFlight bool
	group        singleflight.Group
}

func New(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Store{
		entries:      make(map[string]*list.Element),
		order:        list.New(),
		capacity:     opts.Capacity,
		defaultTTL:   opts.DefaultTTL,
		redact:       opts.RedactKeys,
		now:          opts.Now,
		metrics:      newMetrics(opts.Name, opts.Registerer),
		singleFlight: opts.SingleFlight,
	}
}

func (s *Store) Read(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		s.metrics.misses.Inc()
		return nil, false
	}
	e := elem.Value.(*entry)
	if !e.live(s.now()) {
		s.removeElement(elem)
		s.metrics.expirations.Inc()
		s.metrics.misses.Inc()
		return nil, false
	}
	s.metrics.hits.Inc()
	return e.value, true
}

// Write stores value under key. A ttl <= 0 uses the store default.
// Overwriting keeps the key's original insertion position.
func (s *Store) Write(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if elem, ok := s.entries[key]; ok {
		e := elem.Value.(*entry)
		e.value = value
		e.storedAt = now
		e.ttl = ttl
		return
	}

	if s.order.Len() >= s.capacity {
		if oldest := s.order.Front(); oldest != nil {
			s.removeElement(oldest)
			s.metrics.evictions.Inc()
		}
	}

	elem := s.order.PushBack(&entry{key: key, value: value, storedAt: now, ttl: ttl})
	s.entries[key] = elem
	s.metrics.entries.Set(float64(s.order.Len()))
}

func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.entries[key]
	if !ok {
		return false
	}
	s.removeElement(elem)
	return true
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.metrics.entries.Set(0)
}

type Stats struct {
	Size     int      `json:"size"`
	Capacity int      `json:"capacity"`
	Keys     []string `json:"keys"`
}

// Stats returns a snapshot of the store. Expired entries are reported as-is;
// only Read purges them.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, s.order.Len())
	for elem := s.order.Front(); elem != nil; elem = elem.Next() {
		key := elem.Value.(*entry).key
		if s.redact {
			key = redactKey(key)
		}
		keys = append(keys, key)
	}
	s.metrics.entries.Set(float64(len(keys)))
	return Stats{Size: len(keys), Capacity: s.capacity, Keys: keys}
}

// removeElement must be called with s.mu held.
func (s *Store) removeElement(elem *list.Element) {
	s.order.Remove(elem)
	delete(s.entries, elem.Value.(*entry).key)
	s.metrics.entries.Set(float64(s.order.Len()))
}

func redactKey(key string) string {
	prefix, _, found := strings.Cut(key, ":")
	if !found {
		return "#" + Hash(key)
	}
	return prefix + ":#" + Hash(key)
}
