package history

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	MaxItems      = 10
	DefaultRecent = 5
	DefaultSlot   = "futuricity_search_history"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Item struct {
	ID          string
	Query       string
	Address     string
	Coordinates Coordinates
	CreatedAt   time.Time
}

// itemJSON is the persisted layout. Field names are shared with clients
// that already hold history, so they must not change.
type itemJSON struct {
	ID          string      `json:"id"`
	Query       string      `json:"query"`
	Address     string      `json:"address"`
	Coordinates Coordinates `json:"coordinates"`
	Timestamp   int64       `json:"timestamp"`
}

func (it Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(itemJSON{
		ID:          it.ID,
		Query:       it.Query,
		Address:     it.Address,
		Coordinates: it.Coordinates,
		Timestamp:   it.CreatedAt.UnixMilli(),
	})
}

func (it *Item) UnmarshalJSON(data []byte) error {
	var raw itemJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = Item{
		ID:          raw.ID,
		Query:       raw.Query,
		Address:     raw.Address,
		Coordinates: raw.Coordinates,
		CreatedAt:   time.UnixMilli(raw.Timestamp),
	}
	return nil
}

// Slot is a single named durable value holding the encoded history.
// Load returns nil, nil when nothing has been saved.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Clear(ctx context.Context) error
}

// Store keeps the most recent location selections. The slot is the source
// of truth and is re-read on every call. Storage failures are logged and
// never returned: history is a convenience, a broken slot reads as empty.
type Store struct {
	mu    sync.Mutex
	slot  Slot
	now   func() time.Time
	newID func(time.Time) string
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDGenerator(gen func(time.Time) string) Option {
	return func(s *Store) { s.newID = gen }
}

func New(slot Slot, opts ...Option) *Store {
	s := &Store{slot: slot, now: time.Now, newID: generateID}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns all items, most recent first.
func (s *Store) List(ctx context.Context) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Recent returns at most n items, most recent first. n <= 0 means
// DefaultRecent.
func (s *Store) Recent(ctx context.Context, n int) []Item {
	if n <= 0 {
		n = DefaultRecent
	}
	items := s.List(ctx)
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// Record adds a selection. An existing item at exactly the same coordinates
// is replaced. The returned list reflects the change even when persisting
// it failed.
func (s *Store) Record(ctx context.Context, query, address string, coords Coordinates) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := slices.DeleteFunc(s.load(ctx), func(it Item) bool {
		return it.Coordinates == coords
	})

	// Millisecond precision, as persisted.
	now := time.UnixMilli(s.now().UnixMilli())
	item := Item{
		ID:          s.newID(now),
		Query:       query,
		Address:     address,
		Coordinates: coords,
		CreatedAt:   now,
	}
	items = append([]Item{item}, items...)
	if len(items) > MaxItems {
		items = items[:MaxItems]
	}

	s.save(ctx, items)
	return items
}

// Forget removes the item with the given id. Unknown ids are ignored.
func (s *Store) Forget(ctx context.Context, id string) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := slices.DeleteFunc(s.load(ctx), func(it Item) bool {
		return it.ID == id
	})
	s.save(ctx, items)
	return items
}

func (s *Store) ForgetAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.slot.Clear(ctx); err != nil {
		slog.Error("failed to clear search history", "err", err)
	}
}

func (s *Store) Contains(ctx context.Context, coords Coordinates) bool {
	return slices.ContainsFunc(s.List(ctx), func(it Item) bool {
		return it.Coordinates == coords
	})
}

func (s *Store) load(ctx context.Context) []Item {
	data, err := s.slot.Load(ctx)
	if err != nil {
		slog.Warn("failed to load search history", "err", err)
		return []Item{}
	}
	if len(data) == 0 {
		return []Item{}
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		slog.Warn("discarding unreadable search history", "err", err)
		return []Item{}
	}
	if items == nil {
		items = []Item{}
	}
	slices.SortStableFunc(items, func(a, b Item) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return items
}

func (s *Store) save(ctx context.Context, items []Item) {
	data, err := json.Marshal(items)
	if err != nil {
		slog.Error("failed to encode search history", "err", err)
		return
	}
	if err := s.slot.Save(ctx, data); err != nil {
		slog.Error("failed to save search history", "err", err)
	}
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func generateID(now time.Time) string {
	var b strings.Builder
	b.WriteString("search_")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('_')
	for range 9 {
		b.WriteByte(idAlphabet[rand.IntN(len(idAlphabet))])
	}
	return b.String()
}

// MemorySlot keeps the encoded history in process memory.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemorySlot) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.data), nil
}

func (m *MemorySlot) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = slices.Clone(data)
	return nil
}

func (m *MemorySlot) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
