// ABOUTME: Capacity-bounded, most-recent-first record stores persisted through a KV collaborator
// ABOUTME: Evicted or deleted records cascade-delete their image blobs

package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/live-companion/internal/store"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("record not found")

const (
	// DefaultCapacity bounds both the conversation and movie collections
	DefaultCapacity = 100

	conversationsKey = "savedConversations"
	movieRecordsKey  = "walkIntoMovieRecords"
)

// BlobDeleter removes the files backing a set of attachments
type BlobDeleter interface {
	Delete(attachments []Attachment)
}

// bounded is the shared read-modify-write engine behind Store and MovieStore.
// The whole collection is re-serialized on every mutation.
type bounded[T any] struct {
	mu       sync.Mutex
	kv       store.KV
	key      string
	capacity int
	blobs    BlobDeleter
	idOf     func(T) string
	attsOf   func(T) []Attachment
	logger   *slog.Logger
}

func (b *bounded[T]) load(ctx context.Context) []T {
	data, err := b.kv.Get(ctx, b.key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("reading collection failed", "key", b.key, "error", err)
		}
		return nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		b.logger.Warn("decoding collection failed, treating as empty", "key", b.key, "error", err)
		return nil
	}
	return items
}

func (b *bounded[T]) write(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding collection: %w", err)
	}
	if err := b.kv.Set(ctx, b.key, data); err != nil {
		return fmt.Errorf("writing collection: %w", err)
	}
	return nil
}

func (b *bounded[T]) cascade(items []T) {
	var atts []Attachment
	for _, it := range items {
		atts = append(atts, b.attsOf(it)...)
	}
	if len(atts) > 0 && b.blobs != nil {
		b.blobs.Delete(atts)
	}
}

func (b *bounded[T]) save(ctx context.Context, item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := append([]T{item}, b.load(ctx)...)

	var evicted []T
	if len(items) > b.capacity {
		evicted = items[b.capacity:]
		items = items[:b.capacity]
	}

	if err := b.write(ctx, items); err != nil {
		return err
	}
	b.cascade(evicted)

	b.logger.Info("record saved", "key", b.key, "id", b.idOf(item), "total", len(items), "evicted", len(evicted))
	return nil
}

func (b *bounded[T]) loadAll(ctx context.Context) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load(ctx)
}

func (b *bounded[T]) loadPage(ctx context.Context, limit, offset int) []T {
	all := b.loadAll(ctx)
	if offset < 0 || offset >= len(all) || limit <= 0 {
		return nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end]
}

func (b *bounded[T]) get(ctx context.Context, id string) (T, error) {
	for _, it := range b.loadAll(ctx) {
		if b.idOf(it) == id {
			return it, nil
		}
	}
	var zero T
	return zero, ErrNotFound
}

func (b *bounded[T]) delete(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.load(ctx)
	kept := items[:0:0]
	var removed []T
	for _, it := range items {
		if b.idOf(it) == id {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	if len(removed) == 0 {
		return ErrNotFound
	}

	if err := b.write(ctx, kept); err != nil {
		return err
	}
	b.cascade(removed)
	b.logger.Info("record deleted", "key", b.key, "id", id)
	return nil
}

func (b *bounded[T]) deleteAll(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cascade(b.load(ctx))
	if err := b.kv.Delete(ctx, b.key); err != nil {
		return fmt.Errorf("clearing collection: %w", err)
	}
	b.logger.Info("collection cleared", "key", b.key)
	return nil
}

// Store persists conversation records
type Store struct {
	b *bounded[Record]
}

// NewStore creates a conversation store with DefaultCapacity
func NewStore(kv store.KV, blobs BlobDeleter, logger *slog.Logger) *Store {
	return NewStoreWithCapacity(kv, blobs, DefaultCapacity, logger)
}

// NewStoreWithCapacity creates a conversation store holding at most capacity records
func NewStoreWithCapacity(kv store.KV, blobs BlobDeleter, capacity int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{b: &bounded[Record]{
		kv:       kv,
		key:      conversationsKey,
		capacity: max(1, capacity),
		blobs:    blobs,
		idOf:     func(r Record) string { return r.ID },
		attsOf:   Record.Attachments,
		logger:   logger.With("component", "conversation_store"),
	}}
}

// Save prepends record, evicting the oldest records beyond capacity
func (s *Store) Save(ctx context.Context, record Record) error {
	return s.b.save(ctx, record)
}

// LoadAll returns every record, most recent first. A corrupt collection reads as empty.
func (s *Store) LoadAll(ctx context.Context) []Record {
	return s.b.loadAll(ctx)
}

// LoadPage returns up to limit records starting at offset
func (s *Store) LoadPage(ctx context.Context, limit, offset int) []Record {
	return s.b.loadPage(ctx, limit, offset)
}

// Get returns the record with id
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	return s.b.get(ctx, id)
}

// Delete removes the record with id and its image blobs
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.b.delete(ctx, id)
}

// DeleteAll removes every record and their image blobs
func (s *Store) DeleteAll(ctx context.Context) error {
	return s.b.deleteAll(ctx)
}

// MovieStore persists single-shot movie records
type MovieStore struct {
	b *bounded[MovieRecord]
}

// NewMovieStore creates a movie store with DefaultCapacity
func NewMovieStore(kv store.KV, blobs BlobDeleter, logger *slog.Logger) *MovieStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MovieStore{b: &bounded[MovieRecord]{
		kv:       kv,
		key:      movieRecordsKey,
		capacity: DefaultCapacity,
		blobs:    blobs,
		idOf:     func(r MovieRecord) string { return r.ID },
		attsOf:   MovieRecord.Attachments,
		logger:   logger.With("component", "movie_store"),
	}}
}

// Save prepends record, evicting the oldest records beyond capacity
func (s *MovieStore) Save(ctx context.Context, record MovieRecord) error {
	return s.b.save(ctx, record)
}

// LoadAll returns every record, most recent first
func (s *MovieStore) LoadAll(ctx context.Context) []MovieRecord {
	return s.b.loadAll(ctx)
}

// Get returns the record with id
func (s *MovieStore) Get(ctx context.Context, id string) (MovieRecord, error) {
	return s.b.get(ctx, id)
}

// Delete removes the record with id and its image
func (s *MovieStore) Delete(ctx context.Context, id string) error {
	return s.b.delete(ctx, id)
}

// DeleteAll removes every record and their images
func (s *MovieStore) DeleteAll(ctx context.Context) error {
	return s.b.deleteAll(ctx)
}
