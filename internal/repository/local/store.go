package local

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/ident"
	"github.com/and161185/dualstore/internal/model"
)

// DefaultPrefix namespaces every collection key inside a shared medium.
const DefaultPrefix = "dualstore_"

// Store is the local cache store. All mutation goes through one read-modify-write
// cycle under mu, so a single process never interleaves two writers.
type Store struct {
	medium Medium
	prefix string
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for created_at/updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the identity generator.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore builds a store over medium. An empty prefix means DefaultPrefix.
func NewStore(medium Medium, prefix string, opts ...Option) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	s := &Store{medium: medium, prefix: prefix, now: time.Now, newID: ident.NewID}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Store) key(c model.Collection) string { return s.prefix + string(c) }

// Get returns every cached record of c in storage order. A collection that was
// never written yields an empty slice.
func (s *Store) Get(c model.Collection) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(c)
}

// Set replaces the whole collection with one write.
func (s *Store) Set(c model.Collection, recs []model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(c, recs)
}

// Find returns the cached record with the given id.
func (s *Store) Find(c model.Collection, id string) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load(c)
	if err != nil {
		return model.Record{}, err
	}
	if i := indexOf(recs, id); i >= 0 {
		return recs[i], nil
	}
	return model.Record{}, errs.ErrNotFound
}

// Add assigns an id and timestamps where missing, appends rec and persists the collection.
func (s *Store) Add(c model.Collection, rec model.Record) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load(c)
	if err != nil {
		return model.Record{}, err
	}
	rec = rec.Clone()
	if rec.ID == "" {
		rec.ID = s.newID()
	} else if indexOf(recs, rec.ID) >= 0 {
		return model.Record{}, fmt.Errorf("%w: id %q already cached in %s", errs.ErrInvalidArgument, rec.ID, c)
	}
	now := s.stamp()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	if err := s.save(c, append(recs, rec)); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Update merges fields over the payload of record id and refreshes updated_at.
// Common fields inside fields are ignored: id is immutable, timestamps are owned by the store.
func (s *Store) Update(c model.Collection, id string, fields map[string]any) (model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load(c)
	if err != nil {
		return model.Record{}, err
	}
	i := indexOf(recs, id)
	if i < 0 {
		return model.Record{}, errs.ErrNotFound
	}
	rec := recs[i].Clone()
	if rec.Data == nil {
		rec.Data = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		switch k {
		case model.FieldID, model.FieldCreatedAt, model.FieldUpdatedAt:
			continue
		}
		rec.Data[k] = v
	}
	rec.UpdatedAt = s.later(rec.UpdatedAt)
	recs[i] = rec
	if err := s.save(c, recs); err != nil {
		return model.Record{}, err
	}
	return rec, nil
}

// Delete removes record id and reports whether anything was removed.
func (s *Store) Delete(c model.Collection, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.load(c)
	if err != nil {
		return false, err
	}
	i := indexOf(recs, id)
	if i < 0 {
		return false, nil
	}
	recs = append(recs[:i], recs[i+1:]...)
	if err := s.save(c, recs); err != nil {
		return false, err
	}
	return true, nil
}

// Collections lists the collections currently present in the medium under this prefix.
func (s *Store) Collections() ([]model.Collection, error) {
	keys, err := s.medium.Keys(s.prefix)
	if err != nil {
		return nil, errs.Storage("keys", err)
	}
	out := make([]model.Collection, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.Collection(strings.TrimPrefix(k, s.prefix)))
	}
	return out, nil
}

// Clear drops the whole collection.
func (s *Store) Clear(c model.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.medium.Delete(s.key(c)); err != nil {
		return errs.Storage("clear "+string(c), err)
	}
	return nil
}

func (s *Store) load(c model.Collection) ([]model.Record, error) {
	b, ok, err := s.medium.Get(s.key(c))
	if err != nil {
		return nil, errs.Storage("read "+string(c), err)
	}
	if !ok || len(b) == 0 {
		return []model.Record{}, nil
	}
	var recs []model.Record
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, errs.Storage("decode "+string(c), err)
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return recs, nil
}

func (s *Store) save(c model.Collection, recs []model.Record) error {
	if recs == nil {
		recs = []model.Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return errs.Storage("encode "+string(c), err)
	}
	if err := s.medium.Set(s.key(c), b); err != nil {
		return errs.Storage("write "+string(c), err)
	}
	return nil
}

func (s *Store) stamp() time.Time { return s.now().UTC() }

// later returns the current time, nudged forward when the clock has not moved past prev.
func (s *Store) later(prev time.Time) time.Time {
	t := s.stamp()
	if !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

func indexOf(recs []model.Record, id string) int {
	for i := range recs {
		if recs[i].ID == id {
			return i
		}
	}
	return -1
}
