// Package service validates requests before they reach the repository.
package service

import (
	"context"
	"fmt"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/repository"
)

// Subscriber delivers remote changes; implemented by *realtime.Bridge.
type Subscriber interface {
	Subscribe(ctx context.Context, c model.Collection, filter model.Filter, onChange func(model.ChangeEvent)) (func(), error)
}

// ContentService defines the operations exposed to transports.
type ContentService interface {
	// List returns records of a collection; never fails on backend errors.
	List(ctx context.Context, c model.Collection, q model.Query) ([]model.Record, error)
	// Get returns a single record by id.
	Get(ctx context.Context, c model.Collection, id string) (model.Record, error)
	// Create stores a new record.
	Create(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error)
	// Update merges fields into an existing record.
	Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error)
	// Delete removes a record and reports whether it existed.
	Delete(ctx context.Context, c model.Collection, id string) (bool, error)
	// Watch streams remote changes until the returned cancel is called.
	Watch(ctx context.Context, c model.Collection, filter model.Filter, onChange func(model.ChangeEvent)) (func(), error)
}

type ContentServiceImpl struct {
	repo     repository.ContentRepository
	sub      Subscriber
	maxLimit int
}

// NewContentService constructs ContentService. sub may be nil when realtime is disabled.
func NewContentService(repo repository.ContentRepository, sub Subscriber, maxLimit int) *ContentServiceImpl {
	if maxLimit <= 0 {
		maxLimit = 500
	}
	return &ContentServiceImpl{repo: repo, sub: sub, maxLimit: maxLimit}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("validation: %w: %s", errs.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func checkCollection(c model.Collection) error {
	if !model.Known(c) {
		return invalid("unknown collection %q", string(c))
	}
	return nil
}

func checkFilter(f model.Filter) error {
	for k := range f {
		if !model.ValidField(k) {
			return invalid("bad filter field %q", k)
		}
	}
	return nil
}

// List validates the query and delegates.
// Validation rules:
// - collection is known
// - 0 <= limit <= maxLimit (0 means maxLimit)
// - filter and sort fields are identifiers
func (s *ContentServiceImpl) List(ctx context.Context, c model.Collection, q model.Query) ([]model.Record, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Limit > s.maxLimit {
		return nil, invalid("limit %d out of range 0..%d", q.Limit, s.maxLimit)
	}
	if q.Limit == 0 {
		q.Limit = s.maxLimit
	}
	if err := checkFilter(q.Filter); err != nil {
		return nil, err
	}
	for _, k := range q.Sort {
		if !model.ValidField(k.Field) {
			return nil, invalid("bad sort field %q", k.Field)
		}
	}
	return s.repo.List(ctx, c, q), nil
}

// Get fetches a single record.
func (s *ContentServiceImpl) Get(ctx context.Context, c model.Collection, id string) (model.Record, error) {
	if err := checkCollection(c); err != nil {
		return model.Record{}, err
	}
	if id == "" {
		return model.Record{}, invalid("empty id")
	}
	return s.repo.Get(ctx, c, id)
}

// Create stores rec; payload keys must be identifiers.
func (s *ContentServiceImpl) Create(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error) {
	if err := checkCollection(c); err != nil {
		return model.Record{}, err
	}
	if rec.Data == nil {
		return model.Record{}, invalid("empty payload")
	}
	for k := range rec.Data {
		if !model.ValidField(k) {
			return model.Record{}, invalid("bad field name %q", k)
		}
	}
	return s.repo.Create(ctx, c, rec)
}

// Update merges fields into record id.
func (s *ContentServiceImpl) Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error) {
	if err := checkCollection(c); err != nil {
		return model.Record{}, err
	}
	if id == "" {
		return model.Record{}, invalid("empty id")
	}
	if len(fields) == 0 {
		return model.Record{}, invalid("no fields to update")
	}
	for k := range fields {
		if !model.ValidField(k) {
			return model.Record{}, invalid("bad field name %q", k)
		}
	}
	return s.repo.Update(ctx, c, id, fields)
}

// Delete removes record id.
func (s *ContentServiceImpl) Delete(ctx context.Context, c model.Collection, id string) (bool, error) {
	if err := checkCollection(c); err != nil {
		return false, err
	}
	if id == "" {
		return false, invalid("empty id")
	}
	return s.repo.Delete(ctx, c, id)
}

// Watch subscribes to remote changes of c.
func (s *ContentServiceImpl) Watch(
	ctx context.Context, c model.Collection, filter model.Filter, onChange func(model.ChangeEvent),
) (func(), error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	if err := checkFilter(filter); err != nil {
		return nil, err
	}
	if s.sub == nil {
		return nil, fmt.Errorf("watch: %w: realtime disabled", errs.ErrStorageUnavailable)
	}
	return s.sub.Subscribe(ctx, c, filter, onChange)
}
