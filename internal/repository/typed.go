package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/dualstore/internal/model"
)

// Typed binds a ContentRepository to one collection and converts records to T
// through their flat JSON form. T is usually one of the model content structs.
type Typed[T any] struct {
	repo       ContentRepository
	collection model.Collection
}

// NewTyped returns typed access to collection c.
func NewTyped[T any](repo ContentRepository, c model.Collection) *Typed[T] {
	return &Typed[T]{repo: repo, collection: c}
}

func (t *Typed[T]) List(ctx context.Context, q model.Query) ([]T, error) {
	recs := t.repo.List(ctx, t.collection, q)
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Typed[T]) Get(ctx context.Context, id string) (T, error) {
	r, err := t.repo.Get(ctx, t.collection, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](r)
}

func (t *Typed[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	rec, err := encode(v)
	if err != nil {
		return zero, err
	}
	r, err := t.repo.Create(ctx, t.collection, rec)
	if err != nil {
		return zero, err
	}
	return decode[T](r)
}

// Update merges fields, which use the same JSON names as T.
func (t *Typed[T]) Update(ctx context.Context, id string, fields map[string]any) (T, error) {
	r, err := t.repo.Update(ctx, t.collection, id, fields)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](r)
}

func (t *Typed[T]) Delete(ctx context.Context, id string) (bool, error) {
	return t.repo.Delete(ctx, t.collection, id)
}

func decode[T any](r model.Record) (T, error) {
	var v T
	b, err := json.Marshal(r)
	if err != nil {
		return v, fmt.Errorf("encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return v, nil
}

func encode[T any](v T) (model.Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return model.Record{}, fmt.Errorf("encode: %w", err)
	}
	var rec model.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return model.Record{}, fmt.Errorf("encode: %w", err)
	}
	return rec, nil
}
