// Package repository defines the storage backends of the content store and the
// dual-backend repository that orchestrates them.
package repository

import (
	"context"

	"github.com/and161185/dualstore/internal/model"
)

// RemoteStore is the hosted database. Every failure is reported as an error matching
// errs.ErrRemote; an empty successful result is not a failure.
type RemoteStore interface {
	// Query returns records of c matching q. An empty slice with nil error means "no rows".
	Query(ctx context.Context, c model.Collection, q model.Query) ([]model.Record, error)
	// Insert stores rec and returns it with the remote-assigned id when rec.ID is empty.
	Insert(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error)
	// Update merges fields into record id; errs.ErrRemoteNotFound when no such row.
	Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error)
	// Delete removes record id and reports whether a row was removed.
	Delete(ctx context.Context, c model.Collection, id string) (bool, error)
	// Subscribe streams remote changes for c matching filter until ctx is done or the stream fails.
	Subscribe(ctx context.Context, c model.Collection, filter model.Filter) (<-chan model.ChangeEvent, error)
}

// LocalStore is the synchronous local cache. Medium failures match errs.ErrStorageUnavailable.
type LocalStore interface {
	// Get returns all records of c in storage order; never-written collections are empty.
	Get(c model.Collection) ([]model.Record, error)
	// Set replaces the whole collection.
	Set(c model.Collection, recs []model.Record) error
	// Find returns record id or errs.ErrNotFound.
	Find(c model.Collection, id string) (model.Record, error)
	// Add assigns id/timestamps where missing and appends rec.
	Add(c model.Collection, rec model.Record) (model.Record, error)
	// Update merges fields into record id or returns errs.ErrNotFound.
	Update(c model.Collection, id string, fields map[string]any) (model.Record, error)
	// Delete removes record id and reports whether it existed.
	Delete(c model.Collection, id string) (bool, error)
}

// ContentRepository is the uniform CRUD contract consumers program against.
type ContentRepository interface {
	List(ctx context.Context, c model.Collection, q model.Query) []model.Record
	Get(ctx context.Context, c model.Collection, id string) (model.Record, error)
	Create(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error)
	Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error)
	Delete(ctx context.Context, c model.Collection, id string) (bool, error)
}
