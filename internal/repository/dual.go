package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/ident"
	"github.com/and161185/dualstore/internal/model"
)

// Source names the backend that served an operation.
type Source string

// Backends.
const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
	SourceNone   Source = "none"
)

// Observer is told which backend served each operation. It must not block.
type Observer func(op string, c model.Collection, src Source)

// Dual tries the remote store first and falls back to the local cache. Each backend
// is attempted at most once per operation, local only after remote failed (or, for
// reads, came back empty). There is no retry, backoff or sync-back of local writes.
type Dual struct {
	remote   RemoteStore
	local    LocalStore
	log      *zap.Logger
	observer Observer
}

var _ ContentRepository = (*Dual)(nil)

// DualOption customizes a Dual.
type DualOption func(*Dual)

// WithObserver registers a provenance hook.
func WithObserver(o Observer) DualOption {
	return func(d *Dual) { d.observer = o }
}

// NewDual constructs the repository. A nil logger disables logging.
func NewDual(remote RemoteStore, local LocalStore, log *zap.Logger, opts ...DualOption) *Dual {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Dual{remote: remote, local: local, log: log}
	for _, o := range opts {
		if o != nil {
			o(d)
		}
	}
	return d
}

func (d *Dual) served(op string, c model.Collection, src Source) {
	if d.observer != nil {
		d.observer(op, c, src)
	}
}

func (d *Dual) fallback(op string, c model.Collection, err error) {
	d.log.Warn("remote unavailable, using local cache",
		zap.String("op", op),
		zap.String("collection", string(c)),
		zap.Error(err),
	)
}

// List never fails: the worst case is an empty slice. An empty remote result is
// treated like a failure and answered from the local cache, which keeps seeded demo
// data visible before the remote table is populated. Once a remote collection is
// legitimately emptied, stale local records will show instead.
//
// The remote orders jsonb values its own way, so a limit is never pushed down
// with a payload sort: the remote returns every match and finish cuts after Sort.
func (d *Dual) List(ctx context.Context, c model.Collection, q model.Query) []model.Record {
	recs, err := d.remote.Query(ctx, c, remoteQuery(q))
	switch {
	case err != nil:
		d.fallback("list", c, err)
	case len(recs) == 0:
		d.log.Debug("remote returned no rows, using local cache", zap.String("collection", string(c)))
	default:
		d.served("list", c, SourceRemote)
		return finish(recs, q)
	}

	cached, err := d.local.Get(c)
	if err != nil {
		d.log.Error("local cache unavailable", zap.String("op", "list"), zap.String("collection", string(c)), zap.Error(err))
		d.served("list", c, SourceNone)
		return []model.Record{}
	}
	matched := make([]model.Record, 0, len(cached))
	for _, r := range cached {
		if q.Filter.Matches(r) {
			matched = append(matched, r)
		}
	}
	d.served("list", c, SourceLocal)
	return finish(matched, q)
}

func remoteQuery(q model.Query) model.Query {
	for _, k := range q.Sort {
		switch k.Field {
		case model.FieldID, model.FieldCreatedAt, model.FieldUpdatedAt:
		default:
			q.Limit = 0
			return q
		}
	}
	return q
}

func finish(recs []model.Record, q model.Query) []model.Record {
	out := Sort(recs, q.Sort)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Get returns errs.ErrNotFound only when neither backend has the record.
func (d *Dual) Get(ctx context.Context, c model.Collection, id string) (model.Record, error) {
	recs, err := d.remote.Query(ctx, c, model.Query{Filter: model.Filter{model.FieldID: id}, Limit: 1})
	if err != nil {
		d.fallback("get", c, err)
	} else if len(recs) > 0 {
		d.served("get", c, SourceRemote)
		return recs[0], nil
	}

	rec, err := d.local.Find(c, id)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			d.log.Error("local cache unavailable", zap.String("op", "get"), zap.String("collection", string(c)), zap.Error(err))
		}
		d.served("get", c, SourceNone)
		return model.Record{}, errs.ErrNotFound
	}
	d.served("get", c, SourceLocal)
	return rec, nil
}

// Create writes to exactly one backend: remote when it accepts the insert, else local.
func (d *Dual) Create(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error) {
	out, err := d.remote.Insert(ctx, c, rec)
	if err == nil {
		d.served("create", c, SourceRemote)
		return out, nil
	}
	d.fallback("create", c, err)

	out, err = d.local.Add(c, rec)
	if err != nil {
		d.served("create", c, SourceNone)
		return model.Record{}, fmt.Errorf("create %s: %w", c, err)
	}
	d.served("create", c, SourceLocal)
	return out, nil
}

// Update falls back on any remote error, including remote not-found, since the
// record may exist only in the local cache.
func (d *Dual) Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error) {
	out, err := d.remote.Update(ctx, c, id, fields)
	if err == nil {
		d.served("update", c, SourceRemote)
		return out, nil
	}
	if errors.Is(err, errs.ErrRemoteNotFound) {
		d.log.Debug("record not in remote, trying local cache",
			zap.String("collection", string(c)),
			zap.String("id", id),
			zap.Bool("local_id", ident.IsLocal(id)),
		)
	} else {
		d.fallback("update", c, err)
	}

	out, err = d.local.Update(c, id, fields)
	if err != nil {
		d.served("update", c, SourceNone)
		if errors.Is(err, errs.ErrNotFound) {
			return model.Record{}, errs.ErrNotFound
		}
		return model.Record{}, fmt.Errorf("update %s/%s: %w", c, id, err)
	}
	d.served("update", c, SourceLocal)
	return out, nil
}

// Delete reports true as soon as the remote removed a row. When the remote fails or
// had no such row, the local cache decides.
func (d *Dual) Delete(ctx context.Context, c model.Collection, id string) (bool, error) {
	ok, err := d.remote.Delete(ctx, c, id)
	if err == nil && ok {
		d.served("delete", c, SourceRemote)
		return true, nil
	}
	if err != nil {
		d.fallback("delete", c, err)
	}

	ok, err = d.local.Delete(c, id)
	if err != nil {
		d.served("delete", c, SourceNone)
		return false, fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	d.served("delete", c, SourceLocal)
	return ok, nil
}
