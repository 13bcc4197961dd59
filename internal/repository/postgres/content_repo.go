package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/repository"
)

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 5 * time.Second

// ContentRepo implements repository.RemoteStore on one table per collection.
type ContentRepo struct {
	db      *DB
	timeout time.Duration
	log     *zap.Logger
}

var _ repository.RemoteStore = (*ContentRepo)(nil)

// Option customizes a ContentRepo.
type Option func(*ContentRepo)

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *ContentRepo) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used by subscriptions.
func WithLogger(l *zap.Logger) Option {
	return func(r *ContentRepo) {
		if l != nil {
			r.log = l
		}
	}
}

// NewContentRepo constructs the remote store client.
func NewContentRepo(db *DB, opts ...Option) *ContentRepo {
	r := &ContentRepo{db: db, timeout: DefaultTimeout, log: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

const columns = `id, created_at, updated_at, data`

func table(c model.Collection) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidArgument, err)
	}
	return pgx.Identifier{string(c)}.Sanitize(), nil
}

// Query selects the records of c matching q.
func (r *ContentRepo) Query(ctx context.Context, c model.Collection, q model.Query) ([]model.Record, error) {
	sql, args, err := buildSelect(c, q)
	if err != nil {
		return nil, errs.Remote("query", string(c), err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Remote("query", string(c), describe(err))
	}
	defer rows.Close()

	out := []model.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errs.Remote("query", string(c), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Remote("query", string(c), describe(err))
	}
	return out, nil
}

// Insert stores rec. An empty id is assigned by the database; zero timestamps default to now().
func (r *ContentRepo) Insert(ctx context.Context, c model.Collection, rec model.Record) (model.Record, error) {
	tbl, err := table(c)
	if err != nil {
		return model.Record{}, errs.Remote("insert", string(c), err)
	}
	data, err := encodeData(rec.Data)
	if err != nil {
		return model.Record{}, errs.Remote("insert", string(c), err)
	}
	q := `
INSERT INTO ` + tbl + ` (id, created_at, updated_at, data)
VALUES (COALESCE(NULLIF($1, ''), gen_random_uuid()::text), COALESCE($2::timestamptz, now()), COALESCE($3::timestamptz, now()), $4::jsonb)
RETURNING ` + columns

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := scanRecord(r.db.Pool.QueryRow(ctx, q, rec.ID, nullTime(rec.CreatedAt), nullTime(rec.UpdatedAt), data))
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("id %q already exists: %w", rec.ID, err)
		}
		return model.Record{}, errs.Remote("insert", string(c), describe(err))
	}
	return out, nil
}

// Update merges fields into the stored payload and refreshes updated_at.
func (r *ContentRepo) Update(ctx context.Context, c model.Collection, id string, fields map[string]any) (model.Record, error) {
	tbl, err := table(c)
	if err != nil {
		return model.Record{}, errs.Remote("update", string(c), err)
	}
	patch := make(map[string]any, len(fields))
	for k, v := range fields {
		switch k {
		case model.FieldID, model.FieldCreatedAt, model.FieldUpdatedAt:
			continue
		}
		patch[k] = v
	}
	data, err := encodeData(patch)
	if err != nil {
		return model.Record{}, errs.Remote("update", string(c), err)
	}
	q := `UPDATE ` + tbl + ` SET data = data || $2::jsonb, updated_at = now() WHERE id = $1 RETURNING ` + columns

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := scanRecord(r.db.Pool.QueryRow(ctx, q, id, data))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Record{}, errs.Remote("update", string(c), errs.ErrRemoteNotFound)
		}
		return model.Record{}, errs.Remote("update", string(c), describe(err))
	}
	return out, nil
}

// Delete removes record id and reports whether a row was removed.
func (r *ContentRepo) Delete(ctx context.Context, c model.Collection, id string) (bool, error) {
	tbl, err := table(c)
	if err != nil {
		return false, errs.Remote("delete", string(c), err)
	}
	q := `DELETE FROM ` + tbl + ` WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return false, errs.Remote("delete", string(c), describe(err))
	}
	return tag.RowsAffected() > 0, nil
}

func buildSelect(c model.Collection, q model.Query) (string, []any, error) {
	tbl, err := table(c)
	if err != nil {
		return "", nil, err
	}
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	keys := make([]string, 0, len(q.Filter))
	for k := range q.Filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	contains := map[string]any{}
	for _, k := range keys {
		if !model.ValidField(k) {
			return "", nil, fmt.Errorf("%w: bad filter field %q", errs.ErrInvalidArgument, k)
		}
		v := q.Filter[k]
		switch k {
		case model.FieldID:
			where = append(where, "id = "+arg(fmt.Sprint(v)))
		case model.FieldCreatedAt, model.FieldUpdatedAt:
			ts, err := filterTime(v)
			if err != nil {
				return "", nil, fmt.Errorf("%w: %s: %w", errs.ErrInvalidArgument, k, err)
			}
			where = append(where, k+" = "+arg(ts))
		default:
			if v == nil {
				where = append(where, "COALESCE(data->"+arg(k)+", 'null'::jsonb) = 'null'::jsonb")
				continue
			}
			contains[k] = v
		}
	}
	if len(contains) > 0 {
		b, err := json.Marshal(contains)
		if err != nil {
			return "", nil, fmt.Errorf("%w: filter: %w", errs.ErrInvalidArgument, err)
		}
		where = append(where, "data @> "+arg(string(b))+"::jsonb")
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + columns + " FROM " + tbl)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}

	order := make([]string, 0, len(q.Sort)+2)
	for _, k := range q.Sort {
		if !model.ValidField(k.Field) {
			return "", nil, fmt.Errorf("%w: bad sort field %q", errs.ErrInvalidArgument, k.Field)
		}
		expr := k.Field
		switch k.Field {
		case model.FieldID:
			expr = `id COLLATE "C"`
		case model.FieldCreatedAt, model.FieldUpdatedAt:
		default:
			// field names are restricted to [a-z0-9_], safe as a literal
			expr = "data->'" + k.Field + "'"
		}
		dir := " ASC"
		if k.Desc {
			dir = " DESC"
		}
		order = append(order, expr+dir+" NULLS LAST")
	}
	// byte order on id, as strings.Compare does
	order = append(order, "created_at ASC", `id COLLATE "C" ASC`)
	sb.WriteString(" ORDER BY " + strings.Join(order, ", "))

	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}
	return sb.String(), args, nil
}

func filterTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return model.ParseTime(t)
	default:
		return time.Time{}, fmt.Errorf("want timestamp, got %T", v)
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %w", errs.ErrInvalidArgument, err)
	}
	return string(b), nil
}

func scanRecord(row pgx.Row) (model.Record, error) {
	var (
		rec  model.Record
		data []byte
	)
	if err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt, &data); err != nil {
		return model.Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	rec.Data = map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Data); err != nil {
			return model.Record{}, fmt.Errorf("decode %s: %w", rec.ID, err)
		}
		if rec.Data == nil {
			rec.Data = map[string]any{}
		}
	}
	return rec, nil
}

// describe adds a hint for the most common misconfiguration.
func describe(err error) error {
	if isUndefinedTable(err) {
		return fmt.Errorf("collection table missing, run migrations: %w", err)
	}
	return err
}
