package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
)

func TestTyped_Events(t *testing.T) {
	ctx := context.Background()
	d, remote, _, _ := newDual(t)
	remote.down = true
	events := NewTyped[model.Event](d, model.Events)

	created, err := events.Create(ctx, model.Event{Title: "Summer Concert", EventDate: "2025-06-01", Capacity: 200})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.CreatedAt)
	require.Equal(t, 200, created.Capacity)

	_, err = events.Create(ctx, model.Event{Title: "Spring Fair", EventDate: "2025-04-10"})
	require.NoError(t, err)

	list, err := events.List(ctx, model.Query{Sort: ByDateAsc("event_date")})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "Spring Fair", list[0].Title)
	require.Equal(t, "Summer Concert", list[1].Title)

	upd, err := events.Update(ctx, created.ID, map[string]any{"location": "Park"})
	require.NoError(t, err)
	require.Equal(t, "Park", upd.Location)
	require.Equal(t, "Summer Concert", upd.Title)

	got, err := events.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, upd, got)

	ok, err := events.Delete(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = events.Get(ctx, created.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
