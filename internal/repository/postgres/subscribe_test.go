package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
)

type fakeListener struct {
	payloads chan string
	err      error
	channel  string
	closed   chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{payloads: make(chan string, 8), closed: make(chan struct{})}
}

func (l *fakeListener) Listen(_ context.Context, channel string) (NotificationStream, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.channel = channel
	return l, nil
}

func (l *fakeListener) Next(ctx context.Context) (string, error) {
	select {
	case p, ok := <-l.payloads:
		if !ok {
			return "", errors.New("conn closed")
		}
		return p, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (l *fakeListener) Close() { close(l.closed) }

func recv(t *testing.T, ch <-chan model.ChangeEvent) model.ChangeEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return model.ChangeEvent{}
}

func TestSubscribe_ForwardsMatchingChanges(t *testing.T) {
	l := newFakeListener()
	r := NewContentRepo(&DB{Listener: l}, WithLogger(zaptest.NewLogger(t)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := r.Subscribe(ctx, model.BlogPosts, model.Filter{"status": "published"})
	require.NoError(t, err)
	require.Equal(t, ChangesChannel, l.channel)

	l.payloads <- `{"table":"events","op":"INSERT","record":{"id":"e1","data":{"status":"published"}}}`
	l.payloads <- `not json`
	l.payloads <- `{"table":"blog_posts","op":"INSERT","record":{"id":"p0","data":{"status":"draft"}}}`
	l.payloads <- `{"table":"blog_posts","op":"UPDATE","record":{"id":"p1","created_at":"2025-05-01T10:00:00.123456+00:00","updated_at":"2025-05-02T10:00:00+00:00","data":{"title":"Hi","status":"published"}}}`
	l.payloads <- `{"table":"blog_posts","op":"DELETE","record":{"id":"p2"}}`

	ev := recv(t, ch)
	require.Equal(t, model.ChangeUpdate, ev.Type)
	require.Equal(t, model.BlogPosts, ev.Collection)
	require.Equal(t, "p1", ev.Record.ID)
	require.Equal(t, "Hi", ev.Record.Data["title"])
	require.Equal(t, 2025, ev.Record.CreatedAt.Year())

	ev = recv(t, ch)
	require.Equal(t, model.ChangeDelete, ev.Type)
	require.Equal(t, "p2", ev.Record.ID)

	cancel()
	select {
	case <-l.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
	for range ch {
	}
}

func TestSubscribe_ClosesWhenConnectionFails(t *testing.T) {
	l := newFakeListener()
	r := NewContentRepo(&DB{Listener: l})

	ch, err := r.Subscribe(context.Background(), model.Events, nil)
	require.NoError(t, err)
	close(l.payloads)

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed")
	}
}

func TestSubscribe_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewContentRepo(&DB{}).Subscribe(ctx, model.Events, nil)
	require.ErrorIs(t, err, errs.ErrRemote)

	l := newFakeListener()
	l.err = errors.New("too many connections")
	_, err = NewContentRepo(&DB{Listener: l}).Subscribe(ctx, model.Events, nil)
	require.ErrorIs(t, err, errs.ErrRemote)

	_, err = NewContentRepo(&DB{Listener: newFakeListener()}).Subscribe(ctx, "Bad", nil)
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestDecodeChange(t *testing.T) {
	_, err := decodeChange(`{"table":"events","op":"TRUNCATE","record":{"id":"x"}}`)
	require.Error(t, err)

	_, err = decodeChange(`{"table":"events","op":"INSERT","record":{"data":{}}}`)
	require.Error(t, err)

	ev, err := decodeChange(`{"table":"events","op":"INSERT","record":{"id":"e1","data":{"title":"Fair"}}}`)
	require.NoError(t, err)
	require.Equal(t, "Fair", ev.Record.Data["title"])
	require.True(t, ev.Record.CreatedAt.IsZero())
}
