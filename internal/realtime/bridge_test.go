package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/dualstore/internal/model"
)

type fakeSource struct {
	ch     chan model.ChangeEvent
	err    error
	gotCtx context.Context
}

func (f *fakeSource) Subscribe(ctx context.Context, _ model.Collection, _ model.Filter) (<-chan model.ChangeEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.gotCtx = ctx
	return f.ch, nil
}

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) add(ev model.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ev.Record.ID)
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestBridge_DeliversInOrderUntilCancel(t *testing.T) {
	src := &fakeSource{ch: make(chan model.ChangeEvent)}
	b := New(src, zaptest.NewLogger(t))
	col := &collector{}

	cancel, err := b.Subscribe(context.Background(), model.Events, nil, col.add)
	require.NoError(t, err)

	for _, id := range []string{"e1", "e2", "e3"} {
		src.ch <- model.ChangeEvent{Type: model.ChangeInsert, Collection: model.Events, Record: model.Record{ID: id}}
	}
	require.Eventually(t, func() bool { return len(col.ids()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"e1", "e2", "e3"}, col.ids())

	cancel()
	cancel()
	require.Error(t, src.gotCtx.Err(), "upstream subscription cancelled")

	select {
	case src.ch <- model.ChangeEvent{Record: model.Record{ID: "late"}}:
		t.Fatal("event accepted after cancel")
	case <-time.After(50 * time.Millisecond):
	}
	require.Len(t, col.ids(), 3)
}

func TestBridge_StreamEndStopsDelivery(t *testing.T) {
	src := &fakeSource{ch: make(chan model.ChangeEvent, 1)}
	col := &collector{}
	cancel, err := New(src, nil).Subscribe(context.Background(), model.Orders, nil, col.add)
	require.NoError(t, err)

	src.ch <- model.ChangeEvent{Record: model.Record{ID: "o1"}}
	close(src.ch)

	require.Eventually(t, func() bool { return len(col.ids()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.Equal(t, []string{"o1"}, col.ids())
}

func TestBridge_SubscribeError(t *testing.T) {
	src := &fakeSource{err: errors.New("listen failed")}
	cancel, err := New(src, nil).Subscribe(context.Background(), model.Events, nil, func(model.ChangeEvent) {})
	require.Error(t, err)
	require.Nil(t, cancel)
}
