// Package realtime delivers remote-origin changes to in-process subscribers.
package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/dualstore/internal/model"
)

// Source is the part of the remote store the bridge needs.
type Source interface {
	Subscribe(ctx context.Context, c model.Collection, filter model.Filter) (<-chan model.ChangeEvent, error)
}

// Bridge forwards remote change notifications to callbacks. It never touches the
// local cache: records created only locally produce no events.
type Bridge struct {
	src Source
	log *zap.Logger
}

// New constructs a Bridge. A nil logger disables logging.
func New(src Source, log *zap.Logger) *Bridge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bridge{src: src, log: log}
}

// Subscribe calls onChange for each remote change of c matching filter, one at a
// time on a single goroutine. If the stream ends, delivery stops for good: there is
// no reconnect. The returned cancel stops delivery, waits for the goroutine to exit
// and is safe to call more than once.
func (b *Bridge) Subscribe(
	ctx context.Context, c model.Collection, filter model.Filter, onChange func(model.ChangeEvent),
) (func(), error) {
	ctx, stop := context.WithCancel(ctx)
	events, err := b.src.Subscribe(ctx, c, filter)
	if err != nil {
		stop()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					if ctx.Err() == nil {
						b.log.Info("realtime stream closed", zap.String("collection", string(c)))
					}
					return
				}
				onChange(ev)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			<-done
		})
	}, nil
}
