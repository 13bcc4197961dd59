package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
)

// changePayload is what the notify_content_change trigger publishes.
type changePayload struct {
	Table  string         `json:"table"`
	Op     string         `json:"op"`
	Record map[string]any `json:"record"`
}

// Subscribe forwards remote changes of c matching filter. Deletes carry only the id
// and are forwarded regardless of filter. The channel is closed when ctx is done or
// the listening connection fails; there is no reconnect.
func (r *ContentRepo) Subscribe(ctx context.Context, c model.Collection, filter model.Filter) (<-chan model.ChangeEvent, error) {
	if _, err := table(c); err != nil {
		return nil, errs.Remote("subscribe", string(c), err)
	}
	if r.db.Listener == nil {
		return nil, errs.Remote("subscribe", string(c), errors.New("listener not configured"))
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	stream, err := r.db.Listener.Listen(lctx, ChangesChannel)
	cancel()
	if err != nil {
		return nil, errs.Remote("subscribe", string(c), err)
	}

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			payload, err := stream.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Warn("change stream ended", zap.String("collection", string(c)), zap.Error(err))
				}
				return
			}
			ev, err := decodeChange(payload)
			if err != nil {
				r.log.Warn("bad change payload", zap.String("collection", string(c)), zap.Error(err))
				continue
			}
			if ev.Collection != c {
				continue
			}
			if ev.Type != model.ChangeDelete && !filter.Matches(ev.Record) {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func decodeChange(payload string) (model.ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return model.ChangeEvent{}, err
	}
	typ := model.ChangeType(p.Op)
	switch typ {
	case model.ChangeInsert, model.ChangeUpdate, model.ChangeDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("unknown op %q", p.Op)
	}

	// the row arrives as {id, created_at, updated_at, data: {...}}
	flat := map[string]any{}
	if d, ok := p.Record["data"].(map[string]any); ok {
		for k, v := range d {
			flat[k] = v
		}
	}
	for _, k := range []string{model.FieldID, model.FieldCreatedAt, model.FieldUpdatedAt} {
		if v, ok := p.Record[k]; ok {
			flat[k] = v
		}
	}
	rec, err := model.FromMap(flat)
	if err != nil {
		return model.ChangeEvent{}, err
	}
	if rec.ID == "" {
		return model.ChangeEvent{}, errors.New("change without id")
	}
	return model.ChangeEvent{Type: typ, Collection: model.Collection(p.Table), Record: rec}, nil
}
