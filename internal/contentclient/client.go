// Package contentclient is a typed Go client for the gRPC content service.
package contentclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/dualstore/internal/convert"
	"github.com/and161185/dualstore/internal/model"
	grpcserver "github.com/and161185/dualstore/internal/server/grpc"
)

// Client calls the content service over any gRPC connection.
type Client struct {
	cc    grpc.ClientConnInterface
	token string
}

// New wraps cc. token is sent as a bearer token when non-empty.
func New(cc grpc.ClientConnInterface, token string) *Client {
	return &Client{cc: cc, token: token}
}

func (c *Client) ctx(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
}

func (c *Client) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := convert.Request(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.ctx(ctx), method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

// List returns records of collection matching q.
func (c *Client) List(ctx context.Context, coll model.Collection, q model.Query) ([]model.Record, error) {
	in, err := convert.QueryToStruct(coll, q)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(c.ctx(ctx), grpcserver.MethodList, in, out); err != nil {
		return nil, err
	}
	return convert.FromListValue(out)
}

// Get returns record id.
func (c *Client) Get(ctx context.Context, coll model.Collection, id string) (model.Record, error) {
	out, err := c.invoke(ctx, grpcserver.MethodGet, map[string]any{convert.KeyCollection: coll, convert.KeyID: id})
	if err != nil {
		return model.Record{}, err
	}
	return convert.FromStruct(out)
}

// Create stores rec.
func (c *Client) Create(ctx context.Context, coll model.Collection, rec model.Record) (model.Record, error) {
	out, err := c.invoke(ctx, grpcserver.MethodCreate, map[string]any{convert.KeyCollection: coll, convert.KeyRecord: rec})
	if err != nil {
		return model.Record{}, err
	}
	return convert.FromStruct(out)
}

// Update merges fields into record id.
func (c *Client) Update(ctx context.Context, coll model.Collection, id string, fields map[string]any) (model.Record, error) {
	out, err := c.invoke(ctx, grpcserver.MethodUpdate, map[string]any{
		convert.KeyCollection: coll,
		convert.KeyID:         id,
		convert.KeyFields:     fields,
	})
	if err != nil {
		return model.Record{}, err
	}
	return convert.FromStruct(out)
}

// Delete removes record id and reports whether it existed.
func (c *Client) Delete(ctx context.Context, coll model.Collection, id string) (bool, error) {
	out, err := c.invoke(ctx, grpcserver.MethodDelete, map[string]any{convert.KeyCollection: coll, convert.KeyID: id})
	if err != nil {
		return false, err
	}
	return out.GetFields()[convert.KeyDeleted].GetBoolValue(), nil
}

var watchDesc = grpc.StreamDesc{StreamName: "Watch", ServerStreams: true}

// Watcher receives change notifications from a Watch call.
type Watcher struct {
	stream grpc.ClientStream
}

// Watch opens a change stream. It returns once the server confirmed the subscription.
func (c *Client) Watch(ctx context.Context, coll model.Collection, filter model.Filter) (*Watcher, error) {
	req := map[string]any{convert.KeyCollection: coll}
	if len(filter) > 0 {
		req[convert.KeyFilter] = map[string]any(filter)
	}
	in, err := convert.Request(req)
	if err != nil {
		return nil, err
	}
	stream, err := c.cc.NewStream(c.ctx(ctx), &watchDesc, grpcserver.MethodWatch)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, err
	}
	return &Watcher{stream: stream}, nil
}

// Recv blocks for the next change. It returns io.EOF when the server ends the stream.
func (w *Watcher) Recv() (model.ChangeEvent, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return model.ChangeEvent{}, err
	}
	return convert.ChangeFromStruct(msg)
}
