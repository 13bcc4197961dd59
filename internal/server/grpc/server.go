// Package grpcserver exposes the content service over gRPC.
package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/dualstore/internal/convert"
	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/service"
)

// watchBuffer bounds how far a slow Watch client may lag before delivery blocks.
const watchBuffer = 64

// Server wires the content service into gRPC handlers.
type Server struct {
	content service.ContentService
	log     *zap.Logger
}

var _ ContentServer = (*Server)(nil)

// New constructs the gRPC content server. A nil logger disables logging.
func New(content service.ContentService, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{content: content, log: log}
}

// toStatus maps domain errors to gRPC status codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrStorageUnavailable):
		return status.Errorf(codes.Unavailable, "%s: storage unavailable", op)
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "no auth")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrRemote):
		return status.Errorf(codes.Unavailable, "%s: remote unavailable", op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func (s *Server) admin(ctx context.Context) (string, error) {
	sub, ok := SubjectFromCtx(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "no auth")
	}
	return sub, nil
}

// List returns records of a collection. Reads are public.
func (s *Server) List(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, q, err := convert.QueryFromStruct(req)
	if err != nil {
		return nil, toStatus("list", err)
	}
	recs, err := s.content.List(ctx, c, q)
	if err != nil {
		return nil, toStatus("list", err)
	}
	out, err := convert.ToListValue(recs)
	if err != nil {
		return nil, toStatus("list", err)
	}
	return out, nil
}

// Get returns a single record.
func (s *Server) Get(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	c, err := convert.Collection(req)
	if err != nil {
		return nil, toStatus("get", err)
	}
	rec, err := s.content.Get(ctx, c, convert.ID(req))
	if err != nil {
		return nil, toStatus("get", err)
	}
	return s.record("get", rec)
}

// Create stores a new record. Requires an admin token.
func (s *Server) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sub, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	c, err := convert.Collection(req)
	if err != nil {
		return nil, toStatus("create", err)
	}
	rec, err := convert.Record(req)
	if err != nil {
		return nil, toStatus("create", err)
	}
	out, err := s.content.Create(ctx, c, rec)
	if err != nil {
		return nil, toStatus("create", err)
	}
	s.log.Info("record created", zap.String("collection", string(c)), zap.String("id", out.ID), zap.String("by", sub))
	return s.record("create", out)
}

// Update merges fields into a record. Requires an admin token.
func (s *Server) Update(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sub, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	c, err := convert.Collection(req)
	if err != nil {
		return nil, toStatus("update", err)
	}
	id := convert.ID(req)
	out, err := s.content.Update(ctx, c, id, convert.Fields(req))
	if err != nil {
		return nil, toStatus("update", err)
	}
	s.log.Info("record updated", zap.String("collection", string(c)), zap.String("id", id), zap.String("by", sub))
	return s.record("update", out)
}

// Delete removes a record. Requires an admin token.
func (s *Server) Delete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	sub, err := s.admin(ctx)
	if err != nil {
		return nil, err
	}
	c, err := convert.Collection(req)
	if err != nil {
		return nil, toStatus("delete", err)
	}
	id := convert.ID(req)
	ok, err := s.content.Delete(ctx, c, id)
	if err != nil {
		return nil, toStatus("delete", err)
	}
	if ok {
		s.log.Info("record deleted", zap.String("collection", string(c)), zap.String("id", id), zap.String("by", sub))
	}
	return structpb.NewStruct(map[string]any{convert.KeyDeleted: ok})
}

// Watch streams remote changes until the client goes away. A header is sent once
// the subscription is live.
func (s *Server) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	c, err := convert.Collection(req)
	if err != nil {
		return toStatus("watch", err)
	}
	filter, err := convert.Filter(req)
	if err != nil {
		return toStatus("watch", err)
	}
	ctx := stream.Context()

	events := make(chan model.ChangeEvent, watchBuffer)
	// closed before cancel so a delivery blocked on a full buffer lets go
	left := make(chan struct{})
	cancel, err := s.content.Watch(ctx, c, filter, func(ev model.ChangeEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		case <-left:
		}
	})
	if err != nil {
		return toStatus("watch", err)
	}
	defer func() {
		close(left)
		cancel()
	}()

	if err := stream.SendHeader(metadata.Pairs("x-watch", "ready")); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			msg, err := convert.ChangeToStruct(ev)
			if err != nil {
				s.log.Warn("skip change", zap.String("collection", string(c)), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) record(op string, rec model.Record) (*structpb.Struct, error) {
	out, err := convert.ToStruct(rec)
	if err != nil {
		return nil, toStatus(op, err)
	}
	return out, nil
}
