package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/dualstore/internal/convert"
	"github.com/and161185/dualstore/internal/errs"
	"github.com/and161185/dualstore/internal/limiter"
	"github.com/and161185/dualstore/internal/model"
	"github.com/and161185/dualstore/internal/service"
)

type fakeContent struct {
	mu      sync.Mutex
	recs    map[string]model.Record
	lastQ   model.Query
	nextID  int
	events  []model.ChangeEvent
	stopped chan struct{}
}

var _ service.ContentService = (*fakeContent)(nil)

func newFakeContent() *fakeContent {
	return &fakeContent{recs: map[string]model.Record{}, stopped: make(chan struct{}, 1)}
}

func (f *fakeContent) List(_ context.Context, _ model.Collection, q model.Query) ([]model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	out := make([]model.Record, 0, len(f.recs))
	for _, r := range f.recs {
		if q.Filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeContent) Get(_ context.Context, _ model.Collection, id string) (model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return model.Record{}, errs.ErrNotFound
	}
	return r, nil
}

func (f *fakeContent) Create(_ context.Context, c model.Collection, rec model.Record) (model.Record, error) {
	if !model.Known(c) {
		return model.Record{}, fmt.Errorf("%w: collection", errs.ErrInvalidArgument)
	}
	if rec.Data["title"] == "unavailable" {
		return model.Record{}, fmt.Errorf("create: %w", errs.ErrStorageUnavailable)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = fmt.Sprintf("r%d", f.nextID)
	rec.CreatedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	rec.UpdatedAt = rec.CreatedAt
	f.recs[rec.ID] = rec
	return rec, nil
}

func (f *fakeContent) Update(_ context.Context, _ model.Collection, id string, fields map[string]any) (model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return model.Record{}, errs.ErrNotFound
	}
	r = r.Clone()
	for k, v := range fields {
		r.Data[k] = v
	}
	f.recs[id] = r
	return r, nil
}

func (f *fakeContent) Delete(_ context.Context, _ model.Collection, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.recs[id]
	delete(f.recs, id)
	return ok, nil
}

func (f *fakeContent) Watch(ctx context.Context, c model.Collection, _ model.Filter, onChange func(model.ChangeEvent)) (func(), error) {
	if c == model.Orders {
		return nil, errs.ErrStorageUnavailable
	}
	done := make(chan struct{})
	go func() {
		for _, ev := range f.events {
			onChange(ev)
		}
		<-done
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			f.stopped <- struct{}{}
		})
	}, nil
}

const bufSize = 1 << 20

func startBufGRPC(t *testing.T, content service.ContentService, auth service.AuthService) *grpc.ClientConn {
	t.Helper()
	log := zaptest.NewLogger(t)
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log), AdminUnary(auth, MutatingMethods...)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	Register(gs, New(content, log))
	go func() { _ = gs.Serve(lis) }()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

func newAuth(t *testing.T, maxFails int) (*service.AuthServiceImpl, string) {
	t.Helper()
	auth := service.NewAuthService([]byte("test-secret"), time.Minute, limiter.NewMemory(time.Minute, maxFails, time.Minute))
	tok, _, err := auth.Issue("admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return auth, tok
}

func call(t *testing.T, cc *grpc.ClientConn, token, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := convert.Request(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func TestServer_E2E_BasicFlow(t *testing.T) {
	t.Parallel()

	auth, token := newAuth(t, 10)
	content := newFakeContent()
	cc := startBufGRPC(t, content, auth)

	created, err := call(t, cc, token, MethodCreate, map[string]any{
		"collection": "blog_posts",
		"record":     map[string]any{"title": "Hello", "published": true},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, err := convert.FromStruct(created)
	if err != nil || rec.ID != "r1" || rec.Data["title"] != "Hello" {
		t.Fatalf("create result: %+v err=%v", rec, err)
	}

	// reads are public
	listed, err := call(t, cc, "", MethodList, map[string]any{
		"collection": "blog_posts",
		"filter":     map[string]any{"published": true},
		"sort":       "-created_at",
		"limit":      10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	recs, err := convert.FromListValue(listed)
	if err != nil || len(recs) != 1 || recs[0].ID != "r1" {
		t.Fatalf("list result: %+v err=%v", recs, err)
	}
	if content.lastQ.Limit != 10 || len(content.lastQ.Sort) != 1 || !content.lastQ.Sort[0].Desc {
		t.Fatalf("query not decoded: %+v", content.lastQ)
	}

	got, err := call(t, cc, "", MethodGet, map[string]any{"collection": "blog_posts", "id": "r1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GetFields()["title"].GetStringValue() != "Hello" {
		t.Fatalf("get result: %v", got)
	}

	upd, err := call(t, cc, token, MethodUpdate, map[string]any{
		"collection": "blog_posts", "id": "r1", "fields": map[string]any{"title": "Bye"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.GetFields()["title"].GetStringValue() != "Bye" || !upd.GetFields()["published"].GetBoolValue() {
		t.Fatalf("update result: %v", upd)
	}

	del, err := call(t, cc, token, MethodDelete, map[string]any{"collection": "blog_posts", "id": "r1"})
	if err != nil || !del.GetFields()["deleted"].GetBoolValue() {
		t.Fatalf("delete: %v resp=%v", err, del)
	}
	del, err = call(t, cc, token, MethodDelete, map[string]any{"collection": "blog_posts", "id": "r1"})
	if err != nil || del.GetFields()["deleted"].GetBoolValue() {
		t.Fatalf("second delete must report false: %v resp=%v", err, del)
	}
}

func TestServer_MutationsRequireToken(t *testing.T) {
	t.Parallel()

	auth, _ := newAuth(t, 10)
	cc := startBufGRPC(t, newFakeContent(), auth)

	for _, m := range MutatingMethods {
		_, err := call(t, cc, "", m, map[string]any{"collection": "blog_posts", "id": "x"})
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", m, err)
		}
	}

}

func TestServer_BadTokensBlockPeer(t *testing.T) {
	t.Parallel()

	auth, good := newAuth(t, 3)
	cc := startBufGRPC(t, newFakeContent(), auth)

	req := map[string]any{"collection": "blog_posts", "record": map[string]any{"title": "x"}}
	for i := 0; i < 2; i++ {
		_, err := call(t, cc, "garbage", MethodCreate, req)
		if status.Code(err) != codes.Unauthenticated {
			t.Fatalf("attempt %d: want Unauthenticated, got %v", i, err)
		}
	}
	_, err := call(t, cc, "garbage", MethodCreate, req)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("want ResourceExhausted on the blocking attempt, got %v", err)
	}
	_, err = call(t, cc, good, MethodCreate, req)
	if status.Code(err) != codes.ResourceExhausted {
		t.Fatalf("blocked peer must be refused even with a valid token, got %v", err)
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	t.Parallel()

	auth, token := newAuth(t, 10)
	cc := startBufGRPC(t, newFakeContent(), auth)

	cases := []struct {
		name   string
		method string
		req    map[string]any
		want   codes.Code
	}{
		{"missing collection", MethodList, map[string]any{}, codes.InvalidArgument},
		{"bad sort", MethodList, map[string]any{"collection": "events", "sort": 5}, codes.InvalidArgument},
		{"not found", MethodGet, map[string]any{"collection": "events", "id": "nope"}, codes.NotFound},
		{"update missing", MethodUpdate, map[string]any{"collection": "events", "id": "nope", "fields": map[string]any{"a": 1}}, codes.NotFound},
		{"unknown collection", MethodCreate, map[string]any{"collection": "nope", "record": map[string]any{"a": 1}}, codes.InvalidArgument},
		{"no record", MethodCreate, map[string]any{"collection": "events"}, codes.InvalidArgument},
		{"storage down", MethodCreate, map[string]any{"collection": "events", "record": map[string]any{"title": "unavailable"}}, codes.Unavailable},
	}
	for _, tc := range cases {
		_, err := call(t, cc, token, tc.method, tc.req)
		if status.Code(err) != tc.want {
			t.Fatalf("%s: want %v, got %v", tc.name, tc.want, err)
		}
	}
}

func Test_toStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("x: %w", errs.ErrInvalidArgument), codes.InvalidArgument},
		{errs.ErrNotFound, codes.NotFound},
		{fmt.Errorf("create: %w", errs.ErrStorageUnavailable), codes.Unavailable},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{errs.Remote("query", string(model.Events), errors.New("conn refused")), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		if got := status.Code(toStatus("op", tc.err)); got != tc.want {
			t.Fatalf("%v: want %v, got %v", tc.err, tc.want, got)
		}
	}
}

func TestServer_WatchStreamsChanges(t *testing.T) {
	t.Parallel()

	auth, _ := newAuth(t, 10)
	content := newFakeContent()
	content.events = []model.ChangeEvent{
		{Type: model.ChangeInsert, Collection: model.Events, Record: model.Record{ID: "e1", Data: map[string]any{"title": "Summer Concert"}}},
		{Type: model.ChangeDelete, Collection: model.Events, Record: model.Record{ID: "e0", Data: map[string]any{}}},
	}
	cc := startBufGRPC(t, content, auth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := cc.NewStream(ctx, &ContentServiceDesc.Streams[0], MethodWatch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	in, _ := convert.Request(map[string]any{"collection": "events"})
	if err := stream.SendMsg(in); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = stream.CloseSend()
	md, err := stream.Header()
	if err != nil || len(md.Get("x-watch")) != 1 {
		t.Fatalf("header: %v md=%v", err, md)
	}

	var got []model.ChangeEvent
	for range content.events {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			t.Fatalf("recv: %v", err)
		}
		ev, err := convert.ChangeFromStruct(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, ev)
	}
	if got[0].Type != model.ChangeInsert || got[0].Record.ID != "e1" || got[0].Record.Data["title"] != "Summer Concert" {
		t.Fatalf("first event: %+v", got[0])
	}
	if got[1].Type != model.ChangeDelete || got[1].Record.ID != "e0" {
		t.Fatalf("second event: %+v", got[1])
	}

	cancel()
	select {
	case <-content.stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not released after client left")
	}
}

func TestServer_WatchSubscribeError(t *testing.T) {
	t.Parallel()

	auth, _ := newAuth(t, 10)
	cc := startBufGRPC(t, newFakeContent(), auth)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := cc.NewStream(ctx, &ContentServiceDesc.Streams[0], MethodWatch)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	in, _ := convert.Request(map[string]any{"collection": "orders"})
	_ = stream.SendMsg(in)
	_ = stream.CloseSend()
	err = stream.RecvMsg(new(structpb.Struct))
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("want Unavailable, got %v", err)
	}
}

// floodContent delivers more changes than the Watch buffer holds; its cancel
// waits for the delivering goroutine, as the realtime bridge does.
type floodContent struct {
	*fakeContent
}

func (f floodContent) Watch(_ context.Context, c model.Collection, _ model.Filter, onChange func(model.ChangeEvent)) (func(), error) {
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for i := 0; i < 3*watchBuffer; i++ {
			onChange(model.ChangeEvent{Type: model.ChangeInsert, Collection: c, Record: model.Record{ID: fmt.Sprint(i), Data: map[string]any{}}})
		}
	}()
	return func() { <-delivered }, nil
}

// brokenStream accepts the header, then fails every send while its context stays live.
type brokenStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (b brokenStream) Context() context.Context { return b.ctx }
func (b brokenStream) SendHeader(metadata.MD) error { return nil }
func (b brokenStream) SendMsg(any) error { return errors.New("transport is closing") }

func TestServer_WatchSendFailureReleasesSubscription(t *testing.T) {
	t.Parallel()

	srv := New(floodContent{newFakeContent()}, zaptest.NewLogger(t))
	in, _ := convert.Request(map[string]any{"collection": "events"})

	done := make(chan error, 1)
	go func() { done <- srv.Watch(in, brokenStream{ctx: context.Background()}) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("want send error")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("watch hung after a failed send")
	}
}
