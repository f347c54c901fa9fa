package grpcserver

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

func TestLoggingUnary(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("boom")
	cases := []struct {
		name    string
		method  string
		handler grpc.UnaryHandler
		level   zapcore.Level
		code    string
	}{
		{"ok", "/apinlero.Ops/Ping", func(context.Context, any) (any, error) { return "ok", nil }, zapcore.InfoLevel, "OK"},
		{"probe", healthPrefix + "Check", func(context.Context, any) (any, error) { return "ok", nil }, zapcore.DebugLevel, "OK"},
		{"failure", "/apinlero.Ops/Ping", func(context.Context, any) (any, error) { return nil, wantErr }, zapcore.ErrorLevel, "Unknown"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			ic := LoggingUnary(zap.New(core))
			ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})

			_, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: c.method}, c.handler)
			if c.code == "OK" && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if c.code != "OK" && !errors.Is(err, wantErr) {
				t.Fatalf("want original error, got: %v", err)
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("want one log entry, got %d", len(entries))
			}
			e := entries[0]
			if e.Level != c.level {
				t.Fatalf("level: got %v want %v", e.Level, c.level)
			}
			fields := e.ContextMap()
			if fields["method"] != c.method || fields["code"] != c.code || fields["peer"] != "127.0.0.1:12345" {
				t.Fatalf("fields mismatch: %v", fields)
			}
		})
	}
}

func TestRecoverUnary(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	ic := RecoverUnary(zap.New(core))
	info := &grpc.UnaryServerInfo{FullMethod: "/apinlero.Ops/Panic"}

	_, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { panic("oh no") })
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
	if logs.FilterMessage("panic").Len() != 1 {
		t.Fatalf("panic not logged")
	}

	resp, err := ic(context.Background(), "req", info, func(context.Context, any) (any, error) { return 42, nil })
	if err != nil || resp.(int) != 42 {
		t.Fatalf("passthrough: %v, %v", resp, err)
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptors(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	ss := fakeStream{ctx: peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})}
	info := &grpc.StreamServerInfo{FullMethod: healthPrefix + "Watch", IsServerStream: true}

	if err := LoggingStream(log)(nil, ss, info, func(any, grpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if logs.FilterMessage("grpc stream").Len() != 1 {
		t.Fatalf("stream not logged")
	}

	err := RecoverStream(log)(nil, ss, info, func(any, grpc.ServerStream) error { panic("stream blew up") })
	if st, ok := status.FromError(err); !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}
