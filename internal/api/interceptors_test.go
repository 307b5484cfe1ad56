package api

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestRecoveryInterceptor(t *testing.T) {
	rec := RecoveryUnaryInterceptor(nil)
	_, err := rec(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x"}, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestLoggingInterceptor(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	interceptor := LoggingUnaryInterceptor(&logger)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDKey, "req-42"))
	resp, err := interceptor(ctx, nil, info, func(context.Context, any) (any, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Contains(t, buf.String(), `"code":"OK"`)

	buf.Reset()
	_, err = interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "nope")
	})
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"code":"NotFound"`)
}

func TestRequestIDFromMetadata(t *testing.T) {
	assert.NotEmpty(t, requestIDFromMetadata(context.Background()))
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDKey, "abc"))
	assert.Equal(t, "abc", requestIDFromMetadata(ctx))
}
