package grpcdial

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/mughalz/investordefend/internal/platform/grpc"
)

func TestNormalizeDialErrorLabelsStages(t *testing.T) {
	cause := errors.New("refused")
	health := NormalizeDialError("authority", "localhost:8092", &platformgrpc.DialError{Stage: platformgrpc.DialStageHealth, Err: cause})
	if !strings.Contains(health.Error(), "authority gRPC health check failed for localhost:8092") {
		t.Fatalf("health error = %q", health)
	}
	if !errors.Is(health, cause) {
		t.Fatal("health error does not wrap the cause")
	}

	connect := NormalizeDialError("authority", "localhost:8092", &platformgrpc.DialError{Stage: platformgrpc.DialStageConnect, Err: cause})
	if !strings.HasPrefix(connect.Error(), "dial authority gRPC localhost:8092") {
		t.Fatalf("connect error = %q", connect)
	}

	plain := NormalizeDialError("authority", "localhost:8092", cause)
	if !errors.Is(plain, cause) {
		t.Fatal("plain error does not wrap the cause")
	}
}

func TestDialServiceFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := DialService(ctx, "authority", "127.0.0.1:1", platformgrpc.DialConfig{
		Timeout: 100 * time.Millisecond,
		Options: platformgrpc.DefaultClientDialOptions(),
	})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if !strings.Contains(err.Error(), "authority") {
		t.Fatalf("error = %q, want service label", err)
	}
}
