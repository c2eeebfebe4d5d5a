// Package grpcdial wraps platform dialing with service-labeled startup
// errors.
package grpcdial

import (
	"context"
	"errors"
	"fmt"

	platformgrpc "github.com/mughalz/investordefend/internal/platform/grpc"
	gogrpc "google.golang.org/grpc"
)

// DialService dials a dependency and waits for it to report healthy.
func DialService(ctx context.Context, serviceLabel, addr string, cfg platformgrpc.DialConfig) (*gogrpc.ClientConn, error) {
	conn, err := platformgrpc.Dial(ctx, addr, cfg)
	if err != nil {
		return nil, NormalizeDialError(serviceLabel, addr, err)
	}
	return conn, nil
}

// NormalizeDialError maps platform DialError stages into stable startup
// error messages.
func NormalizeDialError(serviceLabel, addr string, err error) error {
	var dialErr *platformgrpc.DialError
	if errors.As(err, &dialErr) {
		if dialErr.Stage == platformgrpc.DialStageHealth {
			return fmt.Errorf("%s gRPC health check failed for %s: %w", serviceLabel, addr, dialErr.Err)
		}
		return fmt.Errorf("dial %s gRPC %s: %w", serviceLabel, addr, dialErr.Err)
	}
	return fmt.Errorf("dial %s gRPC %s: %w", serviceLabel, addr, err)
}
