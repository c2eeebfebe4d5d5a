// Package grpcauthctx carries participant grants in gRPC metadata.
package grpcauthctx

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Metadata keys.
const (
	AuthorizationHeader = "authorization"
	// ParticipantIDHeader is informational; the authority trusts the grant.
	ParticipantIDHeader = "x-investordefend-participant-id"
	bearerPrefix        = "Bearer "
)

// WithBearer returns a context whose outgoing calls carry token.
func WithBearer(ctx context.Context, token string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationHeader, bearerPrefix+token)
}

// WithParticipantID returns a context with participant-id metadata when
// participantID is non-empty.
func WithParticipantID(ctx context.Context, participantID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, ParticipantIDHeader, participantID)
}

// BearerFromIncoming returns the bearer token of an incoming call.
func BearerFromIncoming(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, value := range md.Get(AuthorizationHeader) {
		if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
			return strings.TrimSpace(value[len(bearerPrefix):]), true
		}
	}
	return "", false
}
