package authority

import (
	"context"
	"strings"

	authorityv1 "github.com/mughalz/investordefend/api/authority/v1"
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/services/authority/grant"
	"github.com/mughalz/investordefend/internal/services/shared/grpcauthctx"
	"google.golang.org/grpc"
)

type participantKey struct{}

// ParticipantFromContext returns the participant authenticated by
// AuthInterceptor.
func ParticipantFromContext(ctx context.Context) string {
	id, _ := ctx.Value(participantKey{}).(string)
	return id
}

func withParticipant(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, participantKey{}, participantID)
}

// AuthInterceptor validates the participant grant on every authority
// call. Other services on the same server, such as health, pass through.
func AuthInterceptor(cfg grant.VerifierConfig, locale string) grpc.UnaryServerInterceptor {
	prefix := "/" + authorityv1.ServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		token, _ := grpcauthctx.BearerFromIncoming(ctx)
		claims, err := grant.Validate(token, cfg)
		if err != nil {
			if apperrors.CodeOf(err) == apperrors.CodeUnknown {
				err = apperrors.Wrap(apperrors.CodeUnauthorized, "grant could not be verified", err)
			}
			return nil, apperrors.HandleError(err, locale)
		}
		return handler(withParticipant(ctx, claims.ParticipantID), req)
	}
}
