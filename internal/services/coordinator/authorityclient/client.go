// Package authorityclient talks to the authority over gRPC on behalf of
// one participant.
package authorityclient

import (
	"context"
	"time"

	authorityv1 "github.com/mughalz/investordefend/api/authority/v1"
	apperrors "github.com/mughalz/investordefend/internal/platform/errors"
	"github.com/mughalz/investordefend/internal/platform/timeouts"
	"github.com/mughalz/investordefend/internal/services/shared/grpcauthctx"
	"github.com/mughalz/investordefend/internal/services/shared/session"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client implements the coordinator's Authority and the sync loop's
// Fetcher. Every call carries the participant grant and is bounded by
// the request timeout.
type Client struct {
	rpc           authorityv1.AuthorityServiceClient
	grant         string
	participantID string
	timeout       time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithParticipantID tags calls with the participant for server logs.
func WithParticipantID(id string) Option {
	return func(c *Client) { c.participantID = id }
}

// New builds a client over conn authenticated by grant.
func New(conn grpc.ClientConnInterface, grant string, opts ...Option) *Client {
	c := &Client{
		rpc:     authorityv1.NewAuthorityServiceClient(conn),
		grant:   grant,
		timeout: timeouts.GRPCRequest,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSession returns the authoritative snapshot.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (session.Session, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.rpc.FetchSession(ctx, authorityv1.NewFetchSessionRequest(sessionID))
	if err != nil {
		return session.Session{}, apperrors.FromGRPCStatus(err)
	}
	return decode(resp)
}

// SubmitAction forwards action and returns the resulting snapshot.
func (c *Client) SubmitAction(ctx context.Context, sessionID string, action session.Action) (session.Session, error) {
	req, err := authorityv1.NewSubmitActionRequest(sessionID, action)
	if err != nil {
		return session.Session{}, apperrors.Wrap(apperrors.CodeInvalidAction, err.Error(), err)
	}
	ctx, cancel := c.callContext(ctx)
	defer cancel()
	resp, err := c.rpc.SubmitAction(ctx, req)
	if err != nil {
		return session.Session{}, apperrors.FromGRPCStatus(err)
	}
	return decode(resp)
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = grpcauthctx.WithBearer(ctx, c.grant)
	ctx = grpcauthctx.WithParticipantID(ctx, c.participantID)
	return context.WithTimeout(ctx, c.timeout)
}

func decode(resp *structpb.Struct) (session.Session, error) {
	s, err := authorityv1.DecodeSession(resp)
	if err != nil {
		return session.Session{}, apperrors.Wrap(apperrors.CodeSyncFailed, err.Error(), err)
	}
	return s, nil
}
