package grpcauthctx

import (
	"context"
	"testing"

	"google.golang.org/grpc/metadata"
)

func TestWithBearerAppendsMetadataWhenPresent(t *testing.T) {
	ctx := WithBearer(context.Background(), "tok-123")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatalf("expected outgoing metadata context")
	}
	values := md.Get(AuthorizationHeader)
	if len(values) != 1 || values[0] != "Bearer tok-123" {
		t.Fatalf("metadata %s = %v, want [Bearer tok-123]", AuthorizationHeader, values)
	}
}

func TestWithBearerNoopWhenEmpty(t *testing.T) {
	ctx := WithBearer(context.Background(), "   ")
	if md, ok := metadata.FromOutgoingContext(ctx); ok && len(md.Get(AuthorizationHeader)) > 0 {
		t.Fatalf("expected no %s metadata, got %v", AuthorizationHeader, md.Get(AuthorizationHeader))
	}
}

func TestWithParticipantIDAppendsMetadataWhenPresent(t *testing.T) {
	ctx := WithParticipantID(context.Background(), "part-456")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatalf("expected outgoing metadata context")
	}
	if values := md.Get(ParticipantIDHeader); len(values) != 1 || values[0] != "part-456" {
		t.Fatalf("metadata %s = %v, want [part-456]", ParticipantIDHeader, values)
	}
}

func TestBearerFromIncoming(t *testing.T) {
	if _, ok := BearerFromIncoming(context.Background()); ok {
		t.Fatal("expected no token without metadata")
	}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "bearer tok-9"))
	token, ok := BearerFromIncoming(ctx)
	if !ok || token != "tok-9" {
		t.Fatalf("token = %q, %v; want tok-9", token, ok)
	}
	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs(AuthorizationHeader, "Basic abc"))
	if _, ok := BearerFromIncoming(ctx); ok {
		t.Fatal("expected basic auth to be ignored")
	}
}
