package authorityv1

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mughalz/investordefend/internal/services/shared/session"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request field names.
const (
	FieldSessionID = "session_id"
	FieldAction    = "action"
)

// NewFetchSessionRequest builds a FetchSession request.
func NewFetchSessionRequest(sessionID string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSessionID: structpb.NewStringValue(sessionID),
	}}
}

// ParseFetchSessionRequest extracts the session ID.
func ParseFetchSessionRequest(in *structpb.Struct) (string, error) {
	return sessionIDField(in)
}

// NewSubmitActionRequest builds a SubmitAction request.
func NewSubmitActionRequest(sessionID string, action session.Action) (*structpb.Struct, error) {
	payload, err := toStruct(action)
	if err != nil {
		return nil, fmt.Errorf("encode action: %w", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldSessionID: structpb.NewStringValue(sessionID),
		FieldAction:    structpb.NewStructValue(payload),
	}}, nil
}

// ParseSubmitActionRequest extracts the session ID and action.
func ParseSubmitActionRequest(in *structpb.Struct) (string, session.Action, error) {
	sessionID, err := sessionIDField(in)
	if err != nil {
		return "", session.Action{}, err
	}
	payload := in.GetFields()[FieldAction].GetStructValue()
	if payload == nil {
		return "", session.Action{}, fmt.Errorf("%s is required", FieldAction)
	}
	var action session.Action
	if err := fromStruct(payload, &action); err != nil {
		return "", session.Action{}, fmt.Errorf("decode action: %w", err)
	}
	return sessionID, action, nil
}

// EncodeSession renders a session snapshot as a response. The simulation
// seed is withheld so participants cannot predict round outcomes.
func EncodeSession(s session.Session) (*structpb.Struct, error) {
	s.Seed = 0
	out, err := toStruct(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return out, nil
}

// DecodeSession parses a session snapshot response.
func DecodeSession(in *structpb.Struct) (session.Session, error) {
	var s session.Session
	if err := fromStruct(in, &s); err != nil {
		return session.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return s, nil
}

func sessionIDField(in *structpb.Struct) (string, error) {
	id := strings.TrimSpace(in.GetFields()[FieldSessionID].GetStringValue())
	if id == "" {
		return "", fmt.Errorf("%s is required", FieldSessionID)
	}
	return id, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
