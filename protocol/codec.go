package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed       = errors.New("malformed frame")
	ErrUnknownType     = errors.New("unknown frame type")
	ErrUnknownLanguage = errors.New("unknown language")
)

type envelope struct {
	Type Type `json:"type"`
}

// Decode parses a single frame. Errors wrap ErrMalformed, ErrUnknownType or
// ErrUnknownLanguage; callers drop the frame and keep the connection.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch env.Type {
	case TypeCodeUpdate:
		var msg struct {
			Code *string `json:"code"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Code == nil {
			return nil, fmt.Errorf("%w: code_update without code", ErrMalformed)
		}
		return CodeUpdate{Code: *msg.Code}, nil

	case TypeLanguageUpdate:
		var msg LanguageUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if !msg.Language.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLanguage, msg.Language)
		}
		return msg, nil

	case TypeCursorUpdate:
		var msg CursorUpdate
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil

	case TypeFullStateRequest:
		return FullStateRequest{}, nil

	case TypeFullState:
		var msg FullState
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return msg, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Encode renders an event as a flat JSON object with its "type" field.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case CodeUpdate:
		return json.Marshal(struct {
			Type Type `json:"type"`
			CodeUpdate
		}{e.Type(), e})
	case LanguageUpdate:
		return json.Marshal(struct {
			Type Type `json:"type"`
			LanguageUpdate
		}{e.Type(), e})
	case CursorUpdate:
		return json.Marshal(struct {
			Type Type `json:"type"`
			CursorUpdate
		}{e.Type(), e})
	case FullStateRequest:
		return json.Marshal(envelope{Type: e.Type()})
	case FullState:
		return json.Marshal(struct {
			Type Type `json:"type"`
			FullState
		}{e.Type(), e})
	case nil:
		return nil, fmt.Errorf("%w: nil event", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, ev)
	}
}
