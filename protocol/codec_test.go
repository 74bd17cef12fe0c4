package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Event
		wantErr error
	}{
		{
			name:  "code update",
			input: `{"type":"code_update","code":"x=1"}`,
			want:  CodeUpdate{Code: "x=1"},
		},
		{
			name:  "code update with empty document",
			input: `{"type":"code_update","code":""}`,
			want:  CodeUpdate{Code: ""},
		},
		{
			name:    "code update without code",
			input:   `{"type":"code_update"}`,
			wantErr: ErrMalformed,
		},
		{
			name:  "language update",
			input: `{"type":"language_update","language":"python"}`,
			want:  LanguageUpdate{Language: LanguagePython},
		},
		{
			name:    "language update with unknown language",
			input:   `{"type":"language_update","language":"cobol"}`,
			wantErr: ErrUnknownLanguage,
		},
		{
			name:  "cursor update",
			input: `{"type":"cursor_update","position":{"line":3,"column":7}}`,
			want:  CursorUpdate{Position: Position{Line: 3, Column: 7}},
		},
		{
			name:  "full state request",
			input: `{"type":"request_full_state"}`,
			want:  FullStateRequest{},
		},
		{
			name:  "full state",
			input: `{"type":"full_state","code":"print(1)","language":"python","token":"t1"}`,
			want:  FullState{Code: "print(1)", Language: LanguagePython, Token: "t1"},
		},
		{
			name:    "unknown type",
			input:   `{"type":"chat_message","text":"hi"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing type",
			input:   `{"code":"x"}`,
			wantErr: ErrMalformed,
		},
		{
			name:    "invalid json",
			input:   `{"type":`,
			wantErr: ErrMalformed,
		},
		{
			name:    "wrong field type",
			input:   `{"type":"code_update","code":42}`,
			wantErr: ErrMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEncode_FlatObjectWithType(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  map[string]any
	}{
		{
			name:  "code update keeps empty code",
			event: CodeUpdate{Code: ""},
			want:  map[string]any{"type": "code_update", "code": ""},
		},
		{
			name:  "language update",
			event: LanguageUpdate{Language: LanguageJava},
			want:  map[string]any{"type": "language_update", "language": "java"},
		},
		{
			name:  "full state request",
			event: FullStateRequest{},
			want:  map[string]any{"type": "request_full_state"},
		},
		{
			name:  "full state without token",
			event: FullState{Code: "c", Language: LanguageCPP},
			want:  map[string]any{"type": "full_state", "code": "c", "language": "cpp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.event)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Encode() = %s, want keys %v", data, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestEncode_CursorCarriesSender(t *testing.T) {
	data, err := Encode(CursorUpdate{
		Position:     Position{Line: 2, Column: 5},
		ConnectionID: "conn-1",
		User:         "alice",
	})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	ev, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	cursor, ok := ev.(CursorUpdate)
	if !ok {
		t.Fatalf("expected CursorUpdate, got %T", ev)
	}
	if cursor.ConnectionID != "conn-1" || cursor.User != "alice" {
		t.Errorf("sender not preserved: %+v", cursor)
	}
	if cursor.Position.Line != 2 || cursor.Position.Column != 5 {
		t.Errorf("position not preserved: %+v", cursor.Position)
	}
}

func TestEncode_Nil(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}
