package widget

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateEnvelope(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"ready without payload", Envelope{Type: MessageReady}, false},
		{"processingStart without payload", Envelope{Type: MessageProcessingStart}, false},
		{"close with reason", NewEnvelope(MessageClose, ClosePayload{Reason: "user"}), false},
		{"close missing reason", NewEnvelope(MessageClose, ClosePayload{}), true},
		{"close missing payload", Envelope{Type: MessageClose}, true},
		{"error with code and message", NewEnvelope(MessageError, ErrorPayload{Code: "X", Message: "y"}), false},
		{"error missing code", NewEnvelope(MessageError, ErrorPayload{Message: "y"}), true},
		{"photoSelected camera", NewEnvelope(MessagePhotoSelected, PhotoSelectedPayload{Source: SourceCamera}), false},
		{"photoSelected upload", NewEnvelope(MessagePhotoSelected, PhotoSelectedPayload{Source: SourceUpload}), false},
		{"photoSelected modelUrl", NewEnvelope(MessagePhotoSelected, PhotoSelectedPayload{Source: SourceModelURL}), false},
		{"photoSelected bogus source", NewEnvelope(MessagePhotoSelected, PhotoSelectedPayload{Source: "screenshot"}), true},
		{"progress in range", NewEnvelope(MessageProcessingProgress, ProgressPayload{Progress: 42}), false},
		{"progress over 100", NewEnvelope(MessageProcessingProgress, ProgressPayload{Progress: 120}), true},
		{"progress negative", Envelope{Type: MessageProcessingProgress, Payload: json.RawMessage(`{"progress":-1}`)}, true},
		{"resize with dimensions", NewEnvelope(MessageResize, ResizePayload{Width: 360, Height: 640}), false},
		{"resize without payload", Envelope{Type: MessageResize}, false},
		{"resize with malformed payload", Envelope{Type: MessageResize, Payload: json.RawMessage(`{"width":`)}, true},
		{"malformed json payload", Envelope{Type: MessageError, Payload: json.RawMessage(`{"code":`)}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateEnvelope(tt.env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvelope(%s) error = %v, wantErr %v", tt.env.Type, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEnvelopeUnknownType(t *testing.T) {
	t.Parallel()

	err := ValidateEnvelope(Envelope{Type: "telemetry"})
	if !errors.Is(err, ErrUnknownMessageType) {
		t.Fatalf("expected ErrUnknownMessageType, got %v", err)
	}
}

func TestValidResultEnvelope(t *testing.T) {
	t.Parallel()

	env := Envelope{Type: MessageResult, Payload: json.RawMessage(
		`{"sessionId":"ts_1","imageUrl":"https://cdn/x.jpg","downloadUrl":"/api/v1/tryon/result/tr_1"}`)}
	if err := ValidateEnvelope(env); err != nil {
		t.Fatalf("complete result envelope rejected: %v", err)
	}

	partial := Envelope{Type: MessageResult, Payload: json.RawMessage(`{"sessionId":"ts_1"}`)}
	if err := ValidateEnvelope(partial); err == nil {
		t.Fatal("result envelope without image urls accepted")
	}
}
