// Package widget defines the cross-frame message protocol and session
// descriptor shared by the host loader and the embedded widget.
package widget

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies one tag of the widget message union.
type MessageType string

const (
	MessageReady              MessageType = "ready"
	MessageOpen               MessageType = "open"
	MessageClose              MessageType = "close"
	MessageResult             MessageType = "result"
	MessageError              MessageType = "error"
	MessagePhotoSelected      MessageType = "photoSelected"
	MessageProcessingStart    MessageType = "processingStart"
	MessageProcessingProgress MessageType = "processingProgress"
	MessageResize             MessageType = "resize"
)

// ErrUnknownMessageType marks envelopes outside the closed tag set.
// Callers drop these silently instead of treating them as failures.
var ErrUnknownMessageType = errors.New("unknown widget message type")

// Envelope is the typed wire format passed between the host page and the
// embedded frame. The payload shape depends on Type.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClosePayload carries the reason the widget was dismissed.
type ClosePayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload relays an error code plus its human-readable message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PhotoSource identifies which acquisition path produced the user photo.
type PhotoSource string

const (
	SourceCamera   PhotoSource = "camera"
	SourceUpload   PhotoSource = "upload"
	SourceModelURL PhotoSource = "modelUrl"
)

// PhotoSelectedPayload announces that a photo has been acquired.
type PhotoSelectedPayload struct {
	Source PhotoSource `json:"source"`
}

// ProgressPayload carries a 0-100 progress percentage.
type ProgressPayload struct {
	Progress int `json:"progress"`
}

// ResizePayload requests a frame dimension change.
type ResizePayload struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// NewEnvelope builds an envelope with a marshaled payload. It panics only on
// unmarshalable payloads, which would be a programming error.
func NewEnvelope(t MessageType, payload any) Envelope {
	if payload == nil {
		return Envelope{Type: t}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("widget: unmarshalable payload for %s: %v", t, err))
	}
	return Envelope{Type: t, Payload: raw}
}

// ValidateEnvelope checks an incoming envelope against the closed tag set and
// the required payload fields for its tag. Unknown tags return
// ErrUnknownMessageType; malformed payloads return a descriptive error. Either
// way the caller logs and drops the message rather than propagating it.
func ValidateEnvelope(env Envelope) error {
	switch env.Type {
	case MessageReady, MessageProcessingStart:
		return nil

	case MessageOpen:
		return nil

	case MessageClose:
		var p ClosePayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if p.Reason == "" {
			return fmt.Errorf("close message missing reason")
		}
		return nil

	case MessageResult:
		var p struct {
			SessionID   string `json:"sessionId"`
			ImageURL    string `json:"imageUrl"`
			DownloadURL string `json:"downloadUrl"`
		}
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if p.SessionID == "" || p.ImageURL == "" || p.DownloadURL == "" {
			return fmt.Errorf("result message missing required fields")
		}
		return nil

	case MessageError:
		var p ErrorPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if p.Code == "" || p.Message == "" {
			return fmt.Errorf("error message missing code or message")
		}
		return nil

	case MessagePhotoSelected:
		var p PhotoSelectedPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		switch p.Source {
		case SourceCamera, SourceUpload, SourceModelURL:
			return nil
		}
		return fmt.Errorf("photoSelected message has invalid source %q", p.Source)

	case MessageProcessingProgress:
		var p ProgressPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if p.Progress < 0 || p.Progress > 100 {
			return fmt.Errorf("progress %d out of range", p.Progress)
		}
		return nil

	case MessageResize:
		// Both dimensions are optional, so an absent payload is the empty
		// resize request.
		if len(env.Payload) == 0 {
			return nil
		}
		var p ResizePayload
		return decodePayload(env, &p)
	}

	return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
}

func decodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%s message has malformed payload: %w", env.Type, err)
	}
	return nil
}
