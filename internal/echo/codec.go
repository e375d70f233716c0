package echo

import (
	"bytes"
	"encoding/json"

	"endpoint-dispatcher/internal/model"
)

// ErrorMessage is returned in place of an echo when a POST body can't be used.
// Existing clients compare against this exact text.
const ErrorMessage = "Error recibiendo datos"

// Codec turns messages into response bodies and request bodies into messages.
type Codec interface {
	ContentType() string
	Encode(message string) []byte
	// Decode extracts the message from a POST body; false means the body
	// was empty or malformed.
	Decode(body []byte) (string, bool)
	// Failure is the body sent when Decode fails.
	Failure() []byte
}

// JSONCodec wraps messages in a model.Envelope.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return "application/json; charset=UTF-8" }

func (JSONCodec) Encode(message string) []byte {
	return encodeEnvelope(model.Envelope{Message: message})
}

// incoming accepts the legacy "mensaje" field next to "message".
type incoming struct {
	Message *string `json:"message"`
	Mensaje *string `json:"mensaje"`
}

func (JSONCodec) Decode(body []byte) (string, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", false
	}
	var in incoming
	if err := json.Unmarshal(body, &in); err != nil {
		return "", false
	}
	switch {
	case in.Message != nil:
		return *in.Message, true
	case in.Mensaje != nil:
		return *in.Mensaje, true
	}
	return "", false
}

func (JSONCodec) Failure() []byte {
	return encodeEnvelope(model.Envelope{Message: ErrorMessage, Error: true})
}

func encodeEnvelope(env model.Envelope) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// A struct of a string and a bool always encodes.
	_ = enc.Encode(env)
	return bytes.TrimRight(buf.Bytes(), "\n")
}

// TextCodec sends messages as raw text.
type TextCodec struct{}

func (TextCodec) ContentType() string { return "text/plain; charset=UTF-8" }

func (TextCodec) Encode(message string) []byte { return []byte(message) }

func (TextCodec) Decode(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	return string(body), true
}

func (TextCodec) Failure() []byte { return []byte(ErrorMessage) }
