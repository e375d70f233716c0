// Package echo implements the echo endpoints: a small method-driven handler
// that reflects the request back through a Codec.
package echo

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"endpoint-dispatcher/internal/route"

	"go.uber.org/zap"
)

// AllowedMethods is advertised on OPTIONS and on 405 responses.
const AllowedMethods = "GET,POST,DELETE,OPTIONS"

// Handler answers GET, POST, DELETE and OPTIONS. It holds only its codec and
// logger, so one instance serves any number of concurrent requests.
type Handler struct {
	codec  Codec
	logger *zap.Logger
}

// New returns a handler that encodes and decodes bodies with codec.
func New(codec Codec, logger *zap.Logger) *Handler {
	return &Handler{codec: codec, logger: logger}
}

// NewJSON returns a handler speaking model.Envelope JSON.
func NewJSON(logger *zap.Logger) *Handler { return New(JSONCodec{}, logger) }

// NewText returns a handler speaking plain text.
func NewText(logger *zap.Logger) *Handler { return New(TextCodec{}, logger) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch strings.ToUpper(r.Method) {
	case http.MethodGet:
		h.write(w, h.codec.Encode(route.Suffix(r)))

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			h.logger.Warn("Failed to read request body", zap.String("path", r.URL.Path), zap.Error(err))
			h.write(w, h.codec.Failure())
			return
		}
		msg, ok := h.codec.Decode(body)
		if !ok {
			h.write(w, h.codec.Failure())
			return
		}
		h.write(w, h.codec.Encode(msg))

	case http.MethodDelete:
		w.WriteHeader(http.StatusOK)

	case http.MethodOptions:
		w.Header().Set("Allow", AllowedMethods)
		w.WriteHeader(http.StatusOK)

	default:
		w.Header().Set("Allow", AllowedMethods)
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) write(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", h.codec.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("Failed to write response", zap.Error(err))
	}
}
