package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/fetchguard/fetchguard/internal/errors"
	"github.com/fetchguard/fetchguard/internal/observability"
	"github.com/fetchguard/fetchguard/internal/reqstream"
)

// StreamHandler serves the live request feed and its control route.
type StreamHandler struct {
	buffer *reqstream.Buffer
	stream *reqstream.Stream

	closing   chan struct{}
	closeOnce sync.Once
}

// NewStreamHandler serves batches from buffer through stream.
func NewStreamHandler(buffer *reqstream.Buffer, stream *reqstream.Stream) *StreamHandler {
	return &StreamHandler{buffer: buffer, stream: stream, closing: make(chan struct{})}
}

// Close ends every open event stream and refuses new ones. The server calls it
// on shutdown, since a subscriber never goes idle on its own.
func (h *StreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// ControlRequest is the body of POST /api/stream/control.
type ControlRequest struct {
	reqstream.ConfigUpdate
	Clear bool `json:"clear,omitempty"`
}

// ControlResponse reports the configuration after a control command.
type ControlResponse struct {
	OK     bool             `json:"ok"`
	Config reqstream.Config `json:"config"`
}

// Requests streams batches as server-sent events until the client disconnects
// or the handler is closed.
func (h *StreamHandler) Requests(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.closing:
		respondWithError(w, r, apperrors.NewServiceUnavailableError("Server is shutting down"))
		return
	default:
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-h.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := rc.Flush(); err != nil {
		w.Header().Del("Content-Type")
		respondWithError(w, r, apperrors.NewStreamingUnsupportedError("Response writer does not support streaming"))
		return
	}
	// The server-wide write timeout would otherwise cut the stream.
	_ = rc.SetWriteDeadline(time.Time{})

	logger := observability.ServerLogger
	if logger != nil {
		logger.Debug("Stream subscriber connected", zap.Int64("subscribers", h.stream.Subscribers()+1))
	}

	err := h.stream.Run(ctx, func(batch reqstream.Batch) error {
		payload, err := json.Marshal(batch)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		return rc.Flush()
	})

	if logger != nil {
		fields := []zap.Field{zap.Int64("subscribers", h.stream.Subscribers())}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Debug("Stream subscriber disconnected", fields...)
	}
}

// Control updates the stream configuration and optionally clears the buffer.
func (h *StreamHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}

	cfg := h.buffer.Configure(req.ConfigUpdate)
	if req.Clear {
		h.buffer.Clear()
	}

	writeJSON(w, http.StatusOK, ControlResponse{OK: true, Config: cfg})
}
