package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/PabloGalante/clevercompass/internal/domain"
	"github.com/PabloGalante/clevercompass/internal/observability"
)

// EventSnapshot carries the full session state.
// Data schema: snapshotResponse
const EventSnapshot = "snapshot"

const keepAliveInterval = 25 * time.Second

// streamEvents sends the current snapshot and then one snapshot per state
// change until the client disconnects. Changes that arrive faster than the
// client reads are coalesced into the latest state.
func (s *Server) streamEvents(c *echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	w.WriteHeader(http.StatusOK)

	// the server WriteTimeout would otherwise end the stream
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	changed := make(chan struct{}, 1)
	cancel := sess.Subscribe(func(domain.Snapshot) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	ctx := c.Request().Context()
	log := observability.LoggerFromContext(ctx).With("session_id", sess.ID())
	log.Debug("event stream opened")
	defer log.Debug("event stream closed")

	if err := writeEvent(w, rc, EventSnapshot, toSnapshotResponse(sess.Snapshot())); err != nil {
		return nil
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := writeEvent(w, rc, EventSnapshot, toSnapshotResponse(sess.Snapshot())); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return nil
			}
			_ = rc.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
