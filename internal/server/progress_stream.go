package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleProgressStream upgrades to a websocket and pushes progress ticks
// of one run until the run finishes or the client disconnects.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, cancel, err := s.runs.Subscribe(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The dashboard may be served from a different origin in dev.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn().Str("run_id", id).Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				// Run finished, the manager closed the channel.
				return
			}
			writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, update)
			done()
			if err != nil {
				s.log.Debug().Str("run_id", id).Err(err).Msg("Progress subscriber dropped")
				return
			}
		}
	}
}
