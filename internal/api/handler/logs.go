package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/edvin/shipyard/internal/api/response"
	"github.com/edvin/shipyard/internal/core"
)

// Logs streams build log lines over WebSocket. Lines arrive from the
// builder's progress callbacks through the BuildLogHub; a subscriber that
// attaches mid-build first receives the buffered replay.
type Logs struct {
	svc *core.DeploymentService
	hub *core.BuildLogHub
}

func NewLogs(svc *core.DeploymentService, hub *core.BuildLogHub) *Logs {
	return &Logs{svc: svc, hub: hub}
}

const logWriteTimeout = 10 * time.Second

// Stream upgrades to WebSocket and relays the deployment's build log.
func (h *Logs) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		response.WriteError(w, http.StatusBadRequest, "missing deployment ID")
		return
	}

	deployment, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	replay, lines, cancel := h.hub.Subscribe(id)
	defer cancel()

	ctx := r.Context()
	for _, line := range replay {
		if err := writeLine(ctx, ws, line); err != nil {
			ws.Close(websocket.StatusInternalError, "write failed")
			return
		}
	}

	// A terminal deployment with an already-closed stream ends right after
	// the replay.
	if deployment.Status.IsTerminal() {
		select {
		case line, ok := <-lines:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "build finished")
				return
			}
			if err := writeLine(ctx, ws, line); err != nil {
				ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		default:
			ws.Close(websocket.StatusNormalClosure, "build finished")
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			ws.Close(websocket.StatusGoingAway, "client disconnected")
			return
		case line, ok := <-lines:
			if !ok {
				ws.Close(websocket.StatusNormalClosure, "build finished")
				return
			}
			if err := writeLine(ctx, ws, line); err != nil {
				ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func writeLine(ctx context.Context, ws *websocket.Conn, line string) error {
	wctx, cancel := context.WithTimeout(ctx, logWriteTimeout)
	defer cancel()
	return ws.Write(wctx, websocket.MessageText, []byte(line))
}
