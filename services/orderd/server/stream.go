package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"trustlink/advisory"
	"trustlink/dispatch"
)

const wsWriteTimeout = 10 * time.Second

// handleStream pushes the recomputed order view whenever the advisory row
// or a transition of the order changes.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	viewer, _ := ViewerFrom(r.Context())
	id, err := orderID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	detail, err := s.reader.Detail(r.Context(), id, viewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	rows, cancelRows := s.advisory.Subscribe(id)
	defer cancelRows()
	transitions, cancelTransitions := s.dispatcher.Subscribe(id)
	defer cancelTransitions()

	ctx := conn.CloseRead(r.Context())
	view := orderPayloadFrom(detail.View)
	if err := writeEvent(ctx, conn, streamEvent{Type: "view", Order: &view}); err != nil {
		return
	}
	if err := s.streamOrder(ctx, conn, id, rows, transitions); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.logger.Warn("order stream ended",
				slog.Uint64("order_id", id),
				slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamOrder(ctx context.Context, conn *websocket.Conn, id uint64, rows <-chan advisory.Row, transitions <-chan dispatch.Transition) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-rows:
			if !ok {
				return nil
			}
			if err := s.pushView(ctx, conn, id); err != nil {
				return err
			}
		case t, ok := <-transitions:
			if !ok {
				return nil
			}
			view, err := s.reader.View(ctx, id)
			if err != nil {
				s.logger.Warn("stream refresh failed",
					slog.Uint64("order_id", id),
					slog.Any("error", err))
				continue
			}
			payload := transitionPayloadFrom(t, view.Asset)
			if err := writeEvent(ctx, conn, streamEvent{Type: "transition", Transition: &payload}); err != nil {
				return err
			}
			if t.State.Final() {
				order := orderPayloadFrom(view)
				if err := writeEvent(ctx, conn, streamEvent{Type: "view", Order: &order}); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Server) pushView(ctx context.Context, conn *websocket.Conn, id uint64) error {
	view, err := s.reader.View(ctx, id)
	if err != nil {
		s.logger.Warn("stream refresh failed",
			slog.Uint64("order_id", id),
			slog.Any("error", err))
		return nil
	}
	order := orderPayloadFrom(view)
	return writeEvent(ctx, conn, streamEvent{Type: "view", Order: &order})
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event streamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
