package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/branchline/internal/eventlog"
	"github.com/branchline/pkg/models"
)

const wsWriteTimeout = 15 * time.Second

// Frame types sent over the event websocket
const (
	FrameEvent = "event"
	FrameLive  = "live"
	FrameError = "error"
)

// CodeSubscriberLagged tells a websocket client to reconnect from its last sequence
const CodeSubscriberLagged = "SUBSCRIBER_LAGGED"

type wsFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type wsError struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	LastSequence int64  `json:"lastSequence"`
}

func parseCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	after, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || after < 0 {
		return 0, models.Errorf(models.CodeInvalidArgument, "after must be a non-negative integer")
	}
	return after, nil
}

// listEvents handles GET /api/v1/branches/:branchId/events (polling endpoint)
func (s *Server) listEvents(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	after, err := parseCursor(c.QueryParam("after"))
	if err != nil {
		return err
	}

	limit, maxLimit := s.deps.Events.PageLimits()
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return models.Errorf(models.CodeInvalidArgument, "limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	page, err := s.deps.Events.Page(c.Request().Context(), id, after, limit)
	if err != nil {
		return err
	}

	events := page.Events
	if events == nil {
		events = make([]*models.Event, 0)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"meta": map[string]interface{}{
			"branchId":   id,
			"count":      len(events),
			"limit":      limit,
			"after":      after,
			"nextCursor": page.Next,
			"hasMore":    page.HasMore,
		},
	})
}

// streamEvents handles GET /api/v1/branches/:branchId/events/ws. It sends the
// backlog after the cursor, one live frame, then events as they are appended.
func (s *Server) streamEvents(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	after, err := parseCursor(c.QueryParam("after"))
	if err != nil {
		return err
	}

	ws, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		// Accept has already written the failure response
		return nil
	}
	defer ws.CloseNow()

	// clients never send; CloseRead cancels ctx when the peer goes away
	ctx := ws.CloseRead(c.Request().Context())

	sub, err := s.deps.Events.Subscribe(ctx, id, after)
	if err != nil {
		_ = writeFrame(ctx, ws, wsFrame{Type: FrameError, Data: wsError{Code: string(models.CodeOf(err)), Message: err.Error(), LastSequence: after}})
		ws.Close(websocket.StatusInternalError, "subscribe failed")
		return nil
	}
	defer sub.Close()

	last := after
	for _, ev := range sub.Backlog {
		if err := writeFrame(ctx, ws, wsFrame{Type: FrameEvent, Data: ev}); err != nil {
			return nil
		}
		last = ev.Sequence
	}
	if err := writeFrame(ctx, ws, wsFrame{Type: FrameLive}); err != nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				if errors.Is(sub.Err(), eventlog.ErrSubscriberLagged) {
					log.Warn().Str("branch_id", id).Int64("last_sequence", last).Msg("Closing lagged websocket subscriber")
					_ = writeFrame(ctx, ws, wsFrame{Type: FrameError, Data: wsError{
						Code:         CodeSubscriberLagged,
						Message:      "subscriber fell behind; reconnect with after=lastSequence",
						LastSequence: last,
					}})
					ws.Close(websocket.StatusTryAgainLater, "lagged")
					return nil
				}
				ws.Close(websocket.StatusNormalClosure, "stream ended")
				return nil
			}
			if err := writeFrame(ctx, ws, wsFrame{Type: FrameEvent, Data: ev}); err != nil {
				return nil
			}
			last = ev.Sequence
		}
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, frame wsFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, ws, frame)
}
