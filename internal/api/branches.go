package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/branchline/internal/runtime"
	"github.com/branchline/pkg/models"
)

type sendMessageRequest struct {
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

type interruptRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Option string `json:"option"`
}

// branchID resolves the :branchId path parameter within the caller's workspace
func (s *Server) branchID(c echo.Context) (string, error) {
	branch, err := s.deps.Registry.ResolveBranch(c.Request().Context(), workspaceID(c), c.Param("branchId"))
	if err != nil {
		return "", err
	}
	return branch.ID, nil
}

// getBranch handles GET /api/v1/branches/:branchId
func (s *Server) getBranch(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	status, err := s.deps.Controller.BranchStatus(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// listMessages handles GET /api/v1/branches/:branchId/messages
func (s *Server) listMessages(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	msgs, err := s.deps.Registry.ListMessages(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = make([]*models.Message, 0)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"messages": msgs})
}

// sendMessage handles POST /api/v1/branches/:branchId/messages
func (s *Server) sendMessage(c echo.Context) error {
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	id, err := s.branchID(c)
	if err != nil {
		return err
	}

	res, err := s.deps.Controller.SendMessage(c.Request().Context(), runtime.SendRequest{
		BranchID:    id,
		Content:     req.Content,
		SubmittedBy: userID(c),
		Mode:        models.SendMode(req.Mode),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, res)
}

// listRuns handles GET /api/v1/branches/:branchId/runs
func (s *Server) listRuns(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	runs, err := s.deps.Controller.ListRuns(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = make([]*models.Run, 0)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

// listQueue handles GET /api/v1/branches/:branchId/queue
func (s *Server) listQueue(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	items, err := s.deps.Queue.List(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": nonNilItems(items)})
}

// reorderQueue handles PUT /api/v1/branches/:branchId/queue
func (s *Server) reorderQueue(c echo.Context) error {
	var req reorderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	items, err := s.deps.Queue.Reorder(c.Request().Context(), id, req.IDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"items": nonNilItems(items)})
}

// cancelQueueItem handles DELETE /api/v1/branches/:branchId/queue/:itemId
func (s *Server) cancelQueueItem(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	if err := s.deps.Queue.Cancel(c.Request().Context(), id, c.Param("itemId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// interrupt handles POST /api/v1/branches/:branchId/interrupt
func (s *Server) interrupt(c echo.Context) error {
	var req interruptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "interrupted by user"
	}
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	cancelled, err := s.deps.Controller.Interrupt(c.Request().Context(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// listDecisions handles GET /api/v1/branches/:branchId/decisions
func (s *Server) listDecisions(c echo.Context) error {
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	decisions, err := s.deps.Controller.PendingDecisions(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if decisions == nil {
		decisions = make([]*models.Decision, 0)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"decisions": decisions})
}

// resolveDecision handles POST /api/v1/branches/:branchId/decisions/:decisionId/resolve
func (s *Server) resolveDecision(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	id, err := s.branchID(c)
	if err != nil {
		return err
	}
	res, err := s.deps.Controller.ResolveDecision(c.Request().Context(), id, c.Param("decisionId"), req.Option)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func nonNilItems(items []*models.QueueItem) []*models.QueueItem {
	if items == nil {
		return make([]*models.QueueItem, 0)
	}
	return items
}
