package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/branchline/pkg/models"
)

type createThreadRequest struct {
	Title string `json:"title"`
}

type forkRequest struct {
	SourceBranchID  string `json:"sourceBranchId"`
	SourceMessageID string `json:"sourceMessageId"`
	Name            string `json:"name"`
}

type pinRequest struct {
	BranchID string `json:"branchId"`
}

// createThread handles POST /api/v1/threads
func (s *Server) createThread(c echo.Context) error {
	var req createThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	thread, branch, err := s.deps.Registry.CreateThread(c.Request().Context(), workspaceID(c), req.Title, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"thread": thread,
		"branch": branch,
	})
}

// listThreads handles GET /api/v1/threads
func (s *Server) listThreads(c echo.Context) error {
	threads, err := s.deps.Registry.ListThreads(c.Request().Context(), workspaceID(c))
	if err != nil {
		return err
	}
	if threads == nil {
		threads = make([]*models.Thread, 0)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"threads": threads})
}

// getThread handles GET /api/v1/threads/:threadId
func (s *Server) getThread(c echo.Context) error {
	thread, branches, err := s.deps.Registry.GetThread(c.Request().Context(), workspaceID(c), c.Param("threadId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"thread":   thread,
		"branches": branches,
	})
}

// forkBranch handles POST /api/v1/threads/:threadId/forks
func (s *Server) forkBranch(c echo.Context) error {
	var req forkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.SourceBranchID == "" || req.SourceMessageID == "" {
		return models.Errorf(models.CodeInvalidArgument, "sourceBranchId and sourceMessageId are required")
	}

	ctx := c.Request().Context()
	threadID := c.Param("threadId")
	if _, _, err := s.deps.Registry.GetThread(ctx, workspaceID(c), threadID); err != nil {
		return err
	}

	branch, err := s.deps.Registry.ForkBranch(ctx, threadID, req.SourceBranchID, req.SourceMessageID, req.Name, userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"branch": branch})
}

// pinBranch handles PUT /api/v1/threads/:threadId/pin
func (s *Server) pinBranch(c echo.Context) error {
	var req pinRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.BranchID == "" {
		return models.Errorf(models.CodeInvalidArgument, "branchId is required")
	}

	ctx := c.Request().Context()
	ws := workspaceID(c)
	threadID := c.Param("threadId")
	if _, _, err := s.deps.Registry.GetThread(ctx, ws, threadID); err != nil {
		return err
	}
	if err := s.deps.Registry.PinBranch(ctx, threadID, req.BranchID); err != nil {
		return err
	}

	thread, _, err := s.deps.Registry.GetThread(ctx, ws, threadID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"thread": thread})
}
