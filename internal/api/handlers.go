package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nadmax/siteqa/internal/auth"
	"github.com/nadmax/siteqa/internal/httputil"
	"github.com/nadmax/siteqa/internal/metrics"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
	"github.com/nadmax/siteqa/internal/task"
)

type CreateTaskRequest struct {
	URL      string `json:"url"`
	Question string `json:"question"`
}

func (a *API) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Website Q&A API Server",
		"version": "1.0.0",
	})
}

func (a *API) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, httputil.OK(map[string]string{
		"owner_id": auth.OwnerID(c),
	}))
}

func (a *API) listTasks(c echo.Context) error {
	owner := auth.OwnerID(c)

	tasks, err := a.store.ListByOwner(c.Request().Context(), owner)
	if err != nil {
		a.log.Error().Err(err).Str("owner_id", owner).Msg("failed to list tasks")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to fetch tasks", err)))
	}
	return c.JSON(http.StatusOK, httputil.OK(tasks))
}

func (a *API) createTask(c echo.Context) error {
	ctx := c.Request().Context()
	owner := auth.OwnerID(c)

	var req CreateTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, httputil.Err("Invalid JSON"))
	}

	if err := a.validator.ValidateURL(ctx, req.URL); err != nil {
		return c.JSON(http.StatusBadRequest, httputil.Err(err.Error()))
	}
	question, err := ValidateQuestion(req.Question)
	if err != nil {
		return c.JSON(http.StatusBadRequest, httputil.Err(err.Error()))
	}

	tsk := task.New(owner, req.URL, question)
	if err := a.store.Create(ctx, tsk); err != nil {
		a.log.Error().Err(err).Msg("failed to create task")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to create task", err)))
	}

	if err := a.queue.Enqueue(ctx, queue.NewEntry(tsk.ID, tsk.URL, tsk.Question)); err != nil {
		// Compensating cleanup: never leave a task silently stuck at
		// pending with no queue entry behind it.
		a.markEnqueueFailed(c, tsk.ID)
		a.log.Error().Err(err).Str("task_id", tsk.ID).Msg("failed to enqueue task")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to enqueue task", err)))
	}

	metrics.TasksSubmitted.Inc()
	a.log.Info().Str("task_id", tsk.ID).Str("owner_id", owner).Msg("task submitted")
	return c.JSON(http.StatusCreated, httputil.OK(tsk))
}

func (a *API) deleteTask(c echo.Context) error {
	ctx := c.Request().Context()

	tsk, status, errResp := a.loadOwnedTask(c)
	if errResp != nil {
		return c.JSON(status, *errResp)
	}

	if err := a.store.Delete(ctx, tsk.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, httputil.Err("Task not found"))
		}
		a.log.Error().Err(err).Str("task_id", tsk.ID).Msg("failed to delete task")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to delete task", err)))
	}

	a.log.Info().Str("task_id", tsk.ID).Msg("task deleted")
	return c.JSON(http.StatusOK, httputil.OK(nil))
}

func (a *API) retryTask(c echo.Context) error {
	ctx := c.Request().Context()

	tsk, status, errResp := a.loadOwnedTask(c)
	if errResp != nil {
		return c.JSON(status, *errResp)
	}

	pending := task.StatusPending
	update := store.Update{
		Status:          &pending,
		ClearAnswer:     true,
		ClearExtraction: true,
		ClearError:      true,
	}
	if err := a.store.Update(ctx, tsk.ID, update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(http.StatusNotFound, httputil.Err("Task not found"))
		}
		a.log.Error().Err(err).Str("task_id", tsk.ID).Msg("failed to reset task")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to retry task", err)))
	}

	if err := a.queue.Enqueue(ctx, queue.NewEntry(tsk.ID, tsk.URL, tsk.Question)); err != nil {
		a.markEnqueueFailed(c, tsk.ID)
		a.log.Error().Err(err).Str("task_id", tsk.ID).Msg("failed to enqueue retry")
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to enqueue task", err)))
	}

	a.log.Info().Str("task_id", tsk.ID).Msg("task queued for retry")
	return c.JSON(http.StatusOK, httputil.OK(nil))
}

func (a *API) queueStats(c echo.Context) error {
	stats, err := a.queue.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to read queue stats", err)))
	}
	return c.JSON(http.StatusOK, httputil.OK(stats))
}

func (a *API) queueRecent(c echo.Context) error {
	ctx := c.Request().Context()

	completed, err := a.queue.RecentCompleted(ctx, 20)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to read queue history", err)))
	}
	failed, err := a.queue.RecentFailed(ctx, 20)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, httputil.Err(a.detail("Failed to read queue history", err)))
	}

	return c.JSON(http.StatusOK, httputil.OK(map[string]any{
		"completed": completed,
		"failed":    failed,
	}))
}

// loadOwnedTask resolves the :id route param to a task owned by the
// caller, mapping failures to 404/403/500 envelopes.
func (a *API) loadOwnedTask(c echo.Context) (*task.Task, int, *httputil.Response) {
	id := c.Param("id")
	owner := auth.OwnerID(c)

	tsk, err := a.store.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			resp := httputil.Err("Task not found")
			return nil, http.StatusNotFound, &resp
		}
		a.log.Error().Err(err).Str("task_id", id).Msg("failed to load task")
		resp := httputil.Err(a.detail("Failed to load task", err))
		return nil, http.StatusInternalServerError, &resp
	}
	if tsk.OwnerID != owner {
		resp := httputil.Err("Forbidden - Not your task")
		return nil, http.StatusForbidden, &resp
	}
	return tsk, http.StatusOK, nil
}

func (a *API) markEnqueueFailed(c echo.Context, taskID string) {
	failed := task.StatusFailed
	msg := "failed to enqueue task for processing"
	err := a.store.Update(c.Request().Context(), taskID, store.Update{Status: &failed, Error: &msg})
	if err != nil {
		a.log.Error().Err(err).Str("task_id", taskID).Msg("failed to record enqueue failure")
	}
}

// detail hides internals in production mode.
func (a *API) detail(public string, err error) string {
	if a.production {
		return public
	}
	return public + ": " + err.Error()
}
