package apihandlers

import (
	"errors"
	"fmt"
	"net/http"

	"bragi/internal/app"
	"bragi/internal/billing"
	"bragi/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	log "github.com/sirupsen/logrus"
)

type APIHandler struct {
	App *app.App
}

// NewAPIHandler creates the handler set over an initialized app.
func NewAPIHandler(a *app.App) *APIHandler {
	return &APIHandler{App: a}
}

// --- Batches ---

type createBatchRequest struct {
	ProjectID    string               `json:"project_id" binding:"required"`
	UserID       string               `json:"user_id" binding:"required"`
	TaskType     string               `json:"task_type" binding:"required"`
	Keys         []string             `json:"keys" binding:"required"`
	Concurrency  int                  `json:"concurrency"`
	CostPerItem  *int64               `json:"cost_per_item"`
	Continuation *models.Continuation `json:"continuation"`
	Bypass       bool                 `json:"bypass"`
}

// CreateBatchHandler reserves credits and starts a batch. The response is
// 202 with the initial job snapshot: items complete asynchronously and are
// observed via the status endpoint.
func (h *APIHandler) CreateBatchHandler(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Keys) == 0 {
		BadRequest(c, "keys must not be empty")
		return
	}

	executor, ok := h.App.Executor(req.TaskType)
	if !ok {
		BadRequest(c, fmt.Sprintf("unknown task type %q", req.TaskType))
		return
	}

	costPerItem := h.App.Config.CostPerItem(req.TaskType)
	if req.CostPerItem != nil {
		costPerItem = *req.CostPerItem
	}
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = h.App.Config.Batch.DefaultConcurrency
	}

	job, err := h.App.Settlement.RunMetered(c.Request.Context(), billing.MeteredParams{
		ProjectID:    req.ProjectID,
		UserID:       req.UserID,
		TaskType:     req.TaskType,
		Keys:         req.Keys,
		Concurrency:  concurrency,
		CostPerItem:  costPerItem,
		Continuation: req.Continuation,
		Bypass:       req.Bypass,
	}, executor)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			PaymentRequired(c, err.Error())
			return
		}
		if errors.Is(err, models.ErrValidation) {
			BadRequest(c, err.Error())
			return
		}
		Internal(c, fmt.Sprintf("CreateBatchHandler: failed to start batch: %v", err))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": job})
}

// GetBatchHandler returns a deep-copied snapshot of the job and its items.
func (h *APIHandler) GetBatchHandler(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid job id: "+err.Error())
		return
	}

	snap, err := h.App.Runner.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			NotFound(c, fmt.Sprintf("job %s not found", jobID))
			return
		}
		Internal(c, fmt.Sprintf("GetBatchHandler: %v", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// ListBatchesHandler lists jobs, newest first.
func (h *APIHandler) ListBatchesHandler(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	jobs, err := h.App.Registry.List(c.Request.Context(), limit, offset)
	if err != nil {
		Internal(c, fmt.Sprintf("ListBatchesHandler: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": jobs})
}

// CancelBatchHandler requests cooperative cancellation.
func (h *APIHandler) CancelBatchHandler(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid job id: "+err.Error())
		return
	}

	cancelled := h.App.Runner.Cancel(c.Request.Context(), jobID)
	if !cancelled {
		Conflict(c, fmt.Sprintf("job %s cannot be cancelled", jobID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancelled": true}})
}

// RetryBatchHandler resets failed items and re-drains them.
func (h *APIHandler) RetryBatchHandler(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		BadRequest(c, "Invalid job id: "+err.Error())
		return
	}

	snap, err := h.App.Runner.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			NotFound(c, fmt.Sprintf("job %s not found", jobID))
			return
		}
		Internal(c, fmt.Sprintf("RetryBatchHandler: %v", err))
		return
	}

	executor, ok := h.App.Executor(snap.Job.TaskType)
	if !ok {
		Internal(c, fmt.Sprintf("no executor for task type %q", snap.Job.TaskType))
		return
	}

	if !h.App.Runner.Retry(c.Request.Context(), jobID, executor) {
		Conflict(c, fmt.Sprintf("job %s is not retryable", jobID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"retried": true}})
}

// --- Credits ---

// BalanceHandler returns a user's credit balance.
func (h *APIHandler) BalanceHandler(c *gin.Context) {
	userID := c.Param("user_id")
	balance, err := h.App.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		Internal(c, fmt.Sprintf("BalanceHandler: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"user_id": userID, "balance": balance}})
}

type grantRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// GrantHandler adds credits to a user's balance.
func (h *APIHandler) GrantHandler(c *gin.Context) {
	userID := c.Param("user_id")
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if req.Amount <= 0 {
		BadRequest(c, "amount must be positive")
		return
	}

	if err := h.App.Ledger.Grant(c.Request.Context(), userID, req.Amount); err != nil {
		Internal(c, fmt.Sprintf("GrantHandler: %v", err))
		return
	}
	log.Infof("Granted %d credits to user %s", req.Amount, userID)

	balance, err := h.App.Ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		Internal(c, fmt.Sprintf("GrantHandler: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"user_id": userID, "balance": balance}})
}

// --- Generation (interactive) ---

type generateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// GenerateHandler runs one interactive call through the pacing lane and
// blocks until it resolves or the client goes away.
func (h *APIHandler) GenerateHandler(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	taskID, resultCh, err := h.App.Pacing.Submit(c.Request.Context(), req.Prompt, h.App.TextExecutor.InteractiveTask(req.Prompt))
	if err != nil {
		Internal(c, fmt.Sprintf("GenerateHandler: %v", err))
		return
	}

	select {
	case res := <-resultCh:
		if res.Err != nil {
			if errors.Is(res.Err, models.ErrRetriesExhausted) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": res.Err.Error()})
				return
			}
			Internal(c, fmt.Sprintf("GenerateHandler: %v", res.Err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"task_id": taskID, "result": res.Ref}})
	case <-c.Request.Context().Done():
		// The task stays in the lane; only the response is abandoned.
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "client went away", "task_id": taskID})
	}
}

// --- Usage ---

// UsageHandler returns the usage summary and recent entries.
func (h *APIHandler) UsageHandler(c *gin.Context) {
	totalCost, inTokens, outTokens, err := h.App.UsageStore.UsageSummary(c.Request.Context())
	if err != nil {
		Internal(c, fmt.Sprintf("UsageHandler: %v", err))
		return
	}
	entries, err := h.App.UsageStore.ListUsage(c.Request.Context(), intQuery(c, "limit", 20), intQuery(c, "offset", 0))
	if err != nil {
		Internal(c, fmt.Sprintf("UsageHandler: %v", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"total_cost":    totalCost,
		"input_tokens":  inTokens,
		"output_tokens": outTokens,
		"entries":       entries,
	}})
}

func intQuery(c *gin.Context, name string, def int) int {
	var v int
	if _, err := fmt.Sscanf(c.Query(name), "%d", &v); err != nil {
		return def
	}
	return v
}
