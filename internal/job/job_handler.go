package job

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/dto"
	"github.com/printglide/renderqueue/internal/models"
	"github.com/printglide/renderqueue/middleware"
)

type JobHandler struct {
	manager    QueueManagerInterface
	lifecycle  LifecycleInterface
	jobs       JobReaderInterface
	membership MembershipInterface
	credits    CreditServiceInterface
}

func NewJobHandler(
	manager QueueManagerInterface,
	lifecycle LifecycleInterface,
	jobs JobReaderInterface,
	membership MembershipInterface,
	credits CreditServiceInterface,
) *JobHandler {
	return &JobHandler{
		manager:    manager,
		lifecycle:  lifecycle,
		jobs:       jobs,
		membership: membership,
		credits:    credits,
	}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Submit handles a batch generation request: resolves the caller's tier,
// runs admission, and kicks dispatch for any capacity the user has free.
// Returns HTTP 201 with job ids, the credit total and a wait estimate.
func (h *JobHandler) Submit(c *gin.Context) {
	var req dto.SubmitBatchDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	tier, err := h.membership.TierFor(c.Request.Context(), req.UserID)
	if err != nil {
		c.Error(common.Errf(http.StatusBadGateway, "failed to resolve subscription tier"))
		c.Abort()
		return
	}

	resp, err := h.manager.Admit(c.Request.Context(), req.UserID, tier, req.Specs)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	h.lifecycle.DispatchNext(c.Request.Context(), req.UserID)

	c.JSON(http.StatusCreated, resp)
}

// Get handles HTTP requests to fetch a job by its ID.
func (h *JobHandler) Get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "Invalid ID"})
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, common.APIError{Message: "Job not found"})
		return
	}

	c.JSON(http.StatusOK, toJobResponse(job))
}

// List handles HTTP requests to retrieve a user's jobs, optionally filtered
// by status.
func (h *JobHandler) List(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "user parameter is required"})
		return
	}

	status := config.JobStatus(c.Query("status"))

	jobs, err := h.jobs.ListByUser(c.Request.Context(), userID, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.APIError{Message: "failed to list jobs"})
		return
	}

	out := make([]dto.JobResponseDTO, len(jobs))
	for i := range jobs {
		out[i] = toJobResponse(&jobs[i])
	}
	c.JSON(http.StatusOK, out)
}

// Stats returns the derived queue statistics view.
func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.manager.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Cancel explicitly cancels a queued or processing job. Cancelling an
// already-terminal job is a no-op and still returns 204.
func (h *JobHandler) Cancel(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return
	}

	job, err := h.jobs.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, common.APIError{Message: "Job not found"})
		return
	}

	if err := h.lifecycle.Cancel(c.Request.Context(), job); err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, "failed to cancel job"))
		return
	}

	c.Status(http.StatusNoContent)
}

// Credits returns a user's balance with their recent ledger entries.
func (h *JobHandler) Credits(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, common.APIError{Message: "invalid user ID"})
		return
	}

	balance, err := h.credits.Balance(c.Request.Context(), userID)
	if err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, "failed to load balance"))
		return
	}

	entries, err := h.credits.Entries(c.Request.Context(), userID, 50)
	if err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, "failed to load ledger entries"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"balance": balance,
		"entries": entries,
	})
}

// Grant adds credits to a user's balance (purchases, promotions).
func (h *JobHandler) Grant(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.Error(common.Errf(http.StatusBadRequest, "invalid user ID"))
		return
	}

	var body struct {
		Amount int    `json:"amount" validate:"required,gt=0"`
		Reason string `json:"reason" validate:"required"`
	}
	if !middleware.Bind(c, &body) {
		return
	}

	if err := h.credits.Grant(c.Request.Context(), userID, body.Amount, body.Reason); err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, "failed to grant credits"))
		return
	}

	c.Status(http.StatusNoContent)
}

func toJobResponse(job *models.Job) dto.JobResponseDTO {
	return dto.JobResponseDTO{
		ID:               job.ID,
		UserID:           job.UserID,
		Type:             string(job.Type),
		Status:           string(job.Status),
		Priority:         job.Priority,
		Attempt:          job.Attempt,
		MaxAttempts:      job.MaxAttempts,
		EstimatedCredits: job.EstimatedCredits,
		ActualCredits:    job.ActualCredits,
		Output:           json.RawMessage(job.Output),
		ErrorCategory:    job.ErrorCategory,
		ErrorMessage:     job.ErrorMessage,
		QueuedAt:         job.QueuedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
}
