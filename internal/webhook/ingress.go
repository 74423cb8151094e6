package webhook

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/dto"
	"github.com/printglide/renderqueue/internal/models"
	"github.com/printglide/renderqueue/middleware"
)

// JobLookupInterface resolves provider correlation ids to internal jobs.
type JobLookupInterface interface {
	GetByProviderID(ctx context.Context, providerJobID string) (*models.Job, error)
}

// EventRepoInterface records processed event keys; Record reports false for
// a key that was already seen, Forget releases a key whose transition did
// not go through.
type EventRepoInterface interface {
	Record(ctx context.Context, eventKey, jobID, status string) (bool, error)
	Forget(ctx context.Context, eventKey string) error
}

// MachineInterface is the lifecycle surface the ingress drives.
type MachineInterface interface {
	Progress(ctx context.Context, job *models.Job, providerStatus, logs string) error
	Succeed(ctx context.Context, job *models.Job, output []string, processingSeconds float64) error
	Fail(ctx context.Context, job *models.Job, message string) error
	Cancel(ctx context.Context, job *models.Job) error
}

// Ingress is the boundary adapter between provider notifications and the
// lifecycle machine. It guarantees the machine sees each physical event at
// most once even when upstream delivery is at-least-once.
type Ingress struct {
	jobs    JobLookupInterface
	events  EventRepoInterface
	machine MachineInterface
}

func NewIngress(jobs JobLookupInterface, events EventRepoInterface, machine MachineInterface) *Ingress {
	return &Ingress{jobs: jobs, events: events, machine: machine}
}

// Handle validates the notification, maps it to a job through the stored
// correlation id, suppresses duplicates, and applies the matching lifecycle
// transition. Unknown correlation ids are logged and rejected, never
// retried.
func (i *Ingress) Handle(c *gin.Context) {
	var payload dto.ProviderWebhookDTO
	if !middleware.Bind(c, &payload) {
		c.Abort()
		return
	}

	ctx := c.Request.Context()

	job, err := i.jobs.GetByProviderID(ctx, payload.ProviderJobID)
	if err != nil {
		log.Printf("[WEBHOOK] unknown correlation id %q (status %s)", payload.ProviderJobID, payload.Status)
		c.JSON(http.StatusNotFound, common.APIError{Message: "unknown provider job id"})
		return
	}

	fresh, err := i.events.Record(ctx, eventKey(&payload), job.ID, payload.Status)
	if err != nil {
		c.Error(common.Errf(http.StatusInternalServerError, "failed to record webhook event"))
		c.Abort()
		return
	}
	if !fresh {
		log.Printf("[WEBHOOK] duplicate event for job %s (status %s), suppressed", job.ID, payload.Status)
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	if err := i.apply(ctx, job, &payload); err != nil {
		// Release the key so the provider's redelivery of this event gets
		// another run at the transition instead of a duplicate answer.
		if ferr := i.events.Forget(ctx, eventKey(&payload)); ferr != nil {
			log.Printf("[WEBHOOK] could not release event key %q for job %s: %v", eventKey(&payload), job.ID, ferr)
		}
		c.Error(common.Errf(http.StatusInternalServerError, "failed to apply webhook event"))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func (i *Ingress) apply(ctx context.Context, job *models.Job, payload *dto.ProviderWebhookDTO) error {
	switch payload.Status {
	case "starting", "processing":
		return i.machine.Progress(ctx, job, payload.Status, payload.Logs)
	case "succeeded":
		seconds := 0.0
		if payload.Metrics != nil {
			seconds = payload.Metrics.ProcessingTimeSeconds
		}
		return i.machine.Succeed(ctx, job, payload.Output, seconds)
	case "failed":
		message := payload.Error
		if message == "" {
			message = "provider reported failure without details"
		}
		return i.machine.Fail(ctx, job, message)
	case "canceled":
		return i.machine.Cancel(ctx, job)
	}
	// Unreachable: the DTO validator pins the status set.
	return nil
}

// eventKey prefers the provider's event id; without one, correlation id plus
// status identifies the physical event.
func eventKey(payload *dto.ProviderWebhookDTO) string {
	if payload.EventID != "" {
		return payload.EventID
	}
	return payload.ProviderJobID + ":" + payload.Status
}
