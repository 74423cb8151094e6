package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/datatypes"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/credit"
	"github.com/printglide/renderqueue/internal/models"
	"github.com/printglide/renderqueue/internal/queue"
)

// Event is a lifecycle trigger applied to a job's current status.
type Event string

const (
	EventDispatch Event = "dispatch"
	EventProgress Event = "progress"
	EventSucceed  Event = "succeed"
	EventFail     Event = "fail"
	EventCancel   Event = "cancel"
)

// transitions is the legal (status, event) -> status table. Anything absent
// is rejected by construction; terminal statuses have no rows at all, so a
// re-delivered terminal webhook can never move a job again.
var transitions = map[config.JobStatus]map[Event]config.JobStatus{
	config.JobStatusQueued: {
		EventDispatch: config.JobStatusProcessing,
		EventCancel:   config.JobStatusCancelled,
	},
	config.JobStatusProcessing: {
		EventProgress: config.JobStatusProcessing,
		EventSucceed:  config.JobStatusCompleted,
		EventFail:     config.JobStatusFailed,
		EventCancel:   config.JobStatusCancelled,
	},
}

// ErrIllegalTransition reports an event with no row in the table for the
// job's current status.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

func nextStatus(from config.JobStatus, event Event) (config.JobStatus, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrIllegalTransition, event, from)
}

// Machine owns every job status transition. Handlers check the current
// status first and no-op on terminal jobs, so at-least-once webhook delivery
// collapses to exactly-once effects.
type Machine struct {
	repo       JobRepoInterface
	ledger     LedgerInterface
	dequeuer   DequeuerInterface
	provider   ProviderInterface
	membership MembershipInterface
	retry      *queue.RetryPolicy
	cfg        *config.QueueConfig
	now        func() time.Time
}

func NewMachine(
	repo JobRepoInterface,
	ledger LedgerInterface,
	dequeuer DequeuerInterface,
	provider ProviderInterface,
	membership MembershipInterface,
	retry *queue.RetryPolicy,
	cfg *config.QueueConfig,
) *Machine {
	return &Machine{
		repo:       repo,
		ledger:     ledger,
		dequeuer:   dequeuer,
		provider:   provider,
		membership: membership,
		retry:      retry,
		cfg:        cfg,
		now:        time.Now,
	}
}

// DispatchNext drains the user's dequeueable jobs into the provider until
// either the queue is empty or the user's processing slots are full. Safe to
// call from racing terminal transitions: the slot claim is a conditional
// update, so at most one caller wins each freed slot.
func (m *Machine) DispatchNext(ctx context.Context, userID string) {
	for {
		job, err := m.dequeuer.DequeueNext(ctx, userID)
		if err != nil {
			log.Printf("[LIFECYCLE] dequeue for user %s failed: %v", userID, err)
			return
		}
		if job == nil {
			return
		}

		claimed, err := m.Dispatch(ctx, job)
		if err != nil {
			log.Printf("[LIFECYCLE] dispatch of job %s failed: %v", job.ID, err)
			return
		}
		if !claimed {
			return
		}
	}
}

// Dispatch moves a queued job into processing and submits it to the render
// provider. Returns false when no processing slot was free or another
// dispatcher claimed the job first. A synchronous provider failure is
// routed through the same failure handling as an asynchronous one.
func (m *Machine) Dispatch(ctx context.Context, job *models.Job) (bool, error) {
	if _, err := nextStatus(job.Status, EventDispatch); err != nil {
		if job.Status.IsTerminal() {
			return false, nil
		}
		return false, err
	}

	tier, err := m.membership.TierFor(ctx, job.UserID)
	if err != nil {
		return false, fmt.Errorf("resolve tier: %w", err)
	}

	claimed, err := m.repo.ClaimProcessing(ctx, job, m.cfg.ConcurrencyLimit(tier), m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim processing: %w", err)
	}
	if !claimed {
		return false, nil
	}

	providerJobID, err := m.provider.DispatchJob(ctx, job)
	if err != nil {
		m.handleFailure(ctx, job, common.CategoryOf(err), err.Error())
		return true, nil
	}

	if err := m.repo.MarkDispatched(ctx, job.ID, providerJobID); err != nil {
		// The provider holds the job but we lost the correlation id; the
		// stale sweep will eventually fail it and refund.
		return true, fmt.Errorf("record correlation id: %w", err)
	}
	return true, nil
}

// Progress folds an intermediate provider report into the job's metadata.
// No status change, no credit movement.
func (m *Machine) Progress(ctx context.Context, job *models.Job, providerStatus, logs string) error {
	if _, err := nextStatus(job.Status, EventProgress); err != nil {
		if job.Status.IsTerminal() {
			return nil
		}
		return err
	}

	meta := map[string]any{}
	if len(job.Metadata) > 0 {
		if err := json.Unmarshal(job.Metadata, &meta); err != nil {
			meta = map[string]any{}
		}
	}
	meta["provider_status"] = providerStatus
	if logs != "" {
		meta["provider_logs"] = logs
	}
	merged, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("merge progress metadata: %w", err)
	}
	return m.repo.UpdateMetadata(ctx, job.ID, datatypes.JSON(merged))
}

// Succeed applies the completed transition: persist the provider output,
// flip the status, then settle the reservation and hand the freed slot to
// the user's next queued job. The reservation is resolved only after the
// completed CAS wins, so any earlier failure leaves it held and refundable
// by the terminal-failure path. An internal error while persisting output
// fail-terminals the job instead of leaving it in processing limbo.
func (m *Machine) Succeed(ctx context.Context, job *models.Job, output []string, processingSeconds float64) error {
	if _, err := nextStatus(job.Status, EventSucceed); err != nil {
		if job.Status.IsTerminal() {
			return nil
		}
		return err
	}

	outputJSON, err := json.Marshal(map[string]any{
		"artifacts":               output,
		"processing_time_seconds": processingSeconds,
	})
	if err != nil {
		m.failTerminal(ctx, job, common.CategoryInternal, "failed to encode provider output")
		return nil
	}

	// Actual cost equals the estimate until metered pricing exists.
	actual := job.EstimatedCredits

	if err := m.repo.SaveOutput(ctx, job.ID, datatypes.JSON(outputJSON), actual); err != nil {
		m.failTerminal(ctx, job, common.CategoryInternal, "failed to persist generation output")
		return nil
	}

	finished, err := m.repo.FinishFromProcessing(ctx, job.ID, config.JobStatusCompleted, m.now().UTC(), "", "")
	if err != nil {
		// Reservation still held; redelivery retries this event and the
		// stale sweep refunds if the provider gives up.
		return fmt.Errorf("complete job: %w", err)
	}
	if !finished {
		return nil
	}

	if _, err := m.ledger.Settle(ctx, job.ID, actual); err != nil &&
		!errors.Is(err, credit.ErrReservationResolved) {
		// Balance already carries the full reserved charge; only the
		// reservation bookkeeping is left dangling.
		log.Printf("[LIFECYCLE] settle for completed job %s failed: %v", job.ID, err)
	}

	m.DispatchNext(ctx, job.UserID)
	return nil
}

// Fail applies a provider-reported failure, choosing between a backoff
// retry and a terminal failure via the retry policy.
func (m *Machine) Fail(ctx context.Context, job *models.Job, message string) error {
	if _, err := nextStatus(job.Status, EventFail); err != nil {
		if job.Status.IsTerminal() {
			return nil
		}
		return err
	}
	m.handleFailure(ctx, job, common.CategorizeMessage(message), message)
	return nil
}

// Cancel explicitly cancels a job from either non-terminal state, refunds
// its reservation, and frees its slots. Already-terminal jobs are a no-op.
func (m *Machine) Cancel(ctx context.Context, job *models.Job) error {
	if _, err := nextStatus(job.Status, EventCancel); err != nil {
		if job.Status.IsTerminal() {
			return nil
		}
		return err
	}

	var moved bool
	var err error
	switch job.Status {
	case config.JobStatusQueued:
		moved, err = m.repo.CancelQueued(ctx, job.ID, m.now().UTC())
	case config.JobStatusProcessing:
		moved, err = m.repo.FinishFromProcessing(ctx, job.ID, config.JobStatusCancelled, m.now().UTC(), "", "")
	}
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if !moved {
		return nil
	}

	if err := m.ledger.RefundJob(ctx, job.ID, "job cancelled"); err != nil &&
		!errors.Is(err, credit.ErrReservationResolved) {
		log.Printf("[LIFECYCLE] refund after cancel of job %s failed: %v", job.ID, err)
	}
	m.DispatchNext(ctx, job.UserID)
	return nil
}

// SweepStale force-fails jobs stuck in processing past the staleness
// timeout, reusing the terminal failure path so refunds and queue progress
// hold even when the provider never calls back. Returns how many jobs it
// failed.
func (m *Machine) SweepStale(ctx context.Context) (int, error) {
	cutoff := m.now().UTC().Add(-m.cfg.StaleAfter)
	stale, err := m.repo.ListStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}

	swept := 0
	for i := range stale {
		job := stale[i]
		log.Printf("[LIFECYCLE] sweeping stale job %s (processing since %v)", job.ID, job.StartedAt)
		if m.failTerminal(ctx, &job, common.CategoryTimeout, "no provider callback within the processing timeout") {
			swept++
		}
	}
	return swept, nil
}

// RefreshPriorities re-scores every queued job against the current clock so
// the wait-time boost of aged jobs actually moves them up the dispatch
// order. Returns how many rows changed. Jobs whose tier lookup or update
// fails are skipped, not fatal.
func (m *Machine) RefreshPriorities(ctx context.Context) (int, error) {
	queued, err := m.repo.ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	now := m.now().UTC()
	tiers := map[string]config.Tier{}
	updated := 0
	for i := range queued {
		job := &queued[i]

		tier, ok := tiers[job.UserID]
		if !ok {
			tier, err = m.membership.TierFor(ctx, job.UserID)
			if err != nil {
				log.Printf("[LIFECYCLE] tier lookup for user %s failed: %v", job.UserID, err)
				continue
			}
			tiers[job.UserID] = tier
		}

		score := queue.Priority(m.cfg, tier, job.Type, job.QueuedAt, now)
		if score == job.Priority {
			continue
		}
		if err := m.repo.UpdatePriority(ctx, job.ID, score); err != nil {
			log.Printf("[LIFECYCLE] priority update for job %s failed: %v", job.ID, err)
			continue
		}
		updated++
	}
	return updated, nil
}

// handleFailure runs the retry decision for a processing job. Retryable
// failures park the job behind a backoff gate without touching credits; the
// reservation outlives retries.
func (m *Machine) handleFailure(ctx context.Context, job *models.Job, category common.ErrorCategory, message string) {
	if m.retry.ShouldRetry(category, job.Attempt, job.MaxAttempts) {
		delay := m.retry.Backoff(job.Attempt)
		nextRetry := m.now().UTC().Add(delay)
		moved, err := m.repo.RequeueForRetry(ctx, job.ID, job.Attempt+1, nextRetry, string(category), message)
		if err != nil {
			log.Printf("[LIFECYCLE] requeue of job %s failed: %v", job.ID, err)
			return
		}
		if moved {
			log.Printf("[LIFECYCLE] job %s retrying in %v (attempt %d/%d)", job.ID, delay.Round(time.Millisecond), job.Attempt+1, job.MaxAttempts)
		}
		return
	}
	m.failTerminal(ctx, job, category, message)
}

// failTerminal refunds first, then exposes the failed status, so a user
// never observes a failed job with credits still withheld.
func (m *Machine) failTerminal(ctx context.Context, job *models.Job, category common.ErrorCategory, message string) bool {
	if err := m.ledger.RefundJob(ctx, job.ID, "job failed: "+message); err != nil &&
		!errors.Is(err, credit.ErrReservationResolved) {
		log.Printf("[LIFECYCLE] refund for failed job %s failed: %v", job.ID, err)
	}

	finished, err := m.repo.FinishFromProcessing(ctx, job.ID, config.JobStatusFailed, m.now().UTC(), string(category), message)
	if err != nil {
		log.Printf("[LIFECYCLE] terminal failure of job %s failed: %v", job.ID, err)
		return false
	}
	if finished {
		m.DispatchNext(ctx, job.UserID)
	}
	return finished
}
