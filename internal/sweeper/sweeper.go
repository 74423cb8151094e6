package sweeper

import (
	"context"
	"log"
	"sync"
	"time"
)

// MachineInterface is the lifecycle surface the sweeper consumes. The
// sweeper never transitions jobs itself; it only drives the machine's own
// API.
type MachineInterface interface {
	SweepStale(ctx context.Context) (int, error)
	RefreshPriorities(ctx context.Context) (int, error)
	DispatchNext(ctx context.Context, userID string)
}

// UserSourceInterface lists users whose queues may need a pump.
type UserSourceInterface interface {
	UsersWithDispatchableJobs(ctx context.Context, now time.Time) ([]string, error)
}

// Sweeper periodically force-fails stale processing jobs, re-scores queued
// priorities so wait-time boosts take effect, and re-pumps user queues whose
// backoff gates have opened. It is the external scheduler the core state
// machine assumes exists.
type Sweeper struct {
	machine  MachineInterface
	users    UserSourceInterface
	interval time.Duration
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func New(machine MachineInterface, users UserSourceInterface, interval time.Duration) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		machine:  machine,
		users:    users,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Sweeper) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sweeper) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep() {
	swept, err := s.machine.SweepStale(s.ctx)
	if err != nil {
		log.Printf("[SWEEPER] stale sweep failed: %v", err)
	} else if swept > 0 {
		log.Printf("[SWEEPER] force-failed %d stale jobs", swept)
	}

	rescored, err := s.machine.RefreshPriorities(s.ctx)
	if err != nil {
		log.Printf("[SWEEPER] priority refresh failed: %v", err)
	} else if rescored > 0 {
		log.Printf("[SWEEPER] re-scored %d queued jobs", rescored)
	}

	users, err := s.users.UsersWithDispatchableJobs(s.ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[SWEEPER] listing dispatchable users failed: %v", err)
		return
	}
	for _, userID := range users {
		s.machine.DispatchNext(s.ctx, userID)
	}
}

func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
}
