// Package scheduler implements the multi-tenant scheduler supervisor (C7):
// one global cron instance plus a per-tenant cron instance, constructed
// lazily and never stopped except by an explicit Remove.
package scheduler

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

// Job is a single cron entry as stored in a tenant's job store.
type Job struct {
	ID       string `json:"id"`
	Schedule string `json:"schedule"`
	AgentID  string `json:"agentId,omitempty"`
	Prompt   string `json:"prompt"`
}

// RunFunc executes one job firing and returns an error if the run failed.
// The supervisor supplies the session key and broadcasts lifecycle events
// around this call; the gateway wires in the actual agent-dispatch logic.
type RunFunc func(tenantID string, job Job, sessionKey string) error

// Broadcaster is the minimal event-fan-out surface the supervisor needs.
type Broadcaster interface {
	Broadcast(event string, payload any, dropIfSlow bool)
}

// tenantScheduler pairs a cron.Cron instance with the tenant it belongs to.
type tenantScheduler struct {
	tenantID string
	cron     *cron.Cron
	started  bool
	entries  map[string]cron.EntryID
}

// Supervisor owns the global scheduler and the per-tenant scheduler map.
type Supervisor struct {
	stateDir    string
	run         RunFunc
	broadcaster Broadcaster
	globallyEnabled bool

	mu       sync.Mutex
	global   *cron.Cron
	tenants  map[string]*tenantScheduler
}

func New(stateDir string, run RunFunc, broadcaster Broadcaster, globallyEnabled bool) *Supervisor {
	return &Supervisor{
		stateDir:        stateDir,
		run:             run,
		broadcaster:     broadcaster,
		globallyEnabled: globallyEnabled,
		tenants:         map[string]*tenantScheduler{},
	}
}

// GetGlobal returns the global cron instance, constructing it on first use.
func (s *Supervisor) GetGlobal() *cron.Cron {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getGlobalLocked()
}

func (s *Supervisor) getGlobalLocked() *cron.Cron {
	if s.global == nil {
		s.global = cron.New(cron.WithSeconds())
	}
	return s.global
}

// GetTenant returns the tenant's scheduler, or nil if it hasn't been
// ensured yet.
func (s *Supervisor) GetTenant(tenantID string) *cron.Cron {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	return ts.cron
}

// EnsureTenant constructs the tenant's scheduler on first call. Per the
// resolved lifecycle, once started a scheduler is never stopped except by
// explicit Remove: "ensure on first add, never stop."
func (s *Supervisor) EnsureTenant(tenantID string) *cron.Cron {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenantID]
	if ok {
		return ts.cron
	}

	ts = &tenantScheduler{
		tenantID: tenantID,
		cron:     cron.New(cron.WithSeconds()),
		entries:  map[string]cron.EntryID{},
	}
	s.tenants[tenantID] = ts

	if s.globallyEnabled {
		ts.cron.Start()
		ts.started = true
	}

	return ts.cron
}

// Remove stops and drops the tenant's scheduler.
func (s *Supervisor) Remove(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenantID]
	if !ok {
		return
	}
	if ts.started {
		ctx := ts.cron.Stop()
		<-ctx.Done()
	}
	delete(s.tenants, tenantID)
}

// ScheduleJob registers job against the tenant's scheduler, wiring each
// firing through runJob and tracking the returned entry ID so the job can
// later be updated or removed by job.ID.
func (s *Supervisor) ScheduleJob(tenantID string, job Job) (cron.EntryID, error) {
	s.EnsureTenant(tenantID)

	s.mu.Lock()
	ts := s.tenants[tenantID]
	s.mu.Unlock()

	id, err := ts.cron.AddFunc(job.Schedule, func() {
		s.runJob(tenantID, job)
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	ts.entries[job.ID] = id
	s.mu.Unlock()

	return id, nil
}

// unschedule cancels job's live cron entry, if any, leaving the tenant
// scheduler itself running.
func (s *Supervisor) unschedule(tenantID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.tenants[tenantID]
	if !ok {
		return
	}
	if id, ok := ts.entries[jobID]; ok {
		ts.cron.Remove(id)
		delete(ts.entries, jobID)
	}
}

func (s *Supervisor) runJob(tenantID string, job Job) {
	sessionKey := fmt.Sprintf("tenant:%s:cron:%s", tenantID, job.ID)
	eventName := fmt.Sprintf("tenant:%s:cron", tenantID)

	s.broadcaster.Broadcast(eventName, map[string]any{
		"jobId":  job.ID,
		"status": "started",
	}, true)

	start := time.Now()
	err := s.run(tenantID, job, sessionKey)
	duration := time.Since(start)

	status := "completed"
	var errMsg string
	if err != nil {
		status = "failed"
		errMsg = err.Error()
	}

	s.broadcaster.Broadcast(eventName, map[string]any{
		"jobId":    job.ID,
		"status":   status,
		"durationMs": duration.Milliseconds(),
		"error":    errMsg,
	}, true)

	if logErr := s.appendRunLog(tenantID, job.ID, status, duration, err); logErr != nil {
		slog.Warn("failed to append cron run log", "tenantId", tenantID, "jobId", job.ID, "error", logErr)
	}
}

func (s *Supervisor) appendRunLog(tenantID, jobID, status string, duration time.Duration, runErr error) error {
	layout := tenant.NewLayout(s.stateDir, tenantID)
	path := layout.CronRunLogFile(jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	line := fmt.Sprintf("%s status=%s durationMs=%d", time.Now().UTC().Format(time.RFC3339), status, duration.Milliseconds())
	if runErr != nil {
		line += fmt.Sprintf(" error=%q", runErr.Error())
	}
	line += "\n"

	_, err = f.WriteString(line)
	return err
}

// StartAll starts the global scheduler, then scans every tenant and starts
// a scheduler for each non-disabled tenant whose job store is non-empty.
func (s *Supervisor) StartAll(registry *tenant.Registry, loadJobs func(tenantID string) ([]Job, error)) error {
	s.mu.Lock()
	global := s.getGlobalLocked()
	s.mu.Unlock()
	global.Start()

	ids, err := registry.List()
	if err != nil {
		return fmt.Errorf("listing tenants for scheduler startup: %w", err)
	}

	for _, id := range ids {
		entry, ok, err := registry.Get(id)
		if err != nil || !ok || entry.Disabled {
			continue
		}

		jobs, err := loadJobs(id)
		if err != nil {
			slog.Warn("failed to load cron jobs for tenant", "tenantId", id, "error", err)
			continue
		}
		if len(jobs) == 0 {
			continue
		}

		for _, job := range jobs {
			if _, err := s.ScheduleJob(id, job); err != nil {
				slog.Warn("failed to schedule cron job", "tenantId", id, "jobId", job.ID, "error", err)
			}
		}
	}

	return nil
}

// StopAll stops the global scheduler and every tenant scheduler.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.global != nil {
		ctx := s.global.Stop()
		<-ctx.Done()
	}
	for _, ts := range s.tenants {
		if ts.started {
			ctx := ts.cron.Stop()
			<-ctx.Done()
		}
	}
}
