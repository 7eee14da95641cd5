package scheduler

import (
	"errors"
	"fmt"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

// ErrJobExists and ErrJobNotFound let callers outside this package
// distinguish these conditions with errors.Is rather than string matching.
var (
	ErrJobExists   = errors.New("cron job already exists")
	ErrJobNotFound = errors.New("cron job not found")
)

// LoadJobs returns tenantID's persisted cron jobs. Its signature matches
// the loadJobs callback StartAll expects, so it can be passed directly.
func (s *Supervisor) LoadJobs(tenantID string) ([]Job, error) {
	return loadJobFile(tenant.NewLayout(s.stateDir, tenantID).CronJobsFile())
}

// CreateJob persists a new job for tenantID and schedules it immediately.
func (s *Supervisor) CreateJob(tenantID string, job Job) (Job, error) {
	path := tenant.NewLayout(s.stateDir, tenantID).CronJobsFile()

	jobs, err := loadJobFile(path)
	if err != nil {
		return Job{}, err
	}
	for _, existing := range jobs {
		if existing.ID == job.ID {
			return Job{}, fmt.Errorf("cron job %q already exists: %w", job.ID, ErrJobExists)
		}
	}
	jobs = append(jobs, job)
	if err := saveJobFile(path, jobs); err != nil {
		return Job{}, err
	}

	if _, err := s.ScheduleJob(tenantID, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// GetJob returns a single persisted job.
func (s *Supervisor) GetJob(tenantID, jobID string) (Job, bool, error) {
	jobs, err := s.LoadJobs(tenantID)
	if err != nil {
		return Job{}, false, err
	}
	for _, job := range jobs {
		if job.ID == jobID {
			return job, true, nil
		}
	}
	return Job{}, false, nil
}

// ListJobs returns every persisted job for tenantID.
func (s *Supervisor) ListJobs(tenantID string) ([]Job, error) {
	return s.LoadJobs(tenantID)
}

// UpdateJob replaces an existing job's definition on disk and reschedules
// it against the live cron instance.
func (s *Supervisor) UpdateJob(tenantID string, job Job) (Job, error) {
	path := tenant.NewLayout(s.stateDir, tenantID).CronJobsFile()

	jobs, err := loadJobFile(path)
	if err != nil {
		return Job{}, err
	}
	found := false
	for i, existing := range jobs {
		if existing.ID == job.ID {
			jobs[i] = job
			found = true
			break
		}
	}
	if !found {
		return Job{}, fmt.Errorf("cron job %q not found: %w", job.ID, ErrJobNotFound)
	}
	if err := saveJobFile(path, jobs); err != nil {
		return Job{}, err
	}

	s.unschedule(tenantID, job.ID)
	if _, err := s.ScheduleJob(tenantID, job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// RemoveJob deletes a persisted job and cancels its live cron entry.
func (s *Supervisor) RemoveJob(tenantID, jobID string) error {
	path := tenant.NewLayout(s.stateDir, tenantID).CronJobsFile()

	jobs, err := loadJobFile(path)
	if err != nil {
		return err
	}
	kept := jobs[:0:0]
	found := false
	for _, existing := range jobs {
		if existing.ID == jobID {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return fmt.Errorf("cron job %q not found: %w", jobID, ErrJobNotFound)
	}
	if err := saveJobFile(path, kept); err != nil {
		return err
	}

	s.unschedule(tenantID, jobID)
	return nil
}

// RunJobNow fires job immediately, outside its normal schedule, reusing
// the same broadcast and run-log path as a regular firing.
func (s *Supervisor) RunJobNow(tenantID, jobID string) (Job, error) {
	job, ok, err := s.GetJob(tenantID, jobID)
	if err != nil {
		return Job{}, err
	}
	if !ok {
		return Job{}, fmt.Errorf("cron job %q not found: %w", jobID, ErrJobNotFound)
	}
	s.runJob(tenantID, job)
	return job, nil
}
