package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

const (
	rateLimitWindowMinute = time.Minute
	rateLimitWindowHour   = time.Hour
)

// tenantLock is a per-tenant mutex, so disk and lock contention from one
// tenant's usage file never serializes another's (spec: "shard by tenant
// id", not one global lock over the registry and all usage files).
type tenantLock struct {
	mu sync.Mutex
}

// Ledger owns the per-tenant usage snapshot and rate-limit state files
// under each tenant's usage/ subdirectory.
type Ledger struct {
	stateDir string

	locksMu sync.Mutex
	locks   map[string]*tenantLock
}

func NewLedger(stateDir string) *Ledger {
	return &Ledger{
		stateDir: stateDir,
		locks:    map[string]*tenantLock{},
	}
}

func (l *Ledger) lockFor(tenantID string) *tenantLock {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	lk, ok := l.locks[tenantID]
	if !ok {
		lk = &tenantLock{}
		l.locks[tenantID] = lk
	}
	return lk
}

func (l *Ledger) layout(tenantID string) tenant.Layout {
	return tenant.NewLayout(l.stateDir, tenantID)
}

func currentPeriod(now time.Time) string {
	return now.UTC().Format("2006-01")
}

// LoadUsage reads the current snapshot. If the stored period differs from
// the current calendar month, the stored snapshot is archived under its
// period label and a fresh zeroed snapshot for the new period is returned.
func (l *Ledger) LoadUsage(tenantID string) (UsageSnapshot, error) {
	lk := l.lockFor(tenantID)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	return l.loadUsageLocked(tenantID, time.Now())
}

func (l *Ledger) loadUsageLocked(tenantID string, now time.Time) (UsageSnapshot, error) {
	layout := l.layout(tenantID)
	period := currentPeriod(now)

	snap, exists, err := readSnapshot(layout.UsageCurrentFile())
	if err != nil {
		return UsageSnapshot{}, err
	}
	if !exists {
		fresh := UsageSnapshot{Period: period}
		if err := writeSnapshot(layout.UsageCurrentFile(), fresh); err != nil {
			return UsageSnapshot{}, err
		}
		return fresh, nil
	}

	if snap.Period == period {
		return snap, nil
	}

	// Month boundary crossed: archive the stale snapshot, start fresh.
	archivePath := layout.UsagePeriodFile(snap.Period)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o700); err != nil {
		return UsageSnapshot{}, fmt.Errorf("creating usage archive directory: %w", err)
	}
	if err := writeSnapshot(archivePath, snap); err != nil {
		return UsageSnapshot{}, fmt.Errorf("archiving usage snapshot for period %s: %w", snap.Period, err)
	}

	fresh := UsageSnapshot{Period: period}
	if err := writeSnapshot(layout.UsageCurrentFile(), fresh); err != nil {
		return UsageSnapshot{}, err
	}
	return fresh, nil
}

func (l *Ledger) mutate(tenantID string, fn func(UsageSnapshot) UsageSnapshot) error {
	lk := l.lockFor(tenantID)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	snap, err := l.loadUsageLocked(tenantID, time.Now())
	if err != nil {
		return err
	}
	updated := fn(snap)
	return writeSnapshot(l.layout(tenantID).UsageCurrentFile(), updated)
}

// UpdateTokenUsage adds the given token and cost deltas to the tenant's
// current-period snapshot. Deltas are monotonic (non-negative).
func (l *Ledger) UpdateTokenUsage(tenantID string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens, costCents int64) error {
	return l.mutate(tenantID, func(s UsageSnapshot) UsageSnapshot {
		s.InputTokens += inputTokens
		s.OutputTokens += outputTokens
		s.CacheReadTokens += cacheReadTokens
		s.CacheWriteTokens += cacheWriteTokens
		s.CostCents += costCents
		return s
	})
}

// UpdateSessionCount adjusts the active session counter by delta, clamping
// at zero so a stray decrement can never go negative.
func (l *Ledger) UpdateSessionCount(tenantID string, delta int) error {
	return l.mutate(tenantID, func(s UsageSnapshot) UsageSnapshot {
		s.ActiveSessions += delta
		if s.ActiveSessions < 0 {
			s.ActiveSessions = 0
		}
		return s
	})
}

// UpdateSandboxUsage adds CPU-seconds and reports a new peak sandbox memory
// sample, keeping the larger of the stored peak and the sample.
func (l *Ledger) UpdateSandboxUsage(tenantID string, cpuSeconds float64, memSampleBytes int64) error {
	return l.mutate(tenantID, func(s UsageSnapshot) UsageSnapshot {
		s.SandboxCPUSeconds += cpuSeconds
		if memSampleBytes > s.SandboxPeakMemBytes {
			s.SandboxPeakMemBytes = memSampleBytes
		}
		return s
	})
}

// RecordMessage increments the lifetime message counter by one.
func (l *Ledger) RecordMessage(tenantID string) error {
	return l.mutate(tenantID, func(s UsageSnapshot) UsageSnapshot {
		s.MessageCount++
		return s
	})
}

func readSnapshot(path string) (UsageSnapshot, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return UsageSnapshot{}, false, nil
		}
		return UsageSnapshot{}, false, fmt.Errorf("reading usage snapshot: %w", err)
	}
	var snap UsageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return UsageSnapshot{}, false, fmt.Errorf("parsing usage snapshot: %w", err)
	}
	return snap, true, nil
}

func writeSnapshot(path string, snap UsageSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating usage directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling usage snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing usage snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}
