package quota

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cagent-gateway/tenantgw/internal/tenant"
)

func readRateLimitState(path string) (rateLimitState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rateLimitState{}, nil
		}
		return rateLimitState{}, fmt.Errorf("reading rate-limit state: %w", err)
	}
	var st rateLimitState
	if err := json.Unmarshal(data, &st); err != nil {
		return rateLimitState{}, nil
	}
	return st, nil
}

func writeRateLimitState(path string, st rateLimitState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating usage directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rate-limit state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing rate-limit state: %w", err)
	}
	return os.Rename(tmp, path)
}

func dropOlderThan(timestamps []int64, cutoff int64) []int64 {
	kept := timestamps[:0:0]
	for _, ts := range timestamps {
		if ts >= cutoff {
			kept = append(kept, ts)
		}
	}
	return kept
}

// CheckAndRecordRequest enforces the per-tenant requests/minute and
// requests/hour caps. It drops stale timestamps from both sliding windows,
// denies if either window is already at its configured limit, and
// otherwise appends now and persists, also bumping the usage snapshot's
// requestsThisMinute / requestsThisHour counters.
func (l *Ledger) CheckAndRecordRequest(tenantID string, quotas *tenant.Quotas) (RequestResult, error) {
	lk := l.lockFor(tenantID)
	lk.mu.Lock()
	defer lk.mu.Unlock()

	layout := l.layout(tenantID)
	now := time.Now()
	nowUnix := now.Unix()

	st, err := readRateLimitState(layout.RateLimitsFile())
	if err != nil {
		return RequestResult{}, err
	}

	minuteCutoff := now.Add(-rateLimitWindowMinute).Unix()
	hourCutoff := now.Add(-rateLimitWindowHour).Unix()
	st.MinuteTimestamps = dropOlderThan(st.MinuteTimestamps, minuteCutoff)
	st.HourTimestamps = dropOlderThan(st.HourTimestamps, hourCutoff)

	if quotas != nil && quotas.RequestsPerMinute != nil && len(st.MinuteTimestamps) >= *quotas.RequestsPerMinute {
		if err := writeRateLimitState(layout.RateLimitsFile(), st); err != nil {
			return RequestResult{}, err
		}
		retryAfter := int64(rateLimitWindowMinute.Seconds())
		if len(st.MinuteTimestamps) > 0 {
			retryAfter = st.MinuteTimestamps[0] + int64(rateLimitWindowMinute.Seconds()) - nowUnix
		}
		return RequestResult{Allowed: false, Reason: ReasonRateLimited, RetryAfterMs: msFromSeconds(retryAfter)}, nil
	}
	if quotas != nil && quotas.RequestsPerHour != nil && len(st.HourTimestamps) >= *quotas.RequestsPerHour {
		if err := writeRateLimitState(layout.RateLimitsFile(), st); err != nil {
			return RequestResult{}, err
		}
		retryAfter := int64(rateLimitWindowHour.Seconds())
		if len(st.HourTimestamps) > 0 {
			retryAfter = st.HourTimestamps[0] + int64(rateLimitWindowHour.Seconds()) - nowUnix
		}
		return RequestResult{Allowed: false, Reason: ReasonRateLimited, RetryAfterMs: msFromSeconds(retryAfter)}, nil
	}

	st.MinuteTimestamps = append(st.MinuteTimestamps, nowUnix)
	st.HourTimestamps = append(st.HourTimestamps, nowUnix)
	if err := writeRateLimitState(layout.RateLimitsFile(), st); err != nil {
		return RequestResult{}, err
	}

	snap, err := l.loadUsageLocked(tenantID, now)
	if err != nil {
		return RequestResult{}, err
	}
	snap.RequestsLifetime++
	snap.RequestsThisMinute = len(st.MinuteTimestamps)
	snap.RequestsThisHour = len(st.HourTimestamps)
	if err := writeSnapshot(layout.UsageCurrentFile(), snap); err != nil {
		return RequestResult{}, err
	}

	return RequestResult{Allowed: true}, nil
}

func msFromSeconds(seconds int64) int64 {
	if seconds < 0 {
		return 0
	}
	return seconds * 1000
}

// CheckQuotaBeforeRequest performs the rate check first, then consults
// cumulative caps in priority order: tokens, cost, disk, concurrent
// sessions. A soft-limit crossing still allows the request but attaches a
// warning string.
func (l *Ledger) CheckQuotaBeforeRequest(tenantID string, quotas *tenant.Quotas) (Decision, error) {
	rateResult, err := l.CheckAndRecordRequest(tenantID, quotas)
	if err != nil {
		return Decision{}, err
	}
	if !rateResult.Allowed {
		return Decision{
			Allowed:      false,
			Reason:       rateResult.Reason,
			Message:      "rate limit exceeded",
			RetryAfterMs: rateResult.RetryAfterMs,
		}, nil
	}

	if quotas == nil {
		return Decision{Allowed: true}, nil
	}

	snap, err := l.LoadUsage(tenantID)
	if err != nil {
		return Decision{}, err
	}

	var warning string

	total := snap.TotalTokens()
	if quotas.MonthlyTokensHard != nil && total >= *quotas.MonthlyTokensHard {
		return Decision{Allowed: false, Reason: ReasonQuotaExceeded, Message: "monthly token quota exceeded"}, nil
	}
	if quotas.MonthlyTokensSoft != nil && total >= *quotas.MonthlyTokensSoft {
		warning = "monthly token usage has crossed the soft limit"
	}

	if quotas.MonthlyCostHard != nil && snap.CostCents >= *quotas.MonthlyCostHard {
		return Decision{Allowed: false, Reason: ReasonQuotaExceeded, Message: "monthly cost quota exceeded"}, nil
	}
	if quotas.MonthlyCostSoft != nil && snap.CostCents >= *quotas.MonthlyCostSoft && warning == "" {
		warning = "monthly cost usage has crossed the soft limit"
	}

	if quotas.DiskBytes != nil && snap.DiskTotalBytes >= *quotas.DiskBytes {
		return Decision{Allowed: false, Reason: ReasonDiskFull, Message: "disk quota exceeded"}, nil
	}

	if quotas.ConcurrentSessions != nil && snap.ActiveSessions >= *quotas.ConcurrentSessions {
		return Decision{Allowed: false, Reason: ReasonSessionsExceeded, Message: "concurrent session limit exceeded"}, nil
	}

	return Decision{Allowed: true, Warning: warning}, nil
}
