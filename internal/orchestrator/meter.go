package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Meter decrements credit balances and writes the usage audit trail.
// Best-effort by contract: a metering failure never invalidates a
// response that was already generated, so every error is logged and
// swallowed here.
type Meter struct {
	accounts AccountStore
	audit    AuditSink
}

// NewMeter creates a meter over the account store and audit sink.
func NewMeter(accounts AccountStore, audit AuditSink) *Meter {
	return &Meter{accounts: accounts, audit: audit}
}

// Meter charges one flat credit for metered plans with a positive
// balance and appends one usage record regardless of plan tier.
// Anonymous requests (empty userID) are not metered or recorded.
func (m *Meter) Meter(ctx context.Context, userID, providerID string, tokensUsed int) {
	if userID == "" {
		return
	}

	acct, err := m.accounts.GetAccount(ctx, userID)
	if err != nil {
		slog.Warn("account lookup failed, skipping credit charge", "user", userID, "error", err)
	} else if acct != nil && acct.Plan.Metered() && acct.Credits > 0 {
		if err := m.accounts.DecrementCredit(ctx, userID); err != nil {
			slog.Warn("credit decrement failed", "user", userID, "error", err)
		}
	}

	rec := UsageRecord{
		UserID:     userID,
		ProviderID: providerID,
		TokensUsed: tokensUsed,
		Timestamp:  time.Now().UTC(),
	}
	if err := m.audit.Record(ctx, rec); err != nil {
		slog.Warn("usage record failed", "user", userID, "error", err)
	}
}
