package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestMeterFreePlanCharged(t *testing.T) {
	fa := newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 3})
	m := NewMeter(fa, fa)

	m.Meter(context.Background(), "u1", "deepseek", 80)

	if got := fa.accounts["u1"].Credits; got != 2 {
		t.Errorf("credits = %d, want 2", got)
	}
	if len(fa.records) != 1 {
		t.Fatalf("records = %d, want 1", len(fa.records))
	}
	rec := fa.records[0]
	if rec.UserID != "u1" || rec.ProviderID != "deepseek" || rec.TokensUsed != 80 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Timestamp.IsZero() {
		t.Error("record timestamp not set")
	}
}

func TestMeterFlatCostIgnoresTokens(t *testing.T) {
	fa := newFakeAccounts(Account{UserID: "u1", Plan: PlanBasic, Credits: 10})
	m := NewMeter(fa, fa)

	m.Meter(context.Background(), "u1", "openai", 9000)

	// One credit regardless of token count
	if got := fa.accounts["u1"].Credits; got != 9 {
		t.Errorf("credits = %d, want 9", got)
	}
}

func TestMeterUnmeteredPlans(t *testing.T) {
	for _, plan := range []Plan{PlanPremium, PlanUnlimited} {
		fa := newFakeAccounts(Account{UserID: "u1", Plan: plan, Credits: 5})
		m := NewMeter(fa, fa)

		m.Meter(context.Background(), "u1", "claude", 40)

		if got := fa.accounts["u1"].Credits; got != 5 {
			t.Errorf("plan %s: credits = %d, want 5 (no charge)", plan, got)
		}
		if len(fa.records) != 1 {
			t.Errorf("plan %s: records = %d, want 1 (audit is unconditional)", plan, len(fa.records))
		}
	}
}

func TestMeterExhaustedCreditsStillRecorded(t *testing.T) {
	fa := newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 0})
	m := NewMeter(fa, fa)

	m.Meter(context.Background(), "u1", "deepseek", 30)

	if len(fa.decrements) != 0 {
		t.Error("zero-balance account must not be decremented")
	}
	if len(fa.records) != 1 {
		t.Errorf("records = %d, want 1", len(fa.records))
	}
}

func TestMeterUnknownUser(t *testing.T) {
	fa := newFakeAccounts()
	m := NewMeter(fa, fa)

	m.Meter(context.Background(), "ghost", "deepseek", 30)

	if len(fa.decrements) != 0 {
		t.Error("unknown user must not be decremented")
	}
	if len(fa.records) != 1 {
		t.Errorf("records = %d, want 1 (audit still written)", len(fa.records))
	}
}

func TestMeterAnonymousSkipped(t *testing.T) {
	fa := newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 3})
	m := NewMeter(fa, fa)

	m.Meter(context.Background(), "", "deepseek", 30)

	if len(fa.records) != 0 {
		t.Errorf("anonymous request must not be recorded, got %d records", len(fa.records))
	}
	if got := fa.accounts["u1"].Credits; got != 3 {
		t.Errorf("credits = %d, want 3", got)
	}
}

func TestMeterBestEffort(t *testing.T) {
	// Every store failure is swallowed; Meter never panics or blocks
	fa := newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 3})
	fa.getErr = errors.New("pg down")
	m := NewMeter(fa, fa)
	m.Meter(context.Background(), "u1", "deepseek", 30)
	if len(fa.records) != 1 {
		t.Errorf("lookup failure must not block the audit record, got %d", len(fa.records))
	}

	fa = newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 3})
	fa.decErr = errors.New("pg down")
	m = NewMeter(fa, fa)
	m.Meter(context.Background(), "u1", "deepseek", 30)
	if len(fa.records) != 1 {
		t.Errorf("decrement failure must not block the audit record, got %d", len(fa.records))
	}

	fa = newFakeAccounts(Account{UserID: "u1", Plan: PlanFree, Credits: 3})
	fa.recordErr = errors.New("pg down")
	m = NewMeter(fa, fa)
	m.Meter(context.Background(), "u1", "deepseek", 30) // must not panic
	if got := fa.accounts["u1"].Credits; got != 2 {
		t.Errorf("record failure must not undo the charge, credits = %d", got)
	}
}
