package entitlements

import (
	"context"
	"testing"
)

func TestSnapshotRemainingToday(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"unlimited", Snapshot{Plan: PlanPro, DailySecondsLimit: 0, DailySecondsUsed: 99999}, Unlimited},
		{"untouched", Snapshot{DailySecondsLimit: 900}, 900},
		{"partial", Snapshot{DailySecondsLimit: 900, DailySecondsUsed: 895}, 5},
		{"exact", Snapshot{DailySecondsLimit: 900, DailySecondsUsed: 900}, 0},
		{"over", Snapshot{DailySecondsLimit: 900, DailySecondsUsed: 905}, 0},
	}

	for _, tt := range tests {
		if got := tt.snap.RemainingToday(); got != tt.want {
			t.Errorf("%s: RemainingToday() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSnapshotRemainingThisChat(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{"uncapped", Snapshot{ChatSecondsCap: 0, ChatSecondsElapsed: 5000}, Unlimited},
		{"partial", Snapshot{ChatSecondsCap: 600, ChatSecondsElapsed: 300}, 300},
		{"exhausted", Snapshot{ChatSecondsCap: 600, ChatSecondsElapsed: 600}, 0},
	}

	for _, tt := range tests {
		if got := tt.snap.RemainingThisChat(); got != tt.want {
			t.Errorf("%s: RemainingThisChat() = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSnapshotFlags(t *testing.T) {
	paywalled := Snapshot{DailySecondsLimit: 900, DailySecondsUsed: 900}
	if !paywalled.Paywalled() {
		t.Error("exhausted daily budget should be paywalled")
	}
	if paywalled.HardStopped() {
		t.Error("uncapped chat should not hard-stop")
	}

	pro := Snapshot{Plan: PlanPro}
	if pro.Paywalled() || pro.HardStopped() {
		t.Error("unlimited plan should never be paywalled or hard-stopped")
	}
}

func TestIdentityKey(t *testing.T) {
	if got := UserIdentity("u1").Key(); got != "user:u1" {
		t.Errorf("user key = %q", got)
	}
	if got := GuestIdentity("g1").Key(); got != "guest:g1" {
		t.Errorf("guest key = %q", got)
	}
	if UserIdentity("u1").IsGuest() {
		t.Error("user identity should not be guest")
	}
	if !GuestIdentity("g1").IsGuest() {
		t.Error("guest identity should be guest")
	}
}

func freeLimits(daily, chat int) LimitsFunc {
	return func(ctx context.Context, id Identity) (Limits, error) {
		return Limits{Plan: PlanFree, DailySeconds: daily, ChatSeconds: chat}, nil
	}
}
