package contract

import (
	"errors"
	"testing"
)

func TestGrantPointsAuthorization(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.GrantPoints(env.holder, "alice", 10, "self-serve", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for plain holder, got %v", err)
	}
	env.nextTx()
	if err := env.contract.GrantPoints(env.admin, "alice", 0, "zero", ""); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestGrantPointsLazyRecordAndLevels(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if _, err := env.contract.GetReputation(env.admin, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first grant, got %v", err)
	}

	// Two grants with the identical source string must both survive.
	env.nextTx()
	if err := env.contract.GrantPoints(env.admin, "alice", 120, "Challenge Completion", "challenge"); err != nil {
		t.Fatalf("first GrantPoints failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.GrantPoints(env.admin, "alice", 130, "Challenge Completion", "challenge"); err != nil {
		t.Fatalf("second GrantPoints failed: %v", err)
	}

	env.nextTx()
	rep, err := env.contract.GetReputation(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetReputation failed: %v", err)
	}
	if rep.TotalPoints != 250 {
		t.Errorf("totalPoints = %d, want 250", rep.TotalPoints)
	}
	if rep.Level != 3 {
		t.Errorf("level = %d, want 3", rep.Level)
	}
	if len(rep.PointHistory) != 2 {
		t.Fatalf("history length = %d, want 2", len(rep.PointHistory))
	}
	if rep.PointHistory[0].Seq == rep.PointHistory[1].Seq {
		t.Error("history entries with identical sources must have distinct sequence numbers")
	}
	if rep.NextSeq != 2 {
		t.Errorf("nextSeq = %d, want 2", rep.NextSeq)
	}
}

func TestGetReputationAuditTrail(t *testing.T) {
	env := newTestEnv(t)

	for i, amount := range []int64{50, 60, 70} {
		env.nextTx()
		if err := env.contract.GrantPoints(env.admin, "alice", amount, "grant", ""); err != nil {
			t.Fatalf("GrantPoints #%d failed: %v", i, err)
		}
	}

	env.nextTx()
	trail, err := env.contract.GetReputationAuditTrail(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetReputationAuditTrail failed: %v", err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail length = %d, want 3", len(trail))
	}
	var prev int64 = -1
	for _, entry := range trail {
		if entry.TotalPoints <= prev {
			t.Errorf("trail totals must strictly increase, got %d after %d", entry.TotalPoints, prev)
		}
		prev = entry.TotalPoints
	}
	if trail[2].TotalPoints != 180 {
		t.Errorf("final total = %d, want 180", trail[2].TotalPoints)
	}
}

func TestAwardBadge(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.AwardBadge(env.holder, "alice", "Mentor", "community", 1, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}

	// The same badge name may recur at multiple tiers.
	env.nextTx()
	if err := env.contract.AwardBadge(env.admin, "alice", "Mentor", "community", 1, `["priority-support"]`); err != nil {
		t.Fatalf("AwardBadge failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.AwardBadge(env.admin, "alice", "Mentor", "community", 2, ""); err != nil {
		t.Fatalf("second AwardBadge failed: %v", err)
	}

	env.nextTx()
	rep, err := env.contract.GetReputation(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetReputation failed: %v", err)
	}
	if len(rep.Badges) != 2 {
		t.Fatalf("badges = %d, want 2", len(rep.Badges))
	}
	if rep.TotalPoints != 0 {
		t.Errorf("badges must not move points, total = %d", rep.TotalPoints)
	}
	if rep.Badges[0].SpecialPrivileges[0] != "priority-support" {
		t.Errorf("privileges not preserved: %v", rep.Badges[0].SpecialPrivileges)
	}
}
