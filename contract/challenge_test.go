package contract

import (
	"errors"
	"testing"
	"time"

	"credledger/model"
)

var (
	challengeStart = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	challengeEnd   = time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)
)

func setupChallenge(t *testing.T, env *testEnv) {
	t.Helper()
	env.nextTx()
	err := env.contract.CreateChallenge(env.issuer, "Hackathon", "annual event",
		challengeStart.Format(time.RFC3339), challengeEnd.Format(time.RFC3339),
		250, `["Uni/CS101"]`)
	if err != nil {
		t.Fatalf("CreateChallenge failed: %v", err)
	}
}

func TestCreateChallengerequiresVerifiedInstitution(t *testing.T) {
	env := newTestEnv(t)
	env.nextTx()
	if err := env.contract.RegisterInstitution(env.issuer, "Uni"); err != nil {
		t.Fatalf("RegisterInstitution failed: %v", err)
	}
	setupCredential(t, env)

	// Institution exists but is not yet platform-verified.
	env.nextTx()
	err := env.contract.CreateChallenge(env.issuer, "Hackathon", "",
		challengeStart.Format(time.RFC3339), challengeEnd.Format(time.RFC3339), 250, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for unverified institution owner, got %v", err)
	}
}

func TestCreateChallengeValidatesCredentialRefs(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)

	env.nextTx()
	err := env.contract.CreateChallenge(env.admin, "Hackathon", "",
		challengeStart.Format(time.RFC3339), challengeEnd.Format(time.RFC3339),
		250, `["Uni/Nope"]`)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for dangling credential ref, got %v", err)
	}
}

func TestCreateChallengeRejectsInvertedWindow(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)

	env.nextTx()
	err := env.contract.CreateChallenge(env.admin, "Hackathon", "",
		challengeEnd.Format(time.RFC3339), challengeStart.Format(time.RFC3339), 250, "")
	if err == nil {
		t.Fatal("expected error for startTime after endTime")
	}
}

func TestJoinChallengeLifecycle(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	issueToAlice(t, env)
	setupChallenge(t, env)

	// Before the window opens the challenge is Scheduled.
	env.txAt(challengeStart.Add(-time.Hour))
	if state, err := env.contract.GetChallengeState(env.holder, "Hackathon"); err != nil || state != string(model.ChallengeScheduled) {
		t.Fatalf("state = %q (err %v), want SCHEDULED", state, err)
	}
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); !errors.Is(err, ErrChallengeNotActive) {
		t.Fatalf("expected ErrChallengeNotActive before start, got %v", err)
	}

	env.txAt(challengeStart.Add(time.Hour))
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); err != nil {
		t.Fatalf("JoinChallenge failed: %v", err)
	}
	env.txAt(challengeStart.Add(2 * time.Hour))
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}

	env.txAt(challengeEnd.Add(time.Hour))
	if state, _ := env.contract.GetChallengeState(env.holder, "Hackathon"); state != string(model.ChallengeClosed) {
		t.Fatalf("state = %q, want CLOSED", state)
	}
	if err := env.contract.JoinChallenge(env.verifier, "Hackathon"); !errors.Is(err, ErrChallengeNotActive) {
		t.Fatalf("expected ErrChallengeNotActive after end, got %v", err)
	}
}

func TestJoinChallengeRequiresCredential(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	setupChallenge(t, env)

	// Alice holds no CS101 certificate.
	env.txAt(challengeStart.Add(time.Hour))
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); !errors.Is(err, ErrPrerequisitesNotMet) {
		t.Fatalf("expected ErrPrerequisitesNotMet, got %v", err)
	}
}

// End-to-end: institution issues CS101 to alice, alice joins and completes a
// 250-point challenge, landing at level 3.
func TestCompleteChallengeGrantsReward(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	issueToAlice(t, env)
	setupChallenge(t, env)

	env.txAt(challengeStart.Add(time.Hour))
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); err != nil {
		t.Fatalf("JoinChallenge failed: %v", err)
	}

	// Completion for a non-participant is refused.
	env.txAt(challengeStart.Add(2 * time.Hour))
	if err := env.contract.CompleteChallenge(env.issuer, "Hackathon", "vera"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-participant, got %v", err)
	}
	// Only the creator or an admin records completions.
	if err := env.contract.CompleteChallenge(env.holder, "Hackathon", "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-creator caller, got %v", err)
	}

	env.txAt(challengeStart.Add(3 * time.Hour))
	if err := env.contract.CompleteChallenge(env.issuer, "Hackathon", "alice"); err != nil {
		t.Fatalf("CompleteChallenge failed: %v", err)
	}
	env.txAt(challengeStart.Add(4 * time.Hour))
	if err := env.contract.CompleteChallenge(env.issuer, "Hackathon", "alice"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified on repeat completion, got %v", err)
	}

	rep, err := env.contract.GetReputation(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetReputation failed: %v", err)
	}
	if rep.TotalPoints != 250 {
		t.Errorf("totalPoints = %d, want 250", rep.TotalPoints)
	}
	if rep.Level != 3 { // 250/100 + 1
		t.Errorf("level = %d, want 3", rep.Level)
	}
	if len(rep.PointHistory) != 1 || rep.PointHistory[0].Source != "Challenge Completion" {
		t.Errorf("unexpected point history: %+v", rep.PointHistory)
	}
}

func TestLateCompletionPolicy(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	issueToAlice(t, env)
	setupChallenge(t, env)

	env.txAt(challengeStart.Add(time.Hour))
	if err := env.contract.JoinChallenge(env.holder, "Hackathon"); err != nil {
		t.Fatalf("JoinChallenge failed: %v", err)
	}

	// Late completion is allowed by default.
	env.txAt(challengeEnd.Add(time.Hour))
	if err := env.contract.CompleteChallenge(env.issuer, "Hackathon", "alice"); err != nil {
		t.Fatalf("late completion should be allowed by default: %v", err)
	}

	// With the policy disabled, a second participant can no longer complete
	// late.
	env.txAt(challengeStart.Add(time.Hour)) // reopen window for the join
	if _, err := env.contract.IssueCertificate(env.issuer, "Uni", "CS101", "vera", ""); err != nil {
		t.Fatalf("IssueCertificate to vera failed: %v", err)
	}
	env.txAt(challengeStart.Add(2 * time.Hour))
	if err := env.contract.JoinChallenge(env.verifier, "Hackathon"); err != nil {
		t.Fatalf("JoinChallenge(vera) failed: %v", err)
	}
	env.txAt(challengeStart.Add(3 * time.Hour))
	if err := env.contract.SetLateCompletionPolicy(env.admin, false); err != nil {
		t.Fatalf("SetLateCompletionPolicy failed: %v", err)
	}
	env.txAt(challengeEnd.Add(2 * time.Hour))
	if err := env.contract.CompleteChallenge(env.issuer, "Hackathon", "vera"); !errors.Is(err, ErrChallengeNotActive) {
		t.Fatalf("expected ErrChallengeNotActive with late completion disabled, got %v", err)
	}
}
