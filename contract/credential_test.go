package contract

import (
	"errors"
	"testing"
)

// setupInstitution registers and platform-verifies the institution "Uni"
// owned by env.issuer.
func setupInstitution(t *testing.T, env *testEnv) {
	t.Helper()
	env.nextTx()
	if err := env.contract.RegisterInstitution(env.issuer, "Uni"); err != nil {
		t.Fatalf("RegisterInstitution failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.VerifyInstitution(env.admin, "Uni"); err != nil {
		t.Fatalf("VerifyInstitution failed: %v", err)
	}
}

// setupCredential defines "CS101" at "Uni" with no expiry.
func setupCredential(t *testing.T, env *testEnv) {
	t.Helper()
	env.nextTx()
	if err := env.contract.DefineCredential(env.issuer, "Uni", "CS101", "Intro to CS", 0, ""); err != nil {
		t.Fatalf("DefineCredential failed: %v", err)
	}
}

// issueToAlice issues a CS101 certificate to alice and returns its ID.
func issueToAlice(t *testing.T, env *testEnv) string {
	t.Helper()
	env.nextTx()
	certID, err := env.contract.IssueCertificate(env.issuer, "Uni", "CS101", "alice", "")
	if err != nil {
		t.Fatalf("IssueCertificate failed: %v", err)
	}
	return certID
}

func TestDefineCredentialDuplicateTitle(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)

	env.nextTx()
	err := env.contract.DefineCredential(env.issuer, "Uni", "CS101", "again", 0, "")
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDefineCredentialUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)

	env.nextTx()
	err := env.contract.DefineCredential(env.holder, "Uni", "CS101", "", 0, "")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIssueCertificate(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)

	env.nextTx()
	certID, err := env.contract.IssueCertificate(env.issuer, "Uni", "CS101", "alice", `{"grade":"A"}`)
	if err != nil {
		t.Fatalf("IssueCertificate failed: %v", err)
	}
	if certID != env.stub.txID {
		t.Fatalf("certificate ID should be the tx ID: got %q, want %q", certID, env.stub.txID)
	}

	env.nextTx()
	cert, err := env.contract.GetCertificate(env.holder, certID)
	if err != nil {
		t.Fatalf("GetCertificate failed: %v", err)
	}
	if cert.CredentialRef != "Uni/CS101" {
		t.Errorf("credentialRef = %q, want %q", cert.CredentialRef, "Uni/CS101")
	}
	if cert.HolderAlias != "alice" {
		t.Errorf("holderAlias = %q, want alice", cert.HolderAlias)
	}
	if !cert.ExpiryDate.IsZero() {
		t.Errorf("expiryDate should be zero for validityDays=0, got %v", cert.ExpiryDate)
	}
	if cert.AchievementData["grade"] != "A" {
		t.Errorf("achievementData not preserved: %v", cert.AchievementData)
	}

	certs, err := env.contract.GetCertificatesByHolder(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetCertificatesByHolder failed: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("expected 1 certificate for alice, got %d", len(certs))
	}

	inst, err := env.contract.GetInstitution(env.admin, "Uni")
	if err != nil {
		t.Fatalf("GetInstitution failed: %v", err)
	}
	// +1 from VerifyInstitution, +1 from issuance.
	if inst.ReputationScore != 2 {
		t.Errorf("institution reputation = %d, want 2", inst.ReputationScore)
	}
}

func TestIssueCertificateUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)

	env.nextTx()
	if _, err := env.contract.IssueCertificate(env.holder, "Uni", "CS101", "alice", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestIssueCertificateMissingCredential(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)

	env.nextTx()
	if _, err := env.contract.IssueCertificate(env.issuer, "Uni", "Nope", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeCredentialIdempotent(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)

	env.nextTx()
	if err := env.contract.RevokeCredential(env.issuer, "Uni", "CS101"); err != nil {
		t.Fatalf("first RevokeCredential failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.RevokeCredential(env.issuer, "Uni", "CS101"); err != nil {
		t.Fatalf("second RevokeCredential should be a no-op, got %v", err)
	}

	cred, err := env.contract.GetCredential(env.holder, "Uni", "CS101")
	if err != nil {
		t.Fatalf("revoked credential must stay retrievable: %v", err)
	}
	if !cred.Revoked {
		t.Fatal("credential should be marked revoked")
	}

	env.nextTx()
	if _, err := env.contract.IssueCertificate(env.issuer, "Uni", "CS101", "alice", ""); err == nil {
		t.Fatal("issuing a revoked credential should fail")
	}
}

func TestVerifyCertificate(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	certID := issueToAlice(t, env)

	env.nextTx()
	if err := env.contract.VerifyCertificate(env.verifier, certID, "checked", 365, 10); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment for payment below fee, got %v", err)
	}

	env.nextTx()
	if err := env.contract.VerifyCertificate(env.verifier, certID, "checked", 365, 50); err != nil {
		t.Fatalf("VerifyCertificate failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.VerifyCertificate(env.verifier, certID, "re-checked", 30, 60); err != nil {
		t.Fatalf("repeat VerifyCertificate failed: %v", err)
	}

	env.nextTx()
	verifications, err := env.contract.GetCertificateVerifications(env.holder, certID)
	if err != nil {
		t.Fatalf("GetCertificateVerifications failed: %v", err)
	}
	if len(verifications) != 2 {
		t.Fatalf("expected 2 verifications, got %d", len(verifications))
	}

	platform, err := env.contract.GetPlatform(env.admin)
	if err != nil {
		t.Fatalf("GetPlatform failed: %v", err)
	}
	if platform.FeeBalance != 110 {
		t.Errorf("fee balance = %d, want 110", platform.FeeBalance)
	}
}

func TestVerifyCertificateRequiresVerifierRole(t *testing.T) {
	env := newTestEnv(t)
	setupInstitution(t, env)
	setupCredential(t, env)
	certID := issueToAlice(t, env)

	env.nextTx()
	if err := env.contract.VerifyCertificate(env.holder, certID, "", 30, 50); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without verifier role, got %v", err)
	}
}
