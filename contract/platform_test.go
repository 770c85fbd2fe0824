package contract

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// InitPlatform must bootstrap the admin within a single transaction. GetState
// never returns the transaction's own writes, so composing the identity,
// alias and admin-flag records in memory is the only way the first call can
// succeed on a peer.
func TestInitPlatformBootstrapsAdminInOneTransaction(t *testing.T) {
	stub := newMockStub()
	contract := &CredLedgerContract{}
	admin := contextFor(stub, "admin")

	stub.setTx("tx-1", stub.txTime)
	if err := contract.InitPlatform(admin, "root", 50); err != nil {
		t.Fatalf("InitPlatform failed: %v", err)
	}

	// The very next transaction must already see a working admin.
	stub.setTx("tx-2", stub.txTime.Add(time.Minute))
	if err := contract.RegisterIdentity(admin, x509ID("bob"), "bob", "bob"); err != nil {
		t.Fatalf("admin could not register an identity right after bootstrap: %v", err)
	}
	info, err := contract.GetIdentityDetails(admin, "root")
	if err != nil {
		t.Fatalf("GetIdentityDetails(root) failed: %v", err)
	}
	if !info.IsAdmin {
		t.Error("bootstrap identity should carry the admin flag")
	}
	if info.FullID != x509ID("admin") {
		t.Errorf("bootstrap identity fullID = %q, want %q", info.FullID, x509ID("admin"))
	}

	fullID, err := contract.GetFullIDForAlias(admin, "root")
	if err != nil || fullID != x509ID("admin") {
		t.Errorf("GetFullIDForAlias(root) = %q (err %v), want %q", fullID, err, x509ID("admin"))
	}
}

func TestInitPlatformRunsOnce(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.InitPlatform(env.holder, "usurper", 10); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists on second InitPlatform, got %v", err)
	}

	platform, err := env.contract.GetPlatform(env.holder)
	if err != nil {
		t.Fatalf("GetPlatform failed: %v", err)
	}
	if platform.AdminAlias != "root" {
		t.Errorf("adminAlias = %q, want root", platform.AdminAlias)
	}
	if platform.VerificationFee != 50 {
		t.Errorf("verificationFee = %d, want 50", platform.VerificationFee)
	}
	if !platform.AllowLateCompletion {
		t.Error("late completion should default to allowed")
	}
}

func TestUpdateVerificationFee(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.UpdateVerificationFee(env.holder, 99); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	env.nextTx()
	if err := env.contract.UpdateVerificationFee(env.admin, -1); err == nil {
		t.Fatal("expected error for negative fee")
	}
	env.nextTx()
	if err := env.contract.UpdateVerificationFee(env.admin, 99); err != nil {
		t.Fatalf("UpdateVerificationFee failed: %v", err)
	}

	env.nextTx()
	platform, err := env.contract.GetPlatform(env.admin)
	if err != nil {
		t.Fatalf("GetPlatform failed: %v", err)
	}
	if platform.VerificationFee != 99 {
		t.Errorf("verificationFee = %d, want 99", platform.VerificationFee)
	}
}

func TestRegisterInstitutionDuplicateName(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.RegisterInstitution(env.issuer, "Uni"); err != nil {
		t.Fatalf("RegisterInstitution failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.RegisterInstitution(env.holder, "Uni"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestVerifyInstitutionAdminOnly(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.RegisterInstitution(env.issuer, "Uni"); err != nil {
		t.Fatalf("RegisterInstitution failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.VerifyInstitution(env.issuer, "Uni"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	env.nextTx()
	if err := env.contract.VerifyInstitution(env.admin, "Uni"); err != nil {
		t.Fatalf("VerifyInstitution failed: %v", err)
	}
	// Verifying twice stays a no-op.
	env.nextTx()
	if err := env.contract.VerifyInstitution(env.admin, "Uni"); err != nil {
		t.Fatalf("repeat VerifyInstitution should be a no-op: %v", err)
	}

	inst, err := env.contract.GetInstitution(env.holder, "Uni")
	if err != nil {
		t.Fatalf("GetInstitution failed: %v", err)
	}
	if !inst.Verified || inst.ReputationScore != 1 {
		t.Errorf("verified=%t reputation=%d, want true/1", inst.Verified, inst.ReputationScore)
	}
}

func TestListInstitutionsPagination(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		env.nextTx()
		if err := env.contract.RegisterInstitution(env.issuer, fmt.Sprintf("Uni-%d", i)); err != nil {
			t.Fatalf("RegisterInstitution(%d) failed: %v", i, err)
		}
	}

	env.nextTx()
	page1, err := env.contract.ListInstitutions(env.holder, "3", "")
	if err != nil {
		t.Fatalf("ListInstitutions page 1 failed: %v", err)
	}
	if page1.FetchedCount != 3 || len(page1.Institutions) != 3 {
		t.Fatalf("page 1 fetched %d institutions, want 3", len(page1.Institutions))
	}
	if page1.NextBookmark == "" {
		t.Fatal("expected a bookmark pointing at page 2")
	}

	page2, err := env.contract.ListInstitutions(env.holder, "3", page1.NextBookmark)
	if err != nil {
		t.Fatalf("ListInstitutions page 2 failed: %v", err)
	}
	if len(page2.Institutions) != 2 {
		t.Fatalf("page 2 fetched %d institutions, want 2", len(page2.Institutions))
	}
	if page2.NextBookmark != "" {
		t.Errorf("final page should carry no bookmark, got %q", page2.NextBookmark)
	}
}

func TestIdentityRolesAndAdmin(t *testing.T) {
	env := newTestEnv(t)

	// Non-admins cannot register identities once an admin exists.
	env.nextTx()
	if err := env.contract.RegisterIdentity(env.holder, x509ID("mallory"), "mallory", "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	env.nextTx()
	if err := env.contract.AssignRoleToIdentity(env.admin, "alice", "pilot"); err == nil {
		t.Fatal("expected error for invalid role name")
	}

	info, err := env.contract.GetIdentityDetails(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetIdentityDetails failed: %v", err)
	}
	if len(info.Roles) != 1 || info.Roles[0] != "holder" {
		t.Errorf("alice roles = %v, want [holder]", info.Roles)
	}

	// Holders may look themselves up, but not others.
	if _, err := env.contract.GetIdentityDetails(env.holder, "alice"); err != nil {
		t.Errorf("self lookup failed: %v", err)
	}
	if _, err := env.contract.GetIdentityDetails(env.holder, "vera"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for cross lookup, got %v", err)
	}

	fullID, err := env.contract.GetFullIDForAlias(env.admin, "alice")
	if err != nil || fullID != x509ID("alice") {
		t.Errorf("GetFullIDForAlias = %q (err %v), want %q", fullID, err, x509ID("alice"))
	}

	identities, err := env.contract.GetAllIdentities(env.admin)
	if err != nil {
		t.Fatalf("GetAllIdentities failed: %v", err)
	}
	if len(identities) != 4 { // root + uni + alice + vera
		t.Errorf("identity count = %d, want 4", len(identities))
	}
}
