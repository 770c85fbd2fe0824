package contract

import (
	"errors"
	"testing"
)

func setupTreeWithBasic(t *testing.T, env *testEnv) {
	t.Helper()
	env.nextTx()
	if err := env.contract.CreateSkillTree(env.holder); err != nil {
		t.Fatalf("CreateSkillTree failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.AddSkill(env.holder, "Basic", 100, ""); err != nil {
		t.Fatalf("AddSkill(Basic) failed: %v", err)
	}
}

func TestCreateSkillTreeOncePerOwner(t *testing.T) {
	env := newTestEnv(t)

	env.nextTx()
	if err := env.contract.CreateSkillTree(env.holder); err != nil {
		t.Fatalf("CreateSkillTree failed: %v", err)
	}
	env.nextTx()
	if err := env.contract.CreateSkillTree(env.holder); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestAddSkillDuplicate(t *testing.T) {
	env := newTestEnv(t)
	setupTreeWithBasic(t, env)

	env.nextTx()
	if err := env.contract.AddSkill(env.holder, "Basic", 100, ""); !errors.Is(err, ErrDuplicateSkill) {
		t.Fatalf("expected ErrDuplicateSkill, got %v", err)
	}
}

func TestAddSkillPrerequisiteMastery(t *testing.T) {
	env := newTestEnv(t)
	setupTreeWithBasic(t, env)

	// Basic has zero experience, so a dependent skill is rejected.
	env.nextTx()
	err := env.contract.AddSkill(env.holder, "Advanced", 200, `["Basic"]`)
	if !errors.Is(err, ErrPrerequisitesNotMet) {
		t.Fatalf("expected ErrPrerequisitesNotMet, got %v", err)
	}

	env.nextTx()
	if err := env.contract.GrantSkillExperience(env.admin, "alice", "Basic", 100); err != nil {
		t.Fatalf("GrantSkillExperience failed: %v", err)
	}

	// The same call succeeds once Basic is mastered.
	env.nextTx()
	if err := env.contract.AddSkill(env.holder, "Advanced", 200, `["Basic"]`); err != nil {
		t.Fatalf("AddSkill(Advanced) after mastery failed: %v", err)
	}

	env.nextTx()
	if err := env.contract.AddSkill(env.holder, "Expert", 300, `["Ghost"]`); !errors.Is(err, ErrPrerequisitesNotMet) {
		t.Fatalf("expected ErrPrerequisitesNotMet for unknown prerequisite, got %v", err)
	}
}

func TestEndorseSkill(t *testing.T) {
	env := newTestEnv(t)
	setupTreeWithBasic(t, env)

	// Self-endorsement is forbidden regardless of skill name.
	env.nextTx()
	if err := env.contract.EndorseSkill(env.holder, "alice", "Basic", 10, ""); !errors.Is(err, ErrInvalidEndorsement) {
		t.Fatalf("expected ErrInvalidEndorsement, got %v", err)
	}

	env.nextTx()
	if err := env.contract.EndorseSkill(env.verifier, "alice", "Ghost", 10, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent skill, got %v", err)
	}

	env.nextTx()
	if err := env.contract.EndorseSkill(env.verifier, "alice", "Basic", 10, "solid work"); err != nil {
		t.Fatalf("EndorseSkill failed: %v", err)
	}

	env.nextTx()
	tree, err := env.contract.GetSkillTree(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetSkillTree failed: %v", err)
	}
	skill := tree.Skills["Basic"]
	if len(skill.Endorsements) != 1 {
		t.Fatalf("expected 1 endorsement, got %d", len(skill.Endorsements))
	}
	// Endorsements are advisory and never move experience or level.
	if skill.Experience != 0 || skill.Level != 1 {
		t.Errorf("endorsement changed progression: experience=%d level=%d", skill.Experience, skill.Level)
	}
}

func TestGrantSkillExperienceAuthorization(t *testing.T) {
	env := newTestEnv(t)
	setupTreeWithBasic(t, env)

	env.nextTx()
	if err := env.contract.GrantSkillExperience(env.verifier, "alice", "Basic", 50); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin non-owner, got %v", err)
	}
}

func TestGrantSkillExperienceMonotoneLevel(t *testing.T) {
	env := newTestEnv(t)
	setupTreeWithBasic(t, env)

	for _, amount := range []int64{40, 70, 120} {
		env.nextTx()
		if err := env.contract.GrantSkillExperience(env.admin, "alice", "Basic", amount); err != nil {
			t.Fatalf("GrantSkillExperience(%d) failed: %v", amount, err)
		}
	}

	env.nextTx()
	tree, err := env.contract.GetSkillTree(env.admin, "alice")
	if err != nil {
		t.Fatalf("GetSkillTree failed: %v", err)
	}
	skill := tree.Skills["Basic"]
	if skill.Experience != 230 {
		t.Errorf("experience = %d, want 230", skill.Experience)
	}
	if skill.Level != 3 { // 230/100 + 1
		t.Errorf("level = %d, want 3", skill.Level)
	}
	if !skill.Mastered() {
		t.Error("skill should be mastered at 230/100 experience")
	}
}
