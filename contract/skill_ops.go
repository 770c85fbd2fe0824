package contract

import (
	"fmt"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func (s *CredLedgerContract) getSkillTreeByOwner(ctx contractapi.TransactionContextInterface, ownerFullID string) (*model.SkillTree, error) {
	key, err := s.createKey(ctx, skillTreeObjectType, ownerFullID)
	if err != nil {
		return nil, err
	}
	var tree model.SkillTree
	if err := s.getState(ctx, key, &tree, fmt.Sprintf("skill tree of '%s'", ownerFullID)); err != nil {
		return nil, err
	}
	ensureSkillTreeSchemaCompliance(&tree)
	return &tree, nil
}

func (s *CredLedgerContract) saveSkillTree(ctx contractapi.TransactionContextInterface, tree *model.SkillTree) error {
	ensureSkillTreeSchemaCompliance(tree)
	key, err := s.createKey(ctx, skillTreeObjectType, tree.OwnerID)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, tree, fmt.Sprintf("skill tree of '%s'", tree.OwnerID))
}

// CreateSkillTree creates the caller's skill tree. One tree per identity.
func (s *CredLedgerContract) CreateSkillTree(ctx contractapi.TransactionContextInterface) error {
	logger.Info("Chaincode Call: CreateSkillTree")

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("CreateSkillTree: %w", err)
	}

	key, err := s.createKey(ctx, skillTreeObjectType, actor.fullID)
	if err != nil {
		return fmt.Errorf("CreateSkillTree: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("CreateSkillTree: %w", err)
	}
	if exists {
		return fmt.Errorf("skill tree of '%s': %w", actor.fullID, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CreateSkillTree: %w", err)
	}

	tree := model.SkillTree{
		ObjectType:    skillTreeObjectType,
		OwnerID:       actor.fullID,
		OwnerAlias:    actor.alias,
		Skills:        map[string]*model.Skill{},
		Prerequisites: map[string][]string{},
		Scope:         model.ScopeExclusive,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.saveSkillTree(ctx, &tree); err != nil {
		return fmt.Errorf("CreateSkillTree: %w", err)
	}

	s.emitEvent(ctx, "SkillTreeCreated", map[string]interface{}{
		"ownerId":    actor.fullID,
		"ownerAlias": actor.alias,
		"timestamp":  now,
	})
	return nil
}

// AddSkill adds a named skill to the caller's tree. Every prerequisite must
// already exist in the tree and be mastered; this resolves prerequisite names
// at insertion time, so a dependent skill can never precede its prerequisites
// and cycles cannot form.
func (s *CredLedgerContract) AddSkill(ctx contractapi.TransactionContextInterface, name string, masteryThreshold int64, prerequisitesJSON string) error {
	logger.Infof("Chaincode Call: AddSkill '%s' (threshold %d)", name, masteryThreshold)

	if err := s.validateRequiredString(name, "skill name", maxStringInputLength); err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}
	if masteryThreshold <= 0 {
		return fmt.Errorf("AddSkill: masteryThreshold must be positive, got %d", masteryThreshold)
	}
	prerequisites, err := parseStringList(prerequisitesJSON, "prerequisitesJSON")
	if err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}
	if err := s.validateStringArray(prerequisites, "prerequisites", maxArrayElements, maxStringInputLength); err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}
	tree, err := s.getSkillTreeByOwner(ctx, actor.fullID)
	if err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}
	if _, exists := tree.Skills[name]; exists {
		return fmt.Errorf("skill '%s' in tree of '%s': %w", name, actor.fullID, ErrDuplicateSkill)
	}
	for _, prereq := range prerequisites {
		prereqSkill, ok := tree.Skills[prereq]
		if !ok {
			return fmt.Errorf("%w: prerequisite skill '%s' does not exist in the tree", ErrPrerequisitesNotMet, prereq)
		}
		if !prereqSkill.Mastered() {
			return fmt.Errorf("%w: prerequisite skill '%s' is not mastered (experience %d of %d)", ErrPrerequisitesNotMet, prereq, prereqSkill.Experience, prereqSkill.MasteryThreshold)
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}
	tree.Skills[name] = &model.Skill{
		Name:             name,
		Level:            1,
		Experience:       0,
		MasteryThreshold: masteryThreshold,
		Endorsements:     []model.Endorsement{},
	}
	tree.Prerequisites[name] = prerequisites
	tree.LastUpdatedAt = now
	if err := s.saveSkillTree(ctx, tree); err != nil {
		return fmt.Errorf("AddSkill: %w", err)
	}

	s.emitEvent(ctx, "SkillAdded", map[string]interface{}{
		"ownerId":          actor.fullID,
		"skill":            name,
		"masteryThreshold": masteryThreshold,
		"prerequisites":    prerequisites,
		"timestamp":        now,
	})
	return nil
}

// EndorseSkill appends a peer endorsement to a skill in someone else's tree.
// Endorsements are advisory: they never change level or experience.
// Self-endorsement is forbidden.
func (s *CredLedgerContract) EndorseSkill(ctx contractapi.TransactionContextInterface, ownerIdentityOrAlias, skillName string, weight int, notes string) error {
	logger.Infof("Chaincode Call: EndorseSkill '%s' of '%s' (weight %d)", skillName, ownerIdentityOrAlias, weight)

	if err := s.validateRequiredString(skillName, "skill name", maxStringInputLength); err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}
	if err := s.validateOptionalString(notes, "notes", maxNotesLength); err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}
	if weight <= 0 || weight > maxEndorsementWeight {
		return fmt.Errorf("EndorseSkill: weight must be in 1..%d, got %d", maxEndorsementWeight, weight)
	}

	im := NewIdentityManager(ctx)
	ownerFullID, err := im.ResolveIdentity(ownerIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("EndorseSkill: failed to resolve tree owner '%s': %w", ownerIdentityOrAlias, err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}
	if actor.fullID == ownerFullID {
		return fmt.Errorf("%w: '%s' cannot endorse their own skill", ErrInvalidEndorsement, actor.fullID)
	}

	tree, err := s.getSkillTreeByOwner(ctx, ownerFullID)
	if err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}
	skill, exists := tree.Skills[skillName]
	if !exists {
		return fmt.Errorf("skill '%s' in tree of '%s': %w", skillName, ownerFullID, ErrNotFound)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}
	skill.Endorsements = append(skill.Endorsements, model.Endorsement{
		EndorserID:    actor.fullID,
		EndorserAlias: actor.alias,
		Weight:        weight,
		Timestamp:     now,
		Notes:         notes,
	})
	tree.LastUpdatedAt = now
	if err := s.saveSkillTree(ctx, tree); err != nil {
		return fmt.Errorf("EndorseSkill: %w", err)
	}

	s.emitEvent(ctx, "SkillEndorsed", map[string]interface{}{
		"ownerId":       ownerFullID,
		"skill":         skillName,
		"endorserId":    actor.fullID,
		"endorserAlias": actor.alias,
		"weight":        weight,
		"timestamp":     now,
	})
	return nil
}

// GrantSkillExperience adds experience to a skill in a holder's tree. This is
// the external point-granting event that drives mastery; callers must be the
// platform admin or an institution owner. Experience and the derived skill
// level only ever increase.
func (s *CredLedgerContract) GrantSkillExperience(ctx contractapi.TransactionContextInterface, ownerIdentityOrAlias, skillName string, amount int64) error {
	logger.Infof("Chaincode Call: GrantSkillExperience %d to '%s' of '%s'", amount, skillName, ownerIdentityOrAlias)

	if err := s.validateRequiredString(skillName, "skill name", maxStringInputLength); err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}
	if amount <= 0 {
		return fmt.Errorf("GrantSkillExperience: amount must be positive, got %d", amount)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}
	if err := s.requireAdminOrInstitutionOwner(ctx, im, callerFullID); err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}

	ownerFullID, err := im.ResolveIdentity(ownerIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("GrantSkillExperience: failed to resolve tree owner '%s': %w", ownerIdentityOrAlias, err)
	}
	tree, err := s.getSkillTreeByOwner(ctx, ownerFullID)
	if err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}
	skill, exists := tree.Skills[skillName]
	if !exists {
		return fmt.Errorf("skill '%s' in tree of '%s': %w", skillName, ownerFullID, ErrNotFound)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}
	skill.Experience += amount
	// Level is a pure function of accumulated experience, so it can only move
	// upward.
	newLevel := skill.Experience/skill.MasteryThreshold + 1
	if newLevel > skill.Level {
		skill.Level = newLevel
	}
	tree.LastUpdatedAt = now
	if err := s.saveSkillTree(ctx, tree); err != nil {
		return fmt.Errorf("GrantSkillExperience: %w", err)
	}

	s.emitEvent(ctx, "SkillExperienceGranted", map[string]interface{}{
		"ownerId":    ownerFullID,
		"skill":      skillName,
		"amount":     amount,
		"experience": skill.Experience,
		"level":      skill.Level,
		"mastered":   skill.Mastered(),
		"timestamp":  now,
	})
	return nil
}

// GetSkillTree returns one identity's skill tree.
func (s *CredLedgerContract) GetSkillTree(ctx contractapi.TransactionContextInterface, ownerIdentityOrAlias string) (*model.SkillTree, error) {
	logger.Debugf("Chaincode Call: GetSkillTree of '%s'", ownerIdentityOrAlias)
	im := NewIdentityManager(ctx)
	ownerFullID, err := im.ResolveIdentity(ownerIdentityOrAlias)
	if err != nil {
		return nil, fmt.Errorf("GetSkillTree: failed to resolve owner '%s': %w", ownerIdentityOrAlias, err)
	}
	return s.getSkillTreeByOwner(ctx, ownerFullID)
}
