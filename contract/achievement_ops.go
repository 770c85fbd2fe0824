package contract

import (
	"fmt"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func (s *CredLedgerContract) getAchievementByName(ctx contractapi.TransactionContextInterface, name string) (*model.Achievement, error) {
	key, err := s.createKey(ctx, achievementObjectType, name)
	if err != nil {
		return nil, err
	}
	var a model.Achievement
	if err := s.getState(ctx, key, &a, fmt.Sprintf("achievement '%s'", name)); err != nil {
		return nil, err
	}
	ensureAchievementSchemaCompliance(&a)
	return &a, nil
}

func (s *CredLedgerContract) saveAchievement(ctx contractapi.TransactionContextInterface, a *model.Achievement) error {
	ensureAchievementSchemaCompliance(a)
	key, err := s.createKey(ctx, achievementObjectType, a.Name)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, a, fmt.Sprintf("achievement '%s'", a.Name))
}

// DefineAchievement registers a centrally defined unlockable. Admin only.
// Rarity is an ordinal from common (1) to legendary (4). Requirement names
// are free-form labels resolved by callers before unlocking; they are only
// validated non-empty here.
func (s *CredLedgerContract) DefineAchievement(ctx contractapi.TransactionContextInterface, name, description string, points int64, rarity int, requirementsJSON string) error {
	logger.Infof("Chaincode Call: DefineAchievement '%s' (%d points, rarity %d)", name, points, rarity)

	if err := s.validateRequiredString(name, "achievement name", maxStringInputLength); err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	if points <= 0 {
		return fmt.Errorf("DefineAchievement: points must be positive, got %d", points)
	}
	if rarity < model.RarityMin || rarity > model.RarityMax {
		return fmt.Errorf("DefineAchievement: rarity must be in %d..%d, got %d", model.RarityMin, model.RarityMax, rarity)
	}
	requirements, err := parseStringList(requirementsJSON, "requirementsJSON")
	if err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	if err := s.validateStringArray(requirements, "requirements", maxArrayElements, maxStringInputLength); err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}

	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}

	key, err := s.createKey(ctx, achievementObjectType, name)
	if err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}
	if exists {
		return fmt.Errorf("achievement '%s': %w", name, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}

	achievement := model.Achievement{
		ObjectType:    achievementObjectType,
		Name:          name,
		Description:   description,
		Points:        points,
		Rarity:        rarity,
		Requirements:  requirements,
		Holders:       []string{},
		DefinedBy:     callerFullID,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if err := s.saveAchievement(ctx, &achievement); err != nil {
		return fmt.Errorf("DefineAchievement: %w", err)
	}

	s.emitEvent(ctx, "AchievementDefined", map[string]interface{}{
		"name":      name,
		"points":    points,
		"rarity":    rarity,
		"timestamp": now,
	})
	return nil
}

// UnlockAchievement records that a holder earned an achievement, at most
// once, and posts the achievement's points to the holder's reputation.
// Callers must be the platform admin or an institution owner.
func (s *CredLedgerContract) UnlockAchievement(ctx contractapi.TransactionContextInterface, name, holderIdentityOrAlias string) error {
	logger.Infof("Chaincode Call: UnlockAchievement '%s' for '%s'", name, holderIdentityOrAlias)

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("UnlockAchievement: %w", err)
	}
	if err := s.requireAdminOrInstitutionOwner(ctx, im, callerFullID); err != nil {
		return fmt.Errorf("UnlockAchievement: %w", err)
	}

	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("UnlockAchievement: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	holderAlias := holderIdentityOrAlias
	if idInfo, errInfo := im.GetIdentityInfo(holderFullID); errInfo == nil {
		holderAlias = idInfo.ShortName
	}

	achievement, err := s.getAchievementByName(ctx, name)
	if err != nil {
		return fmt.Errorf("UnlockAchievement: %w", err)
	}
	if containsString(achievement.Holders, holderFullID) {
		return fmt.Errorf("achievement '%s' for holder '%s': %w", name, holderFullID, ErrAlreadyUnlocked)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UnlockAchievement: %w", err)
	}
	achievement.Holders = append(achievement.Holders, holderFullID)
	achievement.LastUpdatedAt = now
	if err := s.saveAchievement(ctx, achievement); err != nil {
		return fmt.Errorf("UnlockAchievement: %w", err)
	}

	if _, err := s.grantPoints(ctx, holderFullID, holderAlias, achievement.Points, "Achievement: "+name, "achievement", now); err != nil {
		return fmt.Errorf("UnlockAchievement: failed to post points: %w", err)
	}

	s.emitEvent(ctx, "AchievementUnlocked", map[string]interface{}{
		"name":        name,
		"holderId":    holderFullID,
		"holderAlias": holderAlias,
		"points":      achievement.Points,
		"timestamp":   now,
	})
	return nil
}

// AwardBadge appends a badge to a holder's reputation record. Admin only.
// Badges are never revoked or deduplicated: the same name may recur at
// multiple tiers over time.
func (s *CredLedgerContract) AwardBadge(ctx contractapi.TransactionContextInterface, holderIdentityOrAlias, name, category string, level int, privilegesJSON string) error {
	logger.Infof("Chaincode Call: AwardBadge '%s' (category '%s', level %d) to '%s'", name, category, level, holderIdentityOrAlias)

	if err := s.validateRequiredString(name, "badge name", maxStringInputLength); err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}
	if err := s.validateOptionalString(category, "category", maxStringInputLength); err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}
	if level <= 0 {
		return fmt.Errorf("AwardBadge: level must be positive, got %d", level)
	}
	privileges, err := parseStringList(privilegesJSON, "privilegesJSON")
	if err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}
	if err := s.validateStringArray(privileges, "privileges", maxArrayElements, maxStringInputLength); err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}

	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}

	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("AwardBadge: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	holderAlias := holderIdentityOrAlias
	if idInfo, errInfo := im.GetIdentityInfo(holderFullID); errInfo == nil {
		holderAlias = idInfo.ShortName
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}

	rep, err := s.getReputationByHolder(ctx, holderFullID)
	if err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("AwardBadge: %w", err)
		}
		rep = &model.ReputationPoints{
			ObjectType:   reputationObjectType,
			HolderID:     holderFullID,
			HolderAlias:  holderAlias,
			TotalPoints:  0,
			Level:        1,
			NextSeq:      0,
			PointHistory: []model.PointEntry{},
			Badges:       []model.Badge{},
			Scope:        model.ScopeExclusive,
			CreatedAt:    now,
		}
	}

	rep.Badges = append(rep.Badges, model.Badge{
		Name:              name,
		Category:          category,
		Level:             level,
		EarnedDate:        now,
		SpecialPrivileges: privileges,
		AwardedBy:         callerFullID,
	})
	rep.LastUpdatedAt = now
	if err := s.saveReputation(ctx, rep); err != nil {
		return fmt.Errorf("AwardBadge: %w", err)
	}

	s.emitEvent(ctx, "BadgeAwarded", map[string]interface{}{
		"holderId":  holderFullID,
		"badge":     name,
		"category":  category,
		"level":     level,
		"timestamp": now,
	})
	return nil
}

// GetAchievement returns one achievement definition, including its holder
// set.
func (s *CredLedgerContract) GetAchievement(ctx contractapi.TransactionContextInterface, name string) (*model.Achievement, error) {
	logger.Debugf("Chaincode Call: GetAchievement '%s'", name)
	if err := s.validateRequiredString(name, "achievement name", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("GetAchievement: %w", err)
	}
	return s.getAchievementByName(ctx, name)
}
