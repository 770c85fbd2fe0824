package contract

import (
	"fmt"
	"strconv"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func (s *CredLedgerContract) getLearningPathByName(ctx contractapi.TransactionContextInterface, name string) (*model.LearningPath, error) {
	key, err := s.createKey(ctx, learningPathObjectType, name)
	if err != nil {
		return nil, err
	}
	var path model.LearningPath
	if err := s.getState(ctx, key, &path, fmt.Sprintf("learning path '%s'", name)); err != nil {
		return nil, err
	}
	ensureLearningPathSchemaCompliance(&path)
	return &path, nil
}

func (s *CredLedgerContract) saveLearningPath(ctx contractapi.TransactionContextInterface, path *model.LearningPath) error {
	ensureLearningPathSchemaCompliance(path)
	key, err := s.createKey(ctx, learningPathObjectType, path.Name)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, path, fmt.Sprintf("learning path '%s'", path.Name))
}

// CreateLearningPath creates a shared, append-only milestone sequence. Only
// the platform admin or a verified institution owner may create one; the
// credential gate refs are resolved now, as for challenges.
func (s *CredLedgerContract) CreateLearningPath(ctx contractapi.TransactionContextInterface, name, description string, completionReward int64, requiredCredentialsJSON string) error {
	logger.Infof("Chaincode Call: CreateLearningPath '%s'", name)

	if err := s.validateRequiredString(name, "learning path name", maxStringInputLength); err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	if completionReward < 0 {
		return fmt.Errorf("CreateLearningPath: completionReward cannot be negative, got %d", completionReward)
	}
	requiredCredentials, err := parseStringList(requiredCredentialsJSON, "requiredCredentialsJSON")
	if err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	if err := s.requireAdminOrVerifiedInstitutionOwner(ctx, im, callerFullID); err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	if err := s.resolveRequiredCredentialRefs(ctx, requiredCredentials, "requiredCredentials"); err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}

	key, err := s.createKey(ctx, learningPathObjectType, name)
	if err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}
	if exists {
		return fmt.Errorf("learning path '%s': %w", name, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}

	path := model.LearningPath{
		ObjectType:          learningPathObjectType,
		Name:                name,
		Description:         description,
		CreatorID:           callerFullID,
		RequiredCredentials: requiredCredentials,
		Milestones:          map[string]*model.Milestone{},
		CompletionReward:    completionReward,
		Participants:        []string{},
		RewardedCompleters:  []string{},
		Scope:               model.ScopeShared,
		CreatedAt:           now,
		LastUpdatedAt:       now,
	}
	if err := s.saveLearningPath(ctx, &path); err != nil {
		return fmt.Errorf("CreateLearningPath: %w", err)
	}

	s.emitEvent(ctx, "LearningPathCreated", map[string]interface{}{
		"name":             name,
		"creatorId":        callerFullID,
		"completionReward": completionReward,
		"timestamp":        now,
	})
	return nil
}

// AddMilestone inserts a milestone at an ordinal. Only the path creator or
// the platform admin may append milestones; occupied ordinals are rejected.
func (s *CredLedgerContract) AddMilestone(ctx contractapi.TransactionContextInterface, pathName string, ordinal int, description string, rewardPoints int64, requiredSkillsJSON string) error {
	logger.Infof("Chaincode Call: AddMilestone %d to path '%s'", ordinal, pathName)

	if ordinal < 0 {
		return fmt.Errorf("AddMilestone: ordinal cannot be negative, got %d", ordinal)
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}
	if rewardPoints <= 0 {
		return fmt.Errorf("AddMilestone: rewardPoints must be positive, got %d", rewardPoints)
	}
	requiredSkills, err := parseStringList(requiredSkillsJSON, "requiredSkillsJSON")
	if err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}
	if err := s.validateStringArray(requiredSkills, "requiredSkills", maxArrayElements, maxStringInputLength); err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}
	path, err := s.getLearningPathByName(ctx, pathName)
	if err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}
	if path.CreatorID != callerFullID {
		isCallerAdmin, errAdm := im.IsAdmin(callerFullID)
		if errAdm != nil {
			return fmt.Errorf("AddMilestone: failed to check admin status: %w", errAdm)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' is neither the path creator nor an admin", ErrUnauthorized, callerFullID)
		}
	}
	milestoneKey := strconv.Itoa(ordinal)
	if _, occupied := path.Milestones[milestoneKey]; occupied {
		return fmt.Errorf("milestone %d of path '%s': %w", ordinal, pathName, ErrDuplicateMilestone)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}
	path.Milestones[milestoneKey] = &model.Milestone{
		Ordinal:        ordinal,
		Description:    description,
		RequiredSkills: requiredSkills,
		RewardPoints:   rewardPoints,
		CompletedBy:    []string{},
	}
	path.LastUpdatedAt = now
	if err := s.saveLearningPath(ctx, path); err != nil {
		return fmt.Errorf("AddMilestone: %w", err)
	}

	s.emitEvent(ctx, "MilestoneAdded", map[string]interface{}{
		"path":         pathName,
		"ordinal":      ordinal,
		"rewardPoints": rewardPoints,
		"timestamp":    now,
	})
	return nil
}

// JoinLearningPath enrolls the caller in a path, gated by possession of a
// valid certificate for every required credential.
func (s *CredLedgerContract) JoinLearningPath(ctx contractapi.TransactionContextInterface, pathName string) error {
	logger.Infof("Chaincode Call: JoinLearningPath '%s'", pathName)

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("JoinLearningPath: %w", err)
	}
	path, err := s.getLearningPathByName(ctx, pathName)
	if err != nil {
		return fmt.Errorf("JoinLearningPath: %w", err)
	}
	if containsString(path.Participants, actor.fullID) {
		return fmt.Errorf("learning path '%s', participant '%s': %w", pathName, actor.fullID, ErrAlreadyJoined)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("JoinLearningPath: %w", err)
	}
	if err := s.checkRequiredCredentials(ctx, actor.fullID, path.RequiredCredentials, now); err != nil {
		return fmt.Errorf("JoinLearningPath: %w", err)
	}

	path.Participants = append(path.Participants, actor.fullID)
	path.LastUpdatedAt = now
	if err := s.saveLearningPath(ctx, path); err != nil {
		return fmt.Errorf("JoinLearningPath: %w", err)
	}

	s.emitEvent(ctx, "LearningPathJoined", map[string]interface{}{
		"path":             pathName,
		"participantId":    actor.fullID,
		"participantAlias": actor.alias,
		"timestamp":        now,
	})
	return nil
}

// ProgressLearningPath records the caller's completion of one milestone, at
// most once, and posts its reward points. Every skill the milestone requires
// must be mastered in the caller's skill tree. When this completes the last
// outstanding milestone for the caller, the path's completion reward is
// granted exactly once.
func (s *CredLedgerContract) ProgressLearningPath(ctx contractapi.TransactionContextInterface, pathName string, ordinal int) error {
	logger.Infof("Chaincode Call: ProgressLearningPath '%s' milestone %d", pathName, ordinal)

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}
	path, err := s.getLearningPathByName(ctx, pathName)
	if err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}
	milestone, exists := path.Milestones[strconv.Itoa(ordinal)]
	if !exists {
		return fmt.Errorf("milestone %d of path '%s': %w", ordinal, pathName, ErrNotFound)
	}
	if !containsString(path.Participants, actor.fullID) {
		return fmt.Errorf("%w: '%s' is not a participant of path '%s'", ErrUnauthorized, actor.fullID, pathName)
	}
	if containsString(milestone.CompletedBy, actor.fullID) {
		return fmt.Errorf("milestone %d of path '%s' for '%s': %w", ordinal, pathName, actor.fullID, ErrAlreadyCompleted)
	}

	if len(milestone.RequiredSkills) > 0 {
		tree, errTree := s.getSkillTreeByOwner(ctx, actor.fullID)
		if errTree != nil {
			if isNotFound(errTree) {
				return fmt.Errorf("%w: '%s' has no skill tree and milestone %d requires skills", ErrPrerequisitesNotMet, actor.fullID, ordinal)
			}
			return fmt.Errorf("ProgressLearningPath: %w", errTree)
		}
		for _, skillName := range milestone.RequiredSkills {
			skill, ok := tree.Skills[skillName]
			if !ok {
				return fmt.Errorf("%w: required skill '%s' missing from '%s's tree", ErrPrerequisitesNotMet, skillName, actor.fullID)
			}
			if !skill.Mastered() {
				return fmt.Errorf("%w: required skill '%s' is not mastered (experience %d of %d)", ErrPrerequisitesNotMet, skillName, skill.Experience, skill.MasteryThreshold)
			}
		}
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}

	// The milestone reward and a possible completion reward land on the same
	// reputation key. GetState only returns committed state, so both grants
	// are applied to one loaded record and saved with a single write.
	rep, err := s.loadOrCreateReputation(ctx, actor.fullID, actor.alias, now)
	if err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}
	if err := s.applyPointGrant(rep, milestone.RewardPoints, "Learning Path Progress", "learning_path", now); err != nil {
		return fmt.Errorf("ProgressLearningPath: failed to post milestone reward: %w", err)
	}
	milestone.CompletedBy = append(milestone.CompletedBy, actor.fullID)

	completedAll := true
	for _, m := range path.Milestones {
		if !containsString(m.CompletedBy, actor.fullID) {
			completedAll = false
			break
		}
	}
	if completedAll && path.CompletionReward > 0 && !containsString(path.RewardedCompleters, actor.fullID) {
		if err := s.applyPointGrant(rep, path.CompletionReward, "Learning Path Completion", "learning_path", now); err != nil {
			return fmt.Errorf("ProgressLearningPath: failed to post completion reward: %w", err)
		}
		path.RewardedCompleters = append(path.RewardedCompleters, actor.fullID)
		logger.Infof("'%s' completed every milestone of path '%s'; completion reward %d granted.", actor.fullID, pathName, path.CompletionReward)
	}
	if err := s.saveReputation(ctx, rep); err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}

	path.LastUpdatedAt = now
	if err := s.saveLearningPath(ctx, path); err != nil {
		return fmt.Errorf("ProgressLearningPath: %w", err)
	}

	s.emitEvent(ctx, "LearningPathProgressed", map[string]interface{}{
		"path":         pathName,
		"ordinal":      ordinal,
		"holderId":     actor.fullID,
		"holderAlias":  actor.alias,
		"rewardPoints": milestone.RewardPoints,
		"completedAll": completedAll,
		"timestamp":    now,
	})
	return nil
}

// GetLearningPath returns one learning path record, milestones included.
func (s *CredLedgerContract) GetLearningPath(ctx contractapi.TransactionContextInterface, name string) (*model.LearningPath, error) {
	logger.Debugf("Chaincode Call: GetLearningPath '%s'", name)
	if err := s.validateRequiredString(name, "learning path name", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("GetLearningPath: %w", err)
	}
	return s.getLearningPathByName(ctx, name)
}
