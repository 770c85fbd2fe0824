package contract

import (
	"encoding/json"
	"fmt"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func (s *CredLedgerContract) getChallengeByName(ctx contractapi.TransactionContextInterface, name string) (*model.Challenge, error) {
	key, err := s.createKey(ctx, challengeObjectType, name)
	if err != nil {
		return nil, err
	}
	var ch model.Challenge
	if err := s.getState(ctx, key, &ch, fmt.Sprintf("challenge '%s'", name)); err != nil {
		return nil, err
	}
	ensureChallengeSchemaCompliance(&ch)
	return &ch, nil
}

func (s *CredLedgerContract) saveChallenge(ctx contractapi.TransactionContextInterface, ch *model.Challenge) error {
	ensureChallengeSchemaCompliance(ch)
	key, err := s.createKey(ctx, challengeObjectType, ch.Name)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, ch, fmt.Sprintf("challenge '%s'", ch.Name))
}

// requireAdminOrVerifiedInstitutionOwner authorizes challenge and learning
// path creators: the platform admin or the owner of a platform-verified
// institution.
func (s *CredLedgerContract) requireAdminOrVerifiedInstitutionOwner(ctx contractapi.TransactionContextInterface, im *IdentityManager, callerFullID string) error {
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if isCallerAdmin {
		return nil
	}

	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(institutionObjectType, []string{})
	if err != nil {
		return fmt.Errorf("failed to get institutions iterator: %w", err)
	}
	defer iter.Close()
	for iter.HasNext() {
		resp, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("requireAdminOrVerifiedInstitutionOwner: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var inst model.Institution
		if err := json.Unmarshal(resp.Value, &inst); err != nil {
			logger.Warningf("requireAdminOrVerifiedInstitutionOwner: unmarshal error for key '%s': %v. Skipping.", resp.Key, err)
			continue
		}
		if inst.OwnerID == callerFullID && inst.Verified {
			return nil
		}
	}
	return fmt.Errorf("%w: caller '%s' is neither admin nor a verified institution owner", ErrUnauthorized, callerFullID)
}

// CreateChallenge defines a time-boxed, credential-gated competition. Only
// the platform admin or a verified institution owner may create one. Every
// required credential ref is resolved now, so a challenge can never carry a
// dangling requirement.
func (s *CredLedgerContract) CreateChallenge(ctx contractapi.TransactionContextInterface, name, description, startTimeStr, endTimeStr string, rewardPoints int64, requiredCredentialsJSON string) error {
	logger.Infof("Chaincode Call: CreateChallenge '%s' [%s .. %s]", name, startTimeStr, endTimeStr)

	if err := s.validateRequiredString(name, "challenge name", maxStringInputLength); err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if rewardPoints <= 0 {
		return fmt.Errorf("CreateChallenge: rewardPoints must be positive, got %d", rewardPoints)
	}
	startTime, err := parseDateString(startTimeStr, "startTime", true)
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	endTime, err := parseDateString(endTimeStr, "endTime", true)
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if !startTime.Before(endTime) {
		return fmt.Errorf("CreateChallenge: startTime must be before endTime")
	}
	requiredCredentials, err := parseStringList(requiredCredentialsJSON, "requiredCredentialsJSON")
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if err := s.requireAdminOrVerifiedInstitutionOwner(ctx, im, callerFullID); err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if err := s.resolveRequiredCredentialRefs(ctx, requiredCredentials, "requiredCredentials"); err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}

	key, err := s.createKey(ctx, challengeObjectType, name)
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}
	if exists {
		return fmt.Errorf("challenge '%s': %w", name, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}

	challenge := model.Challenge{
		ObjectType:          challengeObjectType,
		Name:                name,
		Description:         description,
		CreatorID:           callerFullID,
		StartTime:           startTime,
		EndTime:             endTime,
		RequiredCredentials: requiredCredentials,
		RewardPoints:        rewardPoints,
		Participants:        []string{},
		CompletedBy:         []string{},
		Scope:               model.ScopeShared,
		CreatedAt:           now,
		LastUpdatedAt:       now,
	}
	if err := s.saveChallenge(ctx, &challenge); err != nil {
		return fmt.Errorf("CreateChallenge: %w", err)
	}

	s.emitEvent(ctx, "ChallengeCreated", map[string]interface{}{
		"name":         name,
		"creatorId":    callerFullID,
		"startTime":    startTime,
		"endTime":      endTime,
		"rewardPoints": rewardPoints,
		"timestamp":    now,
	})
	return nil
}

// JoinChallenge enrolls the caller in a challenge. Joining is only possible
// while the challenge is active, at most once, and only when the caller holds
// a valid certificate for every required credential.
func (s *CredLedgerContract) JoinChallenge(ctx contractapi.TransactionContextInterface, name string) error {
	logger.Infof("Chaincode Call: JoinChallenge '%s'", name)

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("JoinChallenge: %w", err)
	}
	challenge, err := s.getChallengeByName(ctx, name)
	if err != nil {
		return fmt.Errorf("JoinChallenge: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("JoinChallenge: %w", err)
	}
	if state := challenge.StateAt(now); state != model.ChallengeActive {
		return fmt.Errorf("%w: challenge '%s' is %s", ErrChallengeNotActive, name, state)
	}
	if containsString(challenge.Participants, actor.fullID) {
		return fmt.Errorf("challenge '%s', participant '%s': %w", name, actor.fullID, ErrAlreadyJoined)
	}
	if err := s.checkRequiredCredentials(ctx, actor.fullID, challenge.RequiredCredentials, now); err != nil {
		return fmt.Errorf("JoinChallenge: %w", err)
	}

	challenge.Participants = append(challenge.Participants, actor.fullID)
	challenge.LastUpdatedAt = now
	if err := s.saveChallenge(ctx, challenge); err != nil {
		return fmt.Errorf("JoinChallenge: %w", err)
	}

	s.emitEvent(ctx, "ChallengeJoined", map[string]interface{}{
		"name":             name,
		"participantId":    actor.fullID,
		"participantAlias": actor.alias,
		"timestamp":        now,
	})
	return nil
}

// CompleteChallenge records a participant's completion and grants the reward
// points, at most once per participant. Only the challenge creator or the
// platform admin may record completions. Completion after the window closes
// is governed by the platform's late-completion policy.
func (s *CredLedgerContract) CompleteChallenge(ctx contractapi.TransactionContextInterface, name, holderIdentityOrAlias string) error {
	logger.Infof("Chaincode Call: CompleteChallenge '%s' for '%s'", name, holderIdentityOrAlias)

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("CompleteChallenge: %w", err)
	}
	challenge, err := s.getChallengeByName(ctx, name)
	if err != nil {
		return fmt.Errorf("CompleteChallenge: %w", err)
	}
	if challenge.CreatorID != callerFullID {
		isCallerAdmin, errAdm := im.IsAdmin(callerFullID)
		if errAdm != nil {
			return fmt.Errorf("CompleteChallenge: failed to check admin status: %w", errAdm)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' is neither the challenge creator nor an admin", ErrUnauthorized, callerFullID)
		}
	}

	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("CompleteChallenge: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	holderAlias := holderIdentityOrAlias
	if idInfo, errInfo := im.GetIdentityInfo(holderFullID); errInfo == nil {
		holderAlias = idInfo.ShortName
	}

	if !containsString(challenge.Participants, holderFullID) {
		return fmt.Errorf("%w: holder '%s' is not a participant of challenge '%s'", ErrUnauthorized, holderFullID, name)
	}
	if containsString(challenge.CompletedBy, holderFullID) {
		return fmt.Errorf("challenge '%s' completion for '%s': %w", name, holderFullID, ErrAlreadyVerified)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("CompleteChallenge: %w", err)
	}
	if now.Before(challenge.StartTime) {
		return fmt.Errorf("%w: challenge '%s' has not started", ErrChallengeNotActive, name)
	}
	if now.After(challenge.EndTime) {
		platform, errP := s.getPlatform(ctx)
		if errP != nil {
			return fmt.Errorf("CompleteChallenge: %w", errP)
		}
		if !platform.AllowLateCompletion {
			return fmt.Errorf("%w: challenge '%s' has closed and late completion is disabled", ErrChallengeNotActive, name)
		}
		logger.Infof("Challenge '%s' closed at %s; recording late completion for '%s' per platform policy.", name, challenge.EndTime, holderFullID)
	}

	if _, err := s.grantPoints(ctx, holderFullID, holderAlias, challenge.RewardPoints, "Challenge Completion", "challenge", now); err != nil {
		return fmt.Errorf("CompleteChallenge: failed to post reward points: %w", err)
	}

	challenge.CompletedBy = append(challenge.CompletedBy, holderFullID)
	challenge.LastUpdatedAt = now
	if err := s.saveChallenge(ctx, challenge); err != nil {
		return fmt.Errorf("CompleteChallenge: %w", err)
	}

	s.emitEvent(ctx, "ChallengeCompleted", map[string]interface{}{
		"name":         name,
		"holderId":     holderFullID,
		"holderAlias":  holderAlias,
		"rewardPoints": challenge.RewardPoints,
		"timestamp":    now,
	})
	return nil
}

// GetChallenge returns one challenge record.
func (s *CredLedgerContract) GetChallenge(ctx contractapi.TransactionContextInterface, name string) (*model.Challenge, error) {
	logger.Debugf("Chaincode Call: GetChallenge '%s'", name)
	if err := s.validateRequiredString(name, "challenge name", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("GetChallenge: %w", err)
	}
	return s.getChallengeByName(ctx, name)
}

// GetChallengeState derives a challenge's lifecycle state from the current
// transaction timestamp.
func (s *CredLedgerContract) GetChallengeState(ctx contractapi.TransactionContextInterface, name string) (string, error) {
	logger.Debugf("Chaincode Call: GetChallengeState '%s'", name)
	challenge, err := s.getChallengeByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("GetChallengeState: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("GetChallengeState: %w", err)
	}
	return string(challenge.StateAt(now)), nil
}
