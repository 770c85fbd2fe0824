package contract

import (
	"encoding/json"
	"fmt"
	"strconv"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func (s *CredLedgerContract) getInstitutionByName(ctx contractapi.TransactionContextInterface, name string) (*model.Institution, error) {
	key, err := s.createKey(ctx, institutionObjectType, name)
	if err != nil {
		return nil, err
	}
	var inst model.Institution
	if err := s.getState(ctx, key, &inst, fmt.Sprintf("institution '%s'", name)); err != nil {
		return nil, err
	}
	ensureInstitutionSchemaCompliance(&inst)
	return &inst, nil
}

func (s *CredLedgerContract) saveInstitution(ctx contractapi.TransactionContextInterface, inst *model.Institution) error {
	ensureInstitutionSchemaCompliance(inst)
	key, err := s.createKey(ctx, institutionObjectType, inst.Name)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, inst, fmt.Sprintf("institution '%s'", inst.Name))
}

// bumpInstitutionReputation adds delta to the institution's reputation score.
// Issuing a certificate and receiving a verification each earn one point.
func (s *CredLedgerContract) bumpInstitutionReputation(ctx contractapi.TransactionContextInterface, name string, delta int64) error {
	inst, err := s.getInstitutionByName(ctx, name)
	if err != nil {
		return err
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return err
	}
	inst.ReputationScore += delta
	inst.LastUpdatedAt = now
	return s.saveInstitution(ctx, inst)
}

// RegisterInstitution creates an institution record owned by the caller. The
// name is the directory key and must be unused.
func (s *CredLedgerContract) RegisterInstitution(ctx contractapi.TransactionContextInterface, name string) error {
	logger.Infof("Chaincode Call: RegisterInstitution '%s'", name)

	if err := s.validateRequiredString(name, "institution name", maxStringInputLength); err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}

	key, err := s.createKey(ctx, institutionObjectType, name)
	if err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}
	if exists {
		return fmt.Errorf("institution '%s': %w", name, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}

	inst := model.Institution{
		ObjectType:      institutionObjectType,
		Name:            name,
		OwnerID:         actor.fullID,
		OwnerAlias:      actor.alias,
		Credentials:     map[string]*model.Credential{},
		ReputationScore: 0,
		Verified:        false,
		Scope:           model.ScopeExclusive,
		CreatedAt:       now,
		LastUpdatedAt:   now,
	}
	if err := s.saveInstitution(ctx, &inst); err != nil {
		return fmt.Errorf("RegisterInstitution: %w", err)
	}

	s.emitEvent(ctx, "InstitutionRegistered", map[string]interface{}{
		"name":       name,
		"ownerId":    actor.fullID,
		"ownerAlias": actor.alias,
		"timestamp":  now,
	})
	logger.Infof("Institution '%s' registered by '%s' (%s)", name, actor.alias, actor.fullID)
	return nil
}

// VerifyInstitution marks an institution as platform-verified. Admin only,
// and idempotent.
func (s *CredLedgerContract) VerifyInstitution(ctx contractapi.TransactionContextInterface, name string) error {
	logger.Infof("Chaincode Call: VerifyInstitution '%s'", name)
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("VerifyInstitution: %w", err)
	}

	inst, err := s.getInstitutionByName(ctx, name)
	if err != nil {
		return fmt.Errorf("VerifyInstitution: %w", err)
	}
	if inst.Verified {
		logger.Infof("Institution '%s' is already verified. No action taken.", name)
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("VerifyInstitution: %w", err)
	}
	inst.Verified = true
	inst.ReputationScore++
	inst.LastUpdatedAt = now
	if err := s.saveInstitution(ctx, inst); err != nil {
		return fmt.Errorf("VerifyInstitution: %w", err)
	}

	s.emitEvent(ctx, "InstitutionVerified", map[string]interface{}{
		"name":      name,
		"timestamp": now,
	})
	return nil
}

// GetInstitution returns one institution record, including its credential
// catalog.
func (s *CredLedgerContract) GetInstitution(ctx contractapi.TransactionContextInterface, name string) (*model.Institution, error) {
	logger.Debugf("Chaincode Call: GetInstitution '%s'", name)
	if err := s.validateRequiredString(name, "institution name", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("GetInstitution: %w", err)
	}
	return s.getInstitutionByName(ctx, name)
}

// ListInstitutions returns a page of the institution directory ordered by
// name.
func (s *CredLedgerContract) ListInstitutions(ctx contractapi.TransactionContextInterface, pageSizeStr string, bookmark string) (*model.PaginatedInstitutionResponse, error) {
	pageSize, err := strconv.ParseInt(pageSizeStr, 10, 32)
	if err != nil || pageSize <= 0 {
		logger.Warningf("ListInstitutions: Invalid pageSize '%s', using default of 10. Error: %v", pageSizeStr, err)
		pageSize = 10
	}
	if pageSize > 100 {
		logger.Warningf("ListInstitutions: Requested pageSize %d exceeds max of 100. Capping at 100.", pageSize)
		pageSize = 100
	}
	logger.Infof("ListInstitutions: pageSize %d, bookmark '%s'", pageSize, bookmark)

	resultsIterator, metadata, err := ctx.GetStub().GetStateByPartialCompositeKeyWithPagination(institutionObjectType, []string{}, int32(pageSize), bookmark)
	if err != nil {
		return nil, fmt.Errorf("ListInstitutions: failed to get institutions iterator: %w", err)
	}
	defer resultsIterator.Close()

	institutions := []*model.Institution{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			logger.Warningf("ListInstitutions: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var inst model.Institution
		if err := json.Unmarshal(queryResponse.Value, &inst); err != nil {
			logger.Warningf("ListInstitutions: failed to unmarshal institution for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		ensureInstitutionSchemaCompliance(&inst)
		institutions = append(institutions, &inst)
	}

	return &model.PaginatedInstitutionResponse{
		Institutions: institutions,
		NextBookmark: metadata.GetBookmark(),
		FetchedCount: metadata.GetFetchedRecordsCount(),
	}, nil
}
