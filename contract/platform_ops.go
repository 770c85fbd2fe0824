package contract

import (
	"encoding/json"
	"fmt"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// platformKeyAttr is the single composite-key attribute of the Platform
// singleton.
const platformKeyAttr = "singleton"

func (s *CredLedgerContract) getPlatformKey(ctx contractapi.TransactionContextInterface) (string, error) {
	return s.createKey(ctx, platformObjectType, platformKeyAttr)
}

func (s *CredLedgerContract) getPlatform(ctx contractapi.TransactionContextInterface) (*model.Platform, error) {
	key, err := s.getPlatformKey(ctx)
	if err != nil {
		return nil, err
	}
	var p model.Platform
	if err := s.getState(ctx, key, &p, "platform record"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *CredLedgerContract) savePlatform(ctx contractapi.TransactionContextInterface, p *model.Platform) error {
	key, err := s.getPlatformKey(ctx)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, p, "platform record")
}

// InitPlatform bootstraps the ledger: it registers the caller under the given
// alias, makes the caller the platform admin, and creates the shared Platform
// configuration record with the initial verification fee. It can only run
// once; a second invocation fails with AlreadyExists.
func (s *CredLedgerContract) InitPlatform(ctx contractapi.TransactionContextInterface, adminAlias string, verificationFee int64) error {
	logger.Infof("Chaincode Call: InitPlatform by prospective admin alias '%s'", adminAlias)

	if err := s.validateRequiredString(adminAlias, "adminAlias", maxStringInputLength); err != nil {
		return fmt.Errorf("InitPlatform: %w", err)
	}
	if verificationFee < 0 {
		return fmt.Errorf("InitPlatform: verificationFee cannot be negative, got %d", verificationFee)
	}

	key, err := s.getPlatformKey(ctx)
	if err != nil {
		return fmt.Errorf("InitPlatform: %w", err)
	}
	exists, err := s.stateExists(ctx, key)
	if err != nil {
		return fmt.Errorf("InitPlatform: %w", err)
	}
	if exists {
		return fmt.Errorf("platform record: %w", ErrAlreadyExists)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("InitPlatform: failed to get caller's FullID: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("InitPlatform: %w", err)
	}

	// Bootstrap writes happen directly: GetState only sees committed state, so
	// the usual register-then-promote path cannot observe its own writes inside
	// this transaction. Compose the admin records in memory and write each key
	// once instead.
	callerMSPID := ""
	if clientIdentity := ctx.GetClientIdentity(); clientIdentity != nil {
		if mspID, mspErr := clientIdentity.GetMSPID(); mspErr == nil {
			callerMSPID = mspID
		} else {
			logger.Warningf("InitPlatform: could not determine MSPID for '%s': %v. Storing empty MSPID.", callerFullID, mspErr)
		}
	}

	adminInfo := model.IdentityInfo{
		ObjectType:      identityObjectType,
		FullID:          callerFullID,
		ShortName:       adminAlias,
		EnrollmentID:    adminAlias,
		OrganizationMSP: callerMSPID,
		Roles:           []string{},
		IsAdmin:         true,
		RegisteredBy:    callerFullID,
		RegisteredAt:    now,
		LastUpdatedAt:   now,
	}
	identityKey, err := im.createIdentityCompositeKey(callerFullID)
	if err != nil {
		return fmt.Errorf("InitPlatform: failed to create identity key for bootstrap admin '%s': %w", callerFullID, err)
	}
	adminInfoBytes, err := json.Marshal(adminInfo)
	if err != nil {
		return fmt.Errorf("InitPlatform: failed to marshal bootstrap admin identity record: %w", err)
	}
	if err := ctx.GetStub().PutState(identityKey, adminInfoBytes); err != nil {
		return fmt.Errorf("InitPlatform: failed to save bootstrap admin identity record for '%s': %w", callerFullID, err)
	}

	aliasKey, err := im.createAliasCompositeKey(adminAlias)
	if err != nil {
		return fmt.Errorf("InitPlatform: failed to create alias key for bootstrap admin '%s': %w", adminAlias, err)
	}
	if err := ctx.GetStub().PutState(aliasKey, []byte(callerFullID)); err != nil {
		return fmt.Errorf("InitPlatform: failed to save bootstrap admin alias mapping '%s' -> '%s': %w", adminAlias, callerFullID, err)
	}

	adminFlagKey, err := im.createAdminFlagCompositeKey(callerFullID)
	if err != nil {
		return fmt.Errorf("InitPlatform: failed to create admin flag key for '%s': %w", callerFullID, err)
	}
	if err := ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		return fmt.Errorf("InitPlatform: failed to set admin flag for bootstrap admin '%s': %w", callerFullID, err)
	}

	platform := model.Platform{
		ObjectType:          platformObjectType,
		AdminID:             callerFullID,
		AdminAlias:          adminAlias,
		VerificationFee:     verificationFee,
		FeeBalance:          0,
		AllowLateCompletion: true,
		Scope:               model.ScopeShared,
		CreatedAt:           now,
		LastUpdatedAt:       now,
	}
	if err := s.savePlatform(ctx, &platform); err != nil {
		return fmt.Errorf("InitPlatform: %w", err)
	}

	s.emitEvent(ctx, "PlatformInitialized", map[string]interface{}{
		"adminId":         callerFullID,
		"adminAlias":      adminAlias,
		"verificationFee": verificationFee,
		"timestamp":       now,
	})
	logger.Infof("Platform initialized. Admin: '%s' (%s), verification fee: %d", adminAlias, callerFullID, verificationFee)
	return nil
}

// UpdateVerificationFee sets the fee charged per certificate verification.
// Admin only.
func (s *CredLedgerContract) UpdateVerificationFee(ctx contractapi.TransactionContextInterface, newFee int64) error {
	logger.Infof("Chaincode Call: UpdateVerificationFee to %d", newFee)
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("UpdateVerificationFee: %w", err)
	}
	if newFee < 0 {
		return fmt.Errorf("UpdateVerificationFee: fee cannot be negative, got %d", newFee)
	}

	platform, err := s.getPlatform(ctx)
	if err != nil {
		return fmt.Errorf("UpdateVerificationFee: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("UpdateVerificationFee: %w", err)
	}

	oldFee := platform.VerificationFee
	platform.VerificationFee = newFee
	platform.LastUpdatedAt = now
	if err := s.savePlatform(ctx, platform); err != nil {
		return fmt.Errorf("UpdateVerificationFee: %w", err)
	}

	s.emitEvent(ctx, "VerificationFeeUpdated", map[string]interface{}{
		"oldFee":    oldFee,
		"newFee":    newFee,
		"timestamp": now,
	})
	return nil
}

// SetLateCompletionPolicy toggles whether challenge completions may be
// recorded after the challenge window closes. Admin only.
func (s *CredLedgerContract) SetLateCompletionPolicy(ctx contractapi.TransactionContextInterface, allow bool) error {
	logger.Infof("Chaincode Call: SetLateCompletionPolicy allow=%t", allow)
	im := NewIdentityManager(ctx)
	if err := s.requireAdmin(ctx, im); err != nil {
		return fmt.Errorf("SetLateCompletionPolicy: %w", err)
	}

	platform, err := s.getPlatform(ctx)
	if err != nil {
		return fmt.Errorf("SetLateCompletionPolicy: %w", err)
	}
	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("SetLateCompletionPolicy: %w", err)
	}

	platform.AllowLateCompletion = allow
	platform.LastUpdatedAt = now
	if err := s.savePlatform(ctx, platform); err != nil {
		return fmt.Errorf("SetLateCompletionPolicy: %w", err)
	}

	s.emitEvent(ctx, "LateCompletionPolicyUpdated", map[string]interface{}{
		"allowLateCompletion": allow,
		"timestamp":           now,
	})
	return nil
}

// GetPlatform returns the shared platform configuration record.
func (s *CredLedgerContract) GetPlatform(ctx contractapi.TransactionContextInterface) (*model.Platform, error) {
	logger.Debug("Chaincode Call: GetPlatform")
	return s.getPlatform(ctx)
}
