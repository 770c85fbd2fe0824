package contract

import (
	"fmt"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var logger = flogging.MustGetLogger("credledger.contract")

// Object types used for composite keys and as 'docType' for CouchDB queries.
const (
	platformObjectType     = "Platform"
	institutionObjectType  = "Institution"
	certificateObjectType  = "Certificate"
	certOwnerObjectType    = "CertOwner" // index: holder -> certificate IDs
	verificationObjectType = "Verification"
	skillTreeObjectType    = "SkillTree"
	achievementObjectType  = "Achievement"
	challengeObjectType    = "Challenge"
	learningPathObjectType = "LearningPath"
	reputationObjectType   = "Reputation"
)

// Constants for input validation and limits
const (
	maxStringInputLength = 256
	maxDescriptionLength = 1024
	maxNotesLength       = 512
	maxArrayElements     = 50  // limit for requirement/privilege lists
	maxEndorsementWeight = 100 // endorsement weights are bounded advisory signals
	pointsPerLevel       = 100 // level = totalPoints/pointsPerLevel + 1
)

// CredLedgerContract provides functions for managing credentials, certificates
// and the gamification state (skills, achievements, challenges, learning
// paths, reputation).
// @contract:CredLedgerContract
type CredLedgerContract struct {
	contractapi.Contract
}

// actorInfo holds commonly needed details about the transaction invoker.
type actorInfo struct {
	fullID string
	alias  string
	mspID  string
}

// Instantiate is called during chaincode instantiation.
func (s *CredLedgerContract) Instantiate(ctx contractapi.TransactionContextInterface) {
	logger.Info("CredLedgerContract Instantiated/Upgraded")
}

// --- Identity & Role Management Wrappers (Delegating to IdentityManager) ---

func (s *CredLedgerContract) RegisterIdentity(ctx contractapi.TransactionContextInterface, targetFullID, shortName, enrollmentID string) error {
	logger.Infof("Chaincode Call: RegisterIdentity for '%s' with alias '%s'", targetFullID, shortName)
	return NewIdentityManager(ctx).RegisterIdentity(targetFullID, shortName, enrollmentID)
}

func (s *CredLedgerContract) AssignRoleToIdentity(ctx contractapi.TransactionContextInterface, identityOrAlias, role string) error {
	logger.Infof("Chaincode Call: AssignRole '%s' to '%s'", role, identityOrAlias)
	return NewIdentityManager(ctx).AssignRole(identityOrAlias, role)
}

func (s *CredLedgerContract) RemoveRoleFromIdentity(ctx contractapi.TransactionContextInterface, identityOrAlias, role string) error {
	logger.Infof("Chaincode Call: RemoveRole '%s' from '%s'", role, identityOrAlias)
	return NewIdentityManager(ctx).RemoveRole(identityOrAlias, role)
}

func (s *CredLedgerContract) MakeIdentityAdmin(ctx contractapi.TransactionContextInterface, identityOrAlias string) error {
	logger.Infof("Chaincode Call: MakeAdmin for '%s'", identityOrAlias)
	return NewIdentityManager(ctx).MakeAdmin(identityOrAlias)
}

func (s *CredLedgerContract) RemoveIdentityAdmin(ctx contractapi.TransactionContextInterface, identityOrAlias string) error {
	logger.Infof("Chaincode Call: RemoveAdmin for '%s'", identityOrAlias)
	return NewIdentityManager(ctx).RemoveAdmin(identityOrAlias)
}

func (s *CredLedgerContract) GetAllIdentities(ctx contractapi.TransactionContextInterface) ([]model.IdentityInfo, error) {
	logger.Debug("Chaincode Call: GetAllIdentities")
	return NewIdentityManager(ctx).GetAllRegisteredIdentities()
}

func (s *CredLedgerContract) GetIdentityDetails(ctx contractapi.TransactionContextInterface, identityOrAlias string) (*model.IdentityInfo, error) {
	logger.Debugf("Chaincode Call: GetIdentityDetails for '%s'", identityOrAlias)
	im := NewIdentityManager(ctx)
	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return nil, fmt.Errorf("GetIdentityDetails: failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerFullID, err := im.GetCurrentIdentityFullID()
		if err != nil {
			return nil, fmt.Errorf("GetIdentityDetails: failed to get caller's FullID: %w", err)
		}
		targetFullID, err := im.ResolveIdentity(identityOrAlias)
		if err != nil {
			return nil, fmt.Errorf("GetIdentityDetails: failed to resolve target identity '%s': %w", identityOrAlias, err)
		}
		if callerFullID != targetFullID {
			return nil, fmt.Errorf("%w: only admins or the identity owner can get these details", ErrUnauthorized)
		}
	}
	return im.GetIdentityInfo(identityOrAlias)
}

func (s *CredLedgerContract) GetFullIDForAlias(ctx contractapi.TransactionContextInterface, alias string) (string, error) {
	return NewIdentityManager(ctx).ResolveIdentity(alias)
}
