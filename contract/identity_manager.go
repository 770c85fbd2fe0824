package contract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric/common/flogging"
)

var idLogger = flogging.MustGetLogger("credledger.identitymanager")

// Object types for composite keys, also usable as 'docType' in CouchDB.
const (
	identityObjectType  = "IdentityInfo" // Stores IdentityInfo objects. Attribute: FullID.
	aliasObjectType     = "Alias"        // Maps ShortName (alias) to FullID. Attribute: ShortName.
	adminFlagObjectType = "AdminFlag"    // Stores a flag for admin status. Attribute: FullID.
)

// ValidRoles defines the set of permissible roles in the system.
// "admin" is a special status managed via the AdminFlag, not a role here.
var ValidRoles = map[string]bool{
	"institution": true,
	"holder":      true,
	"verifier":    true,
}

// IdentityManager handles identity registration, role management, and admin
// privileges.
type IdentityManager struct {
	Ctx contractapi.TransactionContextInterface
}

// NewIdentityManager creates a new instance of IdentityManager.
func NewIdentityManager(ctx contractapi.TransactionContextInterface) *IdentityManager {
	return &IdentityManager{Ctx: ctx}
}

// --- Internal Helpers ---

func (im *IdentityManager) getCurrentTxTimestamp() (time.Time, error) {
	ts, err := im.Ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func isValidX509ID(id string) bool {
	return strings.HasPrefix(id, "x509::") || strings.HasPrefix(id, "eDUwOTo6") // "eDUwOTo6" is "x509::" base64 encoded
}

func (im *IdentityManager) getListOfValidRoles() []string {
	keys := make([]string, 0, len(ValidRoles))
	for k := range ValidRoles {
		keys = append(keys, k)
	}
	return keys
}

func (im *IdentityManager) createIdentityCompositeKey(fullID string) (string, error) {
	return im.Ctx.GetStub().CreateCompositeKey(identityObjectType, []string{fullID})
}

func (im *IdentityManager) createAliasCompositeKey(shortName string) (string, error) {
	return im.Ctx.GetStub().CreateCompositeKey(aliasObjectType, []string{shortName})
}

func (im *IdentityManager) createAdminFlagCompositeKey(fullID string) (string, error) {
	return im.Ctx.GetStub().CreateCompositeKey(adminFlagObjectType, []string{fullID})
}

// --- Public Identity Management Functions ---

// RegisterIdentity registers or updates an identity record and its alias
// mapping. Before any admin exists this runs in bootstrap mode; afterwards
// only admins may register identities.
func (im *IdentityManager) RegisterIdentity(targetFullID, shortName, enrollmentID string) error {
	anyAdminCurrentlyExists, err := im.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists during RegisterIdentity: %w", err)
	}

	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		if anyAdminCurrentlyExists {
			return fmt.Errorf("failed to get current caller's FullID: %w", err)
		}
		callerFullID = "SYSTEM_BOOTSTRAP"
	}

	if anyAdminCurrentlyExists {
		isCallerAdmin, errAdminCheck := im.IsCurrentUserAdmin()
		if errAdminCheck != nil {
			return fmt.Errorf("failed to verify caller admin status for RegisterIdentity: %w", errAdminCheck)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' may not register identities once admins exist", ErrUnauthorized, callerFullID)
		}
	} else {
		idLogger.Infof("RegisterIdentity proceeding in bootstrap mode. Caller assumed '%s'.", callerFullID)
	}

	if !isValidX509ID(targetFullID) {
		return fmt.Errorf("targetFullID '%s' is not a valid X.509 ID format", targetFullID)
	}
	if strings.TrimSpace(shortName) == "" {
		return errors.New("shortName cannot be empty")
	}

	now, err := im.getCurrentTxTimestamp()
	if err != nil {
		return err
	}

	targetMSPID := ""
	if clientIdentity := im.Ctx.GetClientIdentity(); clientIdentity != nil {
		mspID, mspErr := clientIdentity.GetMSPID()
		if mspErr != nil {
			idLogger.Warningf("Could not determine MSPID for identity %s: %v. Storing empty MSPID.", targetFullID, mspErr)
		} else {
			targetMSPID = mspID
		}
	}

	aliasKey, err := im.createAliasCompositeKey(shortName)
	if err != nil {
		return fmt.Errorf("failed to create alias composite key for '%s': %w", shortName, err)
	}
	existingFullIDForAliasBytes, err := im.Ctx.GetStub().GetState(aliasKey)
	if err != nil {
		return fmt.Errorf("failed to check alias availability for '%s': %w", shortName, err)
	}
	if existingFullIDForAliasBytes != nil && string(existingFullIDForAliasBytes) != targetFullID {
		return fmt.Errorf("shortName (alias) '%s' is already in use by identity '%s'", shortName, string(existingFullIDForAliasBytes))
	}

	identityKey, err := im.createIdentityCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create identity composite key for '%s': %w", targetFullID, err)
	}
	identityInfoBytes, err := im.Ctx.GetStub().GetState(identityKey)
	if err != nil {
		return fmt.Errorf("failed to get identity state for '%s': %w", targetFullID, err)
	}

	var idInfo model.IdentityInfo
	if identityInfoBytes == nil {
		idInfo = model.IdentityInfo{
			ObjectType:      identityObjectType,
			FullID:          targetFullID,
			ShortName:       shortName,
			EnrollmentID:    enrollmentID,
			OrganizationMSP: targetMSPID,
			Roles:           []string{},
			IsAdmin:         false,
			RegisteredBy:    callerFullID,
			RegisteredAt:    now,
			LastUpdatedAt:   now,
		}
		idLogger.Infof("Registering new identity: %s with alias %s, MSP %s, by %s", targetFullID, shortName, targetMSPID, idInfo.RegisteredBy)
	} else {
		if err := json.Unmarshal(identityInfoBytes, &idInfo); err != nil {
			return fmt.Errorf("failed to unmarshal existing IdentityInfo for '%s': %w", targetFullID, err)
		}
		if idInfo.ShortName != shortName && idInfo.ShortName != "" {
			if oldAliasKey, keyErr := im.createAliasCompositeKey(idInfo.ShortName); keyErr == nil {
				if errDel := im.Ctx.GetStub().DelState(oldAliasKey); errDel != nil {
					idLogger.Warningf("Failed to delete old alias key '%s' for identity '%s': %v", oldAliasKey, targetFullID, errDel)
				}
			}
		}
		idInfo.ShortName = shortName
		idInfo.EnrollmentID = enrollmentID
		idInfo.OrganizationMSP = targetMSPID
		idInfo.LastUpdatedAt = now
		idLogger.Infof("Updating existing identity: %s with new alias %s. Updated by %s", targetFullID, shortName, callerFullID)
	}

	updatedIdentityInfoBytes, err := json.Marshal(idInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal IdentityInfo for '%s': %w", targetFullID, err)
	}
	if err := im.Ctx.GetStub().PutState(identityKey, updatedIdentityInfoBytes); err != nil {
		return fmt.Errorf("failed to save IdentityInfo for '%s': %w", targetFullID, err)
	}
	if err := im.Ctx.GetStub().PutState(aliasKey, []byte(targetFullID)); err != nil {
		return fmt.Errorf("failed to save alias mapping '%s' -> '%s': %w", shortName, targetFullID, err)
	}
	return nil
}

// ResolveIdentity maps a full X.509 ID (passthrough) or a registered alias to
// a full ID.
func (im *IdentityManager) ResolveIdentity(identityOrAlias string) (string, error) {
	trimmedInput := strings.TrimSpace(identityOrAlias)
	if trimmedInput == "" {
		return "", errors.New("identityOrAlias cannot be empty")
	}
	if isValidX509ID(trimmedInput) {
		return trimmedInput, nil
	}

	aliasKey, err := im.createAliasCompositeKey(trimmedInput)
	if err != nil {
		return "", fmt.Errorf("failed to create alias composite key for resolving '%s': %w", trimmedInput, err)
	}
	fullIDBytes, err := im.Ctx.GetStub().GetState(aliasKey)
	if err != nil {
		return "", fmt.Errorf("ledger error when querying alias '%s': %w", trimmedInput, err)
	}
	if fullIDBytes != nil {
		return string(fullIDBytes), nil
	}
	return "", fmt.Errorf("alias '%s': %w", trimmedInput, ErrNotFound)
}

func (im *IdentityManager) GetIdentityInfo(identityOrAlias string) (*model.IdentityInfo, error) {
	fullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		return nil, err
	}
	return im.getIdentityInfoByFullID(fullID)
}

func (im *IdentityManager) getIdentityInfoByFullID(fullID string) (*model.IdentityInfo, error) {
	if !isValidX509ID(fullID) {
		return nil, fmt.Errorf("'%s' is not a valid X.509 ID format for getIdentityInfoByFullID", fullID)
	}
	identityKey, err := im.createIdentityCompositeKey(fullID)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity composite key for '%s': %w", fullID, err)
	}
	identityInfoBytes, err := im.Ctx.GetStub().GetState(identityKey)
	if err != nil {
		return nil, fmt.Errorf("ledger error retrieving IdentityInfo for FullID '%s': %w", fullID, err)
	}
	if identityInfoBytes == nil {
		return nil, fmt.Errorf("identity record for FullID '%s': %w", fullID, ErrNotFound)
	}
	var idInfo model.IdentityInfo
	if err := json.Unmarshal(identityInfoBytes, &idInfo); err != nil {
		return nil, fmt.Errorf("failed to unmarshal IdentityInfo for FullID '%s': %w", fullID, err)
	}
	if idInfo.Roles == nil {
		idInfo.Roles = []string{}
	}
	return &idInfo, nil
}

// AssignRole adds one of ValidRoles to a registered identity. Admin only.
func (im *IdentityManager) AssignRole(targetIdentityOrAlias, role string) error {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for AssignRole: %w", err)
	}
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for AssignRole: %w", err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not assign roles", ErrUnauthorized, callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	if !ValidRoles[roleLower] {
		return fmt.Errorf("invalid role: '%s'. Valid roles are: %v", role, im.getListOfValidRoles())
	}

	targetFullID, err := im.ResolveIdentity(targetIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target identity '%s' for AssignRole: %w", targetIdentityOrAlias, err)
	}
	idInfo, err := im.getIdentityInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot assign role: target identity '%s' must be registered first: %w", targetIdentityOrAlias, err)
	}

	for _, existingRole := range idInfo.Roles {
		if existingRole == roleLower {
			idLogger.Infof("Role '%s' already assigned to identity '%s' (%s). No action needed.", roleLower, idInfo.ShortName, targetFullID)
			return nil
		}
	}

	now, err := im.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	idInfo.Roles = append(idInfo.Roles, roleLower)
	idInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(idInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal IdentityInfo for role assignment: %w", err)
	}
	identityKey, err := im.createIdentityCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create identity key for role assignment: %w", err)
	}
	if err := im.Ctx.GetStub().PutState(identityKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save IdentityInfo after role assignment for '%s': %w", targetFullID, err)
	}
	idLogger.Infof("Role '%s' assigned to identity '%s' (%s) by admin '%s'.", roleLower, idInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// RemoveRole strips a role from an identity. Admin only; removing an absent
// role is a no-op.
func (im *IdentityManager) RemoveRole(targetIdentityOrAlias, role string) error {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for RemoveRole: %w", err)
	}
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller admin status for RemoveRole: %w", err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not remove roles", ErrUnauthorized, callerFullID)
	}

	roleLower := strings.ToLower(strings.TrimSpace(role))
	targetFullID, err := im.ResolveIdentity(targetIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target identity '%s' for RemoveRole: %w", targetIdentityOrAlias, err)
	}
	idInfo, err := im.getIdentityInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot remove role: target identity '%s' not found: %w", targetIdentityOrAlias, err)
	}

	found := false
	newRoles := []string{}
	for _, r := range idInfo.Roles {
		if r == roleLower {
			found = true
		} else {
			newRoles = append(newRoles, r)
		}
	}
	if !found {
		idLogger.Infof("Role '%s' not found for identity '%s' (%s). No action taken.", roleLower, idInfo.ShortName, targetFullID)
		return nil
	}

	now, err := im.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	idInfo.Roles = newRoles
	idInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(idInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal IdentityInfo for role removal: %w", err)
	}
	identityKey, err := im.createIdentityCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create identity key for role removal: %w", err)
	}
	if err := im.Ctx.GetStub().PutState(identityKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save IdentityInfo after role removal for '%s': %w", targetFullID, err)
	}
	idLogger.Infof("Role '%s' removed from identity '%s' (%s) by admin '%s'.", roleLower, idInfo.ShortName, targetFullID, callerFullID)
	return nil
}

func (im *IdentityManager) HasRole(identityOrAlias, role string) (bool, error) {
	idInfo, err := im.GetIdentityInfo(identityOrAlias)
	if err != nil {
		if errors.Is(err, ErrNotFound) { // unregistered identity has no roles
			return false, nil
		}
		return false, fmt.Errorf("error resolving identity '%s' to check role: %w", identityOrAlias, err)
	}
	roleLower := strings.ToLower(strings.TrimSpace(role))
	for _, r := range idInfo.Roles {
		if r == roleLower {
			return true, nil
		}
	}
	return false, nil
}

// RequireRole fails unless the caller holds the role or is an admin.
func (im *IdentityManager) RequireRole(requiredRole string) error {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get current user's FullID for RequireRole: %w", err)
	}
	isAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to check current user '%s' admin status for RequireRole: %w", callerFullID, err)
	}
	if isAdmin {
		idLogger.Debugf("Admin user '%s' bypasses role requirement '%s'.", callerFullID, requiredRole)
		return nil
	}
	has, err := im.HasRole(callerFullID, requiredRole)
	if err != nil {
		return fmt.Errorf("error checking role '%s' for current user '%s': %w", requiredRole, callerFullID, err)
	}
	if !has {
		return fmt.Errorf("%w: identity '%s' does not have required role '%s'", ErrUnauthorized, callerFullID, requiredRole)
	}
	return nil
}

// MakeAdmin grants the admin flag. Before any admin exists this is a
// bootstrap action; afterwards only admins may grant it.
func (im *IdentityManager) MakeAdmin(targetIdentityOrAlias string) error {
	anyAdminExists, err := im.AnyAdminExists()
	if err != nil {
		return fmt.Errorf("failed to check if any admin exists for MakeAdmin: %w", err)
	}

	callerFullID := MustGetCallerFullID(im.Ctx)
	if anyAdminExists {
		isCallerAdmin, errAdm := im.IsAdmin(callerFullID)
		if errAdm != nil {
			return fmt.Errorf("failed to verify caller '%s' admin status for MakeAdmin: %w", callerFullID, errAdm)
		}
		if !isCallerAdmin {
			return fmt.Errorf("%w: caller '%s' may not make others admin", ErrUnauthorized, callerFullID)
		}
	} else {
		idLogger.Infof("No admins exist. Bootstrap: Caller '%s' is making target '%s' an admin.", callerFullID, targetIdentityOrAlias)
	}

	targetFullID, err := im.ResolveIdentity(targetIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target identity '%s' to make admin: %w", targetIdentityOrAlias, err)
	}
	idInfo, err := im.getIdentityInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot make admin: target identity '%s' must be registered first: %w", targetIdentityOrAlias, err)
	}

	adminFlagKey, err := im.createAdminFlagCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for MakeAdmin: %w", err)
	}
	if idInfo.IsAdmin {
		flagBytes, _ := im.Ctx.GetStub().GetState(adminFlagKey)
		if flagBytes != nil && string(flagBytes) == "true" {
			idLogger.Infof("Identity '%s' (%s) is already an admin. No action needed.", idInfo.ShortName, targetFullID)
			return nil
		}
	}

	now, err := im.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	idInfo.IsAdmin = true
	idInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(idInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal IdentityInfo for MakeAdmin: %w", err)
	}
	identityKey, err := im.createIdentityCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create identity key for MakeAdmin: %w", err)
	}
	if err := im.Ctx.GetStub().PutState(identityKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save IdentityInfo after setting IsAdmin for '%s': %w", targetFullID, err)
	}
	if err := im.Ctx.GetStub().PutState(adminFlagKey, []byte("true")); err != nil {
		return fmt.Errorf("failed to set admin flag for '%s': %w", targetFullID, err)
	}
	idLogger.Infof("Identity '%s' (%s) has been made an admin by '%s'.", idInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// RemoveAdmin clears the admin flag. Admins cannot demote themselves.
func (im *IdentityManager) RemoveAdmin(targetIdentityOrAlias string) error {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("failed to get caller's FullID for RemoveAdmin: %w", err)
	}
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to verify caller '%s' admin status for RemoveAdmin: %w", callerFullID, err)
	}
	if !isCallerAdmin {
		return fmt.Errorf("%w: caller '%s' may not remove admin privileges", ErrUnauthorized, callerFullID)
	}

	targetFullID, err := im.ResolveIdentity(targetIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("failed to resolve target identity '%s' to remove admin: %w", targetIdentityOrAlias, err)
	}
	if targetFullID == callerFullID {
		return errors.New("admins cannot remove their own admin status")
	}

	adminFlagKey, err := im.createAdminFlagCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create admin flag key for RemoveAdmin: %w", err)
	}
	idInfo, err := im.getIdentityInfoByFullID(targetFullID)
	if err != nil {
		return fmt.Errorf("cannot remove admin: target identity '%s' not found: %w", targetIdentityOrAlias, err)
	}
	if !idInfo.IsAdmin {
		idLogger.Infof("Identity '%s' (%s) IsAdmin is already false. Ensuring admin flag is cleared.", idInfo.ShortName, targetFullID)
		_ = im.Ctx.GetStub().DelState(adminFlagKey)
		return nil
	}

	now, err := im.getCurrentTxTimestamp()
	if err != nil {
		return err
	}
	idInfo.IsAdmin = false
	idInfo.LastUpdatedAt = now

	updatedBytes, err := json.Marshal(idInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal IdentityInfo for RemoveAdmin: %w", err)
	}
	identityKey, err := im.createIdentityCompositeKey(targetFullID)
	if err != nil {
		return fmt.Errorf("failed to create identity key for RemoveAdmin: %w", err)
	}
	if err := im.Ctx.GetStub().PutState(identityKey, updatedBytes); err != nil {
		return fmt.Errorf("failed to save IdentityInfo after clearing IsAdmin for '%s': %w", targetFullID, err)
	}
	if err := im.Ctx.GetStub().DelState(adminFlagKey); err != nil {
		return fmt.Errorf("failed to delete admin flag for '%s': %w", targetFullID, err)
	}
	idLogger.Infof("Admin privileges removed from identity '%s' (%s) by '%s'.", idInfo.ShortName, targetFullID, callerFullID)
	return nil
}

// IsAdmin checks admin privileges based on the AdminFlag record, which is
// authoritative over IdentityInfo.IsAdmin.
func (im *IdentityManager) IsAdmin(identityOrAlias string) (bool, error) {
	fullID, err := im.ResolveIdentity(identityOrAlias)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error resolving identity '%s' for IsAdmin check: %w", identityOrAlias, err)
	}
	adminFlagKey, err := im.createAdminFlagCompositeKey(fullID)
	if err != nil {
		return false, fmt.Errorf("failed to create admin flag key for IsAdmin check on '%s': %w", fullID, err)
	}
	flagBytes, err := im.Ctx.GetStub().GetState(adminFlagKey)
	if err != nil {
		return false, fmt.Errorf("ledger error checking admin flag for '%s': %w", fullID, err)
	}
	return flagBytes != nil && string(flagBytes) == "true", nil
}

func (im *IdentityManager) IsCurrentUserAdmin() (bool, error) {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return false, fmt.Errorf("failed to get current user's FullID for admin check: %w", err)
	}
	return im.IsAdmin(callerFullID)
}

// AnyAdminExists checks if any admin flag is set on the ledger.
func (im *IdentityManager) AnyAdminExists() (bool, error) {
	iterator, err := im.Ctx.GetStub().GetStateByPartialCompositeKey(adminFlagObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to query admin records for AnyAdminExists: %w", err)
	}
	defer iterator.Close()
	return iterator.HasNext(), nil
}

// GetCurrentIdentityFullID retrieves the full X.509 ID of the current
// transactor.
func (im *IdentityManager) GetCurrentIdentityFullID() (string, error) {
	clientIdentity := im.Ctx.GetClientIdentity()
	if clientIdentity == nil {
		return "", errors.New("client identity is nil from context")
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		return "", fmt.Errorf("failed to get client identity ID from context: %w", err)
	}
	if id == "" {
		return "", errors.New("client identity ID from context is empty")
	}
	if !isValidX509ID(id) {
		idLogger.Warningf("Current client ID '%s' does not appear to be a standard X.509 format.", id)
	}
	return id, nil
}

// MustGetCallerFullID is a utility to get the caller's ID, returning a
// placeholder on error. Useful for logging when a full error return isn't
// desired.
func MustGetCallerFullID(ctx contractapi.TransactionContextInterface) string {
	clientIdentity := ctx.GetClientIdentity()
	if clientIdentity == nil {
		idLogger.Error("MustGetCallerFullID: Client identity is nil from context. Returning placeholder.")
		return "ERROR_NIL_CLIENT_IDENTITY"
	}
	id, err := clientIdentity.GetID()
	if err != nil {
		idLogger.Errorf("MustGetCallerFullID: Failed to get client identity ID: %v. Returning placeholder.", err)
		return "ERROR_GETTING_CALLER_ID"
	}
	if id == "" {
		idLogger.Error("MustGetCallerFullID: Client identity ID from context is empty. Returning placeholder.")
		return "ERROR_EMPTY_CALLER_ID"
	}
	return id
}

// GetAllRegisteredIdentities lists every identity record. Admin only.
func (im *IdentityManager) GetAllRegisteredIdentities() ([]model.IdentityInfo, error) {
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get caller's FullID for GetAllRegisteredIdentities: %w", err)
	}
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify caller '%s' admin status: %w", callerFullID, err)
	}
	if !isCallerAdmin {
		return nil, fmt.Errorf("%w: caller '%s' may not list all identities", ErrUnauthorized, callerFullID)
	}

	resultsIterator, err := im.Ctx.GetStub().GetStateByPartialCompositeKey(identityObjectType, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to get identities iterator using objectType '%s': %w", identityObjectType, err)
	}
	defer resultsIterator.Close()

	identities := []model.IdentityInfo{}
	for resultsIterator.HasNext() {
		queryResponse, iterErr := resultsIterator.Next()
		if iterErr != nil {
			idLogger.Warningf("Failed to get next identity from iterator: %v. Skipping.", iterErr)
			continue
		}
		var idInfo model.IdentityInfo
		if err := json.Unmarshal(queryResponse.Value, &idInfo); err != nil {
			idLogger.Warningf("Failed to unmarshal identity data for key '%s': %v. Skipping.", queryResponse.Key, err)
			continue
		}
		if idInfo.Roles == nil {
			idInfo.Roles = []string{}
		}
		identities = append(identities, idInfo)
	}
	idLogger.Infof("Admin '%s' retrieved %d registered identities.", callerFullID, len(identities))
	return identities, nil
}
