package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Core Helper Methods (used across multiple operations) ---

// getCurrentTxTimestamp retrieves the current transaction timestamp from the
// stub. This is the only clock the contract ever consults.
func (s *CredLedgerContract) getCurrentTxTimestamp(ctx contractapi.TransactionContextInterface) (time.Time, error) {
	ts, err := ctx.GetStub().GetTxTimestamp()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get transaction timestamp: %w", err)
	}
	return ts.AsTime(), nil
}

func (s *CredLedgerContract) getCurrentActorInfo(ctx contractapi.TransactionContextInterface) (*actorInfo, error) {
	im := NewIdentityManager(ctx)
	fullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's FullID: %w", err)
	}

	var alias string
	idInfo, errGetInfo := im.GetIdentityInfo(fullID)
	if errGetInfo == nil && idInfo != nil {
		alias = idInfo.ShortName
	} else {
		logger.Debugf("Could not retrieve IdentityInfo (or alias) for actor %s: %v. Attempting fallback.", fullID, errGetInfo)
		// Extract alias from the X.509 CN when the identity is unregistered.
		if strings.Contains(fullID, "::CN=") {
			parts := strings.Split(fullID, "::CN=")
			if len(parts) > 1 {
				cnPart := parts[1]
				if idx := strings.Index(cnPart, "::"); idx != -1 {
					cnPart = cnPart[:idx]
				}
				alias = cnPart
			}
		}
		if alias == "" {
			maxAliasLen := 16
			if len(fullID) > maxAliasLen {
				alias = "unknown_" + fullID[:maxAliasLen]
			} else {
				alias = "unknown_" + fullID
			}
		}
	}

	mspID, err := ctx.GetClientIdentity().GetMSPID()
	if err != nil {
		return nil, fmt.Errorf("failed to get current actor's MSPID: %w", err)
	}
	return &actorInfo{fullID: fullID, alias: alias, mspID: mspID}, nil
}

// --- Key Creation Helpers ---

func (s *CredLedgerContract) createKey(ctx contractapi.TransactionContextInterface, objectType string, attrs ...string) (string, error) {
	for _, a := range attrs {
		if strings.TrimSpace(a) == "" {
			return "", fmt.Errorf("composite key attribute for %s cannot be empty", objectType)
		}
	}
	return ctx.GetStub().CreateCompositeKey(objectType, attrs)
}

// --- Validation Helper Functions ---

func (s *CredLedgerContract) validateRequiredString(input, field string, max int) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *CredLedgerContract) validateOptionalString(input, field string, max int) error {
	if input != "" && len(input) > max {
		return fmt.Errorf("%s exceeds max length %d", field, max)
	}
	return nil
}

func (s *CredLedgerContract) validateStringArray(arr []string, field string, maxItems, maxItemLen int) error {
	if arr == nil { // nil array is valid (empty)
		return nil
	}
	if len(arr) > maxItems {
		return fmt.Errorf("%s has %d items, exceeding maximum of %d", field, len(arr), maxItems)
	}
	for i, v := range arr {
		if err := s.validateRequiredString(v, fmt.Sprintf("%s[%d]", field, i), maxItemLen); err != nil {
			return err
		}
	}
	return nil
}

func parseDateString(str, field string, required bool) (time.Time, error) {
	sTrimmed := strings.TrimSpace(str)
	if sTrimmed == "" {
		if required {
			return time.Time{}, fmt.Errorf("%s is a required date field and cannot be empty", field)
		}
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, sTrimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid format for %s (expected RFC3339 'YYYY-MM-DDTHH:MM:SSZ'): %w", field, err)
	}
	return t, nil
}

// parseStringList unmarshals a JSON array argument, tolerating the empty
// string as an empty list.
func parseStringList(jsonStr, field string) ([]string, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("invalid %s (expected JSON string array): %w", field, err)
	}
	return out, nil
}

// parseStringMap unmarshals a JSON object argument, tolerating the empty
// string as an empty map.
func parseStringMap(jsonStr, field string) (map[string]string, error) {
	if strings.TrimSpace(jsonStr) == "" {
		return map[string]string{}, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return nil, fmt.Errorf("invalid %s (expected JSON string map): %w", field, err)
	}
	return out, nil
}

// credentialRef builds the stable handle "<institution>/<title>" for a
// credential definition, and splitCredentialRef reverses it.
func credentialRef(institution, title string) string {
	return institution + "/" + title
}

func splitCredentialRef(ref string) (institution, title string, err error) {
	idx := strings.Index(ref, "/")
	if idx <= 0 || idx == len(ref)-1 {
		return "", "", fmt.Errorf("invalid credential ref '%s' (expected '<institution>/<title>')", ref)
	}
	return ref[:idx], ref[idx+1:], nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// --- Schema Compliance ---
// CouchDB rejects null where an array is expected, so slices and maps are
// always initialised before marshalling.

func ensureInstitutionSchemaCompliance(inst *model.Institution) {
	if inst == nil {
		return
	}
	if inst.Credentials == nil {
		inst.Credentials = map[string]*model.Credential{}
	}
	for _, c := range inst.Credentials {
		if c.Metadata == nil {
			c.Metadata = map[string]string{}
		}
	}
}

func ensureSkillTreeSchemaCompliance(tree *model.SkillTree) {
	if tree == nil {
		return
	}
	if tree.Skills == nil {
		tree.Skills = map[string]*model.Skill{}
	}
	if tree.Prerequisites == nil {
		tree.Prerequisites = map[string][]string{}
	}
	for _, sk := range tree.Skills {
		if sk.Endorsements == nil {
			sk.Endorsements = []model.Endorsement{}
		}
	}
}

func ensureChallengeSchemaCompliance(ch *model.Challenge) {
	if ch == nil {
		return
	}
	if ch.RequiredCredentials == nil {
		ch.RequiredCredentials = []string{}
	}
	if ch.Participants == nil {
		ch.Participants = []string{}
	}
	if ch.CompletedBy == nil {
		ch.CompletedBy = []string{}
	}
}

func ensureLearningPathSchemaCompliance(path *model.LearningPath) {
	if path == nil {
		return
	}
	if path.RequiredCredentials == nil {
		path.RequiredCredentials = []string{}
	}
	if path.Milestones == nil {
		path.Milestones = map[string]*model.Milestone{}
	}
	for _, m := range path.Milestones {
		if m.RequiredSkills == nil {
			m.RequiredSkills = []string{}
		}
		if m.CompletedBy == nil {
			m.CompletedBy = []string{}
		}
	}
	if path.Participants == nil {
		path.Participants = []string{}
	}
	if path.RewardedCompleters == nil {
		path.RewardedCompleters = []string{}
	}
}

func ensureReputationSchemaCompliance(rep *model.ReputationPoints) {
	if rep == nil {
		return
	}
	if rep.PointHistory == nil {
		rep.PointHistory = []model.PointEntry{}
	}
	if rep.Badges == nil {
		rep.Badges = []model.Badge{}
	}
}

func ensureAchievementSchemaCompliance(a *model.Achievement) {
	if a == nil {
		return
	}
	if a.Requirements == nil {
		a.Requirements = []string{}
	}
	if a.Holders == nil {
		a.Holders = []string{}
	}
}

func ensureCertificateSchemaCompliance(cert *model.Certificate) {
	if cert == nil {
		return
	}
	if cert.AchievementData == nil {
		cert.AchievementData = map[string]string{}
	}
}

// --- State round-trip helpers ---

func (s *CredLedgerContract) getState(ctx contractapi.TransactionContextInterface, key string, out interface{}, what string) error {
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return fmt.Errorf("failed to read %s from ledger: %w", what, err)
	}
	if raw == nil {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return nil
}

func (s *CredLedgerContract) putState(ctx contractapi.TransactionContextInterface, key string, v interface{}, what string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", what, err)
	}
	if err := ctx.GetStub().PutState(key, raw); err != nil {
		return fmt.Errorf("failed to save %s to ledger: %w", what, err)
	}
	return nil
}

func (s *CredLedgerContract) stateExists(ctx contractapi.TransactionContextInterface, key string) (bool, error) {
	raw, err := ctx.GetStub().GetState(key)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger state: %w", err)
	}
	return raw != nil, nil
}

// --- Events ---

// emitEvent sends a chaincode event with a JSON payload. Failure to emit is
// logged but never fails the transaction.
func (s *CredLedgerContract) emitEvent(ctx contractapi.TransactionContextInterface, eventName string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	for k, v := range payload {
		if t, ok := v.(time.Time); ok {
			payload[k] = t.Format(time.RFC3339)
		}
	}
	eventBytes, err := json.Marshal(payload)
	if err != nil {
		logger.Warningf("emitEvent: Failed to marshal payload for event '%s': %v", eventName, err)
		return
	}
	if errSet := ctx.GetStub().SetEvent(eventName, eventBytes); errSet != nil {
		logger.Warningf("emitEvent: Failed to set event '%s': %v", eventName, errSet)
	}
}

// --- Authorization helpers ---

// requireAdmin checks that the current caller holds the platform admin flag.
func (s *CredLedgerContract) requireAdmin(ctx contractapi.TransactionContextInterface, im *IdentityManager) error {
	isCallerAdmin, err := im.IsCurrentUserAdmin()
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if !isCallerAdmin {
		callerID, _ := im.GetCurrentIdentityFullID()
		return fmt.Errorf("%w: caller '%s' is not an admin", ErrUnauthorized, callerID)
	}
	return nil
}

// requireAdminOrInstitutionOwner authorizes point-granting parties: the
// platform admin or the owner of any registered institution.
func (s *CredLedgerContract) requireAdminOrInstitutionOwner(ctx contractapi.TransactionContextInterface, im *IdentityManager, callerFullID string) error {
	isCallerAdmin, err := im.IsAdmin(callerFullID)
	if err != nil {
		return fmt.Errorf("failed to check admin status: %w", err)
	}
	if isCallerAdmin {
		return nil
	}
	owns, err := s.callerOwnsAnyInstitution(ctx, callerFullID)
	if err != nil {
		return err
	}
	if !owns {
		return fmt.Errorf("%w: caller '%s' is neither admin nor an institution owner", ErrUnauthorized, callerFullID)
	}
	return nil
}

func (s *CredLedgerContract) callerOwnsAnyInstitution(ctx contractapi.TransactionContextInterface, callerFullID string) (bool, error) {
	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(institutionObjectType, []string{})
	if err != nil {
		return false, fmt.Errorf("failed to get institutions iterator: %w", err)
	}
	defer iter.Close()
	for iter.HasNext() {
		resp, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("callerOwnsAnyInstitution: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var inst model.Institution
		if err := json.Unmarshal(resp.Value, &inst); err != nil {
			logger.Warningf("callerOwnsAnyInstitution: unmarshal error for key '%s': %v. Skipping.", resp.Key, err)
			continue
		}
		if inst.OwnerID == callerFullID {
			return true, nil
		}
	}
	return false, nil
}

// resolveRequiredCredentialRefs validates that every listed credential ref
// resolves to an existing, non-revoked definition. Surfaces NotFound at
// definition time rather than allowing dangling requirement names.
func (s *CredLedgerContract) resolveRequiredCredentialRefs(ctx contractapi.TransactionContextInterface, refs []string, field string) error {
	if len(refs) > maxArrayElements {
		return fmt.Errorf("%s has %d items, exceeding maximum of %d", field, len(refs), maxArrayElements)
	}
	for _, ref := range refs {
		instName, title, err := splitCredentialRef(ref)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		inst, err := s.getInstitutionByName(ctx, instName)
		if err != nil {
			return fmt.Errorf("%s: institution for ref '%s': %w", field, ref, err)
		}
		cred, ok := inst.Credentials[title]
		if !ok {
			return fmt.Errorf("%s: credential '%s': %w", field, ref, ErrNotFound)
		}
		if cred.Revoked {
			return fmt.Errorf("%s: credential '%s' is revoked and cannot be required", field, ref)
		}
	}
	return nil
}

// holderHoldsCredential reports whether the holder owns at least one
// certificate for the referenced credential whose definition is not revoked
// and whose certificate has not expired by now.
func (s *CredLedgerContract) holderHoldsCredential(ctx contractapi.TransactionContextInterface, holderFullID, ref string, now time.Time) (bool, error) {
	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(certOwnerObjectType, []string{holderFullID})
	if err != nil {
		return false, fmt.Errorf("failed to get certificate index iterator for holder '%s': %w", holderFullID, err)
	}
	defer iter.Close()

	for iter.HasNext() {
		resp, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("holderHoldsCredential: iterator error: %v. Skipping.", iterErr)
			continue
		}
		certID := string(resp.Value)
		cert, errGet := s.getCertificateByID(ctx, certID)
		if errGet != nil {
			logger.Warningf("holderHoldsCredential: dangling index entry for certificate '%s': %v. Skipping.", certID, errGet)
			continue
		}
		if cert.CredentialRef != ref {
			continue
		}
		if !cert.ExpiryDate.IsZero() && now.After(cert.ExpiryDate) {
			continue
		}
		inst, errInst := s.getInstitutionByName(ctx, cert.Institution)
		if errInst != nil {
			logger.Warningf("holderHoldsCredential: institution '%s' for certificate '%s' unavailable: %v. Skipping.", cert.Institution, certID, errInst)
			continue
		}
		if cred, ok := inst.Credentials[cert.CredentialTitle]; ok && !cred.Revoked {
			return true, nil
		}
	}
	return false, nil
}

// checkRequiredCredentials verifies possession of every required credential
// ref, returning ErrPrerequisitesNotMet naming the first missing one.
func (s *CredLedgerContract) checkRequiredCredentials(ctx contractapi.TransactionContextInterface, holderFullID string, refs []string, now time.Time) error {
	for _, ref := range refs {
		has, err := s.holderHoldsCredential(ctx, holderFullID, ref, now)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("%w: holder '%s' lacks required credential '%s'", ErrPrerequisitesNotMet, holderFullID, ref)
		}
	}
	return nil
}
