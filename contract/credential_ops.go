package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// --- Credential Catalog ---

// DefineCredential adds a reusable credential definition to an institution's
// catalog. Only the institution owner may define credentials, and titles are
// unique within a catalog. validityDays of 0 means issued certificates never
// expire.
func (s *CredLedgerContract) DefineCredential(ctx contractapi.TransactionContextInterface, institutionName, title, description string, validityDays int, metadataJSON string) error {
	logger.Infof("Chaincode Call: DefineCredential '%s' at institution '%s'", title, institutionName)

	if err := s.validateRequiredString(institutionName, "institution name", maxStringInputLength); err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}
	if err := s.validateRequiredString(title, "credential title", maxStringInputLength); err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}
	if err := s.validateOptionalString(description, "description", maxDescriptionLength); err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}
	if validityDays < 0 {
		return fmt.Errorf("DefineCredential: validityDays cannot be negative, got %d", validityDays)
	}
	metadata, err := parseStringMap(metadataJSON, "metadataJSON")
	if err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}
	inst, err := s.getInstitutionByName(ctx, institutionName)
	if err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}
	if inst.OwnerID != actor.fullID {
		return fmt.Errorf("%w: caller '%s' does not own institution '%s'", ErrUnauthorized, actor.fullID, institutionName)
	}
	if _, exists := inst.Credentials[title]; exists {
		return fmt.Errorf("credential '%s' at institution '%s': %w", title, institutionName, ErrAlreadyExists)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}

	inst.Credentials[title] = &model.Credential{
		Title:        title,
		Description:  description,
		IssuerID:     actor.fullID,
		IssueDate:    now,
		ValidityDays: validityDays,
		Metadata:     metadata,
		Revoked:      false,
	}
	inst.LastUpdatedAt = now
	if err := s.saveInstitution(ctx, inst); err != nil {
		return fmt.Errorf("DefineCredential: %w", err)
	}

	s.emitEvent(ctx, "CredentialDefined", map[string]interface{}{
		"institution":  institutionName,
		"title":        title,
		"validityDays": validityDays,
		"timestamp":    now,
	})
	return nil
}

// RevokeCredential soft-deletes a credential definition. One-way and
// idempotent; the definition stays in the catalog but new issuance and
// requirement use are refused.
func (s *CredLedgerContract) RevokeCredential(ctx contractapi.TransactionContextInterface, institutionName, title string) error {
	logger.Infof("Chaincode Call: RevokeCredential '%s' at institution '%s'", title, institutionName)

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("RevokeCredential: %w", err)
	}
	inst, err := s.getInstitutionByName(ctx, institutionName)
	if err != nil {
		return fmt.Errorf("RevokeCredential: %w", err)
	}
	if inst.OwnerID != actor.fullID {
		return fmt.Errorf("%w: caller '%s' does not own institution '%s'", ErrUnauthorized, actor.fullID, institutionName)
	}
	cred, exists := inst.Credentials[title]
	if !exists {
		return fmt.Errorf("credential '%s' at institution '%s': %w", title, institutionName, ErrNotFound)
	}
	if cred.Revoked {
		logger.Infof("Credential '%s' at institution '%s' is already revoked. No action taken.", title, institutionName)
		return nil
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("RevokeCredential: %w", err)
	}
	cred.Revoked = true
	cred.RevokedAt = now
	inst.LastUpdatedAt = now
	if err := s.saveInstitution(ctx, inst); err != nil {
		return fmt.Errorf("RevokeCredential: %w", err)
	}

	s.emitEvent(ctx, "CredentialRevoked", map[string]interface{}{
		"institution": institutionName,
		"title":       title,
		"timestamp":   now,
	})
	return nil
}

// GetCredential returns one credential definition from an institution's
// catalog, revoked or not.
func (s *CredLedgerContract) GetCredential(ctx contractapi.TransactionContextInterface, institutionName, title string) (*model.Credential, error) {
	logger.Debugf("Chaincode Call: GetCredential '%s' at institution '%s'", title, institutionName)
	inst, err := s.getInstitutionByName(ctx, institutionName)
	if err != nil {
		return nil, fmt.Errorf("GetCredential: %w", err)
	}
	cred, exists := inst.Credentials[title]
	if !exists {
		return nil, fmt.Errorf("credential '%s' at institution '%s': %w", title, institutionName, ErrNotFound)
	}
	return cred, nil
}

// --- Certificate Issuance & Verification ---

func (s *CredLedgerContract) getCertificateByID(ctx contractapi.TransactionContextInterface, certID string) (*model.Certificate, error) {
	key, err := s.createKey(ctx, certificateObjectType, certID)
	if err != nil {
		return nil, err
	}
	var cert model.Certificate
	if err := s.getState(ctx, key, &cert, fmt.Sprintf("certificate '%s'", certID)); err != nil {
		return nil, err
	}
	ensureCertificateSchemaCompliance(&cert)
	return &cert, nil
}

// IssueCertificate mints a certificate for a holder against one of the
// calling institution owner's credential definitions. The certificate ID is
// the issuing transaction's ID, so issuance is deterministic across endorsing
// peers.
func (s *CredLedgerContract) IssueCertificate(ctx contractapi.TransactionContextInterface, institutionName, credentialTitle, holderIdentityOrAlias, achievementDataJSON string) (string, error) {
	logger.Infof("Chaincode Call: IssueCertificate '%s'/'%s' to '%s'", institutionName, credentialTitle, holderIdentityOrAlias)

	if err := s.validateRequiredString(holderIdentityOrAlias, "holder", maxStringInputLength); err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	achievementData, err := parseStringMap(achievementDataJSON, "achievementDataJSON")
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}

	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	inst, err := s.getInstitutionByName(ctx, institutionName)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	if inst.OwnerID != actor.fullID {
		return "", fmt.Errorf("%w: caller '%s' does not own institution '%s'", ErrUnauthorized, actor.fullID, institutionName)
	}
	cred, exists := inst.Credentials[credentialTitle]
	if !exists {
		return "", fmt.Errorf("credential '%s' at institution '%s': %w", credentialTitle, institutionName, ErrNotFound)
	}
	if cred.Revoked {
		return "", fmt.Errorf("credential '%s' at institution '%s' is revoked and cannot be issued", credentialTitle, institutionName)
	}

	im := NewIdentityManager(ctx)
	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	holderAlias := holderIdentityOrAlias
	if idInfo, errInfo := im.GetIdentityInfo(holderFullID); errInfo == nil {
		holderAlias = idInfo.ShortName
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	var expiry time.Time
	if cred.ValidityDays > 0 {
		expiry = now.AddDate(0, 0, cred.ValidityDays)
	}

	certID := ctx.GetStub().GetTxID()
	cert := model.Certificate{
		ObjectType:      certificateObjectType,
		ID:              certID,
		CredentialRef:   credentialRef(institutionName, credentialTitle),
		CredentialTitle: credentialTitle,
		Institution:     institutionName,
		HolderID:        holderFullID,
		HolderAlias:     holderAlias,
		IssuedByID:      actor.fullID,
		IssueDate:       now,
		ExpiryDate:      expiry,
		AchievementData: achievementData,
		Scope:           model.ScopeExclusive,
	}
	ensureCertificateSchemaCompliance(&cert)

	certKey, err := s.createKey(ctx, certificateObjectType, certID)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	if err := s.putState(ctx, certKey, &cert, fmt.Sprintf("certificate '%s'", certID)); err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}

	// Holder index entry so possession checks avoid a full certificate scan.
	indexKey, err := s.createKey(ctx, certOwnerObjectType, holderFullID, certID)
	if err != nil {
		return "", fmt.Errorf("IssueCertificate: %w", err)
	}
	if err := ctx.GetStub().PutState(indexKey, []byte(certID)); err != nil {
		return "", fmt.Errorf("IssueCertificate: failed to save holder index entry: %w", err)
	}

	if err := s.bumpInstitutionReputation(ctx, institutionName, 1); err != nil {
		return "", fmt.Errorf("IssueCertificate: failed to update institution reputation: %w", err)
	}

	s.emitEvent(ctx, "CertificateIssued", map[string]interface{}{
		"certificateId": certID,
		"credentialRef": cert.CredentialRef,
		"holderId":      holderFullID,
		"holderAlias":   holderAlias,
		"issueDate":     now,
	})
	logger.Infof("Certificate '%s' for '%s' issued to '%s' (%s)", certID, cert.CredentialRef, holderAlias, holderFullID)
	return certID, nil
}

// VerifyCertificate records an independent attestation against a certificate.
// The caller needs the verifier role and must pay at least the platform
// verification fee; the fee is absorbed into the platform balance. The
// certificate itself is never mutated.
func (s *CredLedgerContract) VerifyCertificate(ctx contractapi.TransactionContextInterface, certificateID, notes string, validDays int, payment int64) error {
	logger.Infof("Chaincode Call: VerifyCertificate '%s' (payment %d)", certificateID, payment)

	if err := s.validateRequiredString(certificateID, "certificateID", maxStringInputLength); err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}
	if err := s.validateOptionalString(notes, "notes", maxNotesLength); err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}
	if validDays <= 0 {
		return fmt.Errorf("VerifyCertificate: validDays must be positive, got %d", validDays)
	}

	im := NewIdentityManager(ctx)
	if err := im.RequireRole("verifier"); err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}
	actor, err := s.getCurrentActorInfo(ctx)
	if err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}

	platform, err := s.getPlatform(ctx)
	if err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}
	if payment < platform.VerificationFee {
		return fmt.Errorf("%w: payment %d is below the verification fee %d", ErrInsufficientPayment, payment, platform.VerificationFee)
	}

	cert, err := s.getCertificateByID(ctx, certificateID)
	if err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}

	verification := model.Verification{
		ObjectType:       verificationObjectType,
		CertificateID:    certificateID,
		VerifierID:       actor.fullID,
		VerifierAlias:    actor.alias,
		VerificationDate: now,
		ValidUntil:       now.AddDate(0, 0, validDays),
		Notes:            notes,
		PaymentAmount:    payment,
	}
	// Keyed by (certID, txID) so repeated attestations accumulate instead of
	// overwriting each other.
	verKey, err := s.createKey(ctx, verificationObjectType, certificateID, ctx.GetStub().GetTxID())
	if err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}
	if err := s.putState(ctx, verKey, &verification, fmt.Sprintf("verification for certificate '%s'", certificateID)); err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}

	platform.FeeBalance += payment
	platform.LastUpdatedAt = now
	if err := s.savePlatform(ctx, platform); err != nil {
		return fmt.Errorf("VerifyCertificate: %w", err)
	}

	if err := s.bumpInstitutionReputation(ctx, cert.Institution, 1); err != nil {
		return fmt.Errorf("VerifyCertificate: failed to update institution reputation: %w", err)
	}

	s.emitEvent(ctx, "CertificateVerified", map[string]interface{}{
		"certificateId": certificateID,
		"verifierId":    actor.fullID,
		"verifierAlias": actor.alias,
		"validUntil":    verification.ValidUntil,
		"payment":       payment,
	})
	return nil
}

// GetCertificate returns one certificate by ID.
func (s *CredLedgerContract) GetCertificate(ctx contractapi.TransactionContextInterface, certificateID string) (*model.Certificate, error) {
	logger.Debugf("Chaincode Call: GetCertificate '%s'", certificateID)
	if err := s.validateRequiredString(certificateID, "certificateID", maxStringInputLength); err != nil {
		return nil, fmt.Errorf("GetCertificate: %w", err)
	}
	return s.getCertificateByID(ctx, certificateID)
}

// GetCertificatesByHolder lists every certificate issued to a holder, via the
// holder index.
func (s *CredLedgerContract) GetCertificatesByHolder(ctx contractapi.TransactionContextInterface, holderIdentityOrAlias string) ([]*model.Certificate, error) {
	logger.Debugf("Chaincode Call: GetCertificatesByHolder '%s'", holderIdentityOrAlias)
	im := NewIdentityManager(ctx)
	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return nil, fmt.Errorf("GetCertificatesByHolder: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}

	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(certOwnerObjectType, []string{holderFullID})
	if err != nil {
		return nil, fmt.Errorf("GetCertificatesByHolder: failed to get holder index iterator: %w", err)
	}
	defer iter.Close()

	certs := []*model.Certificate{}
	for iter.HasNext() {
		resp, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("GetCertificatesByHolder: iterator error: %v. Skipping.", iterErr)
			continue
		}
		cert, errGet := s.getCertificateByID(ctx, string(resp.Value))
		if errGet != nil {
			logger.Warningf("GetCertificatesByHolder: dangling index entry for certificate '%s': %v. Skipping.", string(resp.Value), errGet)
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// GetCertificateVerifications lists every attestation recorded against a
// certificate, in ledger key order. Callers consult the most recent ones.
func (s *CredLedgerContract) GetCertificateVerifications(ctx contractapi.TransactionContextInterface, certificateID string) ([]*model.Verification, error) {
	logger.Debugf("Chaincode Call: GetCertificateVerifications '%s'", certificateID)
	if _, err := s.getCertificateByID(ctx, certificateID); err != nil {
		return nil, fmt.Errorf("GetCertificateVerifications: %w", err)
	}

	iter, err := ctx.GetStub().GetStateByPartialCompositeKey(verificationObjectType, []string{certificateID})
	if err != nil {
		return nil, fmt.Errorf("GetCertificateVerifications: failed to get verifications iterator: %w", err)
	}
	defer iter.Close()

	verifications := []*model.Verification{}
	for iter.HasNext() {
		resp, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("GetCertificateVerifications: iterator error: %v. Skipping.", iterErr)
			continue
		}
		var v model.Verification
		if err := json.Unmarshal(resp.Value, &v); err != nil {
			logger.Warningf("GetCertificateVerifications: failed to unmarshal verification for key '%s': %v. Skipping.", resp.Key, err)
			continue
		}
		verifications = append(verifications, &v)
	}
	return verifications, nil
}
