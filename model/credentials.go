package model

import "time"

// AccessScope tags a record as exclusively held by one identity or globally
// shared, independent of any storage-model feature.
type AccessScope string

const (
	ScopeShared    AccessScope = "SHARED"
	ScopeExclusive AccessScope = "EXCLUSIVE"
)

// Platform is the singleton configuration and fee-sink record for the ledger.
// It is created once by InitPlatform and mutated only by fee collection and
// admin policy updates.
type Platform struct {
	ObjectType          string      `json:"objectType"` // "Platform"
	AdminID             string      `json:"adminId"`
	AdminAlias          string      `json:"adminAlias"`
	VerificationFee     int64       `json:"verificationFee"`
	FeeBalance          int64       `json:"feeBalance"`
	AllowLateCompletion bool        `json:"allowLateCompletion"` // challenges may be completed after endTime
	Scope               AccessScope `json:"scope"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastUpdatedAt       time.Time   `json:"lastUpdatedAt"`
}

// Credential is a reusable definition of an earnable qualification, owned by
// an issuing institution. Revocation is a soft delete: the record stays in the
// catalog forever.
type Credential struct {
	Title        string            `json:"title"`
	Description  string            `json:"description"`
	IssuerID     string            `json:"issuerId"` // institution owner's full ID
	IssueDate    time.Time         `json:"issueDate"`
	ValidityDays int               `json:"validityDays"` // 0 = certificates never expire
	Metadata     map[string]string `json:"metadata"`
	Revoked      bool              `json:"revoked"`
	RevokedAt    time.Time         `json:"revokedAt"` // zero until revoked
}

// Institution holds one issuing institution's identity, catalog, reputation
// score and verification status. Owned exclusively by its creator; only the
// platform admin may flip Verified.
type Institution struct {
	ObjectType      string                 `json:"objectType"` // "Institution"
	Name            string                 `json:"name"`
	OwnerID         string                 `json:"ownerId"`
	OwnerAlias      string                 `json:"ownerAlias"`
	Credentials     map[string]*Credential `json:"credentials"` // title -> definition
	ReputationScore int64                  `json:"reputationScore"`
	Verified        bool                   `json:"verified"`
	Scope           AccessScope            `json:"scope"`
	CreatedAt       time.Time              `json:"createdAt"`
	LastUpdatedAt   time.Time              `json:"lastUpdatedAt"`
}

// Certificate is a holder-bound instance issued against a Credential. It is
// immutable after creation; attestations accumulate as separate Verification
// records.
type Certificate struct {
	ObjectType      string            `json:"objectType"`    // "Certificate"
	ID              string            `json:"id"`            // tx ID of the issuing transaction
	CredentialRef   string            `json:"credentialRef"` // "<institution>/<title>"
	CredentialTitle string            `json:"credentialTitle"`
	Institution     string            `json:"institution"`
	HolderID        string            `json:"holderId"`
	HolderAlias     string            `json:"holderAlias"`
	IssuedByID      string            `json:"issuedById"`
	IssueDate       time.Time         `json:"issueDate"`
	ExpiryDate      time.Time         `json:"expiryDate"` // zero when credential has no validity window
	AchievementData map[string]string `json:"achievementData"`
	Scope           AccessScope       `json:"scope"`
}

// PaginatedInstitutionResponse wraps one page of the institution directory.
type PaginatedInstitutionResponse struct {
	Institutions []*Institution `json:"institutions"`
	NextBookmark string         `json:"nextBookmark"`
	FetchedCount int32          `json:"fetchedCount"`
}

// Verification is a timestamped third-party attestation of a Certificate's
// continued validity. Appended, never mutated; one certificate may accumulate
// many of these over time.
type Verification struct {
	ObjectType       string    `json:"objectType"` // "Verification"
	CertificateID    string    `json:"certificateId"`
	VerifierID       string    `json:"verifierId"`
	VerifierAlias    string    `json:"verifierAlias"`
	VerificationDate time.Time `json:"verificationDate"`
	ValidUntil       time.Time `json:"validUntil"`
	Notes            string    `json:"notes"`
	PaymentAmount    int64     `json:"paymentAmount"`
}
