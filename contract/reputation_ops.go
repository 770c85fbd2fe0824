package contract

import (
	"encoding/json"
	"fmt"
	"time"

	"credledger/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

// ReputationHistoryEntry is one committed version of a reputation record,
// reconstructed from the ledger's key history.
type ReputationHistoryEntry struct {
	TxID        string    `json:"txId"`
	Timestamp   time.Time `json:"timestamp"`
	IsDelete    bool      `json:"isDelete"`
	TotalPoints int64     `json:"totalPoints"`
	Level       int64     `json:"level"`
}

func (s *CredLedgerContract) getReputationByHolder(ctx contractapi.TransactionContextInterface, holderFullID string) (*model.ReputationPoints, error) {
	key, err := s.createKey(ctx, reputationObjectType, holderFullID)
	if err != nil {
		return nil, err
	}
	var rep model.ReputationPoints
	if err := s.getState(ctx, key, &rep, fmt.Sprintf("reputation record of '%s'", holderFullID)); err != nil {
		return nil, err
	}
	ensureReputationSchemaCompliance(&rep)
	return &rep, nil
}

func (s *CredLedgerContract) saveReputation(ctx contractapi.TransactionContextInterface, rep *model.ReputationPoints) error {
	ensureReputationSchemaCompliance(rep)
	key, err := s.createKey(ctx, reputationObjectType, rep.HolderID)
	if err != nil {
		return err
	}
	return s.putState(ctx, key, rep, fmt.Sprintf("reputation record of '%s'", rep.HolderID))
}

// loadOrCreateReputation returns the holder's committed reputation record, or
// a fresh in-memory one when the holder has never been granted points.
func (s *CredLedgerContract) loadOrCreateReputation(ctx contractapi.TransactionContextInterface, holderFullID, holderAlias string, now time.Time) (*model.ReputationPoints, error) {
	rep, err := s.getReputationByHolder(ctx, holderFullID)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
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
	return rep, nil
}

// applyPointGrant posts one entry to an already-loaded reputation record.
// History entries are keyed by a synthetic monotonic sequence number, so
// identical source strings never collide. The total never decreases and the
// level is recomputed from it.
func (s *CredLedgerContract) applyPointGrant(rep *model.ReputationPoints, amount int64, source, category string, now time.Time) error {
	if amount <= 0 {
		return fmt.Errorf("point amount must be positive, got %d", amount)
	}
	rep.PointHistory = append(rep.PointHistory, model.PointEntry{
		Seq:       rep.NextSeq,
		Amount:    amount,
		Source:    source,
		Category:  category,
		Timestamp: now,
	})
	rep.NextSeq++
	rep.TotalPoints += amount
	rep.Level = rep.TotalPoints/pointsPerLevel + 1
	rep.LastUpdatedAt = now
	return nil
}

// grantPoints posts a single point entry to a holder's reputation record,
// creating the record lazily on first grant. GetState only sees committed
// state, so an operation posting more than one grant in a transaction must
// load the record once, apply every grant, and save once; calling grantPoints
// twice would make the second write clobber the first.
func (s *CredLedgerContract) grantPoints(ctx contractapi.TransactionContextInterface, holderFullID, holderAlias string, amount int64, source, category string, now time.Time) (*model.ReputationPoints, error) {
	rep, err := s.loadOrCreateReputation(ctx, holderFullID, holderAlias, now)
	if err != nil {
		return nil, err
	}
	if err := s.applyPointGrant(rep, amount, source, category, now); err != nil {
		return nil, err
	}
	if err := s.saveReputation(ctx, rep); err != nil {
		return nil, err
	}

	s.emitEvent(ctx, "PointsGranted", map[string]interface{}{
		"holderId":    holderFullID,
		"amount":      amount,
		"source":      source,
		"category":    category,
		"totalPoints": rep.TotalPoints,
		"level":       rep.Level,
		"timestamp":   now,
	})
	logger.Infof("Granted %d points to '%s' (source '%s'). Total: %d, level: %d", amount, holderFullID, source, rep.TotalPoints, rep.Level)
	return rep, nil
}

// GrantPoints posts a manual point grant to a holder. Callers must be the
// platform admin or an institution owner.
func (s *CredLedgerContract) GrantPoints(ctx contractapi.TransactionContextInterface, holderIdentityOrAlias string, amount int64, source, category string) error {
	logger.Infof("Chaincode Call: GrantPoints %d to '%s' (source '%s')", amount, holderIdentityOrAlias, source)

	if err := s.validateRequiredString(source, "source", maxStringInputLength); err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}
	if err := s.validateOptionalString(category, "category", maxStringInputLength); err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}

	im := NewIdentityManager(ctx)
	callerFullID, err := im.GetCurrentIdentityFullID()
	if err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}
	if err := s.requireAdminOrInstitutionOwner(ctx, im, callerFullID); err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}

	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return fmt.Errorf("GrantPoints: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	holderAlias := holderIdentityOrAlias
	if idInfo, errInfo := im.GetIdentityInfo(holderFullID); errInfo == nil {
		holderAlias = idInfo.ShortName
	}

	now, err := s.getCurrentTxTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}
	if _, err := s.grantPoints(ctx, holderFullID, holderAlias, amount, source, category, now); err != nil {
		return fmt.Errorf("GrantPoints: %w", err)
	}
	return nil
}

// GetReputation returns a holder's reputation record: running total, level,
// point history and badges.
func (s *CredLedgerContract) GetReputation(ctx contractapi.TransactionContextInterface, holderIdentityOrAlias string) (*model.ReputationPoints, error) {
	logger.Debugf("Chaincode Call: GetReputation of '%s'", holderIdentityOrAlias)
	im := NewIdentityManager(ctx)
	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return nil, fmt.Errorf("GetReputation: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}
	return s.getReputationByHolder(ctx, holderFullID)
}

// GetReputationAuditTrail replays the committed history of a holder's
// reputation record from the ledger, one entry per mutating transaction.
func (s *CredLedgerContract) GetReputationAuditTrail(ctx contractapi.TransactionContextInterface, holderIdentityOrAlias string) ([]ReputationHistoryEntry, error) {
	logger.Infof("Chaincode Call: GetReputationAuditTrail of '%s'", holderIdentityOrAlias)
	im := NewIdentityManager(ctx)
	holderFullID, err := im.ResolveIdentity(holderIdentityOrAlias)
	if err != nil {
		return nil, fmt.Errorf("GetReputationAuditTrail: failed to resolve holder '%s': %w", holderIdentityOrAlias, err)
	}

	key, err := s.createKey(ctx, reputationObjectType, holderFullID)
	if err != nil {
		return nil, fmt.Errorf("GetReputationAuditTrail: %w", err)
	}
	iter, err := ctx.GetStub().GetHistoryForKey(key)
	if err != nil {
		return nil, fmt.Errorf("GetReputationAuditTrail: failed to get history iterator: %w", err)
	}
	defer iter.Close()

	history := []ReputationHistoryEntry{}
	for iter.HasNext() {
		mod, iterErr := iter.Next()
		if iterErr != nil {
			logger.Warningf("GetReputationAuditTrail: iterator error: %v. Skipping.", iterErr)
			continue
		}
		entry := ReputationHistoryEntry{
			TxID:     mod.TxId,
			IsDelete: mod.IsDelete,
		}
		if mod.Timestamp != nil {
			entry.Timestamp = mod.Timestamp.AsTime()
		}
		if !mod.IsDelete && len(mod.Value) > 0 {
			var rep model.ReputationPoints
			if err := json.Unmarshal(mod.Value, &rep); err != nil {
				logger.Warningf("GetReputationAuditTrail: failed to unmarshal historic value for tx '%s': %v. Skipping values.", mod.TxId, err)
			} else {
				entry.TotalPoints = rep.TotalPoints
				entry.Level = rep.Level
			}
		}
		history = append(history, entry)
	}
	return history, nil
}
