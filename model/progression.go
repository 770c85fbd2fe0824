package model

import "time"

// ChallengeState is the time-derived lifecycle state of a Challenge. It is
// never persisted; it is computed from the transaction timestamp against the
// challenge window.
type ChallengeState string

const (
	ChallengeScheduled ChallengeState = "SCHEDULED" // now < startTime
	ChallengeActive    ChallengeState = "ACTIVE"    // startTime <= now <= endTime
	ChallengeClosed    ChallengeState = "CLOSED"    // now > endTime
)

// Rarity bounds for achievements (ordinal scale, common to legendary).
const (
	RarityMin = 1
	RarityMax = 4
)

// Endorsement is a peer attestation of skill proficiency. Advisory only: it
// never changes level or experience by itself.
type Endorsement struct {
	EndorserID    string    `json:"endorserId"`
	EndorserAlias string    `json:"endorserAlias"`
	Weight        int       `json:"weight"`
	Timestamp     time.Time `json:"timestamp"`
	Notes         string    `json:"notes"`
}

// Skill tracks one named skill in a tree. Level and experience only ever
// increase; mastery means experience >= MasteryThreshold.
type Skill struct {
	Name             string        `json:"name"`
	Level            int64         `json:"level"`
	Experience       int64         `json:"experience"`
	MasteryThreshold int64         `json:"masteryThreshold"`
	Endorsements     []Endorsement `json:"endorsements"`
}

// Mastered reports whether the skill's accumulated experience has reached its
// threshold.
func (sk *Skill) Mastered() bool {
	return sk.Experience >= sk.MasteryThreshold
}

// SkillTree is the per-owner graph of skills and their prerequisite edges.
// One per owner; owner-exclusive mutation.
type SkillTree struct {
	ObjectType    string              `json:"objectType"` // "SkillTree"
	OwnerID       string              `json:"ownerId"`
	OwnerAlias    string              `json:"ownerAlias"`
	Skills        map[string]*Skill   `json:"skills"`
	Prerequisites map[string][]string `json:"prerequisites"` // skill name -> prerequisite names
	Scope         AccessScope         `json:"scope"`
	CreatedAt     time.Time           `json:"createdAt"`
	LastUpdatedAt time.Time           `json:"lastUpdatedAt"`
}

// Achievement is a centrally defined unlockable with a rarity ordinal and the
// set of identities that have unlocked it.
type Achievement struct {
	ObjectType    string    `json:"objectType"` // "Achievement"
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	Points        int64     `json:"points"`
	Rarity        int       `json:"rarity"` // 1..4
	Requirements  []string  `json:"requirements"`
	Holders       []string  `json:"holders"`
	DefinedBy     string    `json:"definedBy"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// Badge is appended to a reputation record and never removed. The same badge
// name may recur at multiple tiers.
type Badge struct {
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	Level             int       `json:"level"`
	EarnedDate        time.Time `json:"earnedDate"`
	SpecialPrivileges []string  `json:"specialPrivileges"`
	AwardedBy         string    `json:"awardedBy"`
}

// Challenge is a time-boxed, credential-gated competition. CompletedBy is
// always a subset of Participants.
type Challenge struct {
	ObjectType          string      `json:"objectType"` // "Challenge"
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	CreatorID           string      `json:"creatorId"`
	StartTime           time.Time   `json:"startTime"`
	EndTime             time.Time   `json:"endTime"`
	RequiredCredentials []string    `json:"requiredCredentials"` // credential refs "<institution>/<title>"
	RewardPoints        int64       `json:"rewardPoints"`
	Participants        []string    `json:"participants"`
	CompletedBy         []string    `json:"completedBy"`
	Scope               AccessScope `json:"scope"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastUpdatedAt       time.Time   `json:"lastUpdatedAt"`
}

// StateAt derives the lifecycle state of the challenge at the given instant.
func (c *Challenge) StateAt(now time.Time) ChallengeState {
	if now.Before(c.StartTime) {
		return ChallengeScheduled
	}
	if now.After(c.EndTime) {
		return ChallengeClosed
	}
	return ChallengeActive
}

// PointEntry is one immutable line of a holder's point history.
type PointEntry struct {
	Seq       int64     `json:"seq"` // synthetic monotonic key; source strings are not unique
	Amount    int64     `json:"amount"`
	Source    string    `json:"source"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
}

// ReputationPoints is the append-only points/history/level record for one
// holder. TotalPoints never decreases and Level is a pure function of it.
type ReputationPoints struct {
	ObjectType    string       `json:"objectType"` // "Reputation"
	HolderID      string       `json:"holderId"`
	HolderAlias   string       `json:"holderAlias"`
	TotalPoints   int64        `json:"totalPoints"`
	Level         int64        `json:"level"`
	NextSeq       int64        `json:"nextSeq"`
	PointHistory  []PointEntry `json:"pointHistory"`
	Badges        []Badge      `json:"badges"`
	Scope         AccessScope  `json:"scope"`
	CreatedAt     time.Time    `json:"createdAt"`
	LastUpdatedAt time.Time    `json:"lastUpdatedAt"`
}

// Milestone is one ordinal step of a learning path, completable at most once
// per participant.
type Milestone struct {
	Ordinal        int      `json:"ordinal"`
	Description    string   `json:"description"`
	RequiredSkills []string `json:"requiredSkills"`
	RewardPoints   int64    `json:"rewardPoints"`
	CompletedBy    []string `json:"completedBy"`
}

// LearningPath is a shared, append-only milestone sequence gated by
// credential possession at join time and skill mastery per milestone.
type LearningPath struct {
	ObjectType          string                `json:"objectType"` // "LearningPath"
	Name                string                `json:"name"`
	Description         string                `json:"description"`
	CreatorID           string                `json:"creatorId"`
	RequiredCredentials []string              `json:"requiredCredentials"`
	Milestones          map[string]*Milestone `json:"milestones"` // decimal ordinal -> milestone
	CompletionReward    int64                 `json:"completionReward"`
	Participants        []string              `json:"participants"`
	RewardedCompleters  []string              `json:"rewardedCompleters"` // holders already granted the completion reward
	Scope               AccessScope           `json:"scope"`
	CreatedAt           time.Time             `json:"createdAt"`
	LastUpdatedAt       time.Time             `json:"lastUpdatedAt"`
}
