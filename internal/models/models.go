package models

import "time"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// GoalRole is a member's role within a goal.
type GoalRole string

const (
	RoleOwner  GoalRole = "owner"
	RoleMember GoalRole = "member"
)

// ResponseStatus is the per-participant state of a challenge.
type ResponseStatus string

const (
	ResponseIssued    ResponseStatus = "issued"
	ResponsePending   ResponseStatus = "pending"
	ResponseRejected  ResponseStatus = "rejected"
	ResponseCompleted ResponseStatus = "completed"
	ResponseFailed    ResponseStatus = "failed"
)

// ParticipantStatus is the per-participant state of a prize fight.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantVerifying ParticipantStatus = "verifying"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantFailed    ParticipantStatus = "failed"
)

// ProposalStatus is the state of a prize fight proposal.
type ProposalStatus string

const (
	ProposalOpen     ProposalStatus = "open"
	ProposalAccepted ProposalStatus = "accepted"
)

// User is a chat platform user, keyed by the platform's user id.
type User struct {
	ID          int64     `gorm:"primaryKey;autoIncrement:false"` // Telegram user id
	Handle      *string   `gorm:"size:64"`                        // @username, optional
	DisplayName string    `gorm:"not null"`                       // first name
	CreatedAt   time.Time // When the user was first seen
	UpdatedAt   time.Time // Last observed interaction
}

// Name returns the name used when addressing the user in a group.
func (u User) Name() string {
	if u.Handle != nil && *u.Handle != "" {
		return "@" + *u.Handle
	}
	return u.DisplayName
}

// Group is one chat context.
type Group struct {
	ID        int64   `gorm:"primaryKey;autoIncrement:false"` // Telegram chat id
	Name      *string `gorm:"size:255"`
	CreatedAt time.Time
}

// GroupMember links a user to a group they have interacted in.
type GroupMember struct {
	ID      int64 `gorm:"primaryKey"`
	GroupID int64 `gorm:"not null;uniqueIndex:idx_group_member"`
	UserID  int64 `gorm:"not null;uniqueIndex:idx_group_member"`

	Group *Group `gorm:"constraint:OnDelete:CASCADE"`
	User  *User  `gorm:"constraint:OnDelete:CASCADE"`
}

// Goal is a long-running objective owned by a group.
type Goal struct {
	ID        int64      `gorm:"primaryKey"`
	GroupID   int64      `gorm:"not null;index"`
	Text      string     `gorm:"type:text;not null"`
	Status    GoalStatus `gorm:"size:16;not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GoalMember is a user working on a goal.
type GoalMember struct {
	ID       int64    `gorm:"primaryKey"`
	GoalID   int64    `gorm:"not null;uniqueIndex:idx_goal_member"`
	UserID   int64    `gorm:"not null;uniqueIndex:idx_goal_member"`
	Role     GoalRole `gorm:"size:16;not null"`
	JoinedAt time.Time

	Goal *Goal `gorm:"constraint:OnDelete:CASCADE"`
	User *User
}

// Challenge is one day's task for a goal. Rejected challenges were
// superseded by a suggestion and are kept for audit only.
type Challenge struct {
	ID          int64     `gorm:"primaryKey"`
	GoalID      int64     `gorm:"not null;index"`
	Description string    `gorm:"type:text;not null"`
	DueDate     time.Time `gorm:"not null;index"`
	CreatedAt   time.Time
	Rejected    bool `gorm:"not null"`

	Goal *Goal `gorm:"constraint:OnDelete:CASCADE"`
}

// ChallengeResponse is one participant's state for a challenge.
type ChallengeResponse struct {
	ID          int64          `gorm:"primaryKey"`
	ChallengeID int64          `gorm:"not null;uniqueIndex:idx_challenge_user"`
	UserID      int64          `gorm:"not null;uniqueIndex:idx_challenge_user"`
	Status      ResponseStatus `gorm:"size:16;not null;index"`
	Validated   bool           `gorm:"not null"`
	ValidatorID *int64         // Peer asked to review the completion
	CompletedAt *time.Time
	ReviewedAt  *time.Time // When the review request (or the no-peer notice) went out
	ValidatedAt *time.Time
	CreatedAt   time.Time

	Challenge *Challenge `gorm:"constraint:OnDelete:CASCADE"`
	User      *User
}

// PrizeFightProposal is an offered prize fight that has not been accepted yet.
type PrizeFightProposal struct {
	ID            int64          `gorm:"primaryKey"`
	GroupID       int64          `gorm:"not null;index"`
	ChallengerID  int64          `gorm:"not null"`
	OpponentName  string         `gorm:"size:64;not null"`
	ChallengeText string         `gorm:"type:text;not null"`
	Prize         string         `gorm:"size:64;not null"`
	Status        ProposalStatus `gorm:"size:16;not null"`
	CreatedAt     time.Time
}

func (PrizeFightProposal) TableName() string { return "prizefight_proposals" }

// PrizeFight is an accepted two-party wager.
type PrizeFight struct {
	ID            int64  `gorm:"primaryKey"`
	GroupID       int64  `gorm:"not null;index"`
	ProposalID    *int64 `gorm:"uniqueIndex"`
	ChallengeText string `gorm:"column:challenge;type:text;not null"`
	Prize         string `gorm:"size:64;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PrizeFight) TableName() string { return "prizefights" }

// PrizeFightParticipant is one side of a prize fight.
type PrizeFightParticipant struct {
	ID           int64             `gorm:"primaryKey"`
	PrizeFightID int64             `gorm:"column:prizefight_id;not null;uniqueIndex:idx_prizefight_user"`
	UserID       int64             `gorm:"not null;uniqueIndex:idx_prizefight_user"`
	Status       ParticipantStatus `gorm:"size:16;not null;index"`
	JoinedAt     time.Time

	PrizeFight *PrizeFight `gorm:"foreignKey:PrizeFightID;constraint:OnDelete:CASCADE"`
	User       *User
}

func (PrizeFightParticipant) TableName() string { return "prizefight_participants" }

// PromptKind tells which suggestion a pending prompt is waiting for.
type PromptKind string

const (
	PromptChallenge  PromptKind = "challenge"
	PromptPrizeFight PromptKind = "prizefight"
)

// PendingPrompt correlates a reply with the suggestion prompt that solicited it.
type PendingPrompt struct {
	ID          int64      `gorm:"primaryKey"`
	GroupID     int64      `gorm:"not null;uniqueIndex:idx_prompt_message"`
	MessageID   int        `gorm:"not null;uniqueIndex:idx_prompt_message"`
	Kind        PromptKind `gorm:"size:16;not null"`
	GoalID      int64      // zero for prize fight prompts
	ChallengeID int64      // proposal id for prize fight prompts
	UserID      int64      `gorm:"not null"` // who asked to suggest
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"not null;index"`
}

// Member is a goal or prize fight participant resolved to a display name.
type Member struct {
	UserID int64
	Name   string
}

// ResponseDetail joins a challenge response with its challenge, goal and user.
type ResponseDetail struct {
	ChallengeResponse
	Description string
	DueDate     time.Time
	GoalID      int64
	GroupID     int64
	UserName    string
}

// ChallengeDetail is a challenge with the group its goal belongs to.
type ChallengeDetail struct {
	Challenge
	GroupID int64
}

// ParticipantDetail joins a prize fight participant with its fight.
type ParticipantDetail struct {
	PrizeFightParticipant
	ChallengeText string
	Prize         string
	GroupID       int64
	UserName      string
}
