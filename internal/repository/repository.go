package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cliffng14/accountably/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a row changed between the read and the conditioned write.
	ErrStale = errors.New("row changed concurrently")
	// ErrConflict is returned when the current state does not allow the requested change.
	ErrConflict = errors.New("state does not allow this change")
	// ErrGoalInactive is returned when writing challenges for a goal that is no longer active.
	ErrGoalInactive = errors.New("goal is not active")
	// ErrAlreadyIssued is returned when the goal already has a live challenge for the current cycle.
	ErrAlreadyIssued = errors.New("challenge already issued this cycle")
)

// nameExpr renders a user's effective name, matching models.User.Name.
const nameExpr = `CASE WHEN u.handle IS NOT NULL AND u.handle <> '' THEN '@' || u.handle ELSE u.display_name END`

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// User and group methods

// ObserveInteraction upserts the user, the group and their membership.
func (r *Repository) ObserveInteraction(ctx context.Context, user *models.User, group *models.Group) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertUser(tx, user); err != nil {
			return err
		}
		if group == nil {
			return nil
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(group).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&models.GroupMember{GroupID: group.ID, UserID: user.ID}).Error
	})
}

// UpsertUser inserts the user or refreshes its names.
func (r *Repository) UpsertUser(ctx context.Context, user *models.User) error {
	return upsertUser(r.db.WithContext(ctx), user)
}

func upsertUser(tx *gorm.DB, user *models.User) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "display_name", "updated_at"}),
	}).Create(user).Error
}

func (r *Repository) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// FindUserByHandle looks a user up by @handle (with or without the @).
func (r *Repository) FindUserByHandle(ctx context.Context, handle string) (*models.User, error) {
	if len(handle) > 0 && handle[0] == '@' {
		handle = handle[1:]
	}
	var user models.User
	err := r.db.WithContext(ctx).Where("LOWER(handle) = LOWER(?)", handle).First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Goal methods

// CreateGoal inserts an active goal and its owner membership.
func (r *Repository) CreateGoal(ctx context.Context, groupID, ownerID int64, text string, now time.Time) (*models.Goal, error) {
	goal := &models.Goal{GroupID: groupID, Text: text, Status: models.GoalActive, CreatedAt: now, UpdatedAt: now}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(goal).Error; err != nil {
			return err
		}
		return tx.Create(&models.GoalMember{
			GoalID:   goal.ID,
			UserID:   ownerID,
			Role:     models.RoleOwner,
			JoinedAt: now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return goal, nil
}

func (r *Repository) GetGoal(ctx context.Context, goalID int64) (*models.Goal, error) {
	var goal models.Goal
	if err := r.db.WithContext(ctx).First(&goal, goalID).Error; err != nil {
		return nil, notFound(err)
	}
	return &goal, nil
}

// ListActiveGoals returns every active goal across all groups.
func (r *Repository) ListActiveGoals(ctx context.Context) ([]models.Goal, error) {
	var goals []models.Goal
	err := r.db.WithContext(ctx).
		Where("status = ?", models.GoalActive).
		Order("id ASC").
		Find(&goals).Error
	return goals, err
}

// ListJoinedGoals returns the group's active goals the user is a member of.
func (r *Repository) ListJoinedGoals(ctx context.Context, groupID, userID int64) ([]models.Goal, error) {
	var goals []models.Goal
	err := r.db.WithContext(ctx).
		Joins("JOIN goal_members gm ON gm.goal_id = goals.id").
		Where("goals.group_id = ? AND gm.user_id = ? AND goals.status = ?", groupID, userID, models.GoalActive).
		Order("goals.id ASC").
		Find(&goals).Error
	return goals, err
}

// ListJoinableGoals returns the group's active goals the user has not joined.
func (r *Repository) ListJoinableGoals(ctx context.Context, groupID, userID int64) ([]models.Goal, error) {
	var goals []models.Goal
	sub := r.db.Model(&models.GoalMember{}).Select("goal_id").Where("user_id = ?", userID)
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND status = ? AND id NOT IN (?)", groupID, models.GoalActive, sub).
		Order("id ASC").
		Find(&goals).Error
	return goals, err
}

// JoinGoal adds the user as a member. It reports false when the user already was one.
func (r *Repository) JoinGoal(ctx context.Context, goalID, userID int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "goal_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&models.GoalMember{GoalID: goalID, UserID: userID, Role: models.RoleMember, JoinedAt: now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListGoalMembers returns the goal's current members in join order.
func (r *Repository) ListGoalMembers(ctx context.Context, goalID int64) ([]models.Member, error) {
	return listGoalMembers(r.db.WithContext(ctx), goalID)
}

func listGoalMembers(tx *gorm.DB, goalID int64) ([]models.Member, error) {
	var members []models.Member
	err := tx.Raw(`
		SELECT u.id AS user_id, `+nameExpr+` AS name
		FROM goal_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.goal_id = ?
		ORDER BY gm.id ASC
	`, goalID).Scan(&members).Error
	return members, err
}

// Challenge methods

// CountChallenges returns how many challenges were ever issued for the goal.
func (r *Repository) CountChallenges(ctx context.Context, goalID int64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Challenge{}).Where("goal_id = ?", goalID).Count(&n).Error
	return n, err
}

// RecentChallengeTexts returns up to limit of the goal's latest non-rejected challenge texts.
func (r *Repository) RecentChallengeTexts(ctx context.Context, goalID int64, limit int) ([]string, error) {
	var texts []string
	err := r.db.WithContext(ctx).Model(&models.Challenge{}).
		Where("goal_id = ? AND rejected = ?", goalID, false).
		Order("id DESC").
		Limit(limit).
		Pluck("description", &texts).Error
	return texts, err
}

func (r *Repository) GetChallenge(ctx context.Context, challengeID int64) (*models.Challenge, error) {
	var c models.Challenge
	if err := r.db.WithContext(ctx).First(&c, challengeID).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// HasChallengeSince reports whether the goal has a non-rejected challenge
// created after since.
func (r *Repository) HasChallengeSince(ctx context.Context, goalID int64, since time.Time) (bool, error) {
	return challengeSince(r.db.WithContext(ctx), goalID, since)
}

func challengeSince(tx *gorm.DB, goalID int64, since time.Time) (bool, error) {
	var n int64
	err := tx.Model(&models.Challenge{}).
		Where("goal_id = ? AND rejected = ? AND created_at > ?", goalID, false, since).
		Count(&n).Error
	return n > 0, err
}

// CreateChallenge inserts a challenge and one issued response per current goal
// member, all in one transaction. It returns the members the challenge went to.
// A non-zero since makes the write conditional: if the goal already has a
// non-rejected challenge created after since, nothing is written and
// ErrAlreadyIssued is returned.
func (r *Repository) CreateChallenge(ctx context.Context, goalID int64, text string, due, now, since time.Time) (*models.Challenge, []models.Member, error) {
	var (
		challenge *models.Challenge
		members   []models.Member
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		challenge, members, err = insertChallenge(tx, goalID, text, due, now, since)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return challenge, members, nil
}

func insertChallenge(tx *gorm.DB, goalID int64, text string, due, now, since time.Time) (*models.Challenge, []models.Member, error) {
	var goal models.Goal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&goal, goalID).Error; err != nil {
		return nil, nil, notFound(err)
	}
	if goal.Status != models.GoalActive {
		return nil, nil, ErrGoalInactive
	}
	if !since.IsZero() {
		issued, err := challengeSince(tx, goalID, since)
		if err != nil {
			return nil, nil, err
		}
		if issued {
			return nil, nil, ErrAlreadyIssued
		}
	}

	members, err := listGoalMembers(tx, goalID)
	if err != nil {
		return nil, nil, err
	}

	challenge := &models.Challenge{GoalID: goalID, Description: text, DueDate: due, CreatedAt: now}
	if err := tx.Create(challenge).Error; err != nil {
		return nil, nil, err
	}
	if len(members) == 0 {
		return challenge, members, nil
	}

	responses := make([]models.ChallengeResponse, 0, len(members))
	for _, m := range members {
		responses = append(responses, models.ChallengeResponse{
			ChallengeID: challenge.ID,
			UserID:      m.UserID,
			Status:      models.ResponseIssued,
			CreatedAt:   now,
		})
	}
	if err := tx.Create(&responses).Error; err != nil {
		return nil, nil, err
	}
	return challenge, members, nil
}

// ReplaceChallenge atomically supersedes a challenge with one suggested by
// suggesterID, whose own response must still be issued: the old challenge is
// marked rejected, all of its responses are forced to rejected, and a new
// challenge is issued to every current goal member.
func (r *Repository) ReplaceChallenge(ctx context.Context, oldChallengeID, suggesterID int64, text string, due, now time.Time) (*models.Challenge, []models.Member, error) {
	var (
		challenge *models.Challenge
		members   []models.Member
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var old models.Challenge
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&old, oldChallengeID).Error; err != nil {
			return notFound(err)
		}
		if old.Rejected {
			return ErrConflict
		}

		var own models.ChallengeResponse
		err := tx.Where("challenge_id = ? AND user_id = ?", old.ID, suggesterID).First(&own).Error
		if err != nil {
			return notFound(err)
		}
		if own.Status != models.ResponseIssued {
			return ErrConflict
		}

		res := tx.Model(&models.Challenge{}).
			Where("id = ? AND rejected = ?", old.ID, false).
			Update("rejected", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStale
		}
		if err := tx.Model(&models.ChallengeResponse{}).
			Where("challenge_id = ?", old.ID).
			Update("status", models.ResponseRejected).Error; err != nil {
			return err
		}

		challenge, members, err = insertChallenge(tx, old.GoalID, text, due, now, time.Time{})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return challenge, members, nil
}

// GetChallengeDetail returns a challenge with its goal's group.
func (r *Repository) GetChallengeDetail(ctx context.Context, challengeID int64) (*models.ChallengeDetail, error) {
	var out []models.ChallengeDetail
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.*, g.group_id
		FROM challenges c
		JOIN goals g ON g.id = c.goal_id
		WHERE c.id = ?
	`, challengeID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// GetResponseFor returns the user's response to a challenge.
func (r *Repository) GetResponseFor(ctx context.Context, challengeID, userID int64) (*models.ChallengeResponse, error) {
	var resp models.ChallengeResponse
	err := r.db.WithContext(ctx).Where("challenge_id = ? AND user_id = ?", challengeID, userID).First(&resp).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &resp, nil
}

// ListChallengeResponses returns every response of a challenge.
func (r *Repository) ListChallengeResponses(ctx context.Context, challengeID int64) ([]models.ChallengeResponse, error) {
	var out []models.ChallengeResponse
	err := r.db.WithContext(ctx).Where("challenge_id = ?", challengeID).Order("id ASC").Find(&out).Error
	return out, err
}

// ListChallengeParticipants returns the names of users whose response to the
// challenge is in one of the given states.
func (r *Repository) ListChallengeParticipants(ctx context.Context, challengeID int64, statuses ...models.ResponseStatus) ([]models.Member, error) {
	var members []models.Member
	err := r.db.WithContext(ctx).Raw(`
		SELECT u.id AS user_id, `+nameExpr+` AS name
		FROM challenge_responses cr
		JOIN users u ON u.id = cr.user_id
		WHERE cr.challenge_id = ? AND cr.status IN ?
		ORDER BY cr.id ASC
	`, challengeID, statuses).Scan(&members).Error
	return members, err
}

// ListChallengesIssuedBetween returns non-rejected challenges created in [from, to).
func (r *Repository) ListChallengesIssuedBetween(ctx context.Context, from, to time.Time) ([]models.ChallengeDetail, error) {
	var out []models.ChallengeDetail
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.*, g.group_id
		FROM challenges c
		JOIN goals g ON g.id = c.goal_id
		WHERE c.rejected = ? AND c.created_at >= ? AND c.created_at < ?
		ORDER BY c.id ASC
	`, false, from, to).Scan(&out).Error
	return out, err
}

// Challenge response methods

const responseDetailSelect = `
	SELECT cr.*, c.description, c.due_date, c.goal_id, g.group_id, ` + nameExpr + ` AS user_name
	FROM challenge_responses cr
	JOIN challenges c ON c.id = cr.challenge_id
	JOIN goals g ON g.id = c.goal_id
	JOIN users u ON u.id = cr.user_id
`

func (r *Repository) GetResponseDetail(ctx context.Context, responseID int64) (*models.ResponseDetail, error) {
	var out []models.ResponseDetail
	err := r.db.WithContext(ctx).Raw(responseDetailSelect+` WHERE cr.id = ?`, responseID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// ListPendingResponses returns the user's accepted, not yet completed responses in a group.
func (r *Repository) ListPendingResponses(ctx context.Context, groupID, userID int64) ([]models.ResponseDetail, error) {
	var out []models.ResponseDetail
	err := r.db.WithContext(ctx).Raw(responseDetailSelect+`
		WHERE cr.user_id = ? AND cr.status = ? AND c.rejected = ? AND g.group_id = ?
		ORDER BY cr.id ASC
	`, userID, models.ResponsePending, false, groupID).Scan(&out).Error
	return out, err
}

// ListCompletedUnvalidated returns completed responses nobody has been asked to review yet.
func (r *Repository) ListCompletedUnvalidated(ctx context.Context) ([]models.ResponseDetail, error) {
	var out []models.ResponseDetail
	err := r.db.WithContext(ctx).Raw(responseDetailSelect+`
		WHERE cr.status = ? AND cr.validated = ? AND cr.reviewed_at IS NULL
		ORDER BY cr.id ASC
	`, models.ResponseCompleted, false).Scan(&out).Error
	return out, err
}

// ListExpiredPending returns accepted responses whose challenge is past due.
func (r *Repository) ListExpiredPending(ctx context.Context, now time.Time) ([]models.ResponseDetail, error) {
	var out []models.ResponseDetail
	err := r.db.WithContext(ctx).Raw(responseDetailSelect+`
		WHERE cr.status = ? AND c.due_date < ?
		ORDER BY cr.id ASC
	`, models.ResponsePending, now).Scan(&out).Error
	return out, err
}

// ResponseSelector addresses one response either by id or by (challenge, user).
type ResponseSelector struct {
	ID          int64
	ChallengeID int64
	UserID      int64
}

func (s ResponseSelector) apply(tx *gorm.DB) *gorm.DB {
	if s.ID != 0 {
		return tx.Where("id = ?", s.ID)
	}
	return tx.Where("challenge_id = ? AND user_id = ?", s.ChallengeID, s.UserID)
}

// ResponseMutation inspects the locked response and returns the columns to set,
// or an error to abort without writing.
type ResponseMutation func(resp *models.ChallengeResponse) (map[string]interface{}, error)

// MutateResponse runs a read-check-write on one response inside a transaction.
// The write is conditioned on the status, validation flag and review marker that
// were read, so a concurrent transition fails with ErrStale instead of double-applying.
func (r *Repository) MutateResponse(ctx context.Context, sel ResponseSelector, mutate ResponseMutation) (*models.ChallengeResponse, error) {
	var out models.ChallengeResponse
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.ChallengeResponse
		if err := sel.apply(tx.Clauses(clause.Locking{Strength: "UPDATE"})).First(&cur).Error; err != nil {
			return notFound(err)
		}
		set, err := mutate(&cur)
		if err != nil {
			return err
		}
		q := tx.Model(&models.ChallengeResponse{}).
			Where("id = ? AND status = ? AND validated = ?", cur.ID, cur.Status, cur.Validated)
		if cur.ReviewedAt == nil {
			q = q.Where("reviewed_at IS NULL")
		}
		res := q.Updates(set)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStale
		}
		return tx.First(&out, cur.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Prize fight methods

func (r *Repository) CreateProposal(ctx context.Context, p *models.PrizeFightProposal) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repository) GetProposal(ctx context.Context, proposalID int64) (*models.PrizeFightProposal, error) {
	var p models.PrizeFightProposal
	if err := r.db.WithContext(ctx).First(&p, proposalID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// AcceptProposal turns an open proposal into a prize fight with two pending
// participants, the challenger and the accepter.
func (r *Repository) AcceptProposal(ctx context.Context, proposalID, accepterID int64, now time.Time) (*models.PrizeFight, error) {
	var fight models.PrizeFight
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.PrizeFightProposal
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, proposalID).Error; err != nil {
			return notFound(err)
		}
		res := tx.Model(&models.PrizeFightProposal{}).
			Where("id = ? AND status = ?", p.ID, models.ProposalOpen).
			Update("status", models.ProposalAccepted)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStale
		}

		fight = models.PrizeFight{
			GroupID:       p.GroupID,
			ProposalID:    &p.ID,
			ChallengeText: p.ChallengeText,
			Prize:         p.Prize,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&fight).Error; err != nil {
			return err
		}
		participants := []models.PrizeFightParticipant{
			{PrizeFightID: fight.ID, UserID: p.ChallengerID, Status: models.ParticipantPending, JoinedAt: now},
			{PrizeFightID: fight.ID, UserID: accepterID, Status: models.ParticipantPending, JoinedAt: now},
		}
		return tx.Create(&participants).Error
	})
	if err != nil {
		return nil, err
	}
	return &fight, nil
}

func (r *Repository) GetPrizeFight(ctx context.Context, prizeFightID int64) (*models.PrizeFight, error) {
	var pf models.PrizeFight
	if err := r.db.WithContext(ctx).First(&pf, prizeFightID).Error; err != nil {
		return nil, notFound(err)
	}
	return &pf, nil
}

const participantDetailSelect = `
	SELECT p.*, pf.challenge AS challenge_text, pf.prize, pf.group_id, ` + nameExpr + ` AS user_name
	FROM prizefight_participants p
	JOIN prizefights pf ON pf.id = p.prizefight_id
	JOIN users u ON u.id = p.user_id
`

// ListPrizeFightParticipants returns both sides of a prize fight.
func (r *Repository) ListPrizeFightParticipants(ctx context.Context, prizeFightID int64) ([]models.ParticipantDetail, error) {
	var out []models.ParticipantDetail
	err := r.db.WithContext(ctx).Raw(participantDetailSelect+`
		WHERE p.prizefight_id = ?
		ORDER BY p.id ASC
	`, prizeFightID).Scan(&out).Error
	return out, err
}

// ListActivePrizeFights returns the user's prize fights in the group that are still pending.
func (r *Repository) ListActivePrizeFights(ctx context.Context, groupID, userID int64) ([]models.ParticipantDetail, error) {
	var out []models.ParticipantDetail
	err := r.db.WithContext(ctx).Raw(participantDetailSelect+`
		WHERE p.user_id = ? AND pf.group_id = ? AND p.status = ?
		ORDER BY p.id ASC
	`, userID, groupID, models.ParticipantPending).Scan(&out).Error
	return out, err
}

// ListExpiredParticipants returns pending participants of prize fights created before the cutoff.
func (r *Repository) ListExpiredParticipants(ctx context.Context, cutoff time.Time) ([]models.ParticipantDetail, error) {
	var out []models.ParticipantDetail
	err := r.db.WithContext(ctx).Raw(participantDetailSelect+`
		WHERE p.status = ? AND pf.created_at < ?
		ORDER BY p.id ASC
	`, models.ParticipantPending, cutoff).Scan(&out).Error
	return out, err
}

// ParticipantMutation inspects the locked participant and returns its new status.
type ParticipantMutation func(p *models.PrizeFightParticipant) (models.ParticipantStatus, error)

// MutateParticipant runs a read-check-write on one prize fight participant.
func (r *Repository) MutateParticipant(ctx context.Context, prizeFightID, userID int64, mutate ParticipantMutation) (*models.PrizeFightParticipant, error) {
	var out models.PrizeFightParticipant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur models.PrizeFightParticipant
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("prizefight_id = ? AND user_id = ?", prizeFightID, userID).
			First(&cur).Error
		if err != nil {
			return notFound(err)
		}
		next, err := mutate(&cur)
		if err != nil {
			return err
		}
		res := tx.Model(&models.PrizeFightParticipant{}).
			Where("id = ? AND status = ?", cur.ID, cur.Status).
			Update("status", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrStale
		}
		return tx.First(&out, cur.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Prompt methods

func (r *Repository) CreatePrompt(ctx context.Context, p *models.PendingPrompt) error {
	return r.db.WithContext(ctx).Create(p).Error
}

// TakePrompt consumes the unexpired prompt posted as the given message, if
// userID is the one it was posted for.
func (r *Repository) TakePrompt(ctx context.Context, groupID int64, messageID int, userID int64, now time.Time) (*models.PendingPrompt, error) {
	var p models.PendingPrompt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("group_id = ? AND message_id = ? AND user_id = ? AND expires_at > ?", groupID, messageID, userID, now).
			First(&p).Error
		if err != nil {
			return notFound(err)
		}
		res := tx.Delete(&models.PendingPrompt{}, p.ID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteExpiredPrompts removes prompts nobody replied to in time.
func (r *Repository) DeleteExpiredPrompts(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.PendingPrompt{})
	return res.RowsAffected, res.Error
}
