package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
)

// pickValidator draws uniformly from candidates other than the claimant.
func pickValidator(candidates []models.Member, claimantID int64, intn func(int) int) (models.Member, bool) {
	pool := make([]models.Member, 0, len(candidates))
	for _, c := range candidates {
		if c.UserID != claimantID {
			pool = append(pool, c)
		}
	}
	if len(pool) == 0 {
		return models.Member{}, false
	}
	return pool[intn(len(pool))], true
}

// SelectValidator returns a random current member of the goal other than the
// claimant, or nil when the claimant is alone.
func (e *Engine) SelectValidator(ctx context.Context, goalID, claimantID int64) (*models.Member, error) {
	members, err := e.repo.ListGoalMembers(ctx, goalID)
	if err != nil {
		return nil, fmt.Errorf("list goal members: %w", err)
	}
	m, found := pickValidator(members, claimantID, e.intn)
	if !found {
		return nil, nil
	}
	return &m, nil
}

// RequestValidation asks a random peer to review one completed response. The
// response is marked reviewed before the message goes out and unmarked if
// delivery fails, so the next sweep retries it. A claimant with no peers gets
// a one-time notice and the response stays completed and unvalidated.
func (e *Engine) RequestValidation(ctx context.Context, detail models.ResponseDetail) (Kind, error) {
	validator, err := e.SelectValidator(ctx, detail.GoalID, detail.UserID)
	if err != nil {
		e.alertAdmin(ctx, fmt.Sprintf("Failed to find a validator for challenge response %d (goal %d): %s",
			detail.ID, detail.GoalID, esc(err.Error())))
		return StoreFailure, err
	}

	var validatorID *int64
	if validator != nil {
		id := validator.UserID
		validatorID = &id
	}
	now := e.now()
	_, err = e.repo.MutateResponse(ctx, repository.ResponseSelector{ID: detail.ID},
		func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
			if cur.Status != models.ResponseCompleted || cur.Validated || cur.ReviewedAt != nil {
				return nil, fmt.Errorf("%w: review of %s response", ErrInvalidTransition, cur.Status)
			}
			return map[string]interface{}{"reviewed_at": now, "validator_id": validatorID}, nil
		})
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, repository.ErrStale) {
		e.log.Debug("Response already reviewed", "response_id", detail.ID)
		return InvalidTransition, nil
	}
	if err != nil {
		return StoreFailure, fmt.Errorf("mark reviewed: %w", err)
	}

	if validator == nil {
		_, err = e.send(ctx, detail.GroupID, fmt.Sprintf(
			"%s, you're alone in this goal, I'll just take your word for it this time...\n\n"+
				"<b>Congratulations 🎉</b>, you have completed the following challenge:\n%s\n\n"+
				"Find an accountability partner to join your quest soon... You have a higher chance of achieving your goal with a friend keeping you company!",
			esc(detail.UserName), esc(detail.Description),
		))
		if err != nil {
			e.unmarkReviewed(ctx, detail.ID)
			return StoreFailure, err
		}
		e.log.Info("No validator available", "response_id", detail.ID, "goal_id", detail.GoalID)
		return NoValidator, nil
	}

	_, err = e.send(ctx, detail.GroupID, fmt.Sprintf(
		"%s, you have been chosen to validate the completion of %s's challenge! 🎯\n\n<b>Challenge Description:</b>\n%s\n\nDo you think they completed their challenge?",
		esc(validator.Name), esc(detail.UserName), esc(detail.Description),
	), []Button{
		{Label: "Yes, they did!", Data: callback.Encode(callback.ValidateYes, detail.ID)},
		{Label: "No, they didn't.", Data: callback.Encode(callback.ValidateNo, detail.ID)},
	})
	if err != nil {
		e.unmarkReviewed(ctx, detail.ID)
		e.alertAdmin(ctx, fmt.Sprintf("Failed to send a review request to group %d for challenge response %d: %s",
			detail.GroupID, detail.ID, esc(err.Error())))
		return StoreFailure, err
	}
	e.metrics.ValidationRequested(ctx)
	e.log.Info("Review requested", "response_id", detail.ID, "validator_id", validator.UserID)
	return OK, nil
}

func (e *Engine) unmarkReviewed(ctx context.Context, responseID int64) {
	_, err := e.repo.MutateResponse(ctx, repository.ResponseSelector{ID: responseID},
		func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
			if cur.Validated || cur.ReviewedAt == nil {
				return nil, ErrInvalidTransition
			}
			return map[string]interface{}{"reviewed_at": nil, "validator_id": nil}, nil
		})
	if err != nil {
		e.log.Error("Unmark reviewed failed", "response_id", responseID, "error", err)
	}
}

// Decide records the chosen validator's verdict on a completed response.
// Approval keeps the response completed; rejection moves it to rejected.
// Either way it becomes validated and no further verdicts are accepted.
func (e *Engine) Decide(ctx context.Context, groupID int64, messageID int, actor Actor, responseID int64, approve bool) Outcome {
	detail, err := e.repo.GetResponseDetail(ctx, responseID)
	if err != nil {
		return e.classify(err, "Decide", "response_id", responseID)
	}
	if detail.GroupID != groupID {
		return fail(Malformed, "")
	}
	if detail.UserID == actor.ID {
		return fail(NotParticipant, "You can't validate your own challenge!")
	}

	now := e.now()
	_, err = e.repo.MutateResponse(ctx, repository.ResponseSelector{ID: responseID},
		func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
			if cur.Validated {
				return nil, ErrAlreadyValidated
			}
			if cur.Status != models.ResponseCompleted {
				return nil, fmt.Errorf("%w: decide on %s", ErrInvalidTransition, cur.Status)
			}
			if cur.ValidatorID == nil || *cur.ValidatorID != actor.ID {
				return nil, ErrNotParticipant
			}
			set := map[string]interface{}{"validated": true, "validated_at": now}
			if !approve {
				set["status"] = models.ResponseRejected
			}
			return set, nil
		})
	if errors.Is(err, ErrNotParticipant) {
		return fail(NotParticipant, "Only the chosen validator can review this challenge.")
	}
	if err != nil {
		return e.classify(err, "Decide", "response_id", responseID, "user_id", actor.ID)
	}

	claimant := esc(detail.UserName)
	validator := esc(actor.Name())
	description := esc(detail.Description)
	if approve {
		e.metrics.ResponseTransition(ctx, "validated")
		e.editDecided(ctx, groupID, messageID, fmt.Sprintf(
			"✅ %s validated the challenge completion for %s.\n\n<b>Challenge:</b>\n%s", validator, claimant, description))
		_, _ = e.send(ctx, groupID, fmt.Sprintf(
			"✅ %s's challenge has been validated successfully by %s! Great job!", claimant, validator))
		return ok("✅ Challenge validated successfully!")
	}

	e.metrics.ResponseTransition(ctx, string(models.ResponseRejected))
	e.editDecided(ctx, groupID, messageID, fmt.Sprintf(
		"❌ %s rejected the challenge completion for %s. They <b>did not</b> complete the following challenge:\n%s", validator, claimant, description))
	_, _ = e.send(ctx, groupID, fmt.Sprintf(
		"❌ Hey %s, %s does not think you did enough to complete the following challenge:\n%s\n\nProve them wrong tomorrow!",
		claimant, validator, description))
	return ok("❌ Challenge rejected.")
}

func (e *Engine) editDecided(ctx context.Context, chatID int64, messageID int, text string) {
	if messageID == 0 {
		return
	}
	if err := e.notify.Edit(ctx, chatID, messageID, text, nil); err != nil {
		e.log.Warn("Edit review message failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// ValidateCompleted requests a review for every completed response that has
// not been sent for review yet.
func (e *Engine) ValidateCompleted(ctx context.Context) error {
	pending, err := e.repo.ListCompletedUnvalidated(ctx)
	if err != nil {
		return fmt.Errorf("list completed responses: %w", err)
	}
	var failed int
	for _, detail := range pending {
		if _, err := e.RequestValidation(ctx, detail); err != nil {
			failed++
			e.log.Error("Review request failed", "response_id", detail.ID, "group_id", detail.GroupID, "error", err)
		}
	}
	e.log.Info("Validate sweep finished", "responses", len(pending), "failed", failed)
	return batchResult(JobValidate, failed, len(pending))
}
