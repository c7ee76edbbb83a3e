package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
)

// Accept moves the actor's response to a challenge from issued to pending.
func (e *Engine) Accept(ctx context.Context, groupID int64, actor Actor, challengeID int64) Outcome {
	detail, err := e.repo.GetChallengeDetail(ctx, challengeID)
	if err != nil {
		return e.classify(err, "Accept", "challenge_id", challengeID)
	}
	if detail.GroupID != groupID {
		return fail(Malformed, "")
	}

	var prior models.ResponseStatus
	_, err = e.repo.MutateResponse(ctx, repository.ResponseSelector{ChallengeID: challengeID, UserID: actor.ID},
		func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
			prior = cur.Status
			if cur.Status != models.ResponseIssued {
				return nil, fmt.Errorf("%w: accept from %s", ErrInvalidTransition, cur.Status)
			}
			return map[string]interface{}{"status": models.ResponsePending}, nil
		})
	switch {
	case errors.Is(err, ErrNotFound):
		return fail(NotParticipant, "You're not part of this challenge! Use /goals to join this goal and be part of the challenge.")
	case errors.Is(err, ErrInvalidTransition) && prior == models.ResponsePending:
		return fail(InvalidTransition, "Love the enthusiasm, but you've already accepted this challenge!")
	case errors.Is(err, ErrInvalidTransition) && prior == models.ResponseRejected:
		return fail(InvalidTransition, "This challenge was replaced by a suggestion.")
	case err != nil:
		return e.classify(err, "Accept", "challenge_id", challengeID, "user_id", actor.ID)
	}
	e.metrics.ResponseTransition(ctx, string(models.ResponsePending))

	text := fmt.Sprintf("%s has accepted the challenge!", esc(actor.Name()))
	if waiting, err := e.repo.ListChallengeParticipants(ctx, challengeID, models.ResponseIssued); err != nil {
		e.log.Warn("List waiting participants failed", "challenge_id", challengeID, "error", err)
	} else if len(waiting) > 0 {
		text = fmt.Sprintf("%s\n\n%s has accepted the challenge, don't be left behind!", formatNames(memberNames(waiting)), esc(actor.Name()))
	}
	_, _ = e.send(ctx, groupID, text)
	return ok("✅ Challenge accepted!")
}

// StartSuggestion asks the actor for replacement text and records the prompt so
// the reply can be matched later, even across restarts.
func (e *Engine) StartSuggestion(ctx context.Context, groupID int64, replyTo int, actor Actor, goalID, challengeID int64) Outcome {
	detail, err := e.repo.GetChallengeDetail(ctx, challengeID)
	if err != nil {
		return e.classify(err, "StartSuggestion", "challenge_id", challengeID)
	}
	if detail.GroupID != groupID || detail.GoalID != goalID {
		return fail(Malformed, "")
	}
	if detail.Rejected {
		return fail(InvalidTransition, "This challenge was already replaced by a suggestion.")
	}

	resp, err := e.repo.GetResponseFor(ctx, challengeID, actor.ID)
	if errors.Is(err, ErrNotFound) {
		return fail(NotParticipant, "You're not part of this challenge! Use /goals to join this goal and be part of the challenge.")
	}
	if err != nil {
		return e.classify(err, "StartSuggestion", "challenge_id", challengeID, "user_id", actor.ID)
	}
	if resp.Status != models.ResponseIssued {
		return fail(InvalidTransition, "You can only suggest a replacement before accepting the challenge.")
	}

	msgID, err := e.notify.Send(ctx, Message{
		ChatID:     groupID,
		Text:       fmt.Sprintf("%s, what challenge would you like to suggest? Reply to this message with your challenge idea.", esc(actor.Name())),
		ReplyTo:    replyTo,
		ForceReply: true,
	})
	if err != nil {
		e.log.Error("Suggestion prompt failed", "group_id", groupID, "error", err)
		return fail(StoreFailure, "")
	}

	now := e.now()
	err = e.repo.CreatePrompt(ctx, &models.PendingPrompt{
		GroupID:     groupID,
		MessageID:   msgID,
		Kind:        models.PromptChallenge,
		GoalID:      goalID,
		ChallengeID: challengeID,
		UserID:      actor.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.opts.PromptTTL),
	})
	if err != nil {
		return e.classify(err, "StartSuggestion", "challenge_id", challengeID, "user_id", actor.ID)
	}
	return ok("")
}

// SubmitSuggestion handles a reply to one of our prompts. It reports false
// when replyTo is not a live prompt for this actor, in which case the message
// is not meant for the bot.
func (e *Engine) SubmitSuggestion(ctx context.Context, groupID int64, replyTo int, actor Actor, text string) (Outcome, bool) {
	prompt, err := e.repo.TakePrompt(ctx, groupID, replyTo, actor.ID, e.now())
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, false
	}
	if err != nil {
		return e.classify(err, "SubmitSuggestion", "group_id", groupID, "message_id", replyTo), true
	}

	text = strings.TrimSpace(text)
	if text == "" {
		_, _ = e.send(ctx, groupID, "A suggestion needs some text. Tap the suggest button again to retry.")
		return fail(Malformed, ""), true
	}

	switch prompt.Kind {
	case models.PromptChallenge:
		return e.replaceChallenge(ctx, prompt, actor, text), true
	case models.PromptPrizeFight:
		return e.counterPrizeFight(ctx, prompt, actor, text), true
	default:
		e.log.Warn("Unknown prompt kind", "kind", prompt.Kind, "prompt_id", prompt.ID)
		return fail(Malformed, ""), true
	}
}

func (e *Engine) replaceChallenge(ctx context.Context, prompt *models.PendingPrompt, actor Actor, text string) Outcome {
	now := e.now()
	challenge, members, err := e.repo.ReplaceChallenge(ctx, prompt.ChallengeID, actor.ID, text, now.Add(e.opts.ChallengeTTL), now)
	if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrStale) {
		_, _ = e.send(ctx, prompt.GroupID, "Too late, that challenge was already replaced or accepted.")
		return fail(InvalidTransition, "")
	}
	if err != nil {
		out := e.classify(err, "SubmitSuggestion", "challenge_id", prompt.ChallengeID, "user_id", actor.ID)
		_, _ = e.send(ctx, prompt.GroupID, out.Message())
		return out
	}
	e.metrics.ChallengeIssued(ctx, "suggested")
	e.log.Info("Challenge replaced", "old_challenge_id", prompt.ChallengeID, "challenge_id", challenge.ID, "members", len(members))

	header := fmt.Sprintf("🎯 <b>New Challenge Suggested by %s:</b>", esc(actor.Name()))
	footer := "<u><i>They don't think you can do it. Show them.</i></u>"
	if _, err := e.announceChallenge(ctx, prompt.GroupID, prompt.GoalID, challenge, header, footer); err != nil {
		return fail(StoreFailure, "")
	}
	return ok("")
}

// ListCompletable posts the actor's accepted challenges with a button each.
func (e *Engine) ListCompletable(ctx context.Context, groupID int64, actor Actor) Outcome {
	pending, err := e.repo.ListPendingResponses(ctx, groupID, actor.ID)
	if err != nil {
		return e.classify(err, "ListCompletable", "group_id", groupID, "user_id", actor.ID)
	}

	now := e.now()
	var rows [][]Button
	for _, p := range pending {
		if now.After(p.DueDate) {
			continue
		}
		rows = append(rows, []Button{{Label: buttonLabel(p.Description), Data: callback.Encode(callback.MarkComplete, p.ID)}})
	}
	if len(rows) == 0 {
		_, _ = e.send(ctx, groupID, "You have no pending challenges to complete.")
		return ok("")
	}

	_, _ = e.send(ctx, groupID,
		fmt.Sprintf("%s is completing a challenge! Pending challenges are listed below. Choose one to mark as completed and another group member will validate it:", esc(actor.Name())),
		rows...,
	)
	return ok("")
}

// Complete moves the actor's response from pending to completed. Validation
// happens later in the validate sweep.
func (e *Engine) Complete(ctx context.Context, groupID int64, actor Actor, responseID int64) Outcome {
	detail, err := e.repo.GetResponseDetail(ctx, responseID)
	if err != nil {
		return e.classify(err, "Complete", "response_id", responseID)
	}
	if detail.GroupID != groupID {
		return fail(Malformed, "")
	}
	if detail.UserID != actor.ID {
		return fail(NotParticipant, "That's not your challenge!")
	}

	now := e.now()
	_, err = e.repo.MutateResponse(ctx, repository.ResponseSelector{ID: responseID},
		func(cur *models.ChallengeResponse) (map[string]interface{}, error) {
			if cur.UserID != actor.ID {
				return nil, ErrNotParticipant
			}
			if cur.Status != models.ResponsePending {
				return nil, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, cur.Status)
			}
			if now.After(detail.DueDate) {
				return nil, fmt.Errorf("%w: past due", ErrInvalidTransition)
			}
			return map[string]interface{}{"status": models.ResponseCompleted, "completed_at": now}, nil
		})
	if err != nil {
		if now.After(detail.DueDate) {
			return fail(InvalidTransition, "Too late, this challenge is past its deadline.")
		}
		return e.classify(err, "Complete", "response_id", responseID, "user_id", actor.ID)
	}
	e.metrics.ResponseTransition(ctx, string(models.ResponseCompleted))

	_, _ = e.send(ctx, groupID, fmt.Sprintf(
		"🎉 %s has marked a challenge as completed! Great job!\n\n<b>Challenge:</b> %s\n\nA fellow participant will verify it soon.",
		esc(actor.Name()), esc(detail.Description),
	))
	return ok("🎉 Your challenge has been marked as completed! Great job!")
}
