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

const prizeFightUsage = "Format your prize fight like this: <code>/prizefight &lt;challenge&gt; &lt;prize&gt; &lt;@opponent&gt;</code>\n\n" +
	"Example: <code>/prizefight Do 50 pushups 10 @john_doe</code>"

var errPrizeFightFormat = errors.New("want <challenge> <prize> <opponent>")

// parsePrizeFight splits "<challenge> <prize> <opponent>"; the last two words
// are the prize and the opponent and everything before them is the challenge.
func parsePrizeFight(args string) (challenge, prize, opponent string, err error) {
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "", "", "", errPrizeFightFormat
	}
	opponent = fields[len(fields)-1]
	prize = strings.TrimPrefix(fields[len(fields)-2], "$")
	challenge = strings.Join(fields[:len(fields)-2], " ")
	if prize == "" || opponent == "@" {
		return "", "", "", errPrizeFightFormat
	}
	return challenge, prize, opponent, nil
}

// ProposePrizeFight records an open proposal and posts it with accept and
// counter-suggest buttons.
func (e *Engine) ProposePrizeFight(ctx context.Context, groupID int64, actor Actor, args string) Outcome {
	challenge, prize, opponent, err := parsePrizeFight(args)
	if err != nil {
		_, _ = e.send(ctx, groupID, prizeFightUsage)
		return fail(Malformed, "")
	}
	return e.propose(ctx, groupID, actor, challenge, prize, opponent)
}

func (e *Engine) propose(ctx context.Context, groupID int64, actor Actor, challenge, prize, opponent string) Outcome {
	if strings.EqualFold(opponent, actor.Name()) {
		_, _ = e.send(ctx, groupID, "You can't prize fight yourself!")
		return fail(Malformed, "")
	}

	p := &models.PrizeFightProposal{
		GroupID:       groupID,
		ChallengerID:  actor.ID,
		OpponentName:  opponent,
		ChallengeText: challenge,
		Prize:         prize,
		Status:        models.ProposalOpen,
		CreatedAt:     e.now(),
	}
	if err := e.repo.CreateProposal(ctx, p); err != nil {
		out := e.classify(err, "ProposePrizeFight", "group_id", groupID, "user_id", actor.ID)
		_, _ = e.send(ctx, groupID, out.Message())
		return out
	}
	e.log.Info("Prize fight proposed", "proposal_id", p.ID, "group_id", groupID, "challenger_id", actor.ID)

	_, _ = e.send(ctx, groupID, fmt.Sprintf(
		"💰<b>PRIZE FIGHT</b> - %s vs %s\n\n*********************\n<b>Challenge:</b> %s\n<b>Prize:</b> $%s\n*********************\n\n"+
			"Party that completes the challenge receives payment from the other party. If both of you complete or fail the challenge, keep trying until one of you wins!\n\n"+
			"Accept or suggest another prize fight!",
		esc(actor.Name()), esc(opponent), esc(challenge), esc(prize),
	), []Button{
		{Label: "Accept Prize Fight", Data: callback.Encode(callback.AcceptPrizeFight, p.ID)},
		{Label: "Suggest another challenge", Data: callback.Encode(callback.SuggestPrizeFight, p.ID)},
	})
	return ok("")
}

// checkOpponent loads an open proposal and makes sure the actor may answer it:
// never the challenger, and only the named user when the opponent is a @handle.
func (e *Engine) checkOpponent(ctx context.Context, groupID int64, actor Actor, proposalID int64) (*models.PrizeFightProposal, Outcome) {
	p, err := e.repo.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, e.classify(err, "GetProposal", "proposal_id", proposalID)
	}
	if p.GroupID != groupID {
		return nil, fail(Malformed, "")
	}
	if p.ChallengerID == actor.ID {
		return nil, fail(NotParticipant, "You can't answer your own prize fight!")
	}
	if p.Status != models.ProposalOpen {
		return nil, fail(InvalidTransition, "This prize fight was already accepted.")
	}
	if strings.HasPrefix(p.OpponentName, "@") && !strings.EqualFold(p.OpponentName[1:], actor.Handle) {
		return nil, fail(NotParticipant, fmt.Sprintf("This prize fight is for %s!", p.OpponentName))
	}
	return p, ok("")
}

// AcceptPrizeFight turns the proposal into a prize fight between the
// challenger and the actor.
func (e *Engine) AcceptPrizeFight(ctx context.Context, groupID int64, messageID int, actor Actor, proposalID int64) Outcome {
	p, out := e.checkOpponent(ctx, groupID, actor, proposalID)
	if p == nil {
		return out
	}

	fight, err := e.repo.AcceptProposal(ctx, proposalID, actor.ID, e.now())
	if err != nil {
		return e.classify(err, "AcceptPrizeFight", "proposal_id", proposalID, "user_id", actor.ID)
	}
	e.log.Info("Prize fight accepted", "prizefight_id", fight.ID, "proposal_id", proposalID)

	e.clearButtons(ctx, groupID, messageID)
	_, _ = e.send(ctx, groupID, fmt.Sprintf(
		"🏆 %s accepted the prize fight!\n<b>Challenge:</b> %s\n<b>Prize:</b> $%s!\n\nSend your proof of completion here for all to see! Challenge begins now! May the best win!",
		esc(actor.Name()), esc(fight.ChallengeText), esc(fight.Prize),
	))
	return ok("You joined the prize fight!")
}

// SuggestPrizeFight asks the actor for a counter proposal.
func (e *Engine) SuggestPrizeFight(ctx context.Context, groupID int64, messageID int, actor Actor, proposalID int64) Outcome {
	p, out := e.checkOpponent(ctx, groupID, actor, proposalID)
	if p == nil {
		return out
	}

	msgID, err := e.notify.Send(ctx, Message{
		ChatID: groupID,
		Text: fmt.Sprintf("%s, what would you like to suggest for the prize fight? Reply to this message in this format: "+
			"<code>&lt;challenge&gt; &lt;prize&gt; &lt;@opponent&gt;</code>", esc(actor.Name())),
		ReplyTo:    messageID,
		ForceReply: true,
	})
	if err != nil {
		e.log.Error("Prize fight prompt failed", "group_id", groupID, "error", err)
		return fail(StoreFailure, "")
	}

	now := e.now()
	err = e.repo.CreatePrompt(ctx, &models.PendingPrompt{
		GroupID:     groupID,
		MessageID:   msgID,
		Kind:        models.PromptPrizeFight,
		ChallengeID: p.ID,
		UserID:      actor.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.opts.PromptTTL),
	})
	if err != nil {
		return e.classify(err, "SuggestPrizeFight", "proposal_id", proposalID, "user_id", actor.ID)
	}
	return ok("")
}

func (e *Engine) counterPrizeFight(ctx context.Context, prompt *models.PendingPrompt, actor Actor, text string) Outcome {
	p, err := e.repo.GetProposal(ctx, prompt.ChallengeID)
	if err != nil {
		return e.classify(err, "SuggestPrizeFight", "proposal_id", prompt.ChallengeID)
	}
	if p.Status != models.ProposalOpen {
		_, _ = e.send(ctx, prompt.GroupID, "Too late, that prize fight was already accepted.")
		return fail(InvalidTransition, "")
	}

	challenge, prize, opponent, err := parsePrizeFight(text)
	if err != nil {
		_, _ = e.send(ctx, prompt.GroupID, prizeFightUsage)
		return fail(Malformed, "")
	}
	return e.propose(ctx, prompt.GroupID, actor, challenge, prize, opponent)
}

// ListCompletablePrizeFights posts the actor's pending prize fights with a button each.
func (e *Engine) ListCompletablePrizeFights(ctx context.Context, groupID int64, actor Actor) Outcome {
	active, err := e.repo.ListActivePrizeFights(ctx, groupID, actor.ID)
	if err != nil {
		return e.classify(err, "ListCompletablePrizeFights", "group_id", groupID, "user_id", actor.ID)
	}
	if len(active) == 0 {
		_, _ = e.send(ctx, groupID, "You have no active prize fights to complete.")
		return ok("")
	}

	rows := make([][]Button, 0, len(active))
	for _, pf := range active {
		rows = append(rows, []Button{{
			Label: buttonLabel(fmt.Sprintf("%s - $%s", pf.ChallengeText, pf.Prize)),
			Data:  callback.Encode(callback.CompletePrizeFight, pf.PrizeFightID),
		}})
	}
	_, _ = e.send(ctx, groupID,
		"Completing your prize fight already? Send in your <u><b>convincing proof of completion</b></u> and select the prize fight you wish to complete:",
		rows...,
	)
	return ok("")
}

// CompletePrizeFight moves the actor to verifying and asks the other
// participant to confirm.
func (e *Engine) CompletePrizeFight(ctx context.Context, groupID int64, actor Actor, prizeFightID int64) Outcome {
	fight, err := e.repo.GetPrizeFight(ctx, prizeFightID)
	if err != nil {
		return e.classify(err, "CompletePrizeFight", "prizefight_id", prizeFightID)
	}
	if fight.GroupID != groupID {
		return fail(Malformed, "")
	}
	participants, err := e.repo.ListPrizeFightParticipants(ctx, prizeFightID)
	if err != nil {
		return e.classify(err, "CompletePrizeFight", "prizefight_id", prizeFightID)
	}
	members := make([]models.Member, 0, len(participants))
	for _, p := range participants {
		members = append(members, models.Member{UserID: p.UserID, Name: p.UserName})
	}
	validator, found := pickValidator(members, actor.ID, e.intn)
	if !found {
		return fail(Malformed, "Nobody else is in this prize fight.")
	}

	_, err = e.repo.MutateParticipant(ctx, prizeFightID, actor.ID, func(cur *models.PrizeFightParticipant) (models.ParticipantStatus, error) {
		if cur.Status != models.ParticipantPending {
			return "", fmt.Errorf("%w: complete from %s", ErrInvalidTransition, cur.Status)
		}
		return models.ParticipantVerifying, nil
	})
	if errors.Is(err, ErrNotFound) {
		return fail(NotParticipant, "You're not part of this prize fight!")
	}
	if err != nil {
		return e.classify(err, "CompletePrizeFight", "prizefight_id", prizeFightID, "user_id", actor.ID)
	}

	_, err = e.send(ctx, groupID, fmt.Sprintf(
		"Hey %s, %s has completed prize fight <b>%s</b>. Are you convinced?",
		esc(validator.Name), esc(actor.Name()), esc(fight.ChallengeText),
	), []Button{
		{Label: "Yes!", Data: callback.Encode(callback.PrizeFightValidateYes, prizeFightID, actor.ID)},
		{Label: "Nope!", Data: callback.Encode(callback.PrizeFightValidateNo, prizeFightID, actor.ID)},
	})
	if err != nil {
		e.revertParticipant(ctx, prizeFightID, actor.ID)
		return fail(StoreFailure, "")
	}
	return ok(fmt.Sprintf("Waiting for %s to confirm your prize fight.", validator.Name))
}

func (e *Engine) revertParticipant(ctx context.Context, prizeFightID, userID int64) {
	_, err := e.repo.MutateParticipant(ctx, prizeFightID, userID, func(cur *models.PrizeFightParticipant) (models.ParticipantStatus, error) {
		if cur.Status != models.ParticipantVerifying {
			return "", ErrInvalidTransition
		}
		return models.ParticipantPending, nil
	})
	if err != nil {
		e.log.Error("Revert prize fight participant failed", "prizefight_id", prizeFightID, "user_id", userID, "error", err)
	}
}

// DecidePrizeFight records the other participant's verdict on a completion.
func (e *Engine) DecidePrizeFight(ctx context.Context, groupID int64, messageID int, actor Actor, prizeFightID, claimantID int64, approve bool) Outcome {
	if actor.ID == claimantID {
		return fail(NotParticipant, "You can't validate your own prize fight!")
	}
	fight, err := e.repo.GetPrizeFight(ctx, prizeFightID)
	if err != nil {
		return e.classify(err, "DecidePrizeFight", "prizefight_id", prizeFightID)
	}
	if fight.GroupID != groupID {
		return fail(Malformed, "")
	}
	participants, err := e.repo.ListPrizeFightParticipants(ctx, prizeFightID)
	if err != nil {
		return e.classify(err, "DecidePrizeFight", "prizefight_id", prizeFightID)
	}
	var claimant string
	var actorIn bool
	for _, p := range participants {
		switch p.UserID {
		case actor.ID:
			actorIn = true
		case claimantID:
			claimant = p.UserName
		}
	}
	if !actorIn {
		return fail(NotParticipant, "Only the other fighter can confirm this!")
	}

	next := models.ParticipantFailed
	if approve {
		next = models.ParticipantCompleted
	}
	_, err = e.repo.MutateParticipant(ctx, prizeFightID, claimantID, func(cur *models.PrizeFightParticipant) (models.ParticipantStatus, error) {
		if cur.Status != models.ParticipantVerifying {
			return "", fmt.Errorf("%w: decide on %s", ErrInvalidTransition, cur.Status)
		}
		return next, nil
	})
	if err != nil {
		return e.classify(err, "DecidePrizeFight", "prizefight_id", prizeFightID, "claimant_id", claimantID)
	}
	e.clearButtons(ctx, groupID, messageID)

	if approve {
		_, _ = e.send(ctx, groupID, fmt.Sprintf(
			"🏆 Congratulations %s! Your prize fight completion has been validated by %s. You have officially completed the challenge!",
			esc(claimant), esc(actor.Name())))
		return ok("Prize fight validated!")
	}
	_, _ = e.send(ctx, groupID, fmt.Sprintf(
		"❌ Hey %s, %s does not think you did enough to complete the prize fight challenge. Issue a new prize fight and prove them wrong!",
		esc(claimant), esc(actor.Name())))
	return ok("Prize fight rejected.")
}

// ExpirePrizeFights fails pending participants of prize fights older than the
// challenge TTL.
func (e *Engine) ExpirePrizeFights(ctx context.Context) error {
	overdue, err := e.repo.ListExpiredParticipants(ctx, e.now().Add(-e.opts.ChallengeTTL))
	if err != nil {
		return fmt.Errorf("list overdue prize fights: %w", err)
	}
	if len(overdue) == 0 {
		e.alertAdmin(ctx, "No expiring prize fights found, everyone completed their prize fights today! 🎉")
		return nil
	}

	var expired, failed int
	for _, p := range overdue {
		_, err := e.repo.MutateParticipant(ctx, p.PrizeFightID, p.UserID, func(cur *models.PrizeFightParticipant) (models.ParticipantStatus, error) {
			if cur.Status != models.ParticipantPending {
				return "", ErrInvalidTransition
			}
			return models.ParticipantFailed, nil
		})
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, repository.ErrStale) {
			continue
		}
		if err != nil {
			failed++
			e.log.Error("Expire prize fight failed", "prizefight_id", p.PrizeFightID, "user_id", p.UserID, "error", err)
			continue
		}
		expired++
		if _, err := e.send(ctx, p.GroupID, fmt.Sprintf(
			"%s failed to complete the prize fight <b>%s</b> for $%s on time. Try again tomorrow! 💪",
			esc(p.UserName), esc(p.ChallengeText), esc(p.Prize),
		)); err != nil {
			failed++
		}
	}

	e.alertAdmin(ctx, fmt.Sprintf("%d prize fights were marked as failed today.", expired))
	return batchResult(JobExpirePrizeFights, failed, len(overdue))
}

func (e *Engine) clearButtons(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := e.notify.ClearButtons(ctx, chatID, messageID); err != nil {
		e.log.Warn("Clear buttons failed", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}
