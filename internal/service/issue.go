package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/generator"
	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
)

// recentHistory is how many past challenges the generator sees.
const recentHistory = 5

// cycleSlack keeps the next day's run outside the current cycle when the
// scheduler fires a little early.
const cycleSlack = time.Hour

var errAlreadyIssued = errors.New("already issued this cycle")

// IssueChallenges writes one new challenge for every active goal. Goals are
// processed in parallel up to IssueConcurrency; a goal whose generation or
// write fails is skipped and counted, the rest still go out. A goal that
// already has a live challenge from the current cycle is left alone, so the
// job can be re-run safely.
func (e *Engine) IssueChallenges(ctx context.Context) error {
	goals, err := e.repo.ListActiveGoals(ctx)
	if err != nil {
		return fmt.Errorf("list active goals: %w", err)
	}
	e.log.Info("Issuing challenges", "goals", len(goals))

	since := e.cycleStart()
	var failed, skipped int64
	g := new(errgroup.Group)
	g.SetLimit(e.opts.IssueConcurrency)
	for _, goal := range goals {
		g.Go(func() error {
			err := e.issueGoal(ctx, goal, since)
			switch {
			case errors.Is(err, errAlreadyIssued):
				atomic.AddInt64(&skipped, 1)
				e.log.Debug("Challenge already issued this cycle", "goal_id", goal.ID)
			case err != nil:
				atomic.AddInt64(&failed, 1)
				e.log.Error("Challenge issue failed", "goal_id", goal.ID, "group_id", goal.GroupID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if skipped > 0 {
		e.log.Info("Goals skipped, already issued this cycle", "skipped", skipped)
	}

	return batchResult(JobIssue, int(failed), len(goals))
}

// cycleStart is the earliest creation time that still belongs to the current
// issue cycle.
func (e *Engine) cycleStart() time.Time {
	window := e.opts.ChallengeTTL - cycleSlack
	if window <= 0 {
		window = e.opts.ChallengeTTL
	}
	return e.now().Add(-window)
}

func (e *Engine) issueGoal(ctx context.Context, goal models.Goal, since time.Time) error {
	issued, err := e.repo.HasChallengeSince(ctx, goal.ID, since)
	if err != nil {
		return fmt.Errorf("check cycle: %w", err)
	}
	if issued {
		return errAlreadyIssued
	}

	count, err := e.repo.CountChallenges(ctx, goal.ID)
	if err != nil {
		return fmt.Errorf("count challenges: %w", err)
	}
	recent, err := e.repo.RecentChallengeTexts(ctx, goal.ID, recentHistory)
	if err != nil {
		return fmt.Errorf("recent challenges: %w", err)
	}

	text, err := e.generate(ctx, generator.Request{Goal: goal.Text, Day: int(count) + 1, Recent: recent})
	if err != nil {
		return err
	}

	now := e.now()
	challenge, members, err := e.repo.CreateChallenge(ctx, goal.ID, text, now.Add(e.opts.ChallengeTTL), now, since)
	if errors.Is(err, repository.ErrGoalInactive) {
		e.log.Info("Goal closed during generation, skipping", "goal_id", goal.ID)
		return nil
	}
	if errors.Is(err, repository.ErrAlreadyIssued) {
		return errAlreadyIssued
	}
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	e.metrics.ChallengeIssued(ctx, "daily")
	e.log.Info("Challenge issued", "goal_id", goal.ID, "challenge_id", challenge.ID, "members", len(members))

	if len(members) == 0 {
		return nil
	}
	header := fmt.Sprintf("%s\n\n<b>🎯 Challenge for tomorrow:</b>", formatNames(memberNames(members)))
	footer := "All the best and stay locked in!"
	if _, err := e.announceChallenge(ctx, goal.GroupID, goal.ID, challenge, header, footer); err != nil {
		return fmt.Errorf("announce challenge %d: %w", challenge.ID, err)
	}
	return nil
}

// generate calls the generator under its own deadline. No store transaction is
// open while it runs.
func (e *Engine) generate(ctx context.Context, req generator.Request) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, e.opts.GenerateTimeout)
	defer cancel()
	text, err := e.gen.Generate(gctx, req)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	return text, nil
}

func (e *Engine) announceChallenge(ctx context.Context, groupID, goalID int64, c *models.Challenge, header, footer string) (int, error) {
	text := fmt.Sprintf("%s\n<tg-spoiler>%s</tg-spoiler>\n\n%s", header, esc(c.Description), footer)
	return e.send(ctx, groupID, text, []Button{
		{Label: "✅ Accept", Data: callback.Encode(callback.AcceptChallenge, c.ID)},
		{Label: "💡 Suggest my own", Data: callback.Encode(callback.SuggestChallenge, goalID, c.ID)},
	})
}
