package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cliffng14/accountably/internal/models"
)

type reminder struct {
	job    string
	label  string
	render func(names, challenge string) string
}

var (
	morningReminder = reminder{
		job:   JobRemindMorning,
		label: "morning",
		render: func(names, challenge string) string {
			return fmt.Sprintf("🌅 Good morning %s! A reminder on your goal today:\n\n🎯 <b>Challenge:</b> %s\n\n"+
				"Don't forget to complete it today and mark it as done! Let's keep pushing towards our goals together! 💪", names, challenge)
		},
	}
	eveningReminder = reminder{
		job:   JobRemindEvening,
		label: "evening",
		render: func(names, challenge string) string {
			return fmt.Sprintf("🌆 Good evening %s! Just a friendly reminder to complete your challenge for today:\n\n🎯 <b>Challenge:</b> %s\n\n"+
				"Make sure to mark it as done before the deadline! Let's finish strong! 💪", names, challenge)
		},
	}
)

// RemindMorning nudges everyone who accepted a challenge issued in the last day.
func (e *Engine) RemindMorning(ctx context.Context) error {
	return e.remind(ctx, morningReminder)
}

// RemindEvening is the end-of-day variant of RemindMorning.
func (e *Engine) RemindEvening(ctx context.Context) error {
	return e.remind(ctx, eveningReminder)
}

func (e *Engine) remind(ctx context.Context, r reminder) error {
	now := e.now()
	challenges, err := e.repo.ListChallengesIssuedBetween(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		return fmt.Errorf("list recent challenges: %w", err)
	}

	var sent, failed int
	for _, c := range challenges {
		accepted, err := e.repo.ListChallengeParticipants(ctx, c.ID, models.ResponsePending)
		if err != nil {
			failed++
			e.log.Error("List accepted participants failed", "challenge_id", c.ID, "error", err)
			continue
		}
		if len(accepted) == 0 {
			continue
		}
		text := r.render(formatNames(memberNames(accepted)), esc(c.Description))
		if _, err := e.send(ctx, c.GroupID, text); err != nil {
			failed++
			e.alertAdmin(ctx, fmt.Sprintf("Failed to send %s reminder to group %d\n\nChallenge ID: %d\nChallenge: %s\nError: %s",
				r.label, c.GroupID, c.ID, esc(c.Description), esc(err.Error())))
			continue
		}
		sent++
	}
	e.log.Info("Reminders sent", "kind", r.label, "sent", sent, "failed", failed)
	return batchResult(r.job, failed, len(challenges))
}
