package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/models"
)

// AddGoal creates a goal owned by the actor and announces it with a join button.
func (e *Engine) AddGoal(ctx context.Context, groupID int64, actor Actor, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		_, _ = e.send(ctx, groupID, "Please provide a goal after the command, e.g. <code>/addgoal Learn Python</code>.")
		return fail(Malformed, "")
	}

	goal, err := e.repo.CreateGoal(ctx, groupID, actor.ID, text, e.now())
	if err != nil {
		out := e.classify(err, "AddGoal", "group_id", groupID, "user_id", actor.ID)
		_, _ = e.send(ctx, groupID, "An error occurred while adding the goal. Please try again.")
		return out
	}
	e.log.Info("Goal created", "goal_id", goal.ID, "group_id", groupID, "owner_id", actor.ID)

	_, _ = e.send(ctx, groupID,
		fmt.Sprintf("%s has started a new goal: <b>%s</b>. Do you want to join?", esc(actor.Name()), esc(goal.Text)),
		[]Button{{Label: "Join Goal", Data: callback.Encode(callback.JoinGoal, goal.ID)}},
	)
	return ok("")
}

// JoinGoal adds the actor to an active goal of this group.
func (e *Engine) JoinGoal(ctx context.Context, groupID int64, actor Actor, goalID int64) Outcome {
	goal, err := e.repo.GetGoal(ctx, goalID)
	if err != nil {
		return e.classify(err, "JoinGoal", "goal_id", goalID)
	}
	if goal.GroupID != groupID {
		return fail(Malformed, "")
	}
	if goal.Status != models.GoalActive {
		return fail(InvalidTransition, "This goal is no longer active.")
	}

	joined, err := e.repo.JoinGoal(ctx, goalID, actor.ID, e.now())
	if err != nil {
		return e.classify(err, "JoinGoal", "goal_id", goalID, "user_id", actor.ID)
	}
	if !joined {
		return fail(InvalidTransition, "You're already part of this goal!")
	}

	_, _ = e.send(ctx, groupID, fmt.Sprintf("%s joined the goal <b>%s</b>!", esc(actor.Name()), esc(goal.Text)))
	return ok(fmt.Sprintf("%s joined the goal!", actor.Name()))
}

// GoalsOverview posts the actor's goals and the ones they can still join.
func (e *Engine) GoalsOverview(ctx context.Context, groupID int64, actor Actor) Outcome {
	joined, err := e.repo.ListJoinedGoals(ctx, groupID, actor.ID)
	if err != nil {
		return e.classify(err, "GoalsOverview", "group_id", groupID)
	}
	joinable, err := e.repo.ListJoinableGoals(ctx, groupID, actor.ID)
	if err != nil {
		return e.classify(err, "GoalsOverview", "group_id", groupID)
	}

	if len(joined) == 0 && len(joinable) == 0 {
		_, _ = e.send(ctx, groupID, "There are no goals in this group yet. Add one with /addgoal!")
		return ok("")
	}

	var parts []string
	if len(joined) > 0 {
		lines := make([]string, 0, len(joined))
		for _, g := range joined {
			lines = append(lines, "• "+esc(g.Text))
		}
		parts = append(parts, fmt.Sprintf("%s, your current goals:\n%s", esc(actor.Name()), strings.Join(lines, "\n")))
	} else {
		parts = append(parts, fmt.Sprintf("%s, you haven't joined any goals yet.", esc(actor.Name())))
	}

	var rows [][]Button
	if len(joinable) > 0 {
		parts = append(parts, "Goals you can join:")
		for _, g := range joinable {
			rows = append(rows, []Button{{Label: buttonLabel(g.Text), Data: callback.Encode(callback.JoinGoal, g.ID)}})
		}
	}

	_, _ = e.send(ctx, groupID, strings.Join(parts, "\n\n"), rows...)
	return ok("")
}

// DeleteGoal is not supported yet; goals only ever become abandoned.
func (e *Engine) DeleteGoal(ctx context.Context, groupID int64) Outcome {
	_, _ = e.send(ctx, groupID, "Thinking of giving up? Oops... delete goal functionality coming soon... maybe next year...")
	return ok("")
}
