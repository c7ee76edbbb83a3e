package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/models"
)

func TestAcceptTwice(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)
	before := len(h.notify.to(testGroup))

	out := h.engine.Accept(h.ctx, testGroup, alice, cid)
	require.Equal(t, OK, out.Kind)
	assert.Equal(t, models.ResponsePending, h.response(cid, alice.ID).Status)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "@bob\n\n@alice has accepted the challenge, don't be left behind!")

	out = h.engine.Accept(h.ctx, testGroup, alice, cid)
	assert.Equal(t, InvalidTransition, out.Kind)
	assert.Contains(t, out.Message(), "already accepted")
	assert.Equal(t, models.ResponsePending, h.response(cid, alice.ID).Status)
	assert.Len(t, h.notify.to(testGroup), before+1)

	out = h.engine.Accept(h.ctx, testGroup, carol, cid)
	assert.Equal(t, NotParticipant, out.Kind)

	out = h.engine.Accept(h.ctx, -2002, bob, cid)
	assert.Equal(t, Malformed, out.Kind)
}

func TestSuggestionReplacesChallengeAtomically(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob, carol)
	old := h.issueOne(goal.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, alice, old).Kind)

	assert.Equal(t, Malformed, h.engine.StartSuggestion(h.ctx, testGroup, 55, bob, goal.ID+1, old).Kind)

	out := h.engine.StartSuggestion(h.ctx, testGroup, 55, bob, goal.ID, old)
	require.Equal(t, OK, out.Kind)
	prompt := h.notify.last(t, testGroup)
	assert.True(t, prompt.ForceReply)
	assert.Equal(t, 55, prompt.ReplyTo)

	// Only the user who asked can answer the prompt.
	_, handled := h.engine.SubmitSuggestion(h.ctx, testGroup, prompt.ID, carol, "Something else")
	assert.False(t, handled)

	out, handled = h.engine.SubmitSuggestion(h.ctx, testGroup, prompt.ID, bob, "Watch a telenovela")
	require.True(t, handled)
	require.Equal(t, OK, out.Kind)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "New Challenge Suggested by @bob")

	oldChallenge, err := h.repo.GetChallenge(h.ctx, old)
	require.NoError(t, err)
	assert.True(t, oldChallenge.Rejected)
	oldResponses, err := h.repo.ListChallengeResponses(h.ctx, old)
	require.NoError(t, err)
	require.Len(t, oldResponses, 3)
	for _, r := range oldResponses {
		assert.Equal(t, models.ResponseRejected, r.Status)
	}

	replacement := h.latestChallenge(goal.ID)
	assert.NotEqual(t, old, replacement.ID)
	assert.Equal(t, "Watch a telenovela", replacement.Description)
	newResponses, err := h.repo.ListChallengeResponses(h.ctx, replacement.ID)
	require.NoError(t, err)
	var users []int64
	for _, r := range newResponses {
		assert.Equal(t, models.ResponseIssued, r.Status)
		users = append(users, r.UserID)
	}
	assert.ElementsMatch(t, []int64{alice.ID, bob.ID, carol.ID}, users)

	// The prompt is consumed.
	_, handled = h.engine.SubmitSuggestion(h.ctx, testGroup, prompt.ID, bob, "Again")
	assert.False(t, handled)

	out = h.engine.StartSuggestion(h.ctx, testGroup, 56, carol, goal.ID, old)
	assert.Equal(t, InvalidTransition, out.Kind)
	out = h.engine.Accept(h.ctx, testGroup, carol, old)
	assert.Equal(t, InvalidTransition, out.Kind)
}

func TestSuggestionAfterAcceptingIsRefused(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)

	require.Equal(t, OK, h.engine.StartSuggestion(h.ctx, testGroup, 0, bob, goal.ID, cid).Kind)
	prompt := h.notify.last(t, testGroup)

	// Bob accepts before replying, so the reply no longer applies.
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, bob, cid).Kind)
	out, handled := h.engine.SubmitSuggestion(h.ctx, testGroup, prompt.ID, bob, "Something harder")
	require.True(t, handled)
	assert.Equal(t, InvalidTransition, out.Kind)

	c, err := h.repo.GetChallenge(h.ctx, cid)
	require.NoError(t, err)
	assert.False(t, c.Rejected)
	assert.Equal(t, models.ResponsePending, h.response(cid, bob.ID).Status)
	assert.Equal(t, InvalidTransition, h.engine.StartSuggestion(h.ctx, testGroup, 0, bob, goal.ID, cid).Kind)
}

func TestLearnSpanishEndToEnd(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)

	for _, a := range []Actor{alice, bob} {
		assert.Equal(t, models.ResponseIssued, h.response(cid, a.ID).Status)
	}

	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, alice, cid).Kind)
	resp := h.response(cid, alice.ID)
	require.Equal(t, models.ResponsePending, resp.Status)

	require.Equal(t, OK, h.engine.ListCompletable(h.ctx, testGroup, alice).Kind)
	list := h.notify.last(t, testGroup)
	mark := decodeButton(t, list, 0, 0)
	assert.Equal(t, callback.MarkComplete, mark.Action)
	assert.Equal(t, resp.ID, mark.ID(0))

	assert.Equal(t, NotParticipant, h.engine.Complete(h.ctx, testGroup, bob, resp.ID).Kind)
	require.Equal(t, OK, h.engine.Complete(h.ctx, testGroup, alice, resp.ID).Kind)
	resp = h.response(cid, alice.ID)
	assert.Equal(t, models.ResponseCompleted, resp.Status)
	assert.False(t, resp.Validated)
	assert.NotNil(t, resp.CompletedAt)
	assert.Equal(t, InvalidTransition, h.engine.Complete(h.ctx, testGroup, alice, resp.ID).Kind)

	require.NoError(t, h.engine.ValidateCompleted(h.ctx))
	review := h.notify.last(t, testGroup)
	assert.Contains(t, review.Text, "@bob, you have been chosen to validate the completion of @alice's challenge")
	yes := decodeButton(t, review, 0, 0)
	assert.Equal(t, callback.ValidateYes, yes.Action)
	assert.Equal(t, resp.ID, yes.ID(0))
	assert.Equal(t, callback.ValidateNo, decodeButton(t, review, 0, 1).Action)

	resp = h.response(cid, alice.ID)
	require.NotNil(t, resp.ValidatorID)
	assert.Equal(t, bob.ID, *resp.ValidatorID)
	assert.NotNil(t, resp.ReviewedAt)

	// A second sweep does not ask again.
	sent := len(h.notify.to(testGroup))
	require.NoError(t, h.engine.ValidateCompleted(h.ctx))
	assert.Len(t, h.notify.to(testGroup), sent)

	assert.Equal(t, NotParticipant, h.engine.Decide(h.ctx, testGroup, review.ID, alice, resp.ID, true).Kind)
	assert.Equal(t, NotParticipant, h.engine.Decide(h.ctx, testGroup, review.ID, carol, resp.ID, true).Kind)

	out := h.engine.Decide(h.ctx, testGroup, review.ID, bob, resp.ID, false)
	require.Equal(t, OK, out.Kind)
	resp = h.response(cid, alice.ID)
	assert.Equal(t, models.ResponseRejected, resp.Status)
	assert.True(t, resp.Validated)
	assert.NotNil(t, resp.ValidatedAt)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "Hey @alice, @bob does not think you did enough")
	require.Len(t, h.notify.edits, 1)
	assert.Equal(t, review.ID, h.notify.edits[0].ID)
	assert.Empty(t, h.notify.edits[0].Buttons)

	out = h.engine.Decide(h.ctx, testGroup, review.ID, bob, resp.ID, true)
	assert.Equal(t, InvalidTransition, out.Kind)

	h.now = t0.Add(49 * time.Hour)
	require.NoError(t, h.engine.ExpireOverdue(h.ctx))
	assert.Equal(t, models.ResponseRejected, h.response(cid, alice.ID).Status)
	assert.Contains(t, h.notify.last(t, adminID).Text, "No expiring challenges found")
}

func TestApprovalKeepsCompleted(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, bob, cid).Kind)
	resp := h.response(cid, bob.ID)
	require.Equal(t, OK, h.engine.Complete(h.ctx, testGroup, bob, resp.ID).Kind)
	require.NoError(t, h.engine.ValidateCompleted(h.ctx))

	out := h.engine.Decide(h.ctx, testGroup, 0, alice, resp.ID, true)
	require.Equal(t, OK, out.Kind)
	resp = h.response(cid, bob.ID)
	assert.Equal(t, models.ResponseCompleted, resp.Status)
	assert.True(t, resp.Validated)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "@bob's challenge has been validated successfully by @alice")

	out = h.engine.Decide(h.ctx, testGroup, 0, alice, resp.ID, false)
	assert.Equal(t, InvalidTransition, out.Kind)
	assert.Equal(t, models.ResponseCompleted, h.response(cid, bob.ID).Status)
}

func TestZeroPeerValidation(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Get fit", carol)
	cid := h.issueOne(goal.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, carol, cid).Kind)
	resp := h.response(cid, carol.ID)
	require.Equal(t, OK, h.engine.Complete(h.ctx, testGroup, carol, resp.ID).Kind)

	kind, err := h.engine.RequestValidation(h.ctx, models.ResponseDetail{
		ChallengeResponse: *h.response(cid, carol.ID), Description: "Get fit day 1",
		GoalID: goal.ID, GroupID: testGroup, UserName: "Carol",
	})
	require.NoError(t, err)
	assert.Equal(t, NoValidator, kind)
	notice := h.notify.last(t, testGroup)
	assert.Contains(t, notice.Text, "you're alone in this goal")
	assert.Empty(t, notice.Buttons)

	sent := len(h.notify.to(testGroup))
	require.NoError(t, h.engine.ValidateCompleted(h.ctx))
	assert.Len(t, h.notify.to(testGroup), sent)

	resp = h.response(cid, carol.ID)
	assert.Equal(t, models.ResponseCompleted, resp.Status)
	assert.False(t, resp.Validated)
	assert.Nil(t, resp.ValidatorID)
	assert.NotNil(t, resp.ReviewedAt)
}

func TestValidationRetriedAfterSendFailure(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, alice, cid).Kind)
	resp := h.response(cid, alice.ID)
	require.Equal(t, OK, h.engine.Complete(h.ctx, testGroup, alice, resp.ID).Kind)

	h.notify.fail(testGroup, errors.New("Bad Request: chat not found"))
	err := h.engine.ValidateCompleted(h.ctx)
	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, 1, batch.Failed)
	assert.Contains(t, h.notify.last(t, adminID).Text, "Failed to send a review request")

	resp = h.response(cid, alice.ID)
	assert.Nil(t, resp.ReviewedAt)
	assert.Nil(t, resp.ValidatorID)

	h.notify.fail(testGroup, nil)
	require.NoError(t, h.engine.ValidateCompleted(h.ctx))
	assert.Contains(t, h.notify.last(t, testGroup).Text, "you have been chosen to validate")
	assert.NotNil(t, h.response(cid, alice.ID).ReviewedAt)
}

func TestExpireOverdue(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob)
	cid := h.issueOne(goal.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, alice, cid).Kind)
	resp := h.response(cid, alice.ID)

	// Not yet due.
	h.now = t0.Add(23 * time.Hour)
	require.NoError(t, h.engine.ExpireOverdue(h.ctx))
	assert.Equal(t, models.ResponsePending, h.response(cid, alice.ID).Status)

	h.now = t0.Add(25 * time.Hour)
	assert.Equal(t, InvalidTransition, h.engine.Complete(h.ctx, testGroup, alice, resp.ID).Kind)

	require.NoError(t, h.engine.ExpireOverdue(h.ctx))
	assert.Equal(t, models.ResponseFailed, h.response(cid, alice.ID).Status)
	assert.Equal(t, models.ResponseIssued, h.response(cid, bob.ID).Status)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "@alice failed to complete challenge")
	assert.Equal(t, "1 challenges were marked as failed today.", h.notify.last(t, adminID).Text)

	sent := len(h.notify.to(testGroup))
	require.NoError(t, h.engine.ExpireOverdue(h.ctx))
	assert.Len(t, h.notify.to(testGroup), sent)
	assert.Equal(t, models.ResponseFailed, h.response(cid, alice.ID).Status)

	assert.Equal(t, InvalidTransition, h.engine.Accept(h.ctx, testGroup, alice, cid).Kind)
}
