package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/generator"
	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/models"
	"github.com/cliffng14/accountably/internal/repository"
	"github.com/cliffng14/accountably/internal/scheduler"
)

const (
	testGroup int64 = -1001
	adminID   int64 = 999
)

var (
	t0 = time.Date(2026, 3, 2, 22, 45, 0, 0, time.UTC)

	alice = Actor{ID: 1, Handle: "alice", FirstName: "Alice"}
	bob   = Actor{ID: 2, Handle: "bob", FirstName: "Bob"}
	carol = Actor{ID: 3, FirstName: "Carol"}
)

type sentMsg struct {
	Message
	ID int
}

type fakeNotifier struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	edits   []sentMsg
	cleared []int
	failFor map[int64]error
}

func (f *fakeNotifier) Send(_ context.Context, m Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[m.ChatID]; err != nil {
		return 0, err
	}
	f.nextID++
	id := 100 + f.nextID
	f.sent = append(f.sent, sentMsg{Message: m, ID: id})
	return id, nil
}

func (f *fakeNotifier) Edit(_ context.Context, chatID int64, messageID int, text string, buttons [][]Button) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMsg{Message: Message{ChatID: chatID, Text: text, Buttons: buttons}, ID: messageID})
	return nil
}

func (f *fakeNotifier) ClearButtons(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, messageID)
	return nil
}

func (f *fakeNotifier) fail(chatID int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor == nil {
		f.failFor = make(map[int64]error)
	}
	f.failFor[chatID] = err
}

func (f *fakeNotifier) to(chatID int64) []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMsg
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeNotifier) last(t *testing.T, chatID int64) sentMsg {
	t.Helper()
	msgs := f.to(chatID)
	require.NotEmpty(t, msgs, "no message to chat %d", chatID)
	return msgs[len(msgs)-1]
}

type stubGen struct {
	mu   sync.Mutex
	fail map[string]error
	reqs []generator.Request
}

func (g *stubGen) Generate(_ context.Context, req generator.Request) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reqs = append(g.reqs, req)
	if err := g.fail[req.Goal]; err != nil {
		return "", err
	}
	return fmt.Sprintf("%s day %d", req.Goal, req.Day), nil
}

func (g *stubGen) requestsFor(goal string) []generator.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []generator.Request
	for _, r := range g.reqs {
		if r.Goal == goal {
			out = append(out, r)
		}
	}
	return out
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	engine *Engine
	repo   *repository.Repository
	notify *fakeNotifier
	gen    *stubGen
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := repository.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		repo:   repository.NewRepository(db),
		notify: &fakeNotifier{},
		gen:    &stubGen{fail: map[string]error{}},
		now:    t0,
	}
	h.engine = NewEngine(h.repo, h.notify, h.gen, Options{
		AdminID:          adminID,
		IssueConcurrency: 2,
		Rand:             rand.New(rand.NewSource(7)),
		Now:              func() time.Time { return h.now },
	}, logger.Nop(), nil)

	for _, a := range []Actor{alice, bob, carol} {
		require.NoError(t, h.engine.Observe(h.ctx, a, testGroup, "test"))
	}
	return h
}

// seedGoal creates a goal owned by the first actor and joined by the rest.
func (h *harness) seedGoal(text string, members ...Actor) *models.Goal {
	h.t.Helper()
	goal, err := h.repo.CreateGoal(h.ctx, testGroup, members[0].ID, text, h.now)
	require.NoError(h.t, err)
	for _, m := range members[1:] {
		_, err := h.repo.JoinGoal(h.ctx, goal.ID, m.ID, h.now)
		require.NoError(h.t, err)
	}
	return goal
}

// latestChallenge returns the goal's newest live challenge.
func (h *harness) latestChallenge(goalID int64) models.ChallengeDetail {
	h.t.Helper()
	all, err := h.repo.ListChallengesIssuedBetween(h.ctx, t0.Add(-time.Hour), h.now.Add(time.Second))
	require.NoError(h.t, err)
	var found *models.ChallengeDetail
	for i := range all {
		if all[i].GoalID == goalID {
			found = &all[i]
		}
	}
	require.NotNil(h.t, found, "no challenge for goal %d", goalID)
	return *found
}

func (h *harness) response(challengeID, userID int64) *models.ChallengeResponse {
	h.t.Helper()
	resp, err := h.repo.GetResponseFor(h.ctx, challengeID, userID)
	require.NoError(h.t, err)
	return resp
}

// issueOne issues challenges and returns the goal's new challenge id.
func (h *harness) issueOne(goalID int64) int64 {
	h.t.Helper()
	require.NoError(h.t, h.engine.IssueChallenges(h.ctx))
	return h.latestChallenge(goalID).ID
}

func decodeButton(t *testing.T, m sentMsg, row, col int) callback.Data {
	t.Helper()
	require.Greater(t, len(m.Buttons), row)
	require.Greater(t, len(m.Buttons[row]), col)
	d, err := callback.Decode(m.Buttons[row][col].Data)
	require.NoError(t, err)
	return d
}

func TestPickValidatorNeverClaimantAndUniform(t *testing.T) {
	members := []models.Member{{UserID: 1}, {UserID: 2}, {UserID: 3}, {UserID: 4}}
	rng := rand.New(rand.NewSource(42))

	const draws = 10000
	counts := map[int64]int{}
	for i := 0; i < draws; i++ {
		m, found := pickValidator(members, 2, rng.Intn)
		require.True(t, found)
		require.NotEqual(t, int64(2), m.UserID)
		counts[m.UserID]++
	}
	require.Len(t, counts, 3)

	expected := float64(draws) / 3
	var chi2 float64
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}
	// Critical value for 2 degrees of freedom at p = 0.001.
	assert.Less(t, chi2, 13.816)
}

func TestPickValidatorEmptyPool(t *testing.T) {
	_, found := pickValidator([]models.Member{{UserID: 5}}, 5, rand.New(rand.NewSource(1)).Intn)
	assert.False(t, found)
	_, found = pickValidator(nil, 5, rand.New(rand.NewSource(1)).Intn)
	assert.False(t, found)
}

func TestSelectValidator(t *testing.T) {
	h := newHarness(t)
	goal := h.seedGoal("Learn Spanish", alice, bob, carol)

	seen := map[int64]bool{}
	for i := 0; i < 200; i++ {
		v, err := h.engine.SelectValidator(h.ctx, goal.ID, alice.ID)
		require.NoError(t, err)
		require.NotNil(t, v)
		require.NotEqual(t, alice.ID, v.UserID)
		seen[v.UserID] = true
	}
	assert.Equal(t, map[int64]bool{bob.ID: true, carol.ID: true}, seen)

	solo := h.seedGoal("Get fit", carol)
	v, err := h.engine.SelectValidator(h.ctx, solo.ID, carol.ID)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOutcomeMessage(t *testing.T) {
	assert.Equal(t, "custom", fail(InvalidTransition, "custom").Message())
	assert.NotEmpty(t, fail(StoreFailure, "").Message())
	assert.Empty(t, ok("").Message())
	assert.True(t, fail(NoValidator, "").OK())
	assert.False(t, fail(NotParticipant, "").OK())
	assert.Equal(t, "invalid_transition", InvalidTransition.String())
}

func TestFormatNames(t *testing.T) {
	assert.Equal(t, "", formatNames(nil))
	assert.Equal(t, "A", formatNames([]string{"A"}))
	assert.Equal(t, "A and B", formatNames([]string{"A", "B"}))
	assert.Equal(t, "A, B, and C", formatNames([]string{"A", "B", "C"}))
}

func TestGoals(t *testing.T) {
	h := newHarness(t)

	out := h.engine.AddGoal(h.ctx, testGroup, alice, "   ")
	assert.Equal(t, Malformed, out.Kind)
	assert.Contains(t, h.notify.last(t, testGroup).Text, "/addgoal")

	out = h.engine.AddGoal(h.ctx, testGroup, alice, "Read <b>more</b>")
	require.Equal(t, OK, out.Kind)
	announce := h.notify.last(t, testGroup)
	assert.Contains(t, announce.Text, "Read &lt;b&gt;more&lt;/b&gt;")
	join := decodeButton(t, announce, 0, 0)
	assert.Equal(t, callback.JoinGoal, join.Action)
	goalID := join.ID(0)

	out = h.engine.JoinGoal(h.ctx, testGroup, bob, goalID)
	require.Equal(t, OK, out.Kind)
	assert.Equal(t, "@bob joined the goal!", out.Message())

	out = h.engine.JoinGoal(h.ctx, testGroup, bob, goalID)
	assert.Equal(t, InvalidTransition, out.Kind)

	out = h.engine.JoinGoal(h.ctx, -2002, carol, goalID)
	assert.Equal(t, Malformed, out.Kind)

	members, err := h.repo.ListGoalMembers(h.ctx, goalID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	out = h.engine.GoalsOverview(h.ctx, testGroup, carol)
	require.Equal(t, OK, out.Kind)
	overview := h.notify.last(t, testGroup)
	assert.Contains(t, overview.Text, "Goals you can join")
	assert.Equal(t, goalID, decodeButton(t, overview, 0, 0).ID(0))

	h.engine.GoalsOverview(h.ctx, testGroup, alice)
	overview = h.notify.last(t, testGroup)
	assert.Contains(t, overview.Text, "your current goals")
	assert.Empty(t, overview.Buttons)
}

func TestIssueChallenges(t *testing.T) {
	h := newHarness(t)
	spanish := h.seedGoal("Learn Spanish", alice, bob)
	fit := h.seedGoal("Get fit", carol)
	broken := h.seedGoal("Broken", alice)
	h.gen.fail["Broken"] = fmt.Errorf("%w: timeout", generator.ErrMalformedResponse)

	err := h.engine.IssueChallenges(h.ctx)
	var batch *BatchError
	require.ErrorAs(t, err, &batch)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, 3, batch.Total)

	for goalID, want := range map[int64][]int64{spanish.ID: {alice.ID, bob.ID}, fit.ID: {carol.ID}} {
		c := h.latestChallenge(goalID)
		responses, err := h.repo.ListChallengeResponses(h.ctx, c.ID)
		require.NoError(t, err)
		var got []int64
		for _, r := range responses {
			assert.Equal(t, models.ResponseIssued, r.Status)
			got = append(got, r.UserID)
		}
		assert.ElementsMatch(t, want, got)
		assert.True(t, t0.Add(24*time.Hour).Equal(c.DueDate), "due %s", c.DueDate)
	}
	n, err := h.repo.CountChallenges(h.ctx, broken.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs := h.notify.to(testGroup)
	require.Len(t, msgs, 2)
	var spanishMsg sentMsg
	for _, m := range msgs {
		if strings.Contains(m.Text, "Learn Spanish day 1") {
			spanishMsg = m
		}
	}
	assert.Contains(t, spanishMsg.Text, "@alice and @bob")
	assert.Equal(t, callback.AcceptChallenge, decodeButton(t, spanishMsg, 0, 0).Action)
	suggest := decodeButton(t, spanishMsg, 0, 1)
	assert.Equal(t, callback.SuggestChallenge, suggest.Action)
	assert.Equal(t, spanish.ID, suggest.ID(0))

	h.now = t0.Add(24 * time.Hour)
	delete(h.gen.fail, "Broken")
	require.NoError(t, h.engine.IssueChallenges(h.ctx))
	reqs := h.gen.requestsFor("Learn Spanish")
	require.Len(t, reqs, 2)
	assert.Equal(t, 1, reqs[0].Day)
	assert.Empty(t, reqs[0].Recent)
	assert.Equal(t, 2, reqs[1].Day)
	assert.Equal(t, []string{"Learn Spanish day 1"}, reqs[1].Recent)
}

func TestIssueChallengesRerunSameCycle(t *testing.T) {
	h := newHarness(t)
	spanish := h.seedGoal("Learn Spanish", alice, bob)

	require.NoError(t, h.engine.IssueChallenges(h.ctx))
	require.NoError(t, h.engine.IssueChallenges(h.ctx))
	h.now = t0.Add(20 * time.Hour)
	require.NoError(t, h.engine.IssueChallenges(h.ctx))

	n, err := h.repo.CountChallenges(h.ctx, spanish.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Len(t, h.notify.to(testGroup), 1)
	assert.Len(t, h.gen.requestsFor("Learn Spanish"), 1, "no generation for an issued goal")
}

func TestIssueChallengesRetryAfterAnnounceFailure(t *testing.T) {
	h := newHarness(t)
	spanish := h.seedGoal("Learn Spanish", alice, bob)
	h.notify.fail(testGroup, errors.New("telegram down"))

	var batch *BatchError
	require.ErrorAs(t, h.engine.IssueChallenges(h.ctx), &batch)
	assert.Equal(t, 1, batch.Failed)

	h.notify.failFor = nil
	require.NoError(t, h.engine.IssueChallenges(h.ctx))
	n, err := h.repo.CountChallenges(h.ctx, spanish.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRegisterJobs(t *testing.T) {
	h := newHarness(t)
	reg := scheduler.NewRegistry()
	require.NoError(t, h.engine.RegisterJobs(reg))
	assert.Equal(t, []string{
		JobExpire, JobExpirePrizeFights, JobIssue, JobRemindEvening, JobRemindMorning, JobSweepPrompts, JobValidate,
	}, reg.Names())
	assert.Error(t, h.engine.RegisterJobs(reg))

	require.NoError(t, h.repo.CreatePrompt(h.ctx, &models.PendingPrompt{
		GroupID: testGroup, MessageID: 7, Kind: models.PromptChallenge, UserID: alice.ID,
		CreatedAt: t0, ExpiresAt: t0.Add(time.Hour),
	}))
	h.now = t0.Add(2 * time.Hour)
	sweep, found := reg.Get(JobSweepPrompts)
	require.True(t, found)
	require.NoError(t, sweep(h.ctx))
	n, err := h.repo.DeleteExpiredPrompts(h.ctx, h.now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReminders(t *testing.T) {
	h := newHarness(t)
	spanish := h.seedGoal("Learn Spanish", alice, bob)
	h.seedGoal("Get fit", carol)
	cid := h.issueOne(spanish.ID)
	require.Equal(t, OK, h.engine.Accept(h.ctx, testGroup, alice, cid).Kind)
	before := len(h.notify.to(testGroup))

	h.now = t0.Add(10 * time.Hour)
	require.NoError(t, h.engine.RemindMorning(h.ctx))
	msgs := h.notify.to(testGroup)
	require.Len(t, msgs, before+1)
	reminder := msgs[len(msgs)-1].Text
	assert.Contains(t, reminder, "Good morning @alice!")
	assert.NotContains(t, reminder, "@bob")
	assert.Contains(t, reminder, "Learn Spanish day 1")

	h.notify.fail(testGroup, fmt.Errorf("bot was kicked"))
	assert.Error(t, h.engine.RemindEvening(h.ctx))
	assert.Contains(t, h.notify.last(t, adminID).Text, "Failed to send evening reminder")

	// Challenges older than a day are not reminded about.
	h.notify.fail(testGroup, nil)
	h.now = t0.Add(30 * time.Hour)
	before = len(h.notify.to(testGroup))
	require.NoError(t, h.engine.RemindEvening(h.ctx))
	assert.Len(t, h.notify.to(testGroup), before)
}

func TestFeedbackAndOnboarding(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, Malformed, h.engine.Feedback(h.ctx, testGroup, alice, " ").Kind)
	require.Equal(t, OK, h.engine.Feedback(h.ctx, testGroup, alice, "love it <3").Kind)
	fb := h.notify.last(t, adminID).Text
	assert.Contains(t, fb, "@alice (ID: 1)")
	assert.Contains(t, fb, "love it &lt;3")

	h.engine.opts.IssueAt = "22:45"
	h.engine.opts.Timezone = "Asia/Singapore"
	require.Equal(t, OK, h.engine.Introduce(h.ctx, testGroup).Kind)
	intro := h.notify.last(t, testGroup).Text
	assert.Contains(t, intro, "Every day at 22:45 (Asia/Singapore)")
	assert.Contains(t, intro, "/prizefight")

	h.engine.PrivateChatNotice(h.ctx, alice.ID)
	assert.Contains(t, h.notify.last(t, alice.ID).Text, "I only work in group chats")
}
