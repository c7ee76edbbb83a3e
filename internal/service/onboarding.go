package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

var introTemplate = template.Must(template.New("intro").Parse(`Hello everyone! 👋

I'm an accountability bot that generates daily challenges based on your goals. Research shows you're more likely to achieve your goals with an accountability partner, so don't go it alone!

<b>Goals vs Challenges:</b>
- <b>Goal</b>: your long-term objective (e.g. "Get fit", "Learn Spanish")
- <b>Challenge</b>: a small daily task I generate to help you progress toward your goal

<b>How it works:</b>

1️⃣ Add a goal with /addgoal (e.g. <code>/addgoal Get fit</code>)
2️⃣ Invite your friends to join the goal
3️⃣ Every day at {{.IssueAt}}{{if .Timezone}} ({{.Timezone}}){{end}}, I'll generate a challenge for each goal
4️⃣ Accept and complete your challenge at your own pace
5️⃣ Mark it done with /complete before its deadline
6️⃣ A fellow participant will verify your completion{{if .ValidateAt}} at {{.ValidateAt}}{{end}}

<b>Commands:</b>
- /addgoal: add a new goal
- /goals: view all goals in this group
- /complete: mark your challenge as done
- /prizefight: challenge someone to a prize fight
- /completeprizefight: complete a prize fight
- /deletegoal: remove a goal
- /feedback: send feedback to the developer
- /help: show this message again

<b>🔒 Privacy:</b>
I only read messages that start with a command (/) or when you interact with my buttons. I cannot see your regular group conversations.

Let's crush some goals together! 💪`))

// Introduce posts the introduction and command list.
func (e *Engine) Introduce(ctx context.Context, chatID int64) Outcome {
	var buf bytes.Buffer
	err := introTemplate.Execute(&buf, struct {
		IssueAt, ValidateAt, Timezone string
	}{e.opts.IssueAt, e.opts.ValidateAt, e.opts.Timezone})
	if err != nil {
		e.log.Error("Render introduction failed", "error", err)
		return fail(Malformed, "")
	}
	if _, err := e.send(ctx, chatID, buf.String()); err != nil {
		return fail(StoreFailure, "")
	}
	return ok("")
}

// PrivateChatNotice answers direct messages, which the bot does not serve.
func (e *Engine) PrivateChatNotice(ctx context.Context, chatID int64) Outcome {
	_, _ = e.send(ctx, chatID, "👋 Hi! I only work in group chats.\n\n"+
		"Add me to your group chat to get started! Don't worry, I don't have access to the regular messages sent in your group chat, just the ones directed at me :)")
	return ok("")
}

// Feedback forwards the actor's text to the admin.
func (e *Engine) Feedback(ctx context.Context, chatID int64, actor Actor, text string) Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		_, _ = e.send(ctx, chatID, "Please include your feedback after the command.\n\nExample: <code>/feedback I love this bot!</code>")
		return fail(Malformed, "")
	}

	e.alertAdmin(ctx, fmt.Sprintf("📬 <b>New Feedback</b>\n\n<b>From:</b> %s (ID: %d)\n<b>Message:</b> %s",
		esc(actor.Name()), actor.ID, esc(text)))
	e.log.Info("Feedback forwarded", "user_id", actor.ID)
	_, _ = e.send(ctx, chatID, "✅ Thanks for your feedback! It has been sent to the admin :)")
	return ok("")
}
