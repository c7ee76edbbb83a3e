package handlers

import (
	"context"
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/cliffng14/accountably/internal/callback"
	"github.com/cliffng14/accountably/internal/logger"
	"github.com/cliffng14/accountably/internal/service"
)

// Answerer acknowledges callback queries.
type Answerer interface {
	Answer(ctx context.Context, callbackID, text string, alert bool) error
}

type BotHandler struct {
	engine *service.Engine
	answer Answerer
	log    *logger.Logger
}

func NewBotHandler(engine *service.Engine, answer Answerer, log *logger.Logger) *BotHandler {
	return &BotHandler{
		engine: engine,
		answer: answer,
		log:    log.With("component", "BotHandler"),
	}
}

// Run handles updates one at a time until ctx is done or updates closes.
func (h *BotHandler) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			h.HandleUpdate(ctx, update)
		}
	}
}

func (h *BotHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic while handling update",
				"update_id", update.UpdateID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	switch {
	case update.MyChatMember != nil:
		h.handleMembership(ctx, update.MyChatMember)
	case update.Message != nil:
		h.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		h.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func actorOf(u *tgbotapi.User) service.Actor {
	return service.Actor{ID: u.ID, Handle: u.UserName, FirstName: u.FirstName}
}

func (h *BotHandler) observe(ctx context.Context, from *tgbotapi.User, chat *tgbotapi.Chat) {
	if from == nil || from.IsBot {
		return
	}
	var groupID int64
	var title string
	if chat != nil && !chat.IsPrivate() {
		groupID, title = chat.ID, chat.Title
	}
	if err := h.engine.Observe(ctx, actorOf(from), groupID, title); err != nil {
		h.log.Error("Error recording interaction", "user_id", from.ID, "chat_id", groupID, "error", err)
	}
}

// handleMembership introduces the bot when it is added to a group.
func (h *BotHandler) handleMembership(ctx context.Context, m *tgbotapi.ChatMemberUpdated) {
	if m.Chat.IsPrivate() || !joined(m.OldChatMember.Status, m.NewChatMember.Status) {
		return
	}
	h.observe(ctx, &m.From, &m.Chat)
	h.log.Info("Added to group", "chat_id", m.Chat.ID, "title", m.Chat.Title)
	h.logOutcome("introduce", h.engine.Introduce(ctx, m.Chat.ID))
}

func joined(before, after string) bool {
	present := func(s string) bool { return s == "member" || s == "administrator" }
	return !present(before) && present(after)
}

func (h *BotHandler) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil || message.From.IsBot {
		return
	}
	h.observe(ctx, message.From, message.Chat)
	actor := actorOf(message.From)
	chatID := message.Chat.ID

	if message.Chat.IsPrivate() {
		if message.IsCommand() && message.Command() == "feedback" {
			h.logOutcome("feedback", h.engine.Feedback(ctx, chatID, actor, message.CommandArguments()))
			return
		}
		h.logOutcome("private", h.engine.PrivateChatNotice(ctx, chatID))
		return
	}

	if !message.IsCommand() {
		if message.ReplyToMessage != nil && message.Text != "" {
			out, handled := h.engine.SubmitSuggestion(ctx, chatID, message.ReplyToMessage.MessageID, actor, message.Text)
			if handled {
				h.logOutcome("suggestion", out)
			}
		}
		return
	}

	args := message.CommandArguments()
	var out service.Outcome
	switch message.Command() {
	case "start", "help":
		out = h.engine.Introduce(ctx, chatID)
	case "addgoal":
		out = h.engine.AddGoal(ctx, chatID, actor, args)
	case "goals":
		out = h.engine.GoalsOverview(ctx, chatID, actor)
	case "complete":
		out = h.engine.ListCompletable(ctx, chatID, actor)
	case "deletegoal":
		out = h.engine.DeleteGoal(ctx, chatID)
	case "feedback":
		out = h.engine.Feedback(ctx, chatID, actor, args)
	case "prizefight":
		out = h.engine.ProposePrizeFight(ctx, chatID, actor, args)
	case "completeprizefight":
		out = h.engine.ListCompletablePrizeFights(ctx, chatID, actor)
	default:
		return
	}
	h.logOutcome(message.Command(), out)
}

func (h *BotHandler) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	h.observe(ctx, query.From, chatOf(query))
	out := h.dispatch(ctx, query)
	h.logOutcome("callback", out, "data", query.Data)
	h.answerCallback(ctx, query, out)
}

func chatOf(query *tgbotapi.CallbackQuery) *tgbotapi.Chat {
	if query.Message == nil {
		return nil
	}
	return query.Message.Chat
}

func (h *BotHandler) dispatch(ctx context.Context, query *tgbotapi.CallbackQuery) service.Outcome {
	data, err := callback.Decode(query.Data)
	if err != nil || query.Message == nil || query.Message.Chat == nil || query.From == nil {
		h.log.Warn("Unusable callback query", "data", query.Data, "error", err)
		return service.Outcome{Kind: service.Malformed}
	}
	groupID := query.Message.Chat.ID
	messageID := query.Message.MessageID
	actor := actorOf(query.From)

	switch data.Action {
	case callback.AcceptChallenge:
		return h.engine.Accept(ctx, groupID, actor, data.ID(0))
	case callback.SuggestChallenge:
		return h.engine.StartSuggestion(ctx, groupID, messageID, actor, data.ID(0), data.ID(1))
	case callback.MarkComplete:
		return h.engine.Complete(ctx, groupID, actor, data.ID(0))
	case callback.ValidateYes, callback.ValidateNo:
		return h.engine.Decide(ctx, groupID, messageID, actor, data.ID(0), data.Action == callback.ValidateYes)
	case callback.JoinGoal:
		return h.engine.JoinGoal(ctx, groupID, actor, data.ID(0))
	case callback.AcceptPrizeFight:
		return h.engine.AcceptPrizeFight(ctx, groupID, messageID, actor, data.ID(0))
	case callback.SuggestPrizeFight:
		return h.engine.SuggestPrizeFight(ctx, groupID, messageID, actor, data.ID(0))
	case callback.CompletePrizeFight:
		return h.engine.CompletePrizeFight(ctx, groupID, actor, data.ID(0))
	case callback.PrizeFightValidateYes, callback.PrizeFightValidateNo:
		return h.engine.DecidePrizeFight(ctx, groupID, messageID, actor, data.ID(0), data.ID(1),
			data.Action == callback.PrizeFightValidateYes)
	}
	return service.Outcome{Kind: service.Malformed}
}

func (h *BotHandler) answerCallback(ctx context.Context, query *tgbotapi.CallbackQuery, out service.Outcome) {
	if err := h.answer.Answer(ctx, query.ID, out.Message(), !out.OK()); err != nil {
		h.log.Warn("Error answering callback", "callback_id", query.ID, "error", err)
	}
}

func (h *BotHandler) logOutcome(op string, out service.Outcome, kv ...interface{}) {
	if out.OK() {
		return
	}
	h.log.Debug("Operation declined", append([]interface{}{"op", op, "kind", out.Kind.String()}, kv...)...)
}
