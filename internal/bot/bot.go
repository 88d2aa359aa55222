// Package bot is the Telegram front end: it commits plans from chat
// messages and registers the chat as the user's nudge destination.
package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"daily-nudge/internal/model"
	"daily-nudge/internal/repository"
	"daily-nudge/internal/service"
)

type conversationStage int

const (
	stageNone conversationStage = iota
	stagePlanText
)

const (
	menuLabelPlan  = "📝 Plan my day"
	menuLabelToday = "📋 Today"
	menuLabelHelp  = "ℹ️ Help"
	btnCancel      = "⏪ Cancel"
)

// Planner commits and reads plans.
type Planner interface {
	Commit(ctx context.Context, req service.CommitRequest) (service.CommitResult, error)
	Plan(ctx context.Context, userID, date string) (model.Plan, error)
	Today(ctx context.Context, userID string) (string, error)
}

// Bot aggregates the Telegram API with the planner.
type Bot struct {
	api     *tgbotapi.BotAPI
	planner Planner
	prefs   repository.PreferenceStore
	subs    repository.SubscriptionStore
	log     zerolog.Logger

	mu            sync.Mutex
	links         map[int64]string // telegram user id -> planner user id
	conversations map[int64]conversationStage
}

func New(api *tgbotapi.BotAPI, planner Planner, stores repository.Stores, log zerolog.Logger) *Bot {
	return &Bot{
		api:           api,
		planner:       planner,
		prefs:         stores.Preferences,
		subs:          stores.Subscriptions,
		log:           log,
		links:         make(map[int64]string),
		conversations: make(map[int64]conversationStage),
	}
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info().Str("account", b.api.Self.UserName).Msg("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		if update.Message == nil || update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
			continue
		}
		if err := b.handleMessage(ctx, update.Message); err != nil {
			b.log.Warn().Err(err).Int64("chat", update.Message.Chat.ID).Msg("handle message")
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if msg.IsCommand() {
		b.clearConversation(msg.From.ID)
		b.log.Debug().Int64("from", msg.From.ID).Str("command", msg.Command()).Msg("command received")
		return b.handleCommand(ctx, msg)
	}

	text := strings.TrimSpace(msg.Text)
	switch strings.ToLower(text) {
	case strings.ToLower(btnCancel):
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	case strings.ToLower(menuLabelPlan):
		return b.askPlanText(msg)
	case strings.ToLower(menuLabelToday):
		return b.handleToday(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return b.handleHelp(msg)
	}

	if b.getConversation(msg.From.ID) == stagePlanText {
		b.clearConversation(msg.From.ID)
		return b.commitPlan(ctx, msg, text)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Send /plan followed by a description of your day, or /help.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "plan":
		if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
			return b.commitPlan(ctx, msg, args)
		}
		return b.askPlanText(msg)
	case "today":
		return b.handleToday(ctx, msg)
	case "reminder":
		return b.handleReminder(ctx, msg)
	case "cancel":
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	userID := strings.TrimSpace(msg.CommandArguments())
	if userID == "" {
		userID = defaultUserID(msg.From.ID)
	}

	sub := model.Subscription{Kind: model.KindTelegram, ChatID: msg.Chat.ID}
	if err := b.subs.Save(ctx, userID, sub); err != nil {
		return fmt.Errorf("save telegram subscription: %w", err)
	}
	b.link(msg.From.ID, userID)
	b.log.Info().Int64("from", msg.From.ID).Str("user", userID).Msg("telegram chat linked")

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}
	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>Tell me about your day and I will turn it into a plan with nudges.</b>\n\n"+
			"Your planner id: <code>%s</code>\n\n%s",
		escape(name), escape(userID), commandList,
	)
	return b.sendText(msg.Chat.ID, text)
}

const commandList = "Commands:\n" +
	"• /plan &lt;text&gt; — plan today from a free-form description\n" +
	"• /today — show today's plan\n" +
	"• /reminder HH:MM [timezone] — set the daily reminder\n" +
	"• /start &lt;id&gt; — link this chat to a planner id\n" +
	"• /help — this list"

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	return b.sendText(msg.Chat.ID, "ℹ️ "+commandList)
}

func (b *Bot) askPlanText(msg *tgbotapi.Message) error {
	b.setConversation(msg.From.ID, stagePlanText)
	return b.sendWithReplyMarkup(msg.Chat.ID, "📝 Describe your day in one message, for example: <i>Gym at 7, write report 10-12</i>.", cancelKeyboard())
}

func (b *Bot) commitPlan(ctx context.Context, msg *tgbotapi.Message, text string) error {
	userID := b.userID(msg.From.ID)
	res, err := b.planner.Commit(ctx, service.CommitRequest{
		UserID:   userID,
		FreeText: text,
	})
	if errors.Is(err, service.ErrInvalidRequest) {
		return b.sendText(msg.Chat.ID, "Could not plan that: "+escape(err.Error()))
	}
	if err != nil {
		return fmt.Errorf("commit plan: %w", err)
	}

	if !res.Committed {
		return b.sendText(msg.Chat.ID, "✅ You already planned today.\n\n"+formatPlan(res.Plan))
	}
	if len(res.Plan.Tasks) == 0 {
		return b.sendText(msg.Chat.ID, "🤷 I could not build a plan from that. Your day is marked as planned; enjoy the free time.")
	}
	return b.sendText(msg.Chat.ID, "🗓 Your plan is set. I will nudge you 10 minutes before each task.\n\n"+formatPlan(res.Plan))
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	userID := b.userID(msg.From.ID)
	date, err := b.planner.Today(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve today: %w", err)
	}
	plan, err := b.planner.Plan(ctx, userID, date)
	if errors.Is(err, repository.ErrNotFound) {
		return b.sendText(msg.Chat.ID, "No plan for today yet. Send /plan followed by a description of your day.")
	}
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	return b.sendText(msg.Chat.ID, formatPlan(plan))
}

func (b *Bot) handleReminder(ctx context.Context, msg *tgbotapi.Message) error {
	hour, minute, tz, err := parseReminder(msg.CommandArguments())
	if err != nil {
		return b.sendText(msg.Chat.ID, "Usage: /reminder HH:MM [timezone], for example <code>/reminder 21:30 Europe/Berlin</code>")
	}

	userID := b.userID(msg.From.ID)
	pref, err := b.prefs.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	pref.ReminderHour, pref.ReminderMinute = hour, minute
	if tz != "" {
		pref.Timezone = tz
	}
	if err := pref.Validate(); err != nil {
		return b.sendText(msg.Chat.ID, "Could not update the reminder: "+escape(err.Error()))
	}
	if err := b.prefs.Set(ctx, userID, pref); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	zone := pref.Timezone
	if zone == "" {
		zone = "UTC"
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏰ Daily reminder set to <b>%02d:%02d</b> (%s).", hour, minute, escape(zone)))
}

func (b *Bot) sendText(chatID int64, text string) error {
	return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) link(telegramID int64, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.links[telegramID] = userID
}

// userID returns the planner id linked to a Telegram user.
func (b *Bot) userID(telegramID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.links[telegramID]; ok {
		return id
	}
	return defaultUserID(telegramID)
}

func (b *Bot) setConversation(telegramID int64, s conversationStage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[telegramID] = s
}

func (b *Bot) getConversation(telegramID int64) conversationStage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[telegramID]
}

func (b *Bot) clearConversation(telegramID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, telegramID)
}

func defaultUserID(telegramID int64) string {
	return "tg-" + strconv.FormatInt(telegramID, 10)
}

// parseReminder parses "HH:MM [timezone]".
func parseReminder(args string) (hour, minute int, tz string, err error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, 0, "", fmt.Errorf("expected HH:MM [timezone]")
	}
	parts := strings.Split(fields[0], ":")
	if len(parts) != 2 {
		return 0, 0, "", fmt.Errorf("invalid time %q, expected HH:MM", fields[0])
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, "", fmt.Errorf("invalid hour in %q", fields[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, "", fmt.Errorf("invalid minute in %q", fields[0])
	}
	if len(fields) == 2 {
		tz = fields[1]
	}
	return hour, minute, tz, nil
}

// formatPlan renders a plan as Telegram HTML, times in the plan timezone.
func formatPlan(plan model.Plan) string {
	loc, err := time.LoadLocation(plan.Timezone)
	if err != nil {
		loc = time.UTC
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📋 <b>Plan for %s</b>\n", escape(plan.Date)))
	if len(plan.Tasks) == 0 {
		sb.WriteString("— nothing scheduled")
		return sb.String()
	}
	for _, task := range plan.Tasks {
		sb.WriteString(fmt.Sprintf("\n🟢 <b>%s–%s</b> %s",
			task.Start.In(loc).Format("15:04"), task.End.In(loc).Format("15:04"), escape(task.Title)))
		if place := strings.TrimSpace(task.Location); place != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", escape(place)))
		}
		for _, p := range task.InputPrompts {
			sb.WriteString("\n   ❓ " + escape(p))
		}
	}
	return sb.String()
}

func escape(s string) string {
	return html.EscapeString(s)
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelPlan),
			tgbotapi.NewKeyboardButton(menuLabelToday),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}
