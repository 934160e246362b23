// Package bot answers chat commands: group binding, notification toggling
// and on-demand schedule lookups with a day picker.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/noahxzhu/timetable-notify/internal/diff"
	"github.com/noahxzhu/timetable-notify/internal/format"
	"github.com/noahxzhu/timetable-notify/internal/links"
	"github.com/noahxzhu/timetable-notify/internal/lookup"
	"github.com/noahxzhu/timetable-notify/internal/storage"
	"github.com/noahxzhu/timetable-notify/internal/telegram"
)

const (
	dayCallbackPrefix = "day:"
	scheduleKeyword   = "расписание"
	pollTimeout       = 60

	// maxInFlight caps the updates handled at once.
	maxInFlight = 32
)

var groupRegex = regexp.MustCompile(`(\d{2,4}\s*[а-яА-Яa-zA-Z]*)`)

// ExtractGroup finds the first group label in text, e.g. "158" or "160 ТМ".
func ExtractGroup(text string) string {
	m := groupRegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

type Lookup interface {
	Current(ctx context.Context, group string) (lookup.Result, error)
	ForOffset(ctx context.Context, group string, offset int) (lookup.Result, error)
	NearDays(ctx context.Context) (map[int]string, error)
}

type Bot struct {
	api     telegram.API
	botName string
	store   storage.Store
	lookup  Lookup
	logger  *slog.Logger
}

func New(client *telegram.Client, store storage.Store, l Lookup) *Bot {
	return &Bot{
		api:     client.API,
		botName: client.BotName,
		store:   store,
		lookup:  l,
		logger:  slog.Default(),
	}
}

// Run long-polls for updates until ctx is cancelled. Each update is handled
// in its own goroutine; Run returns after the handlers in flight finish.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	var handlers errgroup.Group
	handlers.SetLimit(maxInFlight)
	defer handlers.Wait()

	b.logger.Info("Bot started", "bot_name", b.botName)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info("Bot stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			handlers.Go(func() error {
				b.Handle(ctx, update)
				return nil
			})
		}
	}
}

// Handle dispatches one update. A panic in a handler is logged and does not
// stop the update loop.
func (b *Bot) Handle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Update handler panicked", "update_id", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		b.handleMembership(update.MyChatMember)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if !msg.IsCommand() {
		b.handleText(ctx, chatID, strings.TrimSpace(msg.Text))
		return
	}

	args := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "start":
		b.reply(chatID, format.Start(b.botName))
	case "help":
		b.reply(chatID, format.Help)
	case "group":
		b.handleGroup(chatID, args)
	case "unsubscribe":
		b.handleUnsubscribe(chatID)
	case "list":
		if args != "" {
			b.scheduleFor(ctx, chatID, args, "/list")
			return
		}
		b.boundSchedule(ctx, chatID)
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}

	// "@bot 158" binds the chat and shows the schedule.
	if strings.HasPrefix(text, "@") {
		_, rest, _ := strings.Cut(text, " ")
		group := ExtractGroup(rest)
		if group == "" {
			return
		}
		if !b.bind(chatID, group) {
			return
		}
		b.sendSchedule(ctx, chatID, group)
		return
	}

	if strings.HasPrefix(strings.ToLower(text), scheduleKeyword) {
		if rest := strings.TrimSpace(text[len(scheduleKeyword):]); rest != "" {
			b.scheduleFor(ctx, chatID, rest, "Расписание")
			return
		}
		b.boundSchedule(ctx, chatID)
		return
	}

	if group := ExtractGroup(text); group != "" {
		b.sendSchedule(ctx, chatID, group)
	}
}

func (b *Bot) handleGroup(chatID int64, args string) {
	if args == "" {
		b.reply(chatID, format.GroupRequired)
		return
	}
	group := ExtractGroup(args)
	if group == "" {
		b.reply(chatID, format.GroupUnrecognized("/group"))
		return
	}
	b.bind(chatID, group)
}

func (b *Bot) handleUnsubscribe(chatID int64) {
	exists, enabled, err := storage.ToggleNotifications(b.store, chatID)
	switch {
	case err != nil:
		b.logger.Error("Failed to toggle notifications", "chat_id", chatID, "error", err)
		b.reply(chatID, format.SaveFailed)
	case !exists:
		b.reply(chatID, format.GroupNotBound)
	case enabled:
		b.reply(chatID, format.NotificationsOn)
	default:
		b.reply(chatID, format.NotificationsOff)
	}
}

func (b *Bot) bind(chatID int64, group string) bool {
	if err := storage.BindGroup(b.store, chatID, group); err != nil {
		b.logger.Error("Failed to bind group", "chat_id", chatID, "group", group, "error", err)
		b.reply(chatID, format.SaveFailed)
		return false
	}
	b.logger.Info("Group bound", "chat_id", chatID, "group", group)
	b.reply(chatID, format.BindGroup(group))
	return true
}

// scheduleFor shows the schedule of the group named in args. usage is the
// command shown in the example when no group can be recognized.
func (b *Bot) scheduleFor(ctx context.Context, chatID int64, args, usage string) {
	group := ExtractGroup(args)
	if group == "" {
		b.reply(chatID, format.GroupUnrecognized(usage))
		return
	}
	b.sendSchedule(ctx, chatID, group)
}

func (b *Bot) boundSchedule(ctx context.Context, chatID int64) {
	group, ok, err := storage.ChatGroup(b.store, chatID)
	if err != nil {
		b.logger.Error("Failed to read chat group", "chat_id", chatID, "error", err)
		b.reply(chatID, format.LookupFailed)
		return
	}
	if !ok || group == "" {
		b.reply(chatID, format.GroupNotBoundList)
		return
	}
	b.sendSchedule(ctx, chatID, group)
}

// sendSchedule posts a loading message and replaces it either with a day
// picker or with the schedule itself.
func (b *Bot) sendSchedule(ctx context.Context, chatID int64, group string) {
	loading, err := b.reply(chatID, format.Loading(group))
	if err != nil {
		return
	}

	days, err := b.lookup.NearDays(ctx)
	if err != nil {
		b.logger.Warn("Failed to list dated schedules", "chat_id", chatID, "error", err)
		days = nil
	}
	if keyboard, ok := DayKeyboard(group, days); ok {
		b.edit(chatID, loading.MessageID, format.DayQuestion, &keyboard)
		return
	}

	var result lookup.Result
	if _, today := days[0]; today {
		result, err = b.lookup.ForOffset(ctx, group, 0)
	} else {
		result, err = b.lookup.Current(ctx, group)
	}
	b.showResult(chatID, loading.MessageID, group, result, err)
}

func (b *Bot) showResult(chatID int64, messageID int, group string, result lookup.Result, err error) {
	if err != nil {
		b.logger.Error("Schedule lookup failed", "chat_id", chatID, "group", group, "error", err)
		b.edit(chatID, messageID, format.LookupFailed, nil)
		return
	}
	pin := telegram.PinKeyboard()
	b.edit(chatID, messageID, format.Schedule(group, diff.Compare(result.Schedule, nil)), &pin)
}

// DayKeyboard builds the day picker for the offsets present in days. It is
// not offered when nothing is dated or only today is.
func DayKeyboard(group string, days map[int]string) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(days) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	if _, today := days[0]; today && len(days) == 1 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}

	button := func(offset int, label string) tgbotapi.InlineKeyboardButton {
		text := fmt.Sprintf("%s (%s)", label, days[offset])
		return tgbotapi.NewInlineKeyboardButtonData(text, fmt.Sprintf("%s%d:%s", dayCallbackPrefix, offset, group))
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	var first []tgbotapi.InlineKeyboardButton
	if _, ok := days[0]; ok {
		first = append(first, button(0, format.DayButtonToday))
	}
	if _, ok := days[1]; ok {
		first = append(first, button(1, format.DayButtonTomorrow))
	}
	if len(first) > 0 {
		rows = append(rows, first)
	}
	if _, ok := days[links.MaxNearOffset]; ok {
		rows = append(rows, []tgbotapi.InlineKeyboardButton{button(links.MaxNearOffset, format.DayButtonDayAfter)})
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// parseDayCallback splits "day:<offset>:<group>".
func parseDayCallback(data string) (offset int, group string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0]+":" != dayCallbackPrefix {
		return 0, "", false
	}
	offset, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	return offset, parts[2], true
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	switch {
	case cq.Data == telegram.PinCallback:
		b.pin(cq)
	case strings.HasPrefix(cq.Data, dayCallbackPrefix):
		b.chooseDay(ctx, cq)
	default:
		b.answer(tgbotapi.NewCallback(cq.ID, ""))
	}
}

func (b *Bot) chooseDay(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	defer b.answer(tgbotapi.NewCallback(cq.ID, ""))

	offset, group, ok := parseDayCallback(cq.Data)
	if !ok || cq.Message == nil || cq.Message.Chat == nil {
		return
	}
	result, err := b.lookup.ForOffset(ctx, group, offset)
	b.showResult(cq.Message.Chat.ID, cq.Message.MessageID, group, result, err)
}

func (b *Bot) pin(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil {
		b.answer(tgbotapi.NewCallback(cq.ID, ""))
		return
	}
	_, err := b.api.Request(tgbotapi.PinChatMessageConfig{
		ChatID:    cq.Message.Chat.ID,
		MessageID: cq.Message.MessageID,
	})
	if err != nil {
		b.logger.Warn("Failed to pin message", "chat_id", cq.Message.Chat.ID, "error", err)
		b.answer(tgbotapi.NewCallbackWithAlert(cq.ID, format.PinFailed))
		return
	}
	b.answer(tgbotapi.NewCallback(cq.ID, format.Pinned))
}

// handleMembership greets a chat the bot has just been added to.
func (b *Bot) handleMembership(u *tgbotapi.ChatMemberUpdated) {
	was, now := u.OldChatMember.Status, u.NewChatMember.Status
	if (was == "left" || was == "kicked") && (now == "member" || now == "administrator") {
		b.logger.Info("Added to chat", "chat_id", u.Chat.ID)
		b.reply(u.Chat.ID, format.Welcome(b.botName))
	}
}

func (b *Bot) reply(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	sent, err := b.api.Send(msg)
	if err != nil {
		b.logger.Error("Failed to send message", "chat_id", chatID, "error", err)
	}
	return sent, err
}

func (b *Bot) edit(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.ReplyMarkup = keyboard
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Error("Failed to edit message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

func (b *Bot) answer(cb tgbotapi.CallbackConfig) {
	if _, err := b.api.Request(cb); err != nil {
		b.logger.Warn("Failed to answer callback", "callback_id", cb.CallbackQueryID, "error", err)
	}
}
