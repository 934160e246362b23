package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/noahxzhu/timetable-notify/internal/format"
	"github.com/noahxzhu/timetable-notify/internal/lookup"
	"github.com/noahxzhu/timetable-notify/internal/model"
	"github.com/noahxzhu/timetable-notify/internal/storage"
	"github.com/noahxzhu/timetable-notify/internal/telegram"
)

type fakeAPI struct {
	mu         sync.Mutex
	sent       []tgbotapi.MessageConfig
	requests   []tgbotapi.Chattable
	requestErr error
	updates    chan tgbotapi.Update
	stopped    bool
	// notify, when set, receives every sent message.
	notify chan tgbotapi.MessageConfig
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	id := 100 + len(f.sent)
	f.mu.Unlock()
	if f.notify != nil {
		f.notify <- msg
	}
	return tgbotapi.Message{MessageID: id, Chat: &tgbotapi.Chat{ID: msg.ChatID}}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	if _, ok := c.(tgbotapi.PinChatMessageConfig); ok && f.requestErr != nil {
		return nil, f.requestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Text)
	}
	return out
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageTextConfig
	for _, r := range f.requests {
		if e, ok := r.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeAPI) callbacks() []tgbotapi.CallbackConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.CallbackConfig
	for _, r := range f.requests {
		if c, ok := r.(tgbotapi.CallbackConfig); ok {
			out = append(out, c)
		}
	}
	return out
}

type fakeLookup struct {
	days      map[int]string
	err       error
	current   []string
	offsets   []int
	daysCalls int
	// block, when set, holds NearDays until it is closed.
	block chan struct{}
}

func (f *fakeLookup) result(group string) lookup.Result {
	return lookup.Result{
		Group:    group,
		Schedule: model.Schedule{{Pair: "1", Time: "08:30", Subject: "Математика", Teacher: "Иванов И.И.", Room: "204"}},
	}
}

func (f *fakeLookup) Current(ctx context.Context, group string) (lookup.Result, error) {
	f.current = append(f.current, group)
	if f.err != nil {
		return lookup.Result{}, f.err
	}
	return f.result(group), nil
}

func (f *fakeLookup) ForOffset(ctx context.Context, group string, offset int) (lookup.Result, error) {
	f.offsets = append(f.offsets, offset)
	if f.err != nil {
		return lookup.Result{}, f.err
	}
	return f.result(group), nil
}

func (f *fakeLookup) NearDays(ctx context.Context) (map[int]string, error) {
	f.daysCalls++
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.days, nil
}

func newBot(t *testing.T) (*Bot, *fakeAPI, *fakeLookup, storage.Store) {
	t.Helper()
	api := &fakeAPI{}
	l := &fakeLookup{}
	store := storage.NewJSONStore(filepath.Join(t.TempDir(), "bot_state.json"))
	b := New(&telegram.Client{API: api, BotName: "timetable_bot"}, store, l)
	b.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return b, api, l, store
}

func command(chatID int64, text string) tgbotapi.Update {
	name, _, _ := strings.Cut(text, " ")
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func text(chatID int64, s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: s}}
}

func TestExtractGroup(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"158", "158"},
		{"160 ТМ", "160 ТМ"},
		{"группа 160тм, пожалуйста", "160тм"},
		{"расписание для 1234abc", "1234abc"},
		{"5", ""},
		{"привет", ""},
	}
	for _, tt := range tests {
		if got := ExtractGroup(tt.in); got != tt.want {
			t.Errorf("ExtractGroup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStartAndHelp(t *testing.T) {
	b, api, _, _ := newBot(t)
	ctx := context.Background()

	b.Handle(ctx, command(1, "/start"))
	b.Handle(ctx, command(1, "/help"))

	texts := api.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want 2", len(texts))
	}
	if !strings.Contains(texts[0], "@timetable_bot 158") {
		t.Errorf("/start = %q", texts[0])
	}
	if texts[1] != format.Help {
		t.Errorf("/help = %q", texts[1])
	}
	if api.sent[0].ParseMode != tgbotapi.ModeHTML {
		t.Errorf("parse mode = %q", api.sent[0].ParseMode)
	}
}

func TestGroupCommand(t *testing.T) {
	b, api, _, store := newBot(t)
	ctx := context.Background()

	b.Handle(ctx, command(7, "/group"))
	b.Handle(ctx, command(7, "/group abc"))
	b.Handle(ctx, command(7, "/group 160 ТМ"))

	want := []string{format.GroupRequired, format.GroupUnrecognized("/group"), format.BindGroup("160 ТМ")}
	if got := api.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replies = %q, want %q", got, want)
	}

	group, ok, _ := storage.ChatGroup(store, 7)
	if !ok || group != "160 ТМ" {
		t.Errorf("bound group = %q, %v", group, ok)
	}
}

func TestUnsubscribe(t *testing.T) {
	b, api, _, store := newBot(t)
	ctx := context.Background()

	b.Handle(ctx, command(7, "/unsubscribe"))
	storage.BindGroup(store, 7, "158")
	b.Handle(ctx, command(7, "/unsubscribe"))
	b.Handle(ctx, command(7, "/unsubscribe"))

	want := []string{format.GroupNotBound, format.NotificationsOff, format.NotificationsOn}
	if got := api.texts(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("replies = %q, want %q", got, want)
	}
}

func TestList_ShowsScheduleInPlaceOfLoading(t *testing.T) {
	b, api, l, _ := newBot(t)

	b.Handle(context.Background(), command(7, "/list 158"))

	if texts := api.texts(); len(texts) != 1 || texts[0] != format.Loading("158") {
		t.Fatalf("sent = %q", texts)
	}
	if len(l.current) != 1 || l.current[0] != "158" {
		t.Errorf("Current calls = %v", l.current)
	}
	edits := api.edits()
	if len(edits) != 1 {
		t.Fatalf("edits = %d, want 1", len(edits))
	}
	e := edits[0]
	if e.MessageID != 101 || e.ChatID != 7 {
		t.Errorf("edited message %d in chat %d", e.MessageID, e.ChatID)
	}
	if !strings.Contains(e.Text, "Математика") || strings.Contains(e.Text, "<i>") {
		t.Errorf("schedule text = %q", e.Text)
	}
	if e.ReplyMarkup == nil || *e.ReplyMarkup.InlineKeyboard[0][0].CallbackData != telegram.PinCallback {
		t.Errorf("reply markup = %+v", e.ReplyMarkup)
	}
}

func TestList_UsesBoundGroup(t *testing.T) {
	b, api, l, store := newBot(t)
	ctx := context.Background()

	b.Handle(ctx, command(7, "/list"))
	if got := api.texts(); len(got) != 1 || got[0] != format.GroupNotBoundList {
		t.Fatalf("unbound /list replies = %q", got)
	}

	storage.BindGroup(store, 7, "158")
	b.Handle(ctx, command(7, "/list"))
	if len(l.current) != 1 || l.current[0] != "158" {
		t.Errorf("Current calls = %v", l.current)
	}

	b.Handle(ctx, command(7, "/list ???"))
	if got := api.texts(); got[len(got)-1] != format.GroupUnrecognized("/list") {
		t.Errorf("last reply = %q", got[len(got)-1])
	}
}

func TestList_TodayFileUsedWhenOnlyTodayIsDated(t *testing.T) {
	b, api, l, _ := newBot(t)
	l.days = map[int]string{0: "16.12"}

	b.Handle(context.Background(), command(7, "/list 158"))

	if len(l.offsets) != 1 || l.offsets[0] != 0 || len(l.current) != 0 {
		t.Errorf("offsets = %v, current = %v", l.offsets, l.current)
	}
	if edits := api.edits(); len(edits) != 1 || !strings.Contains(edits[0].Text, "Математика") {
		t.Errorf("edits = %+v", edits)
	}
}

func TestList_DayPicker(t *testing.T) {
	b, api, l, _ := newBot(t)
	l.days = map[int]string{0: "16.12", 1: "17.12", 2: "18.12"}

	b.Handle(context.Background(), command(7, "/list 158"))

	if len(l.current) != 0 || len(l.offsets) != 0 {
		t.Error("schedule fetched before a day was picked")
	}
	edits := api.edits()
	if len(edits) != 1 || edits[0].Text != format.DayQuestion {
		t.Fatalf("edits = %+v", edits)
	}
	rows := edits[0].ReplyMarkup.InlineKeyboard
	if len(rows) != 2 || len(rows[0]) != 2 || len(rows[1]) != 1 {
		t.Fatalf("keyboard rows = %+v", rows)
	}
	if rows[0][0].Text != "Сегодня (16.12)" || *rows[0][1].CallbackData != "day:1:158" || *rows[1][0].CallbackData != "day:2:158" {
		t.Errorf("keyboard = %+v", rows)
	}
}

func TestDayKeyboard(t *testing.T) {
	tests := []struct {
		name     string
		days     map[int]string
		wantOK   bool
		wantRows int
	}{
		{"none", nil, false, 0},
		{"only today", map[int]string{0: "16.12"}, false, 0},
		{"only tomorrow", map[int]string{1: "17.12"}, true, 1},
		{"only day after", map[int]string{2: "18.12"}, true, 1},
		{"today and day after", map[int]string{0: "16.12", 2: "18.12"}, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kb, ok := DayKeyboard("158", tt.days)
			if ok != tt.wantOK || len(kb.InlineKeyboard) != tt.wantRows {
				t.Errorf("DayKeyboard = %d rows, %v; want %d, %v", len(kb.InlineKeyboard), ok, tt.wantRows, tt.wantOK)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	b, api, l, store := newBot(t)
	ctx := context.Background()

	b.Handle(ctx, text(7, "привет"))
	if len(api.sent) != 0 {
		t.Errorf("replied to chatter: %q", api.texts())
	}

	b.Handle(ctx, text(7, "158"))
	b.Handle(ctx, text(7, "Расписание 160 ТМ"))
	if strings.Join(l.current, "|") != "158|160 ТМ" {
		t.Errorf("Current calls = %q", l.current)
	}

	b.Handle(ctx, text(7, "Расписание"))
	if got := api.texts(); got[len(got)-1] != format.GroupNotBoundList {
		t.Errorf("last reply = %q", got[len(got)-1])
	}

	b.Handle(ctx, text(7, "расписание ???"))
	if got := api.texts(); got[len(got)-1] != format.GroupUnrecognized("Расписание") {
		t.Errorf("last reply = %q", got[len(got)-1])
	}

	b.Handle(ctx, text(-100, "@timetable2024_bot 158"))
	group, ok, _ := storage.ChatGroup(store, -100)
	if !ok || group != "158" {
		t.Errorf("mention bound %q, %v", group, ok)
	}
	if l.current[len(l.current)-1] != "158" {
		t.Errorf("Current calls = %q", l.current)
	}
}

func TestLookupFailure(t *testing.T) {
	b, api, l, _ := newBot(t)
	l.err = errors.New("fetch failed")

	b.Handle(context.Background(), command(7, "/list 158"))

	edits := api.edits()
	if len(edits) != 1 || edits[0].Text != format.LookupFailed || edits[0].ReplyMarkup != nil {
		t.Errorf("edits = %+v", edits)
	}
}

func callback(data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    data,
		Message: &tgbotapi.Message{MessageID: 55, Chat: &tgbotapi.Chat{ID: 7}},
	}}
}

func TestDayCallback(t *testing.T) {
	b, api, l, _ := newBot(t)

	b.Handle(context.Background(), callback("day:1:160 ТМ"))

	if len(l.offsets) != 1 || l.offsets[0] != 1 {
		t.Errorf("offsets = %v", l.offsets)
	}
	edits := api.edits()
	if len(edits) != 1 || edits[0].MessageID != 55 || !strings.Contains(edits[0].Text, "160 ТМ") {
		t.Errorf("edits = %+v", edits)
	}
	if cbs := api.callbacks(); len(cbs) != 1 || cbs[0].CallbackQueryID != "cb1" {
		t.Errorf("callbacks = %+v", cbs)
	}
}

func TestDayCallback_Malformed(t *testing.T) {
	for _, data := range []string{"day:x:158", "day:1", "day:1:158:extra"} {
		b, api, l, _ := newBot(t)
		b.Handle(context.Background(), callback(data))

		if len(l.offsets) != 0 || len(api.edits()) != 0 {
			t.Errorf("%q: handled as a valid choice", data)
		}
		if len(api.callbacks()) != 1 {
			t.Errorf("%q: callback not answered", data)
		}
	}
}

func TestPinCallback(t *testing.T) {
	b, api, _, _ := newBot(t)
	b.Handle(context.Background(), callback(telegram.PinCallback))

	var pin *tgbotapi.PinChatMessageConfig
	for _, r := range api.requests {
		if p, ok := r.(tgbotapi.PinChatMessageConfig); ok {
			pin = &p
		}
	}
	if pin == nil || pin.ChatID != 7 || pin.MessageID != 55 {
		t.Fatalf("pin request = %+v", pin)
	}
	if cbs := api.callbacks(); len(cbs) != 1 || cbs[0].Text != format.Pinned || cbs[0].ShowAlert {
		t.Errorf("callbacks = %+v", cbs)
	}
}

func TestPinCallback_NoRights(t *testing.T) {
	b, api, _, _ := newBot(t)
	api.requestErr = errors.New("Bad Request: not enough rights to pin a message")

	b.Handle(context.Background(), callback(telegram.PinCallback))

	if cbs := api.callbacks(); len(cbs) != 1 || cbs[0].Text != format.PinFailed || !cbs[0].ShowAlert {
		t.Errorf("callbacks = %+v", cbs)
	}
}

func TestWelcomeWhenAdded(t *testing.T) {
	b, api, _, _ := newBot(t)
	member := func(was, now string) tgbotapi.Update {
		return tgbotapi.Update{MyChatMember: &tgbotapi.ChatMemberUpdated{
			Chat:          tgbotapi.Chat{ID: -100},
			OldChatMember: tgbotapi.ChatMember{Status: was},
			NewChatMember: tgbotapi.ChatMember{Status: now},
		}}
	}

	b.Handle(context.Background(), member("left", "member"))
	b.Handle(context.Background(), member("member", "administrator"))
	b.Handle(context.Background(), member("member", "kicked"))

	if got := api.texts(); len(got) != 1 || got[0] != format.Welcome("timetable_bot") {
		t.Errorf("sent = %q", got)
	}
	if api.sent[0].ChatID != -100 {
		t.Errorf("welcome sent to %d", api.sent[0].ChatID)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	b, api, _, _ := newBot(t)
	api.updates = make(chan tgbotapi.Update)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	// The send returns once Run has taken the update.
	api.updates <- command(1, "/help")
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	if !api.stopped {
		t.Error("StopReceivingUpdates not called")
	}
	if got := api.texts(); len(got) != 1 || got[0] != format.Help {
		t.Errorf("sent = %q", got)
	}
}

func TestRun_SlowLookupDoesNotBlockOtherChats(t *testing.T) {
	b, api, l, _ := newBot(t)
	api.updates = make(chan tgbotapi.Update)
	api.notify = make(chan tgbotapi.MessageConfig, 8)
	l.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	waitSent := func(chatID int64, want string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case msg := <-api.notify:
				if msg.ChatID == chatID && msg.Text == want {
					return
				}
			case <-timeout:
				t.Fatalf("chat %d: %q not sent within 2s", chatID, want)
			}
		}
	}

	api.updates <- command(1, "/list 158")
	waitSent(1, format.Loading("158"))

	// Chat 1 is now held inside NearDays.
	api.updates <- command(2, "/help")
	waitSent(2, format.Help)

	close(l.block)
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run = %v", err)
	}
	edits := api.edits()
	if len(edits) != 1 || edits[0].ChatID != 1 || !strings.Contains(edits[0].Text, "Математика") {
		t.Errorf("chat 1 edits = %+v", edits)
	}
}
