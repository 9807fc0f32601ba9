package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/xaenox/lesson-monitor/internal/models"
	"go.uber.org/zap"
)

// ============================================================================
// Fakes
// ============================================================================

type fakeAPI struct {
	mu      sync.Mutex
	sent    []string
	members map[int64]tgbotapi.ChatMember
	// chatMembers overrides members per chat.
	chatMembers map[int64]map[int64]tgbotapi.ChatMember
	chats       map[int64]tgbotapi.Chat
	calls       int
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) GetChatMember(cfg tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.chatMembers != nil {
		member, ok := f.chatMembers[cfg.ChatID][cfg.UserID]
		if !ok {
			return tgbotapi.ChatMember{Status: "left"}, nil
		}
		return member, nil
	}
	member, ok := f.members[cfg.UserID]
	if !ok {
		return tgbotapi.ChatMember{}, errors.New("Bad Request: user not found")
	}
	return member, nil
}

func (f *fakeAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	chat, ok := f.chats[cfg.ChatID]
	if !ok {
		return tgbotapi.Chat{}, errors.New("Bad Request: chat not found")
	}
	return chat, nil
}

func (f *fakeAPI) lastSent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeService struct {
	mu       sync.Mutex
	ingested []models.RawMessage
	exported []string
	resolved []models.DedupKey
	alerts   []models.Alert
}

func (f *fakeService) Ingest(_ context.Context, raw models.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, raw)
	return nil
}

func (f *fakeService) ExportLogsCommand(_ context.Context, channelID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, channelID)
	return "exported " + channelID
}

func (f *fakeService) AnalyzeNowCommand(_ context.Context) string {
	return "Analysis complete"
}

func (f *fakeService) UnresolvedAlerts(_ context.Context) ([]models.Alert, error) {
	return f.alerts, nil
}

func (f *fakeService) ResolveAlert(_ context.Context, key models.DedupKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved = append(f.resolved, key)
	return nil
}

type fakeRegistry struct {
	channels []models.Channel
}

func (f *fakeRegistry) ListChannels(_ context.Context) ([]models.Channel, error) {
	return f.channels, nil
}

const lessonChatID int64 = -1001234567890

func groupMessage(text string, from *tgbotapi.User) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 42,
		From:      from,
		Date:      int(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC).Unix()),
		Chat:      &tgbotapi.Chat{ID: lessonChatID, Type: "supergroup", Title: "lesson-3"},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.Fields(text)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return msg
}

// ============================================================================
// Conversion
// ============================================================================

func TestToRawMessage(t *testing.T) {
	from := &tgbotapi.User{ID: 7, FirstName: "Alice", LastName: "Smith", UserName: "alice"}
	msg := groupMessage("How do I install it?", from)
	msg.ReplyToMessage = &tgbotapi.Message{MessageID: 40}

	raw := toRawMessage(msg, []string{"Mentor"})

	if raw.ID != "42" || raw.ChannelID != "-1001234567890" || raw.ChannelName != "lesson-3" {
		t.Errorf("unexpected ids %+v", raw)
	}
	if raw.Author.ID != "7" || raw.Author.Username != "alice" || raw.Author.DisplayName != "Alice Smith" {
		t.Errorf("unexpected author %+v", raw.Author)
	}
	if raw.ThreadID != "40" {
		t.Errorf("expected reply thread 40, got %q", raw.ThreadID)
	}
	if !raw.Timestamp.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp %v", raw.Timestamp)
	}
	if err := raw.Validate(); err != nil {
		t.Errorf("converted message should validate: %v", err)
	}
}

func TestToRawMessageFallbacks(t *testing.T) {
	msg := groupMessage("", &tgbotapi.User{ID: 9, FirstName: "Bob"})
	msg.Caption = "photo caption"

	raw := toRawMessage(msg, nil)
	if raw.Content != "photo caption" {
		t.Errorf("caption should be used as content, got %q", raw.Content)
	}
	if raw.Author.Username != "9" {
		t.Errorf("username should fall back to the user id, got %q", raw.Author.Username)
	}
}

func TestMemberLabels(t *testing.T) {
	tests := []struct {
		name   string
		member tgbotapi.ChatMember
		isBot  bool
		want   []string
	}{
		{"plain member", tgbotapi.ChatMember{Status: "member"}, false, nil},
		{"creator", tgbotapi.ChatMember{Status: "creator"}, false, []string{"administrator"}},
		{"titled admin", tgbotapi.ChatMember{Status: "administrator", CustomTitle: "Lead Mentor"}, false, []string{"administrator", "Lead Mentor"}},
		{"bot", tgbotapi.ChatMember{Status: "member"}, true, []string{"bot"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := memberLabels(tt.member, tt.isBot)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageLink(t *testing.T) {
	if got := MessageLink("-1001234567890", "42"); got != "https://t.me/c/1234567890/42" {
		t.Errorf("unexpected link %q", got)
	}
	if got := MessageLink("-4567", "42"); got != "" {
		t.Errorf("basic groups have no links, got %q", got)
	}
}

// ============================================================================
// Updates and commands
// ============================================================================

func TestGroupMessageIngestedWithRoles(t *testing.T) {
	api := &fakeAPI{members: map[int64]tgbotapi.ChatMember{
		5: {Status: "administrator", CustomTitle: "Mentor"},
	}}
	b := newBot(api, nil, zap.NewNop())
	svc := &fakeService{}

	from := &tgbotapi.User{ID: 5, UserName: "bob"}
	b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: groupMessage("Check your imports", from)})
	b.handleUpdate(context.Background(), svc, tgbotapi.Update{EditedMessage: groupMessage("Check your imports again", from)})

	if len(svc.ingested) != 2 {
		t.Fatalf("expected both events ingested, got %d", len(svc.ingested))
	}
	if roles := svc.ingested[0].Author.Roles; len(roles) != 2 || roles[1] != "Mentor" {
		t.Errorf("unexpected roles %v", roles)
	}
	if api.calls != 1 {
		t.Errorf("membership should be cached, got %d lookups", api.calls)
	}
}

type blockingService struct {
	*fakeService
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (f *blockingService) Ingest(ctx context.Context, raw models.RawMessage) error {
	f.once.Do(func() { close(f.started) })
	<-f.release
	return f.fakeService.Ingest(ctx, raw)
}

func TestConsumeWaitsForHandlers(t *testing.T) {
	b := newBot(&fakeAPI{}, nil, zap.NewNop())
	svc := &blockingService{
		fakeService: &fakeService{},
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}

	updates := make(chan tgbotapi.Update, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.consume(ctx, svc, updates)
		close(done)
	}()

	updates <- tgbotapi.Update{Message: groupMessage("hello?", &tgbotapi.User{ID: 7})}
	<-svc.started
	cancel()

	select {
	case <-done:
		t.Fatal("consume returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(svc.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not return after handlers finished")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.ingested) != 1 {
		t.Errorf("expected the in-flight message stored, got %d", len(svc.ingested))
	}
}

func TestPrivateMessagesNotIngested(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, nil, zap.NewNop())
	svc := &fakeService{}

	msg := groupMessage("hello?", &tgbotapi.User{ID: 5})
	msg.Chat = &tgbotapi.Chat{ID: 5, Type: "private"}
	b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: msg})

	if len(svc.ingested) != 0 {
		t.Errorf("private chats should be ignored, got %d", len(svc.ingested))
	}
}

func TestCommandsRequireAdmin(t *testing.T) {
	api := &fakeAPI{members: map[int64]tgbotapi.ChatMember{1: {Status: "member"}}}
	b := newBot(api, nil, zap.NewNop())
	svc := &fakeService{}

	b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: groupMessage("/export_logs", &tgbotapi.User{ID: 1})})

	if len(svc.exported) != 0 {
		t.Error("non-admin should not export")
	}
	if !strings.Contains(api.lastSent(), "only available to administrators") {
		t.Errorf("unexpected reply %q", api.lastSent())
	}
}

func TestExportDefaultsToCurrentChat(t *testing.T) {
	api := &fakeAPI{members: map[int64]tgbotapi.ChatMember{2: {Status: "creator"}}}
	b := newBot(api, nil, zap.NewNop())
	svc := &fakeService{}

	b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: groupMessage("/export_logs", &tgbotapi.User{ID: 2})})

	if len(svc.exported) != 1 || svc.exported[0] != "-1001234567890" {
		t.Fatalf("expected export of current chat, got %v", svc.exported)
	}
	if api.lastSent() != "exported -1001234567890" {
		t.Errorf("command text should be relayed, got %q", api.lastSent())
	}
}

func TestConfiguredAdminResolves(t *testing.T) {
	api := &fakeAPI{}
	b := newBot(api, []int64{99}, zap.NewNop())
	svc := &fakeService{}

	msg := groupMessage("/resolve -100123 42 unanswered_question", &tgbotapi.User{ID: 99})
	msg.Chat = &tgbotapi.Chat{ID: 99, Type: "private"}
	b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: msg})

	want := models.DedupKey{ChannelID: "-100123", MessageID: "42", AlertType: models.AlertUnansweredQuestion}
	if len(svc.resolved) != 1 || svc.resolved[0] != want {
		t.Fatalf("unexpected resolved keys %v", svc.resolved)
	}
}

func TestCrossChatCommandsRequireTargetAdmin(t *testing.T) {
	const ownChat, otherChat int64 = -100555, -1009999999999
	api := &fakeAPI{chatMembers: map[int64]map[int64]tgbotapi.ChatMember{
		ownChat: {5: {Status: "administrator"}},
	}}
	b := newBot(api, nil, zap.NewNop())
	svc := &fakeService{}

	send := func(text string) {
		msg := groupMessage(text, &tgbotapi.User{ID: 5})
		msg.Chat = &tgbotapi.Chat{ID: ownChat, Type: "supergroup", Title: "lesson-5"}
		b.handleUpdate(context.Background(), svc, tgbotapi.Update{Message: msg})
	}

	send("/export_logs -1009999999999")
	if len(svc.exported) != 0 {
		t.Fatalf("admin of another chat must not export, got %v", svc.exported)
	}
	if !strings.Contains(api.lastSent(), "not an administrator of chat -1009999999999") {
		t.Errorf("unexpected reply %q", api.lastSent())
	}

	send("/resolve -1009999999999 42 unanswered_question")
	if len(svc.resolved) != 0 {
		t.Fatalf("admin of another chat must not resolve, got %v", svc.resolved)
	}

	send("/export_logs -100555")
	if len(svc.exported) != 1 || svc.exported[0] != "-100555" {
		t.Fatalf("own chat export should pass, got %v", svc.exported)
	}

	api.chatMembers[otherChat] = map[int64]tgbotapi.ChatMember{5: {Status: "creator"}}
	send("/resolve -1009999999999 42 unanswered_question")
	if len(svc.resolved) != 1 || svc.resolved[0].ChannelID != "-1009999999999" {
		t.Fatalf("admin of both chats should resolve, got %v", svc.resolved)
	}
}

func TestParseResolveArgs(t *testing.T) {
	if _, err := parseResolveArgs("c1 m1"); err == nil {
		t.Error("expected error for missing alert type")
	}
	if _, err := parseResolveArgs("c1 m1 spam"); err == nil {
		t.Error("expected error for unknown alert type")
	}
	key, err := parseResolveArgs(" c1  m1 off_topic ")
	if err != nil || key.AlertType != models.AlertOffTopic || key.MessageID != "m1" {
		t.Errorf("unexpected key %+v, err %v", key, err)
	}
}

func TestFormatAlerts(t *testing.T) {
	if formatAlerts(nil) != "No unresolved alerts." {
		t.Error("unexpected empty text")
	}

	text := formatAlerts([]models.Alert{{
		Channel:     models.Channel{ID: "c3", Name: "lesson-3"},
		Message:     models.Message{ID: "m1"},
		Type:        models.AlertUnansweredQuestion,
		Description: "Student question unanswered for 3 hours",
	}})
	for _, want := range []string{"Unresolved alerts: 1", "#lesson-3", "/resolve c3 m1 unanswered_question"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
}

// ============================================================================
// Source
// ============================================================================

func TestSourceListsLessonChannelsFromRegistry(t *testing.T) {
	b := newBot(&fakeAPI{}, nil, zap.NewNop())
	src := b.Source(&fakeRegistry{channels: []models.Channel{
		{ID: "1", Name: "lesson-1"},
		{ID: "2", Name: "general"},
	}}, nil)

	channels, err := src.ListLessonChannels(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(channels) != 1 || channels[0].ID != "1" || !channels[0].IsLessonChannel {
		t.Errorf("unexpected channels %+v", channels)
	}

	history, err := src.FetchHistory(context.Background(), "1", time.Time{}, 10)
	if err != nil || len(history) != 0 {
		t.Errorf("expected no history, got %d, %v", len(history), err)
	}
}

func TestSourceGetChannel(t *testing.T) {
	api := &fakeAPI{chats: map[int64]tgbotapi.Chat{-100777: {ID: -100777, Title: "Lesson 7"}}}
	b := newBot(api, nil, zap.NewNop())
	src := b.Source(&fakeRegistry{channels: []models.Channel{{ID: "-100888", Name: "class-8"}}}, nil)

	ch, err := src.GetChannel(context.Background(), "-100777")
	if err != nil || ch == nil || ch.Name != "Lesson 7" || !ch.IsLessonChannel {
		t.Errorf("expected chat from telegram, got %+v, %v", ch, err)
	}

	ch, err = src.GetChannel(context.Background(), "-100888")
	if err != nil || ch == nil || ch.Name != "class-8" {
		t.Errorf("expected registry fallback, got %+v, %v", ch, err)
	}

	ch, err = src.GetChannel(context.Background(), "-100999")
	if err != nil || ch != nil {
		t.Errorf("expected unknown channel, got %+v, %v", ch, err)
	}
}
