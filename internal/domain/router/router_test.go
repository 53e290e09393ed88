package router_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"transaction-userbot/internal/domain/match"
	"transaction-userbot/internal/domain/router"
	"transaction-userbot/internal/domain/settings"
	"transaction-userbot/internal/infra/dedup"

	"github.com/gotd/td/tg"
)

const bankNotice = "Tiền vào: +2,000 đ\n" +
	"Tài khoản: 20918031 tại ACB\n" +
	"Lúc: 2025-07-20 11:10:22\n" +
	"Nội dung CK: NGUYEN VAN A chuyen tien"

// fakeReplier собирает отправленные ответы.
type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
}

type sentReply struct {
	ChatID int64
	MsgID  int
	Text   string
}

func (f *fakeReplier) Reply(_ context.Context, msg *tg.Message, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	chatID := int64(0)
	if peer, ok := msg.PeerID.(*tg.PeerChat); ok {
		chatID = peer.ChatID
	}
	f.replies = append(f.replies, sentReply{ChatID: chatID, MsgID: msg.ID, Text: text})
	return nil
}

func (f *fakeReplier) sent() []sentReply {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentReply(nil), f.replies...)
}

// fakeCommands запоминает имена переданных команд.
type fakeCommands struct {
	mu    sync.Mutex
	names []string
}

func (f *fakeCommands) Run(_ context.Context, _ tg.Entities, _ *tg.Message, cmd match.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names = append(f.names, cmd.Name)
	return true
}

func (f *fakeCommands) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

// nopStore всегда успешен; для тестов роутера персист не важен.
type nopStore struct{}

func (nopStore) Load() (settings.Settings, error) { return settings.Default(), nil }
func (nopStore) Save(settings.Settings) error     { return nil }

type fixture struct {
	store   *dedup.Store
	engine  *settings.Engine
	replier *fakeReplier
	cmds    *fakeCommands
	router  *router.Router
}

func newFixture() *fixture {
	store := dedup.NewStore(30 * time.Second)
	engine := settings.NewEngine(nopStore{})
	replier := &fakeReplier{}
	cmds := &fakeCommands{}
	return &fixture{
		store:   store,
		engine:  engine,
		replier: replier,
		cmds:    cmds,
		router:  router.New(store, engine, replier, cmds, nil),
	}
}

func groupMsg(chatID int64, msgID int, text string) *tg.Message {
	return &tg.Message{
		ID:      msgID,
		PeerID:  &tg.PeerChat{ChatID: chatID},
		Message: text,
	}
}

func TestTransactionGetsExactlyOneReply(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := groupMsg(10, 1, bankNotice)

	// Повторная доставка того же события не должна породить второй ответ.
	f.router.Handle(context.Background(), tg.Entities{}, msg)
	f.router.Handle(context.Background(), tg.Entities{}, msg)

	got := f.replier.sent()
	if len(got) != 1 {
		t.Fatalf("replies = %d, want 1", len(got))
	}
	if got[0].Text != "1" || got[0].MsgID != 1 {
		t.Fatalf("reply = %#v, want quote of msg 1 with text %q", got[0], "1")
	}
}

func TestToggleOffDropsTransactions(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.SetReplyEnabled(false)

	f.router.Handle(context.Background(), tg.Entities{}, groupMsg(10, 1, bankNotice))

	if len(f.replier.sent()) != 0 {
		t.Fatalf("replies = %d, want 0 with the toggle off", len(f.replier.sent()))
	}
}

func TestOutgoingTransactionStillReplied(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := groupMsg(10, 1, bankNotice)
	msg.Out = true

	f.router.Handle(context.Background(), tg.Entities{}, msg)

	if len(f.replier.sent()) != 1 {
		t.Fatalf("replies = %d, want 1: self-sent transaction notices must be acknowledged", len(f.replier.sent()))
	}
}

func TestOutgoingChatterDropped(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := groupMsg(10, 1, "обычное сообщение")
	msg.Out = true

	f.router.Handle(context.Background(), tg.Entities{}, msg)

	if len(f.replier.sent()) != 0 {
		t.Fatalf("replies = %d, want 0 for own ordinary chatter", len(f.replier.sent()))
	}
}

func TestCommandsAlwaysLive(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.SetReplyEnabled(false)

	// Команда от самого аккаунта при выключенном тумблере всё равно исполняется.
	msg := groupMsg(10, 1, "/status")
	msg.Out = true
	f.router.Handle(context.Background(), tg.Entities{}, msg)

	if got := f.cmds.ran(); len(got) != 1 || got[0] != "/status" {
		t.Fatalf("commands run = %v, want [/status]", got)
	}
}

func TestCommandDeliveredOncePerEvent(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := groupMsg(10, 2, "/help")

	f.router.Handle(context.Background(), tg.Entities{}, msg)
	f.router.Handle(context.Background(), tg.Entities{}, msg)

	if got := f.cmds.ran(); len(got) != 1 {
		t.Fatalf("commands run = %v, want a single dispatch", got)
	}
}

func TestDistinctMessagesHandledIndependently(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.router.Handle(context.Background(), tg.Entities{}, groupMsg(10, 1, bankNotice))
	f.router.Handle(context.Background(), tg.Entities{}, groupMsg(10, 2, bankNotice))
	f.router.Handle(context.Background(), tg.Entities{}, groupMsg(11, 1, bankNotice))

	if got := f.replier.sent(); len(got) != 3 {
		t.Fatalf("replies = %d, want 3: identities (chat,msg) are independent", len(got))
	}
}

// stallingWarmer держит первый прогрев открытым, пока тест не разрешит продолжить.
// Позволяет зажать первую доставку между захватом in-flight и отметкой handled.
type stallingWarmer struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *stallingWarmer) ApplyEntities(context.Context, tg.Entities) error {
	w.once.Do(func() {
		close(w.entered)
		<-w.release
	})
	return nil
}

func TestConcurrentDuplicateDroppedWhileInFlight(t *testing.T) {
	t.Parallel()

	warmer := &stallingWarmer{entered: make(chan struct{}), release: make(chan struct{})}
	store := dedup.NewStore(30 * time.Second)
	engine := settings.NewEngine(nopStore{})
	replier := &fakeReplier{}
	rtr := router.New(store, engine, replier, &fakeCommands{}, warmer)

	msg := groupMsg(10, 1, bankNotice)

	var wg sync.WaitGroup
	wg.Go(func() {
		rtr.Handle(context.Background(), tg.Entities{}, msg)
	})
	<-warmer.entered

	// Вторая доставка той же identity приходит до завершения первой: её должен
	// отбросить захваченный in-flight, без очереди и без второго ответа.
	rtr.Handle(context.Background(), tg.Entities{}, msg)

	close(warmer.release)
	wg.Wait()

	if got := replier.sent(); len(got) != 1 {
		t.Fatalf("replies = %d, want exactly 1 for concurrent duplicate deliveries", len(got))
	}
}

func TestReplyErrorDoesNotPanicOrRetry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.replier.err = errors.New("FLOOD_WAIT")

	msg := groupMsg(10, 1, bankNotice)
	f.router.Handle(context.Background(), tg.Entities{}, msg)

	// Доставка at-most-once: после неудачи повторная доставка события подавлена отметкой.
	f.replier.err = nil
	f.router.Handle(context.Background(), tg.Entities{}, msg)
	if len(f.replier.sent()) != 0 {
		t.Fatalf("replies = %d, want 0: failed reply must not be retried", len(f.replier.sent()))
	}
}

func photoMsg(chatID int64, msgID int, fromUser int64) *tg.Message {
	media := &tg.MessageMediaPhoto{}
	media.SetPhoto(&tg.Photo{ID: 1})
	return &tg.Message{
		ID:     msgID,
		PeerID: &tg.PeerChat{ChatID: chatID},
		FromID: &tg.PeerUser{UserID: fromUser},
		Media:  media,
	}
}

func userEntities(user *tg.User) tg.Entities {
	return tg.Entities{Users: map[int64]*tg.User{user.ID: user}}
}

func TestPic2TriggerReplies(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.UpsertPic2(10, settings.Pic2Rule{Enabled: true, TargetUser: "777", ReplyMessage: "đẹp quá"})

	msg := photoMsg(10, 5, 777)
	entities := userEntities(&tg.User{ID: 777})

	f.router.Handle(context.Background(), entities, msg)
	// Повторная доставка подавляется отдельным pic2-ключом.
	f.router.Handle(context.Background(), entities, msg)

	got := f.replier.sent()
	if len(got) != 1 {
		t.Fatalf("replies = %d, want 1", len(got))
	}
	if got[0].Text != "đẹp quá" {
		t.Fatalf("reply text = %q, want configured rule text", got[0].Text)
	}
}

func TestPic2IgnoresToggle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.SetReplyEnabled(false)
	f.engine.UpsertPic2(10, settings.Pic2Rule{Enabled: true, TargetUser: "777", ReplyMessage: "ok"})

	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 777}), photoMsg(10, 5, 777))

	if len(f.replier.sent()) != 1 {
		t.Fatal("pic2 trigger must fire independently of the global toggle")
	}
}

func TestPic2SkipsWrongSenderAndNonPhoto(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.UpsertPic2(10, settings.Pic2Rule{Enabled: true, TargetUser: "777", ReplyMessage: "ok"})

	// Фото от другого пользователя.
	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 888}), photoMsg(10, 1, 888))

	// Текст от целевого пользователя без фото.
	text := groupMsg(10, 2, "no photo here")
	text.FromID = &tg.PeerUser{UserID: 777}
	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 777}), text)

	// Стикер от целевого пользователя.
	sticker := groupMsg(10, 3, "")
	sticker.FromID = &tg.PeerUser{UserID: 777}
	sticker.Media = &tg.MessageMediaDocument{}
	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 777}), sticker)

	if len(f.replier.sent()) != 0 {
		t.Fatalf("replies = %d, want 0", len(f.replier.sent()))
	}
}

func TestPic2DisabledRuleSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.UpsertPic2(10, settings.Pic2Rule{Enabled: false, TargetUser: "777", ReplyMessage: "ok"})

	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 777}), photoMsg(10, 5, 777))

	if len(f.replier.sent()) != 0 {
		t.Fatal("disabled rule must not trigger")
	}
}

func TestPhotoWithTransactionTextTriggersBoth(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.UpsertPic2(10, settings.Pic2Rule{Enabled: true, TargetUser: "777", ReplyMessage: "ảnh đẹp"})

	msg := photoMsg(10, 5, 777)
	msg.Message = bankNotice

	f.router.Handle(context.Background(), userEntities(&tg.User{ID: 777}), msg)

	// Фото-триггер и транзакционный ответ — независимые подсистемы.
	if got := f.replier.sent(); len(got) != 2 {
		t.Fatalf("replies = %d, want 2 (pic2 + transaction)", len(got))
	}
}
