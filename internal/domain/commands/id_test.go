package commands_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"transaction-userbot/internal/adapters/telegram/sender"
	"transaction-userbot/internal/domain/match"

	"github.com/gotd/td/tg"
)

func replyMsg(chatID int64, replyTo int) *tg.Message {
	header := &tg.MessageReplyHeader{}
	header.SetReplyToMsgID(replyTo)
	return &tg.Message{
		ID:      1,
		PeerID:  &tg.PeerChat{ChatID: chatID},
		Message: "/id",
		ReplyTo: header,
	}
}

func runID(t *testing.T, f *fixture, entities tg.Entities, msg *tg.Message) {
	t.Helper()
	cmd, ok := match.ParseCommand(msg.Message)
	if !ok {
		t.Fatal("ParseCommand(/id) failed")
	}
	if !f.exec.Run(context.Background(), entities, msg, cmd) {
		t.Fatal("Run() = false for /id")
	}
}

func TestIDReplyReportsSenderProfile(t *testing.T) {
	t.Parallel()

	f := newFixture()

	author := &tg.User{ID: 777, Bot: true, Verified: true}
	author.SetFirstName("Binh")
	author.SetLastName("Tran")
	author.SetUsername("binhtr")
	author.SetPhone("84901234567")

	f.fetcher.result = &sender.FetchResult{
		Msg:   &tg.Message{ID: 42, FromID: &tg.PeerUser{UserID: 777}},
		Users: map[int64]*tg.User{777: author},
	}

	runID(t, f, tg.Entities{}, replyMsg(-5, 42))

	got := f.lastReply(t)
	for _, fragment := range []string{"777", "Binh Tran", "@binhtr", "+84901234567", "Bot: Có", "Verified: Có"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("profile reply %q missing %q", got, fragment)
		}
	}
	if strings.Contains(got, "Premium") {
		t.Fatalf("profile reply %q reports Premium for a non-premium user", got)
	}
}

func TestIDReplyMessageNotFound(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.fetcher.result = &sender.FetchResult{} // сообщение удалено

	runID(t, f, tg.Entities{}, replyMsg(-5, 42))

	if got := f.lastReply(t); !strings.Contains(got, "Không tìm thấy tin nhắn") {
		t.Fatalf("reply %q is not the not-found message", got)
	}
}

func TestIDReplySenderUnresolvable(t *testing.T) {
	t.Parallel()

	f := newFixture()
	// Сообщение нашлось, но автор-пользователь в сущностях отсутствует.
	f.fetcher.result = &sender.FetchResult{
		Msg:   &tg.Message{ID: 42, FromID: &tg.PeerChannel{ChannelID: 9}},
		Users: map[int64]*tg.User{},
	}

	runID(t, f, tg.Entities{}, replyMsg(-5, 42))

	if got := f.lastReply(t); !strings.Contains(got, "người gửi") {
		t.Fatalf("reply %q is not the unresolvable-sender message", got)
	}
}

func TestIDReplyFetchError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.fetcher.err = errors.New("CHANNEL_PRIVATE")

	runID(t, f, tg.Entities{}, replyMsg(-5, 42))

	if got := f.lastReply(t); !strings.Contains(got, "Không thể lấy thông tin user") {
		t.Fatalf("reply %q is not the fetch-failure message", got)
	}
}

func TestIDChatInfoBasicGroup(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerChat{ChatID: -5}, Message: "/id"}
	entities := tg.Entities{Chats: map[int64]*tg.Chat{-5: {ID: -5, Title: "Gia đình"}}}

	runID(t, f, entities, msg)

	got := f.lastReply(t)
	for _, fragment := range []string{"`-5`", "Gia đình", "Nhóm thường"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("chat reply %q missing %q", got, fragment)
		}
	}
}

func TestIDChatInfoSupergroup(t *testing.T) {
	t.Parallel()

	f := newFixture()
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 100}, Message: "/id"}

	channel := &tg.Channel{ID: 100, Title: "Work", Megagroup: true}
	channel.SetUsername("workchat")
	entities := tg.Entities{Channels: map[int64]*tg.Channel{100: channel}}

	runID(t, f, entities, msg)

	got := f.lastReply(t)
	for _, fragment := range []string{"`100`", "Work", "@workchat", "Siêu nhóm"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("chat reply %q missing %q", got, fragment)
		}
	}
}

func TestIDChatInfoDegradesToRawID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	// Сущностей нет: ответ всё равно содержит числовой идентификатор чата.
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerChannel{ChannelID: 100}, Message: "/id"}

	runID(t, f, tg.Entities{}, msg)

	got := f.lastReply(t)
	if !strings.Contains(got, "`100`") {
		t.Fatalf("degraded reply %q missing the raw chat id", got)
	}
	if !strings.Contains(got, "Kênh (Channel)") {
		t.Fatalf("degraded reply %q missing the default chat type", got)
	}
}
