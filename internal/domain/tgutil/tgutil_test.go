package tgutil_test

import (
	"testing"

	"transaction-userbot/internal/domain/tgutil"

	"github.com/gotd/td/tg"
)

func TestPeerID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{name: "user", peer: &tg.PeerUser{UserID: 7}, want: 7},
		{name: "chat", peer: &tg.PeerChat{ChatID: -5}, want: -5},
		{name: "channel", peer: &tg.PeerChannel{ChannelID: 100}, want: 100},
		{name: "nil", peer: nil, want: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tgutil.PeerID(tc.peer); got != tc.want {
				t.Fatalf("PeerID() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSenderUser(t *testing.T) {
	t.Parallel()

	alice := &tg.User{ID: 1}
	entities := tg.Entities{Users: map[int64]*tg.User{1: alice}}

	groupMsg := &tg.Message{FromID: &tg.PeerUser{UserID: 1}, PeerID: &tg.PeerChat{ChatID: -5}}
	if got := tgutil.SenderUser(groupMsg, entities); got != alice {
		t.Fatal("group message sender not resolved via FromID")
	}

	// Входящее личное сообщение без FromID: отправитель — peer-пользователь.
	dmIn := &tg.Message{PeerID: &tg.PeerUser{UserID: 1}}
	if got := tgutil.SenderUser(dmIn, entities); got != alice {
		t.Fatal("incoming DM sender not resolved via peer")
	}

	// Исходящее личное сообщение: peer — собеседник, не отправитель.
	dmOut := &tg.Message{Out: true, PeerID: &tg.PeerUser{UserID: 1}}
	if got := tgutil.SenderUser(dmOut, entities); got != nil {
		t.Fatal("outgoing DM must not resolve the peer as sender")
	}

	unknown := &tg.Message{FromID: &tg.PeerUser{UserID: 9}, PeerID: &tg.PeerChat{ChatID: -5}}
	if got := tgutil.SenderUser(unknown, entities); got != nil {
		t.Fatal("sender missing from entities must resolve to nil")
	}
}

func TestReplyToMsgID(t *testing.T) {
	t.Parallel()

	header := &tg.MessageReplyHeader{}
	header.SetReplyToMsgID(42)

	if id, ok := tgutil.ReplyToMsgID(&tg.Message{ReplyTo: header}); !ok || id != 42 {
		t.Fatalf("ReplyToMsgID() = (%d, %v), want (42, true)", id, ok)
	}
	if _, ok := tgutil.ReplyToMsgID(&tg.Message{}); ok {
		t.Fatal("ReplyToMsgID() = true for a message without reply header")
	}
	if _, ok := tgutil.ReplyToMsgID(nil); ok {
		t.Fatal("ReplyToMsgID() = true for nil message")
	}
}
