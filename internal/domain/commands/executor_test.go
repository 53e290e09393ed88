package commands_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"transaction-userbot/internal/adapters/telegram/sender"
	"transaction-userbot/internal/domain/commands"
	"transaction-userbot/internal/domain/match"
	"transaction-userbot/internal/domain/settings"

	"github.com/gotd/td/tg"
)

type fakeReplier struct {
	texts []string
	err   error
}

func (f *fakeReplier) Reply(_ context.Context, _ *tg.Message, text string) error {
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

type fakeFetcher struct {
	result *sender.FetchResult
	err    error
}

func (f *fakeFetcher) FetchMessage(_ context.Context, _ *tg.Message, _ int) (*sender.FetchResult, error) {
	return f.result, f.err
}

type nopStore struct{}

func (nopStore) Load() (settings.Settings, error) { return settings.Default(), nil }
func (nopStore) Save(settings.Settings) error     { return nil }

type fixture struct {
	engine  *settings.Engine
	replier *fakeReplier
	fetcher *fakeFetcher
	exec    *commands.Executor
}

func newFixture() *fixture {
	engine := settings.NewEngine(nopStore{})
	replier := &fakeReplier{}
	fetcher := &fakeFetcher{}
	return &fixture{
		engine:  engine,
		replier: replier,
		fetcher: fetcher,
		exec:    commands.NewExecutor(replier, fetcher, engine, time.Now().Add(-90*time.Minute)),
	}
}

func (f *fixture) run(t *testing.T, text string) bool {
	t.Helper()
	cmd, ok := match.ParseCommand(text)
	if !ok {
		t.Fatalf("ParseCommand(%q) did not recognize a command", text)
	}
	msg := &tg.Message{ID: 1, PeerID: &tg.PeerChat{ChatID: -5}, Message: text}
	return f.exec.Run(context.Background(), tg.Entities{}, msg, cmd)
}

func (f *fixture) lastReply(t *testing.T) string {
	t.Helper()
	if len(f.replier.texts) == 0 {
		t.Fatal("no reply was sent")
	}
	return f.replier.texts[len(f.replier.texts)-1]
}

func TestToggleCommand(t *testing.T) {
	t.Parallel()

	f := newFixture()

	if !f.run(t, "/1 off") {
		t.Fatal("Run() = false for /1")
	}
	if f.engine.ReplyEnabled() {
		t.Fatal("toggle still on after /1 off")
	}
	if got := f.lastReply(t); !strings.Contains(got, "TẮT") {
		t.Fatalf("reply %q does not confirm the off state", got)
	}

	f.run(t, "/1 ON") // аргумент регистронезависим
	if !f.engine.ReplyEnabled() {
		t.Fatal("toggle still off after /1 ON")
	}

	f.run(t, "/1")
	if got := f.lastReply(t); !strings.Contains(got, "Trạng thái hiện tại") {
		t.Fatalf("bare /1 reply %q does not report current state", got)
	}

	f.run(t, "/1 maybe")
	if got := f.lastReply(t); !strings.Contains(got, "Sử dụng") {
		t.Fatalf("reply %q is not a usage hint", got)
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.engine.UpsertPic2(1, settings.Pic2Rule{Enabled: true, TargetUser: "@a", ReplyMessage: "x"})

	f.run(t, "/status")

	got := f.lastReply(t)
	for _, fragment := range []string{"🟢 BẬT", `"1"`, "Pic2 rules: 1", "1h 30m"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("status reply %q missing %q", got, fragment)
		}
	}
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.run(t, "/help")

	got := f.lastReply(t)
	for _, fragment := range []string{"/1 on", "/pic2 on", "/id", "Tiền vào"} {
		if !strings.Contains(got, fragment) {
			t.Fatalf("help reply %q missing %q", got, fragment)
		}
	}
}

func TestUnknownCommandSilentlyIgnored(t *testing.T) {
	t.Parallel()

	f := newFixture()
	if f.run(t, "/unknown") {
		t.Fatal("Run() = true for an unknown command")
	}
	if len(f.replier.texts) != 0 {
		t.Fatalf("replies = %v, want none for unknown commands", f.replier.texts)
	}
}

func TestEveryKnownCommandRepliesExactlyOnce(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"/1", "/1 on", "/1 bogus", "/status", "/help", "/pic2", "/pic2 list"} {
		t.Run(text, func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.run(t, text)
			if len(f.replier.texts) != 1 {
				t.Fatalf("replies = %d, want exactly 1", len(f.replier.texts))
			}
		})
	}
}
