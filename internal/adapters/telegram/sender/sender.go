// Package sender реализует исходящую сторону userbot через MTProto-клиента:
// ответы на сообщения (reply) и точечное дочитывание чужих сообщений по ID.
// Сендер соблюдает дисциплину соединения: перед каждым RPC дожидается онлайна,
// а сетевые ошибки отдаёт в connection для переключения состояния.
package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transaction-userbot/internal/domain/tgutil"
	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/telegram/connection"
	"transaction-userbot/internal/infra/telegram/peersmgr"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// Sender отправляет ответы и выполняет служебные запросы через заданный api.
type Sender struct {
	api   *tg.Client
	peers *peersmgr.Service
}

// New создаёт Sender. Паникует при nil-зависимостях: без них сендер бесполезен.
func New(api *tg.Client, peers *peersmgr.Service) *Sender {
	if api == nil {
		panic("sender: api client must not be nil")
	}
	if peers == nil {
		panic("sender: peers manager must not be nil")
	}
	return &Sender{api: api, peers: peers}
}

// Reply отправляет текстовый ответ на msg в его же чат (reply_to = msg.ID).
// Резолвит peer через локальный кэш, дожидается онлайна и классифицирует
// ошибки: сетевые уводят соединение в offline, RPC-ошибки возвращаются как есть.
func (s *Sender) Reply(ctx context.Context, msg *tg.Message, text string) error {
	if msg == nil {
		return errors.New("sender: message is nil")
	}
	if text == "" {
		return errors.New("sender: reply text is empty")
	}

	peer, err := s.peers.InputPeerFromMessage(ctx, msg)
	if err != nil {
		if connection.HandleError(err) {
			return fmt.Errorf("sender: resolve peer: connection lost: %w", err)
		}
		return fmt.Errorf("sender: resolve peer: %w", err)
	}

	connection.WaitOnline(ctx)

	req := &tg.MessagesSendMessageRequest{
		Peer:    peer,
		Message: text,
		// Наносекундный random_id: достаточно уникален в рамках сессии,
		// дедупликация повторных доставок выполняется до вызова Reply.
		RandomID: time.Now().UnixNano(),
		ReplyTo:  &tg.InputReplyToMessage{ReplyToMsgID: msg.ID},
	}

	if _, err = s.api.MessagesSendMessage(ctx, req); err != nil {
		if connection.HandleError(err) {
			return fmt.Errorf("sender: send reply: connection lost: %w", err)
		}
		if rpcErr, ok := tgerr.As(err); ok {
			logger.Errorf("Sender: reply to %d/%d rejected: %s", tgutil.PeerID(msg.PeerID), msg.ID, rpcErr.Type)
		}
		return fmt.Errorf("sender: send reply: %w", err)
	}

	logger.Debugf("Sender: reply sent chat=%d reply_to=%d", tgutil.PeerID(msg.PeerID), msg.ID)
	return nil
}

// FetchResult содержит дочитанное сообщение и сопутствующие сущности из ответа API.
type FetchResult struct {
	Msg   *tg.Message
	Users map[int64]*tg.User
	Chats map[int64]tg.ChatClass
}

// SenderUser возвращает профиль автора дочитанного сообщения, если он присутствовал
// в сущностях ответа.
func (r *FetchResult) SenderUser() (*tg.User, bool) {
	if r == nil || r.Msg == nil {
		return nil, false
	}
	peer, ok := r.Msg.FromID.(*tg.PeerUser)
	if !ok {
		return nil, false
	}
	user, found := r.Users[peer.UserID]
	return user, found
}

// FetchMessage дочитывает одно сообщение чата msg по идентификатору id.
// Для каналов и супергрупп используется channels.getMessages, для остальных
// чатов — messages.getMessages. Возвращает nil без ошибки, если сообщение
// недоступно (удалено или вне зоны видимости аккаунта).
func (s *Sender) FetchMessage(ctx context.Context, msg *tg.Message, id int) (*FetchResult, error) {
	if msg == nil {
		return nil, errors.New("sender: message is nil")
	}

	connection.WaitOnline(ctx)

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: id}}

	inputChannel, isChannel, err := s.peers.InputChannelFromMessage(ctx, msg)
	if err != nil {
		if connection.HandleError(err) {
			return nil, fmt.Errorf("sender: resolve channel: connection lost: %w", err)
		}
		return nil, fmt.Errorf("sender: resolve channel: %w", err)
	}

	var resp tg.MessagesMessagesClass
	if isChannel {
		resp, err = s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: inputChannel,
			ID:      ids,
		})
	} else {
		resp, err = s.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		if connection.HandleError(err) {
			return nil, fmt.Errorf("sender: fetch message: connection lost: %w", err)
		}
		return nil, fmt.Errorf("sender: fetch message %d: %w", id, err)
	}

	return extractFetched(resp, id), nil
}

// extractFetched разбирает полиморфный ответ messages.Messages и собирает
// искомое сообщение вместе с картами сущностей.
func extractFetched(resp tg.MessagesMessagesClass, id int) *FetchResult {
	var (
		messages []tg.MessageClass
		users    []tg.UserClass
		chats    []tg.ChatClass
	)

	switch box := resp.(type) {
	case *tg.MessagesMessages:
		messages, users, chats = box.Messages, box.Users, box.Chats
	case *tg.MessagesMessagesSlice:
		messages, users, chats = box.Messages, box.Users, box.Chats
	case *tg.MessagesChannelMessages:
		messages, users, chats = box.Messages, box.Users, box.Chats
	default:
		return nil
	}

	result := &FetchResult{
		Users: make(map[int64]*tg.User, len(users)),
		Chats: make(map[int64]tg.ChatClass, len(chats)),
	}
	for _, u := range users {
		if user, ok := u.(*tg.User); ok {
			result.Users[user.ID] = user
		}
	}
	for _, c := range chats {
		switch chat := c.(type) {
		case *tg.Chat:
			result.Chats[chat.ID] = chat
		case *tg.Channel:
			result.Chats[chat.ID] = chat
		}
	}

	for _, m := range messages {
		full, ok := m.(*tg.Message)
		if !ok {
			// messageEmpty: сообщение удалено либо недоступно аккаунту.
			continue
		}
		if full.ID == id {
			result.Msg = full
			return result
		}
	}
	return result
}

