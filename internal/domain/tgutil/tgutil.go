// Package tgutil — мелкие хелперы поверх типов gotd, общие для доменных пакетов.
package tgutil

import "github.com/gotd/td/tg"

// PeerID нормализует получателя до его числового идентификатора (user/chat/channel).
// Возвращает 0 для неизвестного типа peer.
func PeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

// SenderUser извлекает отправителя сообщения из entities апдейта.
// Порядок: явный FromID (группы/каналы), иначе peer-пользователь личного чата.
// nil, если отправитель не пользователь или entities его не содержат.
func SenderUser(msg *tg.Message, entities tg.Entities) *tg.User {
	if msg == nil {
		return nil
	}
	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		return entities.Users[from.UserID]
	}
	// В личных чатах входящие сообщения идут без FromID: отправитель — сам peer.
	if peer, ok := msg.PeerID.(*tg.PeerUser); ok && !msg.Out {
		return entities.Users[peer.UserID]
	}
	return nil
}

// ReplyToMsgID возвращает идентификатор сообщения, на которое дан ответ,
// и false, если msg не является ответом.
func ReplyToMsgID(msg *tg.Message) (int, bool) {
	if msg == nil {
		return 0, false
	}
	header, ok := msg.ReplyTo.(*tg.MessageReplyHeader)
	if !ok {
		return 0, false
	}
	id, ok := header.GetReplyToMsgID()
	return id, ok
}
