// Package settings — изменяемая конфигурация поведения userbot.
// Хранит глобальный тумблер авто-ответа, текст ответа и набор pic2-правил
// (авто-ответ на фото от заданного отправителя в конкретном чате).
//
// Модель владения: Engine — единственный владелец записи Settings на время
// жизни процесса. Мутации атомарны под мьютексом; персист выполняется через
// внедрённый Store fire-and-forget сразу после каждой мутации. Падение между
// мутацией и записью теряет изменение — транзакционность не требуется.
package settings

import (
	"sync"

	"transaction-userbot/internal/infra/logger"
)

// Pic2Rule — правило авто-ответа на фото для одного чата.
type Pic2Rule struct {
	// Enabled выключает правило без удаления.
	Enabled bool `json:"enabled"`
	// TargetUser — либо "@username", либо десятичный ID пользователя строкой.
	TargetUser string `json:"target_user"`
	// ReplyMessage — текст, отправляемый в ответ на сработавшее фото.
	ReplyMessage string `json:"reply_message"`
}

// Settings — корневая запись настроек. Сериализуется в JSON как есть.
type Settings struct {
	ReplyEnabled bool               `json:"reply_enabled"`
	ReplyMessage string             `json:"reply_message"`
	Pic2         map[int64]Pic2Rule `json:"pic2_settings"`
}

// Default возвращает настройки свежей установки: авто-ответ включён, текст "1".
func Default() Settings {
	return Settings{
		ReplyEnabled: true,
		ReplyMessage: "1",
		Pic2:         make(map[int64]Pic2Rule),
	}
}

// Clone делает глубокую копию записи, чтобы снимки не делили карту Pic2.
func (s Settings) Clone() Settings {
	out := s
	out.Pic2 = make(map[int64]Pic2Rule, len(s.Pic2))
	for chatID, rule := range s.Pic2 {
		out.Pic2[chatID] = rule
	}
	return out
}

// Store — внедряемая способность загрузки/сохранения записи настроек.
// Продовая реализация — FileStore; тесты подставляют свою.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// Engine владеет текущей записью настроек и сериализует доступ к ней.
// Каждая мутация сразу уходит в Store; ошибка записи логируется и не
// останавливает обработку (потеря настройки предпочтительнее падения).
type Engine struct {
	mu    sync.Mutex
	cur   Settings
	store Store
}

// NewEngine загружает запись из store и возвращает готовый движок.
// Ошибки загрузки не фатальны: берутся настройки по умолчанию.
func NewEngine(store Store) *Engine {
	cur, err := store.Load()
	if err != nil {
		logger.Warnf("settings: load failed, using defaults: %v", err)
		cur = Default()
	}
	if cur.Pic2 == nil {
		cur.Pic2 = make(map[int64]Pic2Rule)
	}
	return &Engine{cur: cur, store: store}
}

// Snapshot возвращает копию текущей записи для чтения.
func (e *Engine) Snapshot() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.Clone()
}

// ReplyEnabled возвращает состояние глобального тумблера.
func (e *Engine) ReplyEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.ReplyEnabled
}

// ReplyMessage возвращает настроенный текст авто-ответа.
func (e *Engine) ReplyMessage() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cur.ReplyMessage
}

// SetReplyEnabled мутирует тумблер и персистит запись.
func (e *Engine) SetReplyEnabled(enabled bool) {
	e.mu.Lock()
	e.cur.ReplyEnabled = enabled
	snapshot := e.cur.Clone()
	e.mu.Unlock()

	e.persist(snapshot)
}

// Pic2Rule возвращает правило для чата и признак его наличия.
func (e *Engine) Pic2Rule(chatID int64) (Pic2Rule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.cur.Pic2[chatID]
	return rule, ok
}

// Pic2Count возвращает число настроенных pic2-правил.
func (e *Engine) Pic2Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cur.Pic2)
}

// UpsertPic2 создаёт или заменяет правило чата и персистит запись.
func (e *Engine) UpsertPic2(chatID int64, rule Pic2Rule) {
	e.mu.Lock()
	e.cur.Pic2[chatID] = rule
	snapshot := e.cur.Clone()
	e.mu.Unlock()

	e.persist(snapshot)
}

// DeletePic2 удаляет правило чата. false — правила не было, персист не выполняется.
func (e *Engine) DeletePic2(chatID int64) bool {
	e.mu.Lock()
	if _, ok := e.cur.Pic2[chatID]; !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.cur.Pic2, chatID)
	snapshot := e.cur.Clone()
	e.mu.Unlock()

	e.persist(snapshot)
	return true
}

// persist пишет снимок в Store. Ошибка только логируется: настройка уже
// применена в памяти, и ответ пользователю важнее целостности файла.
func (e *Engine) persist(snapshot Settings) {
	if err := e.store.Save(snapshot); err != nil {
		logger.Errorf("settings: save failed: %v", err)
	}
}
