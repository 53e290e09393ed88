// Package dedup — защита от повторной обработки входящих событий.
// Telegram доставляет апдейты минимум один раз: реконнект или ретрай транспорта
// приносит то же сообщение повторно, а медленный асинхронный обработчик может
// ещё не закончить, когда приходит вторая доставка. Store решает обе проблемы:
// хранит отметки «уже обработано» в пределах окна времени и множество
// идентичностей «в полёте», чьи обработчики ещё не вернулись.
//
// Ключи явно типизированы по пространствам имён (событие / ответ / pic2-ответ),
// чтобы отметка о событии и отметка об уже отправленной реакции не могли
// столкнуться в одной карте.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"transaction-userbot/internal/infra/logger"
)

// Kind — пространство имён ключа дедупликации.
type Kind uint8

const (
	// KindEvent отмечает само входящее событие.
	KindEvent Kind = iota
	// KindReply отмечает уже отправленный ответ на транзакцию.
	KindReply
	// KindPic2 отмечает уже отправленный pic2-ответ.
	KindPic2
)

// String возвращает короткое имя пространства для логов.
func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindReply:
		return "reply"
	case KindPic2:
		return "pic2"
	default:
		return "unknown"
	}
}

// Ident — составная идентичность одного входящего уведомления: (chatID, msgID).
// Уникальна в пределах жизни процесса; между рестартами не сохраняется.
type Ident struct {
	ChatID int64
	MsgID  int
}

// String — представление для логов, например "-100123:42".
func (i Ident) String() string {
	return fmt.Sprintf("%d:%d", i.ChatID, i.MsgID)
}

// Key — идентичность в конкретном пространстве имён.
type Key struct {
	Kind Kind
	ID   Ident
}

// EventKey/ReplyKey/Pic2Key — конструкторы ключей для читаемости в вызывающем коде.
func EventKey(chatID int64, msgID int) Key { return Key{Kind: KindEvent, ID: Ident{chatID, msgID}} }
func ReplyKey(chatID int64, msgID int) Key { return Key{Kind: KindReply, ID: Ident{chatID, msgID}} }
func Pic2Key(chatID int64, msgID int) Key  { return Key{Kind: KindPic2, ID: Ident{chatID, msgID}} }

// Пороговые значения мягкого ограничения размера: при превышении maxRecords
// карта усекается до keepRecords самых свежих по порядку вставки записей.
// Именно по порядку вставки, не по последнему обращению: часто повторяющиеся
// идентичности этим недозащищены, но политика сохранена намеренно.
const (
	maxRecords  = 1000
	keepRecords = 500
)

// Store хранит отметки «обработано» с временем и множество «в полёте».
// Все операции атомарны под одним мьютексом: между проверкой и отметкой нет
// точки, в которой конкурирующая доставка могла бы проскочить.
type Store struct {
	mu       sync.Mutex
	handled  map[Key]time.Time // key -> момент отметки; запись моложе window подавляет повтор
	order    []Key             // порядок первой вставки для политики вытеснения
	inFlight map[Ident]struct{}
	window   time.Duration

	runMu  sync.Mutex         // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc // завершает цикл очистки, если он был запущен
	wg     sync.WaitGroup
}

// NewStore создаёт хранилище с окном подавления повторов window.
// Для продового поведения окно берётся из конфигурации (30 секунд).
func NewStore(window time.Duration) *Store {
	return &Store{
		handled:  make(map[Key]time.Time),
		inFlight: make(map[Ident]struct{}),
		window:   window,
	}
}

// Start поднимает фоновую горутину, раз в минуту удаляющую просроченные отметки,
// чтобы карта не росла между вытеснениями. Повторные вызовы игнорируются.
func (s *Store) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Go(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Cleanup(time.Now())
			}
		}
	})
}

// Stop корректно завершает фоновую очистку и дожидается её окончания.
func (s *Store) Stop() {
	s.runMu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
}

// ShouldSkip сообщает, надо ли отбросить событие по ключу k: либо по нему уже
// есть отметка моложе окна, либо та же идентичность прямо сейчас в обработке.
// Вторая конкурирующая доставка всегда отбрасывается, никогда не ставится в очередь.
func (s *Store) ShouldSkip(k Key) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.handled[k]; ok && now.Sub(ts) < s.window {
		logger.Debugf("dedup: skip %s %s (handled %s ago)", k.Kind, k.ID, now.Sub(ts))
		return true
	}
	if _, ok := s.inFlight[k.ID]; ok {
		logger.Debugf("dedup: skip %s %s (in flight)", k.Kind, k.ID)
		return true
	}
	return false
}

// MarkInFlight добавляет идентичность в множество «в полёте» одной атомарной
// проверкой-и-записью. false означает, что идентичность уже обрабатывается —
// вызывающий обязан отбросить свою копию события.
func (s *Store) MarkInFlight(id Ident) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inFlight[id]; ok {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

// ClearInFlight снимает отметку «в полёте». Вызывается через defer на каждом
// пути выхода обработчика: и при успехе, и при ошибке.
func (s *Store) ClearInFlight(id Ident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// MarkHandled пишет/перезаписывает отметку «обработано» с моментом t.
// Перезапись не меняет позицию ключа в порядке вставки.
func (s *Store) MarkHandled(k Key, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(k, t)
}

// MarkOnce атомарно проверяет и ставит отметку: true — отметка поставлена нами,
// false — по ключу уже есть запись моложе окна. Используется для суб-ключей
// reply/pic2, где проверка и отметка обязаны быть одним шагом, иначе две
// конкурирующие доставки отправят по ответу каждая.
func (s *Store) MarkOnce(k Key, t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ts, ok := s.handled[k]; ok && t.Sub(ts) < s.window {
		return false
	}
	s.markLocked(k, t)
	return true
}

// markLocked — общая запись отметки; вызывающий удерживает mu.
func (s *Store) markLocked(k Key, t time.Time) {
	if _, exists := s.handled[k]; !exists {
		s.order = append(s.order, k)
	}
	s.handled[k] = t
}

// EvictIfOversize усекает карту до keepRecords самых свежих по порядку вставки
// записей, когда их накопилось больше maxRecords. Вызывается оппортунистически
// после каждого обработанного события.
func (s *Store) EvictIfOversize() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.handled) <= maxRecords {
		return
	}

	// Уплотняем порядок: фоновая очистка могла удалить часть ключей из карты.
	live := s.order[:0]
	for _, k := range s.order {
		if _, ok := s.handled[k]; ok {
			live = append(live, k)
		}
	}
	s.order = live

	drop := len(s.order) - keepRecords
	if drop <= 0 {
		return
	}
	for _, k := range s.order[:drop] {
		delete(s.handled, k)
	}
	s.order = append([]Key(nil), s.order[drop:]...)
	logger.Debugf("dedup: evicted %d oldest records, %d kept", drop, len(s.handled))
}

// Cleanup удаляет отметки старше окна. Потокобезопасен; вызывается фоново
// (через Start) или синхронно из тестов.
func (s *Store) Cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ts := range s.handled {
		if now.Sub(ts) >= s.window {
			delete(s.handled, k)
		}
	}
}

// Len возвращает текущее число отметок «обработано».
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handled)
}

// Seen сообщает, есть ли по ключу отметка моложе окна, не трогая in-flight.
func (s *Store) Seen(k Key) bool {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ts, ok := s.handled[k]
	return ok && now.Sub(ts) < s.window
}
