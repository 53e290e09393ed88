// Package match — чистые классификаторы свободного текста и вложений.
//
// Назначение:
//   Пакет инкапсулирует распознавание банковских SMS-уведомлений вьетнамских
//   банков, разбор административных команд и сопоставление отправителя с
//   целевым пользователем pic2-правила. Состояния нет: все функции детерминированы
//   и зависят только от аргументов.
//
// Формат банковского уведомления (все четыре строки обязательны, порядок любой):
//
//	Tiền vào: +2,000 đ
//	Tài khoản: 20918031 tại ACB
//	Lúc: 2025-07-20 11:10:22
//	Nội dung CK: ...
//
// Детектор намеренно консервативен: требуется одновременное присутствие всех
// маркеров. Ложноотрицательный исход безопасен (нет ответа), ложноположительный
// даёт нежелательный ответ в чужом чате.
package match

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/gotd/td/tg"
)

// UnknownField — плейсхолдер для нераспознанных полей банковского уведомления.
// Текст пользовательский (вьетнамский), т.к. попадает в ответы и логи оператора.
const UnknownField = "không rõ"

// Четыре маркера банковского уведомления. Регистронезависимые, допускают
// вариативные пробелы после двоеточий.
var (
	// reAmountIn — строка входящей суммы. Захватывает сумму с разделителями
	// тысяч как есть: она нужна только для отображения, не для арифметики.
	reAmountIn = regexp.MustCompile(`(?i)tiền vào:\s*\+\s*([\d.,]+)`)
	// reAccount — строка счёта: номер счёта и банк после "tại".
	reAccount = regexp.MustCompile(`(?i)tài khoản:\s*(\S+)\s+tại\s+(\S+)`)
	// reWhen — строка времени операции.
	reWhen = regexp.MustCompile(`(?i)lúc:\s*\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}`)
	// reContent — строка назначения перевода.
	reContent = regexp.MustCompile(`(?i)nội dung ck:`)
)

// IsTransactionMessage сообщает, является ли text полноценным уведомлением о
// входящем банковском переводе: маркер суммы, счёт/банк, время и назначение
// обязаны присутствовать одновременно. Любого одного маркера недостаточно.
func IsTransactionMessage(text string) bool {
	if text == "" {
		return false
	}
	return reAmountIn.MatchString(text) &&
		reAccount.MatchString(text) &&
		reWhen.MatchString(text) &&
		reContent.MatchString(text)
}

// ExtractAmount возвращает сумму входящего перевода в исходном форматировании
// (разделители тысяч сохраняются — значение используется только для показа и
// логов). Если маркер не найден, возвращает "0".
func ExtractAmount(text string) string {
	m := reAmountIn.FindStringSubmatch(text)
	if m == nil {
		return "0"
	}
	return m[1]
}

// AccountInfo — извлечённые реквизиты: банк и номер счёта.
type AccountInfo struct {
	Bank    string
	Account string
}

// ExtractAccountInfo достаёт номер счёта и имя банка из строки "Tài khoản: ... tại ...".
// Отсутствующие поля заменяются плейсхолдером UnknownField, а не ошибкой:
// частично распознанное уведомление всё равно логируется.
func ExtractAccountInfo(text string) AccountInfo {
	info := AccountInfo{Bank: UnknownField, Account: UnknownField}
	m := reAccount.FindStringSubmatch(text)
	if m == nil {
		return info
	}
	info.Account = m[1]
	info.Bank = m[2]
	return info
}

// Command — разобранная административная команда.
type Command struct {
	// Name — первый токен в нижнем регистре, включая ведущий слеш ("/pic2").
	Name string
	// Args — остальные токены в исходном виде.
	Args []string
}

// ParseCommand разбирает text как команду. Команда — текст, начинающийся с "/"
// с первого символа (ведущие пробелы дисквалифицируют: такое сообщение уходит на
// обычную маршрутизацию). Первый токен в нижнем регистре становится именем,
// остальные — позиционными аргументами. Для прочего текста возвращает ok=false.
func ParseCommand(text string) (Command, bool) {
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}
	fields := strings.Fields(text)
	return Command{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}

// IsTargetUser проверяет, соответствует ли отправитель целевой ссылке pic2-правила.
// target с префиксом "@" сравнивается с username без учёта регистра (username в
// Telegram регистронезависимы); иначе target трактуется как десятичный ID и
// сравнивается со строковым представлением sender.ID.
func IsTargetUser(sender *tg.User, target string) bool {
	if sender == nil || target == "" {
		return false
	}
	if name, ok := strings.CutPrefix(target, "@"); ok {
		username, has := sender.GetUsername()
		return has && strings.EqualFold(username, name)
	}
	return target == strconv.FormatInt(sender.ID, 10)
}

// HasPhoto сообщает, содержит ли сообщение настоящую фотографию.
// Считается только tg.MessageMediaPhoto с непустым Photo. Стикеры и GIF приходят
// как MessageMediaDocument и намеренно не считаются фото: это продуктовое правило
// pic2, а не ограничение транспорта.
func HasPhoto(msg *tg.Message) bool {
	if msg == nil {
		return false
	}
	media, ok := msg.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return false
	}
	photo, has := media.GetPhoto()
	if !has {
		return false
	}
	_, isPhoto := photo.(*tg.Photo)
	return isPhoto
}
