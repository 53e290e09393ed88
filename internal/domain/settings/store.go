// Файловый стор настроек: JSON с атомарной записью и самовосстановлением.
// Отсутствующий или битый файл не валит процесс — вместо него записываются
// настройки по умолчанию, чтобы userbot всегда стартовал с консистентной записью.

package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"transaction-userbot/internal/infra/logger"
	"transaction-userbot/internal/infra/storage"
)

// FileStore реализует Store поверх одного JSON-файла.
// Конкурентный доступ сериализует Engine, поэтому свой мьютекс не нужен.
type FileStore struct {
	path string
}

// NewFileStore нормализует путь и гарантирует валидный файл настроек на диске.
func NewFileStore(path string) (*FileStore, error) {
	clean := filepath.Clean(path)
	if _, err := ensureSettingsFile(clean); err != nil {
		return nil, err
	}
	return &FileStore{path: clean}, nil
}

// ensureSettingsFile проверяет/создаёт файл настроек.
// Поведение:
//   - файла нет или он пуст — записывается Default();
//   - JSON битый — предупреждение в лог и перезапись Default();
//   - nil-карта Pic2 нормализуется в пустую;
//   - все записи атомарны через storage.AtomicWriteFile.
//
// Возвращает восстановленную запись.
func ensureSettingsFile(path string) (Settings, error) {
	raw, errRead := os.ReadFile(path)
	if os.IsNotExist(errRead) || len(raw) == 0 {
		st := Default()
		if err := writeSettings(path, st); err != nil {
			return Default(), fmt.Errorf("init settings file: %w", err)
		}
		logger.Debugf("settings: created initial file %s", path)
		return st, nil
	}
	if errRead != nil {
		return Default(), fmt.Errorf("read settings: %w", errRead)
	}

	var st Settings
	if err := json.Unmarshal(raw, &st); err != nil {
		logger.Warnf("settings: failed to decode %s: %v; rewriting defaults", path, err)
		st = Default()
		if errWrite := writeSettings(path, st); errWrite != nil {
			return Default(), fmt.Errorf("rewrite default settings: %w", errWrite)
		}
		return st, nil
	}

	if st.Pic2 == nil {
		st.Pic2 = make(map[int64]Pic2Rule)
	}
	return st, nil
}

// Load читает текущую запись, при необходимости леча файл.
func (s *FileStore) Load() (Settings, error) {
	return ensureSettingsFile(s.path)
}

// Save атомарно записывает запись на диск.
func (s *FileStore) Save(st Settings) error {
	return writeSettings(s.path, st)
}

// writeSettings кодирует запись в JSON с отступами и пишет атомарно.
func writeSettings(path string, st Settings) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := storage.AtomicWriteFile(path, data); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}
