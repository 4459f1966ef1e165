// Пакет filestore - операции с физическими файлами на диске.
// Запись через temp-файл с fsync и атомарным rename, чтение и удаление
// по физическому имени (storedName).
package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Adalik1/AdalikM-BOT/internal/domain/model"
	"github.com/Adalik1/AdalikM-BOT/internal/storage"
)

// FileStore - управление физическими файлами на диске.
type FileStore struct {
	// dataDir - корневая директория хранения файлов (STORAGE_DIR)
	dataDir string
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	return &FileStore{dataDir: dataDir}, nil
}

// Put записывает данные из reader под именем name.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (fs *FileStore) Put(_ context.Context, name string, reader io.Reader) error {
	fullPath, err := fs.resolve(name)
	if err != nil {
		return err
	}
	tmpPath := fmt.Sprintf("%s.%s.tmp", fullPath, uuid.New().String()[:8])

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Get открывает файл для чтения. Вызывающий код обязан закрыть ReadCloser.
// Если файла нет - возвращает ошибку, оборачивающую storage.ErrNotFound.
func (fs *FileStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	fullPath, err := fs.resolve(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	return f, nil
}

// Delete удаляет файл с диска.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) Delete(_ context.Context, name string) error {
	fullPath, err := fs.resolve(name)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Check проверяет, что директория данных доступна (readiness).
func (fs *FileStore) Check(_ context.Context) error {
	info, err := os.Stat(fs.dataDir)
	if err != nil {
		return fmt.Errorf("директория данных недоступна: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s не является директорией", fs.dataDir)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// resolve превращает физическое имя в путь внутри dataDir.
// Имена с разделителями пути отклоняются.
func (fs *FileStore) resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return "", fmt.Errorf("недопустимое имя файла %q", name)
	}
	return filepath.Join(fs.dataDir, name), nil
}

// StoredName формирует физическое имя файла: {timestamp}_{name}.
// Пример: 20260221T150405.123456789_notes.txt
func StoredName(ingestedAt time.Time, originalFilename string) string {
	return ingestedAt.UTC().Format(model.StoredNameLayout) + "_" + Sanitize(originalFilename)
}

// Sanitize убирает небезопасные символы из имени файла.
// Оставляет буквы, цифры, точку, дефис и подчёркивание.
func Sanitize(filename string) string {
	filename = filepath.Base(strings.ReplaceAll(filename, `\`, "/"))

	var result strings.Builder
	for _, r := range filename {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' ||
			(r >= 0x0400 && r <= 0x04FF) { // Кириллица
			result.WriteRune(r)
		}
	}

	name := strings.TrimLeft(result.String(), ".")
	// Ограничиваем длину имени для предотвращения проблем с FS
	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[len(runes)-100:])
	}
	if name == "" {
		return "file.txt"
	}
	return name
}
