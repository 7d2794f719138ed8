// Пакет blobstore — операции с зашифрованными blob-файлами на диске.
// Один blob на задание; имя файла выводится из UUID задания и никогда
// из пользовательских данных. Запись атомарная: temp файл → fsync →
// rename. Удаление идемпотентное.
package blobstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound — blob не найден на диске.
var ErrNotFound = errors.New("blob не найден")

// ErrEmptyBlob — blob нулевой длины. Пустой шифртекст невозможен
// (GCM-тег хранится отдельно, но сам шифртекст непустого документа
// непуст), поэтому нулевая длина трактуется как повреждение.
var ErrEmptyBlob = errors.New("blob нулевой длины — повреждение данных")

// BlobStore — управление blob-файлами в директории загрузок.
type BlobStore struct {
	// uploadsDir — корневая директория blob-файлов (PL_UPLOADS_DIR)
	uploadsDir string
}

// New создаёт BlobStore. Создаёт директорию, если она не существует.
func New(uploadsDir string) (*BlobStore, error) {
	if err := os.MkdirAll(uploadsDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", uploadsDir, err)
	}
	return &BlobStore{uploadsDir: uploadsDir}, nil
}

// Save атомарно записывает шифртекст на диск и возвращает относительный
// путь blob-файла.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (bs *BlobStore) Save(jobID string, ciphertext []byte) (string, error) {
	storagePath := storageName(jobID)
	fullPath := filepath.Join(bs.uploadsDir, storagePath)
	tmpPath := fullPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(ciphertext); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return storagePath, nil
}

// Read возвращает полное содержимое blob-файла.
// Blob нулевой длины — ошибка ErrEmptyBlob (повреждение).
func (bs *BlobStore) Read(storagePath string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(bs.uploadsDir, storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения blob %s: %w", storagePath, err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyBlob
	}
	return data, nil
}

// Open открывает blob для чтения и возвращает *os.File.
// Читатель держит дескриптор: конкурентное удаление файла не
// прерывает уже начатое чтение. Вызывающий код обязан закрыть файл.
func (bs *BlobStore) Open(storagePath string) (*os.File, error) {
	f, err := os.Open(filepath.Join(bs.uploadsDir, storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка открытия blob %s: %w", storagePath, err)
	}
	return f, nil
}

// Stat возвращает размер blob-файла.
func (bs *BlobStore) Stat(storagePath string) (int64, error) {
	info, err := os.Stat(filepath.Join(bs.uploadsDir, storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка stat blob %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// Remove удаляет blob с диска. Идемпотентно: отсутствующий файл — не
// ошибка.
func (bs *BlobStore) Remove(storagePath string) error {
	err := os.Remove(filepath.Join(bs.uploadsDir, storagePath))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления blob %s: %w", storagePath, err)
	}
	return nil
}

// Exists проверяет существование blob-файла на диске.
func (bs *BlobStore) Exists(storagePath string) bool {
	_, err := os.Stat(filepath.Join(bs.uploadsDir, storagePath))
	return err == nil
}

// List возвращает относительные пути всех blob-файлов в директории.
// Temp файлы (.tmp) пропускаются. Используется стартовой очисткой
// осиротевших blob-ов.
func (bs *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(bs.uploadsDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка сканирования директории %s: %w", bs.uploadsDir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		paths = append(paths, e.Name())
	}
	return paths, nil
}

// UploadsDir возвращает путь к директории загрузок.
func (bs *BlobStore) UploadsDir() string {
	return bs.uploadsDir
}

// JobIDFromPath извлекает UUID задания из имени blob-файла.
// Возвращает пустую строку, если имя не соответствует формату.
func JobIDFromPath(storagePath string) string {
	name := strings.TrimSuffix(storagePath, ".bin")
	if _, err := uuid.Parse(name); err != nil {
		return ""
	}
	return name
}

// storageName генерирует имя blob-файла из UUID задания.
// Формат: {job_id}.bin — путь неугадываем настолько же, насколько
// неугадываем UUID v4.
func storageName(jobID string) string {
	return jobID + ".bin"
}
