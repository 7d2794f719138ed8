// Пакет expiry — потокобезопасный in-memory индекс живых заданий.
//
// Индекс — быстрый путь валидации release-ссылок: job_id → срок
// истечения, токен и путь blob-файла. Заполняется синхронно при
// создании задания и очищается при выпуске или удалении.
//
// Не персистентный — намеренно: после рестарта процесса индекс пуст,
// задания прежнего процесса становятся недостижимыми (их blob-ы
// убирает стартовая очистка). Авторитетная запись — строка jobs.
//
// ActiveOps — множество заданий, удерживаемых текущими запросами.
// Sweeper не трогает активные задания: валидация и чтение документа
// обрамляются MarkActive/UnmarkActive.
package expiry

import (
	"sync"
	"time"
)

// Entry — запись индекса для одного задания.
type Entry struct {
	// ExpiresAt — абсолютное время истечения ссылки (UTC)
	ExpiresAt time.Time
	// Token — secure token задания (для быстрой проверки без БД)
	Token string
	// StoragePath — путь blob-файла (пустой после выпуска)
	StoragePath string
	// MimeType — MIME-тип документа
	MimeType string
	// OriginalName — оригинальное имя файла
	OriginalName string
}

// Index — потокобезопасный индекс сроков истечения.
// Все операции линеаризуемы относительно одного job_id: единый
// RWMutex покрывает и записи, и множество активных операций.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	active  map[string]int // job_id → счётчик удержаний
}

// New создаёт пустой индекс.
func New() *Index {
	return &Index{
		entries: make(map[string]*Entry),
		active:  make(map[string]int),
	}
}

// Register добавляет запись задания в индекс.
// Существующая запись с тем же ID перезаписывается.
func (idx *Index) Register(jobID string, entry *Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	// Копия — защита от внешних изменений после регистрации
	copied := *entry
	idx.entries[jobID] = &copied
}

// Get возвращает копию записи задания или nil, если записи нет.
func (idx *Index) Get(jobID string) *Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[jobID]
	if !ok {
		return nil
	}
	copied := *entry
	return &copied
}

// Update заменяет запись задания, если она существует.
// Возвращает false, если записи нет.
func (idx *Index) Update(jobID string, entry *Entry) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[jobID]; !ok {
		return false
	}
	copied := *entry
	idx.entries[jobID] = &copied
	return true
}

// Remove удаляет запись задания.
// Возвращает true, если запись существовала.
func (idx *Index) Remove(jobID string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[jobID]; !ok {
		return false
	}
	delete(idx.entries, jobID)
	return true
}

// MarkActive помечает задание как удерживаемое текущим запросом.
// Счётчик: несколько одновременных запросов к одному заданию
// удерживают его до последнего UnmarkActive.
func (idx *Index) MarkActive(jobID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.active[jobID]++
}

// UnmarkActive снимает удержание задания.
func (idx *Index) UnmarkActive(jobID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.active[jobID] <= 1 {
		delete(idx.active, jobID)
		return
	}
	idx.active[jobID]--
}

// IsActive проверяет, удерживается ли задание запросом.
func (idx *Index) IsActive(jobID string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.active[jobID] > 0
}

// SnapshotExpired возвращает ID заданий, у которых expires_at <= now
// и которые не удерживаются активными запросами.
// Снимок под RLock: sweeper не держит блокировку на время обработки.
func (idx *Index) SnapshotExpired(now time.Time) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var expired []string
	for jobID, entry := range idx.entries {
		if entry.ExpiresAt.After(now) {
			continue
		}
		if idx.active[jobID] > 0 {
			continue
		}
		expired = append(expired, jobID)
	}
	return expired
}

// Count возвращает количество записей в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// IsReady возвращает true: индекс готов сразу после создания.
// Метод существует для health/ready проверки в стиле остальных
// компонентов.
func (idx *Index) IsReady() bool {
	return idx != nil
}
