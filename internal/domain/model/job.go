// Пакет model — доменные модели ядра жизненного цикла заданий печати.
// Job — центральная сущность; Document, DocumentAnalysis и JobView —
// сопутствующие записи. Матрица допустимых переходов статусов
// используется сервисным слоем для маппинга ошибок, авторитетная
// проверка выполняется условным UPDATE в репозитории.
package model

import (
	"time"
)

// JobStatus — статус задания печати.
type JobStatus string

const (
	// StatusPending — задание создано, документ доступен для просмотра
	StatusPending JobStatus = "pending"
	// StatusReleased — задание выпущено на печать, документ уничтожен
	StatusReleased JobStatus = "released"
	// StatusCompleted — печать подтверждена
	StatusCompleted JobStatus = "completed"
	// StatusDeleted — задание удалено (истечение срока или очистка)
	StatusDeleted JobStatus = "deleted"
)

// validTransitions — матрица допустимых переходов статусов.
// deleted — поглощающее состояние: достижимо из pending и released,
// выход из него невозможен. Движение назад запрещено.
var validTransitions = map[JobStatus]map[JobStatus]bool{
	StatusPending:   {StatusReleased: true, StatusDeleted: true},
	StatusReleased:  {StatusCompleted: true, StatusDeleted: true},
	StatusCompleted: {},
	StatusDeleted:   {},
}

// CanTransition проверяет, допустим ли переход from → to.
func CanTransition(from, to JobStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsValidStatus проверяет, является ли строка допустимым статусом.
func IsValidStatus(s JobStatus) bool {
	switch s {
	case StatusPending, StatusReleased, StatusCompleted, StatusDeleted:
		return true
	default:
		return false
	}
}

// PrintParams — параметры печати задания.
type PrintParams struct {
	// Pages — количество страниц документа
	Pages int `json:"pages"`
	// Copies — количество копий
	Copies int `json:"copies"`
	// Color — цветная печать
	Color bool `json:"color"`
	// Duplex — двусторонняя печать
	Duplex bool `json:"duplex"`
	// Stapling — скрепление степлером
	Stapling bool `json:"stapling"`
	// Priority — приоритет задания (normal, high и т.п., opaque строка)
	Priority string `json:"priority"`
	// Notes — примечания пользователя
	Notes string `json:"notes"`
}

// Job — задание печати. Соответствует строке таблицы jobs.
type Job struct {
	// ID — уникальный идентификатор задания (UUID v4)
	ID string `json:"id"`

	// UserID — идентификатор владельца (opaque, внешний IdP)
	UserID string `json:"user_id"`

	// DocumentName — отображаемое имя документа
	DocumentName string `json:"document_name"`

	// Params — параметры печати
	Params PrintParams `json:"params"`

	// Status — текущий статус задания
	Status JobStatus `json:"status"`

	// CostCents — стоимость печати в центах.
	// Хранится целым числом, в API отдаётся с двумя знаками.
	CostCents int64 `json:"-"`

	// SubmittedAt — время создания задания (UTC)
	SubmittedAt time.Time `json:"submitted_at"`

	// ReleasedAt — время выпуска на печать
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	// CompletedAt — время подтверждения печати
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// DeletedAt — время удаления
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	// SecureToken — криптографически случайный токен release-ссылки.
	// Единственное доказательство права на просмотр и выпуск.
	SecureToken string `json:"secure_token"`

	// ReleaseLink — полный URL release-страницы
	ReleaseLink string `json:"release_link"`

	// ExpiresAt — абсолютное время истечения ссылки (UTC)
	ExpiresAt time.Time `json:"expires_at"`

	// ViewCount — количество просмотров (монотонно неубывающее)
	ViewCount int `json:"view_count"`

	// FirstViewedAt — время первого просмотра, выставляется один раз
	FirstViewedAt *time.Time `json:"first_viewed_at,omitempty"`

	// PrinterID — принтер, на который выпущено задание
	PrinterID *string `json:"printer_id,omitempty"`

	// ReleasedBy — кто выпустил задание
	ReleasedBy *string `json:"released_by,omitempty"`
}

// IsExpired проверяет, истёк ли срок действия release-ссылки.
// Сравнение только с серверными часами, клиентское время не используется.
func (j *Job) IsExpired(now time.Time) bool {
	return now.After(j.ExpiresAt)
}

// IsLive проверяет, что задание в «живом» статусе (документ ещё существует
// или токен ещё действителен): pending или released.
func (j *Job) IsLive() bool {
	return j.Status == StatusPending || j.Status == StatusReleased
}

// Cost возвращает стоимость в денежных единицах (два знака после запятой).
func (j *Job) Cost() float64 {
	return float64(j.CostCents) / 100
}

// baseCostCents — базовая стоимость одной страницы одной копии в центах.
const baseCostCents = 10

// ComputeCostCents вычисляет детерминированную стоимость печати в центах:
// base × pages × copies × (2 если color) × (0.8 если duplex).
// Арифметика целочисленная и точная: base кратен 5, поэтому скидка
// за duplex (×4/5) не оставляет остатка.
func ComputeCostCents(p PrintParams) int64 {
	cents := int64(baseCostCents) * int64(p.Pages) * int64(p.Copies)
	if p.Color {
		cents *= 2
	}
	if p.Duplex {
		cents = cents * 4 / 5
	}
	return cents
}

// Document — зашифрованный документ задания. 1:1 с Job.
// Шифртекст лежит в blob-хранилище по StoragePath; строка содержит
// путь и криптографический конверт (secret, IV, auth tag).
type Document struct {
	// ID — уникальный идентификатор записи (UUID v4)
	ID string `json:"id"`

	// JobID — идентификатор задания (уникальный FK)
	JobID string `json:"job_id"`

	// StoragePath — имя blob-файла относительно PL_UPLOADS_DIR.
	// Выводится из UUID задания, никогда из пользовательского имени.
	StoragePath string `json:"-"`

	// MimeType — MIME-тип исходного файла
	MimeType string `json:"mime_type"`

	// Filename — оригинальное имя файла при загрузке
	Filename string `json:"filename"`

	// Size — размер исходного (незашифрованного) файла в байтах
	Size int64 `json:"size"`

	// CreatedAt — время создания записи (UTC)
	CreatedAt time.Time `json:"created_at"`

	// EncSecret — секрет для PBKDF2-деривации ключа (per-job)
	EncSecret []byte `json:"-"`

	// EncIV — 96-битный IV AES-GCM
	EncIV []byte `json:"-"`

	// EncAuthTag — 128-битный тег аутентичности AES-GCM
	EncAuthTag []byte `json:"-"`
}

// DocumentAnalysis — результат анализа документа. 0..N на документ,
// справочный, не на критическом пути.
type DocumentAnalysis struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string `json:"id"`
	// JobID — идентификатор задания
	JobID string `json:"job_id"`
	// Result — opaque JSON-результат анализа
	Result []byte `json:"result"`
	// CreatedAt — время создания (UTC)
	CreatedAt time.Time `json:"created_at"`
}

// JobView — запись аудита просмотра. Append-only: никогда не изменяется
// и не удаляется при истечении задания.
type JobView struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string `json:"id"`
	// JobID — идентификатор задания
	JobID string `json:"job_id"`
	// Viewer — идентификатор пользователя или "anonymous"
	Viewer string `json:"viewer"`
	// ViewedAt — время просмотра (UTC)
	ViewedAt time.Time `json:"viewed_at"`
	// UserAgent — User-Agent браузера
	UserAgent string `json:"user_agent"`
	// IP — адрес клиента
	IP string `json:"ip"`
}
