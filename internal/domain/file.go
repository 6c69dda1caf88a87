package domain

import (
	"time"

	"github.com/google/uuid"
)

// FileHeader описывает файл в каталоге: идентификатор, имя и упорядоченный список версий
type FileHeader struct {
	FileID          uuid.UUID           `json:"file_id" db:"file_id"`
	Name            string              `json:"name" db:"name"`
	CreatedAt       time.Time           `json:"created_at" db:"created_at"`
	DeletedAt       *time.Time          `json:"deleted_at,omitempty" db:"deleted_at"`
	ActiveVersionID *uuid.UUID          `json:"active_version_id,omitempty" db:"active_version_id"`
	Versions        []FileHeaderVersion `json:"versions" db:"-"`
}

// FileVersionID адресует конкретную версию конкретного файла
type FileVersionID struct {
	FileID    uuid.UUID `json:"file_id"`
	VersionID uuid.UUID `json:"version_id"`
}

// Clone возвращает глубокую копию заголовка.
// Каталог отдает наружу только копии, чтобы читатели не видели внутренних изменений.
func (h *FileHeader) Clone() *FileHeader {
	if h == nil {
		return nil
	}

	c := *h
	if h.DeletedAt != nil {
		deletedAt := *h.DeletedAt
		c.DeletedAt = &deletedAt
	}
	if h.ActiveVersionID != nil {
		active := *h.ActiveVersionID
		c.ActiveVersionID = &active
	}
	c.Versions = make([]FileHeaderVersion, len(h.Versions))
	for i := range h.Versions {
		c.Versions[i] = h.Versions[i].Clone()
	}
	return &c
}

// FindVersion ищет версию по идентификатору
func (h *FileHeader) FindVersion(versionID uuid.UUID) (*FileHeaderVersion, int) {
	for i := range h.Versions {
		if h.Versions[i].VersionID == versionID {
			return &h.Versions[i], i
		}
	}
	return nil, -1
}

// ActiveVersion возвращает активную (последнюю зафиксированную) версию, если она есть
func (h *FileHeader) ActiveVersion() *FileHeaderVersion {
	if h.ActiveVersionID == nil {
		return nil
	}
	v, _ := h.FindVersion(*h.ActiveVersionID)
	return v
}

// LatestOkVersion возвращает самую новую версию в статусе Ok
func (h *FileHeader) LatestOkVersion() *FileHeaderVersion {
	for i := len(h.Versions) - 1; i >= 0; i-- {
		if h.Versions[i].Status == StatusOk {
			return &h.Versions[i]
		}
	}
	return nil
}
