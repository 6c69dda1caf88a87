package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionStatus - состояние версии файла
type VersionStatus int

const (
	StatusOk         VersionStatus = 1
	StatusWriting    VersionStatus = 2
	StatusSoftDelete VersionStatus = 4
	StatusHardDelete VersionStatus = 8
)

func (s VersionStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusWriting:
		return "writing"
	case StatusSoftDelete:
		return "soft-delete"
	case StatusHardDelete:
		return "hard-delete"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseVersionStatus разбирает строковое представление статуса (как в БД и JSON)
func ParseVersionStatus(s string) (VersionStatus, error) {
	switch s {
	case "ok":
		return StatusOk, nil
	case "writing":
		return StatusWriting, nil
	case "soft-delete":
		return StatusSoftDelete, nil
	case "hard-delete":
		return StatusHardDelete, nil
	}
	return 0, fmt.Errorf("%w: unknown version status %q", ErrInvalidArgument, s)
}

func (s VersionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *VersionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseVersionStatus(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FileHeaderVersion - одна версия содержимого файла.
// VersionID одновременно является ключом объекта в хранилище содержимого.
// Length и Hash заполняются ровно один раз, при переходе Writing -> Ok.
type FileHeaderVersion struct {
	VersionID uuid.UUID     `json:"version_id" db:"version_id"`
	Length    int64         `json:"length" db:"length"`
	Hash      []byte        `json:"hash,omitempty" db:"hash"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	DeletedAt *time.Time    `json:"deleted_at,omitempty" db:"deleted_at"`
	Status    VersionStatus `json:"status" db:"-"`
}

func (v FileHeaderVersion) Clone() FileHeaderVersion {
	c := v
	if v.Hash != nil {
		c.Hash = append([]byte(nil), v.Hash...)
	}
	if v.DeletedAt != nil {
		deletedAt := *v.DeletedAt
		c.DeletedAt = &deletedAt
	}
	return c
}
