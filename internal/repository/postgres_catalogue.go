package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"filevault/internal/domain"
)

// PostgresCatalogue хранит каталог в таблицах file_headers и file_header_versions.
// Несколько каталогов делят одни таблицы и различаются колонкой catalogue.
type PostgresCatalogue struct {
	name string
	db   *sqlx.DB
	now  func() time.Time
}

var _ Catalogue = (*PostgresCatalogue)(nil)

func NewPostgresCatalogue(name string, db *sqlx.DB) *PostgresCatalogue {
	return &PostgresCatalogue{
		name: name,
		db:   db,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

type headerRow struct {
	FileID          uuid.UUID     `db:"file_id"`
	Name            string        `db:"name"`
	CreatedAt       time.Time     `db:"created_at"`
	DeletedAt       sql.NullTime  `db:"deleted_at"`
	ActiveVersionID uuid.NullUUID `db:"active_version_id"`
}

type versionRow struct {
	FileID    uuid.UUID    `db:"file_id"`
	VersionID uuid.UUID    `db:"version_id"`
	Length    int64        `db:"length"`
	Hash      []byte       `db:"hash"`
	Status    string       `db:"status"`
	CreatedAt time.Time    `db:"created_at"`
	DeletedAt sql.NullTime `db:"deleted_at"`
}

func (r headerRow) toDomain() domain.FileHeader {
	header := domain.FileHeader{
		FileID:    r.FileID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		Versions:  []domain.FileHeaderVersion{},
	}
	if r.DeletedAt.Valid {
		deletedAt := r.DeletedAt.Time
		header.DeletedAt = &deletedAt
	}
	if r.ActiveVersionID.Valid {
		active := r.ActiveVersionID.UUID
		header.ActiveVersionID = &active
	}
	return header
}

func (r versionRow) toDomain() (domain.FileHeaderVersion, error) {
	status, err := domain.ParseVersionStatus(r.Status)
	if err != nil {
		return domain.FileHeaderVersion{}, err
	}
	version := domain.FileHeaderVersion{
		VersionID: r.VersionID,
		Length:    r.Length,
		Hash:      r.Hash,
		CreatedAt: r.CreatedAt,
		Status:    status,
	}
	if r.DeletedAt.Valid {
		deletedAt := r.DeletedAt.Time
		version.DeletedAt = &deletedAt
	}
	return version, nil
}

const (
	selectHeaderColumns  = `file_id, name, created_at, deleted_at, active_version_id`
	selectVersionColumns = `file_id, version_id, length, hash, status, created_at, deleted_at`
)

func (c *PostgresCatalogue) Name() string {
	return c.name
}

// snapshot - заголовок и его версии читаются из одного снимка,
// иначе параллельная отмена записи видна между двумя запросами
var snapshot = &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead}

func (c *PostgresCatalogue) Get(ctx context.Context, fileID uuid.UUID) (*domain.FileHeader, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}

	var result *domain.FileHeader
	err := c.inTxOptions(ctx, snapshot, func(tx *sqlx.Tx) error {
		var row headerRow
		query := `SELECT ` + selectHeaderColumns + ` FROM file_headers WHERE catalogue = $1 AND file_id = $2`
		if err := tx.GetContext(ctx, &row, query, c.name, fileID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("failed to get file header: %w", err)
		}

		var versions []versionRow
		query = `SELECT ` + selectVersionColumns + ` FROM file_header_versions WHERE file_id = $1 ORDER BY position`
		if err := tx.SelectContext(ctx, &versions, query, fileID); err != nil {
			return fmt.Errorf("failed to get file versions: %w", err)
		}

		header := row.toDomain()
		for _, v := range versions {
			version, err := v.toDomain()
			if err != nil {
				return err
			}
			header.Versions = append(header.Versions, version)
		}
		if len(header.Versions) == 0 {
			return nil
		}
		result = &header
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *PostgresCatalogue) List(ctx context.Context, page int) ([]domain.FileHeader, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, fmt.Errorf("%w: negative page %d", domain.ErrInvalidArgument, page)
	}

	result := make([]domain.FileHeader, 0)
	err := c.inTxOptions(ctx, snapshot, func(tx *sqlx.Tx) error {
		var rows []headerRow
		query := `SELECT ` + selectHeaderColumns + ` FROM file_headers
        WHERE catalogue = $1
        ORDER BY seq
        LIMIT $2 OFFSET $3`
		if err := tx.SelectContext(ctx, &rows, query, c.name, PageSize, page*PageSize); err != nil {
			return fmt.Errorf("failed to list file headers: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]string, len(rows))
		headers := make([]domain.FileHeader, len(rows))
		index := make(map[uuid.UUID]int, len(rows))
		for i, r := range rows {
			ids[i] = r.FileID.String()
			index[r.FileID] = i
			headers[i] = r.toDomain()
		}

		var versions []versionRow
		query = `SELECT ` + selectVersionColumns + ` FROM file_header_versions
        WHERE file_id = ANY($1::uuid[])
        ORDER BY file_id, position`
		if err := tx.SelectContext(ctx, &versions, query, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to list file versions: %w", err)
		}

		for _, v := range versions {
			i, ok := index[v.FileID]
			if !ok {
				continue
			}
			version, err := v.toDomain()
			if err != nil {
				return err
			}
			headers[i].Versions = append(headers[i].Versions, version)
		}

		// заголовок без версий не существует
		for _, header := range headers {
			if len(header.Versions) > 0 {
				result = append(result, header)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *PostgresCatalogue) StartCreate(ctx context.Context, name string) (domain.FileVersionID, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return domain.FileVersionID{}, err
	}
	if name == "" {
		return domain.FileVersionID{}, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}

	id := domain.FileVersionID{FileID: uuid.New(), VersionID: uuid.New()}
	now := c.now()

	err := c.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO file_headers (catalogue, file_id, name, created_at)
            VALUES ($1, $2, $3, $4)`,
			c.name, id.FileID, name, now)
		if err != nil {
			return fmt.Errorf("failed to insert file header: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO file_header_versions (file_id, version_id, position, status, created_at)
            VALUES ($1, $2, 0, $3, $4)`,
			id.FileID, id.VersionID, domain.StatusWriting.String(), now)
		if err != nil {
			return fmt.Errorf("failed to insert file version: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FileVersionID{}, err
	}
	return id, nil
}

func (c *PostgresCatalogue) StartWriting(ctx context.Context, fileID uuid.UUID) (domain.FileVersionID, error) {
	if err := domain.CheckContext(ctx); err != nil {
		return domain.FileVersionID{}, err
	}

	id := domain.FileVersionID{FileID: fileID, VersionID: uuid.New()}

	err := c.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := c.lockHeader(ctx, tx, fileID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
            INSERT INTO file_header_versions (file_id, version_id, position, status, created_at)
            SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3, $4
            FROM file_header_versions WHERE file_id = $1`,
			fileID, id.VersionID, domain.StatusWriting.String(), c.now())
		if err != nil {
			return fmt.Errorf("failed to insert file version: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.FileVersionID{}, err
	}
	return id, nil
}

func (c *PostgresCatalogue) CompleteWriting(ctx context.Context, fileID, versionID uuid.UUID, length int64, hash []byte) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}
	if err := validateCompletion(length, hash); err != nil {
		return err
	}

	return c.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.lockWritingVersion(ctx, tx, fileID, versionID); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
            UPDATE file_header_versions SET length = $3, hash = $4, status = $5
            WHERE file_id = $1 AND version_id = $2`,
			fileID, versionID, length, hash, domain.StatusOk.String())
		if err != nil {
			return fmt.Errorf("failed to complete file version: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE file_headers SET active_version_id = $2 WHERE file_id = $1`,
			fileID, versionID)
		if err != nil {
			return fmt.Errorf("failed to set active version: %w", err)
		}
		return nil
	})
}

func (c *PostgresCatalogue) CancelWriting(ctx context.Context, fileID, versionID uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	return c.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := c.lockWritingVersion(ctx, tx, fileID, versionID); err != nil {
			return err
		}
		return c.removeVersion(ctx, tx, fileID, versionID, false)
	})
}

func (c *PostgresCatalogue) DeleteVersion(ctx context.Context, fileID, versionID uuid.UUID) error {
	if err := domain.CheckContext(ctx); err != nil {
		return err
	}

	return c.inTx(ctx, func(tx *sqlx.Tx) error {
		active, err := c.lockHeader(ctx, tx, fileID)
		if errors.Is(err, domain.ErrFileNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var status string
		err = tx.GetContext(ctx, &status,
			`SELECT status FROM file_header_versions WHERE file_id = $1 AND version_id = $2`,
			fileID, versionID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get file version: %w", err)
		}

		wasActive := active.Valid && active.UUID == versionID
		return c.removeVersion(ctx, tx, fileID, versionID, wasActive)
	})
}

// lockHeader блокирует строку заголовка до конца транзакции и возвращает активную версию
func (c *PostgresCatalogue) lockHeader(ctx context.Context, tx *sqlx.Tx, fileID uuid.UUID) (uuid.NullUUID, error) {
	var active uuid.NullUUID
	err := tx.QueryRowxContext(ctx,
		`SELECT active_version_id FROM file_headers WHERE catalogue = $1 AND file_id = $2 FOR UPDATE`,
		c.name, fileID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return active, fmt.Errorf("%w: %s", domain.ErrFileNotFound, fileID)
	}
	if err != nil {
		return active, fmt.Errorf("failed to lock file header: %w", err)
	}
	return active, nil
}

func (c *PostgresCatalogue) lockWritingVersion(ctx context.Context, tx *sqlx.Tx, fileID, versionID uuid.UUID) error {
	if _, err := c.lockHeader(ctx, tx, fileID); err != nil {
		return err
	}

	var status string
	err := tx.GetContext(ctx, &status,
		`SELECT status FROM file_header_versions WHERE file_id = $1 AND version_id = $2`,
		fileID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s/%s", domain.ErrFileVersionNotFound, fileID, versionID)
	}
	if err != nil {
		return fmt.Errorf("failed to get file version: %w", err)
	}
	if status != domain.StatusWriting.String() {
		return fmt.Errorf("%w: version %s is %s, not writing", domain.ErrInvalidOperation, versionID, status)
	}
	return nil
}

// removeVersion удаляет версию, а заголовок без версий удаляется целиком
func (c *PostgresCatalogue) removeVersion(ctx context.Context, tx *sqlx.Tx, fileID, versionID uuid.UUID, wasActive bool) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM file_header_versions WHERE file_id = $1 AND version_id = $2`,
		fileID, versionID)
	if err != nil {
		return fmt.Errorf("failed to delete file version: %w", err)
	}

	var remaining int
	err = tx.GetContext(ctx, &remaining,
		`SELECT COUNT(*) FROM file_header_versions WHERE file_id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("failed to count file versions: %w", err)
	}

	if remaining == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM file_headers WHERE file_id = $1`, fileID); err != nil {
			return fmt.Errorf("failed to delete file header: %w", err)
		}
		return nil
	}

	if wasActive {
		_, err = tx.ExecContext(ctx, `
            UPDATE file_headers SET active_version_id = (
                SELECT version_id FROM file_header_versions
                WHERE file_id = $1 AND status = $2
                ORDER BY position DESC
                LIMIT 1
            )
            WHERE file_id = $1`,
			fileID, domain.StatusOk.String())
		if err != nil {
			return fmt.Errorf("failed to move active version: %w", err)
		}
	}
	return nil
}

func (c *PostgresCatalogue) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return c.inTxOptions(ctx, nil, fn)
}

func (c *PostgresCatalogue) inTxOptions(ctx context.Context, opts *sql.TxOptions, fn func(tx *sqlx.Tx) error) error {
	tx, err := c.db.BeginTxx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", domain.AsCancelled(err))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return domain.AsCancelled(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", domain.AsCancelled(err))
	}
	return nil
}
