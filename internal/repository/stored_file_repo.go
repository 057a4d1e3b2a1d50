package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/awattacker/observer/internal/model"
)

// DefaultListLimit is used when List is called without a positive limit.
const DefaultListLimit = 50

// StoredFileRepository provides data access for the stored file catalog.
type StoredFileRepository struct {
	db *sql.DB
}

// NewStoredFileRepository creates a new StoredFileRepository.
func NewStoredFileRepository(db *sql.DB) *StoredFileRepository {
	return &StoredFileRepository{db: db}
}

// Create inserts a new stored file record.
func (r *StoredFileRepository) Create(ctx context.Context, file *model.StoredFile) error {
	query := `
		INSERT INTO stored_files (id, transfer_id, file_name, content_type, size, saved_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		file.ID,
		file.TransferID,
		file.FileName,
		file.ContentType,
		file.Size,
		file.SavedPath,
		file.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create stored file: %w", err)
	}

	return nil
}

// GetByID retrieves a stored file by its ID.
func (r *StoredFileRepository) GetByID(ctx context.Context, id string) (*model.StoredFile, error) {
	query := `
		SELECT id, transfer_id, file_name, content_type, size, saved_path, created_at
		FROM stored_files
		WHERE id = ?
	`

	file, err := scanStoredFile(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stored file: %w", err)
	}
	return file, nil
}

// List returns the most recent stored files, newest first.
func (r *StoredFileRepository) List(ctx context.Context, limit int) ([]*model.StoredFile, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, transfer_id, file_name, content_type, size, saved_path, created_at
		FROM stored_files
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored files: %w", err)
	}
	defer rows.Close()

	files := []*model.StoredFile{}
	for rows.Next() {
		file, err := scanStoredFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stored file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stored files: %w", err)
	}

	return files, nil
}

// Delete removes a stored file record. The file on disk is left alone.
func (r *StoredFileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM stored_files WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete stored file: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrFileNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoredFile(row rowScanner) (*model.StoredFile, error) {
	file := &model.StoredFile{}
	var contentType sql.NullString

	err := row.Scan(
		&file.ID,
		&file.TransferID,
		&file.FileName,
		&contentType,
		&file.Size,
		&file.SavedPath,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contentType.Valid {
		file.ContentType = contentType.String
	}
	return file, nil
}
