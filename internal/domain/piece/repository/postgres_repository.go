package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FACorreiaa/ledger-intake/internal/domain/common"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the repository to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

var _ PieceRepository = (*PostgresPieceRepository)(nil)

const pieceColumns = `id, dossier_id, filename, original_filename, type, status, upload_date, amount,
		       content_hash, ai_amount, ai_currency, original_currency, converted_currency,
		       exchange_rate, exchange_rate_date, is_duplicate, original_piece_id, is_forced,
		       ecritures, processing_started_at, updated_at`

const (
	getPieceByIDQuery = `
		SELECT ` + pieceColumns + `
		FROM pieces WHERE id = $1
	`

	getPieceRefQuery = `SELECT id, filename FROM pieces WHERE id = $1`

	markProcessingQuery = `
		UPDATE pieces SET status = 'PROCESSING', processing_started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status <> 'PROCESSING'
	`

	updateCurrencyFieldsQuery = `
		UPDATE pieces SET
			original_currency = $2, converted_currency = $3, exchange_rate = $4,
			exchange_rate_date = $5, updated_at = NOW()
		WHERE id = $1
	`

	updateDuplicateStatusQuery = `
		UPDATE pieces SET is_duplicate = $2, original_piece_id = $3, updated_at = NOW()
		WHERE id = $1
	`

	saveProcessingResultQuery = `
		UPDATE pieces SET
			status = $2, amount = $3, ecritures = $4,
			processing_started_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	updateStatusQuery = `
		UPDATE pieces SET status = $2, processing_started_at = NULL, updated_at = NOW()
		WHERE id = $1
	`

	resetStaleProcessingQuery = `
		UPDATE pieces SET status = 'UPLOADED', processing_started_at = NULL, updated_at = NOW()
		WHERE status = 'PROCESSING' AND processing_started_at < $1
	`

	getDossierByIDQuery = `SELECT id, name, currency FROM dossiers WHERE id = $1`

	findByFilenameQuery = `
		SELECT id, filename FROM pieces
		WHERE filename = $1 AND id <> $2
		ORDER BY upload_date ASC
		LIMIT 1
	`

	findByContentHashQuery = `
		SELECT id, filename FROM pieces
		WHERE content_hash = $1 AND id <> $2
		ORDER BY upload_date ASC
		LIMIT 1
	`

	findSimilarQuery = `
		SELECT id, filename FROM pieces
		WHERE dossier_id = $1
		  AND ai_amount BETWEEN $2 AND $3
		  AND ai_currency = $4
		  AND upload_date::date = $5::date
		  AND id <> $6
		ORDER BY upload_date ASC
		LIMIT 1
	`
)

// PostgresPieceRepository implements PieceRepository using PostgreSQL
type PostgresPieceRepository struct {
	pgpool PgxPool
}

// NewPostgresPieceRepository creates a new PostgreSQL-backed piece repository
func NewPostgresPieceRepository(pgpool PgxPool) *PostgresPieceRepository {
	return &PostgresPieceRepository{pgpool: pgpool}
}

// GetPieceByID retrieves a piece by ID
func (r *PostgresPieceRepository) GetPieceByID(ctx context.Context, id uuid.UUID) (*Piece, error) {
	rows, err := r.pgpool.Query(ctx, getPieceByIDQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get piece: %w", err)
	}

	piece, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[Piece])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan piece: %w", err)
	}

	return &piece, nil
}

// GetPieceRef retrieves the id and filename of a piece
func (r *PostgresPieceRepository) GetPieceRef(ctx context.Context, id uuid.UUID) (*PieceRef, error) {
	return r.findRef(ctx, getPieceRefQuery, id)
}

// MarkProcessing moves a piece to PROCESSING unless another worker already owns it
func (r *PostgresPieceRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pgpool.Exec(ctx, markProcessingQuery, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark piece processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateCurrencyFields persists the resolved currency provenance of a piece
func (r *PostgresPieceRepository) UpdateCurrencyFields(ctx context.Context, piece *Piece) error {
	_, err := r.pgpool.Exec(ctx, updateCurrencyFieldsQuery,
		piece.ID, piece.OriginalCurrency, piece.ConvertedCurrency,
		piece.ExchangeRate, piece.ExchangeRateDate,
	)
	if err != nil {
		return fmt.Errorf("failed to update currency fields: %w", err)
	}
	return nil
}

// UpdateDuplicateStatus sets the duplicate flag and back-reference
func (r *PostgresPieceRepository) UpdateDuplicateStatus(ctx context.Context, id uuid.UUID, isDuplicate bool, originalID *uuid.UUID) error {
	_, err := r.pgpool.Exec(ctx, updateDuplicateStatusQuery, id, isDuplicate, originalID)
	if err != nil {
		return fmt.Errorf("failed to update duplicate status: %w", err)
	}
	return nil
}

// SaveProcessingResult stores the outcome of a pipeline run
func (r *PostgresPieceRepository) SaveProcessingResult(ctx context.Context, id uuid.UUID, result ProcessingResult) error {
	var ecritures any
	if len(result.Ecritures) > 0 {
		ecritures = []byte(result.Ecritures)
	}
	_, err := r.pgpool.Exec(ctx, saveProcessingResultQuery, id, string(result.Status), result.Amount, ecritures)
	if err != nil {
		return fmt.Errorf("failed to save processing result: %w", err)
	}
	return nil
}

// UpdateStatus updates the status of a piece
func (r *PostgresPieceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.pgpool.Exec(ctx, updateStatusQuery, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update piece status: %w", err)
	}
	return nil
}

// ResetStaleProcessing sends pieces stuck in PROCESSING back to UPLOADED
func (r *PostgresPieceRepository) ResetStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error) {
	tag, err := r.pgpool.Exec(ctx, resetStaleProcessingQuery, startedBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale pieces: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetDossierByID retrieves a dossier by ID
func (r *PostgresPieceRepository) GetDossierByID(ctx context.Context, id uuid.UUID) (*Dossier, error) {
	var d Dossier
	err := r.pgpool.QueryRow(ctx, getDossierByIDQuery, id).Scan(&d.ID, &d.Name, &d.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dossier: %w", err)
	}
	return &d, nil
}

// FindByFilename returns another piece with the same filename, or nil
func (r *PostgresPieceRepository) FindByFilename(ctx context.Context, filename string, excludeID uuid.UUID) (*PieceRef, error) {
	return r.findOptionalRef(ctx, findByFilenameQuery, filename, excludeID)
}

// FindByContentHash returns another piece with the same content hash, or nil
func (r *PostgresPieceRepository) FindByContentHash(ctx context.Context, hash string, excludeID uuid.UUID) (*PieceRef, error) {
	return r.findOptionalRef(ctx, findByContentHashQuery, hash, excludeID)
}

// FindSimilar returns another piece of the dossier whose extracted amount,
// currency and upload day match q, or nil
func (r *PostgresPieceRepository) FindSimilar(ctx context.Context, q SimilarQuery) (*PieceRef, error) {
	return r.findOptionalRef(ctx, findSimilarQuery,
		q.DossierID, q.MinAmount, q.MaxAmount, q.Currency, q.UploadDate, q.ExcludeID,
	)
}

func (r *PostgresPieceRepository) findRef(ctx context.Context, query string, args ...any) (*PieceRef, error) {
	var ref PieceRef
	err := r.pgpool.QueryRow(ctx, query, args...).Scan(&ref.ID, &ref.Filename)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get piece reference: %w", err)
	}
	return &ref, nil
}

func (r *PostgresPieceRepository) findOptionalRef(ctx context.Context, query string, args ...any) (*PieceRef, error) {
	ref, err := r.findRef(ctx, query, args...)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	return ref, err
}
