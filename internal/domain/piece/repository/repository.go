// Package repository provides data access for pieces and their dossiers.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a piece.
type Status string

const (
	StatusUploaded   Status = "UPLOADED"
	StatusProcessing Status = "PROCESSING"
	StatusProcessed  Status = "PROCESSED"
	StatusRejected   Status = "REJECTED"
)

// Piece is an uploaded source document plus its extracted accounting data
type Piece struct {
	ID                  uuid.UUID       `db:"id"`
	DossierID           uuid.UUID       `db:"dossier_id"`
	Filename            string          `db:"filename"`
	OriginalFilename    string          `db:"original_filename"`
	Type                string          `db:"type"` // "invoice", "bank_statement"
	Status              Status          `db:"status"`
	UploadDate          time.Time       `db:"upload_date"`
	Amount              *float64        `db:"amount"`
	ContentHash         *string         `db:"content_hash"`
	AIAmount            *float64        `db:"ai_amount"`
	AICurrency          *string         `db:"ai_currency"`
	OriginalCurrency    *string         `db:"original_currency"`
	ConvertedCurrency   *string         `db:"converted_currency"`
	ExchangeRate        *float64        `db:"exchange_rate"`
	ExchangeRateDate    *time.Time      `db:"exchange_rate_date"`
	IsDuplicate         bool            `db:"is_duplicate"`
	OriginalPieceID     *uuid.UUID      `db:"original_piece_id"`
	IsForced            bool            `db:"is_forced"`
	Ecritures           json.RawMessage `db:"ecritures"`
	ProcessingStartedAt *time.Time      `db:"processing_started_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// IsBankStatement reports whether the piece is a bank statement.
func (p *Piece) IsBankStatement() bool {
	return p.Type == TypeBankStatement
}

// Piece types.
const (
	TypeInvoice       = "invoice"
	TypeBankStatement = "bank_statement"
)

// Dossier groups the pieces of one client
type Dossier struct {
	ID       uuid.UUID `db:"id"`
	Name     string    `db:"name"`
	Currency string    `db:"currency"`
}

// PieceRef identifies a piece for back-references.
type PieceRef struct {
	ID       uuid.UUID `db:"id"`
	Filename string    `db:"filename"`
}

// ProcessingResult is persisted at the end of a pipeline run.
type ProcessingResult struct {
	Status    Status
	Amount    *float64
	Ecritures json.RawMessage
}

// PieceRepository defines data access operations for pieces
type PieceRepository interface {
	// Pieces
	GetPieceByID(ctx context.Context, id uuid.UUID) (*Piece, error)
	GetPieceRef(ctx context.Context, id uuid.UUID) (*PieceRef, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateCurrencyFields(ctx context.Context, piece *Piece) error
	UpdateDuplicateStatus(ctx context.Context, id uuid.UUID, isDuplicate bool, originalID *uuid.UUID) error
	SaveProcessingResult(ctx context.Context, id uuid.UUID, result ProcessingResult) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	ResetStaleProcessing(ctx context.Context, startedBefore time.Time) (int64, error)

	// Dossiers
	GetDossierByID(ctx context.Context, id uuid.UUID) (*Dossier, error)

	// Duplicate lookups
	FindByFilename(ctx context.Context, filename string, excludeID uuid.UUID) (*PieceRef, error)
	FindByContentHash(ctx context.Context, hash string, excludeID uuid.UUID) (*PieceRef, error)
	FindSimilar(ctx context.Context, q SimilarQuery) (*PieceRef, error)
}

// SimilarQuery selects pieces whose extracted data matches a candidate.
type SimilarQuery struct {
	DossierID  uuid.UUID
	MinAmount  float64
	MaxAmount  float64
	Currency   string
	UploadDate time.Time
	ExcludeID  uuid.UUID
}
