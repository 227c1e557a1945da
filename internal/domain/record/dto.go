package record

import (
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/parse"
)

// PieceDTO is the assembled, display-ready view of a processed piece.
type PieceDTO struct {
	ID               uuid.UUID  `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"originalFilename,omitempty"`
	Type             string     `json:"type,omitempty"`
	Status           string     `json:"status,omitempty"`
	UploadDate       *time.Time `json:"uploadDate,omitempty"`
	Amount           float64    `json:"amount"`

	DossierID   uuid.UUID `json:"dossierId"`
	DossierName string    `json:"dossierName,omitempty"`

	IsForced          bool       `json:"isForced"`
	IsDuplicate       bool       `json:"isDuplicate"`
	OriginalPieceID   *uuid.UUID `json:"originalPieceId,omitempty"`
	OriginalPieceName string     `json:"originalPieceName,omitempty"`

	AICurrency        *string     `json:"aiCurrency,omitempty"`
	AIAmount          *float64    `json:"aiAmount,omitempty"`
	OriginalCurrency  string      `json:"originalCurrency,omitempty"`
	ConvertedCurrency string      `json:"convertedCurrency,omitempty"`
	ExchangeRate      *float64    `json:"exchangeRate,omitempty"`
	ExchangeRateDate  *parse.Date `json:"exchangeRateDate,omitempty"`

	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	TaxAmount     float64    `json:"taxAmount"`
	TaxRate       float64    `json:"taxRate"`
	InvoiceDate   parse.Date `json:"invoiceDate"`

	Ecritures []EcritureDTO `json:"ecritures"`
}

// EcritureDTO is one ledger entry. Transaction groups carry one line per
// nested entry; plain entries carry a single line.
type EcritureDTO struct {
	Label              string     `json:"label"`
	Date               parse.Date `json:"date"`
	IsTransactionGroup bool       `json:"isTransactionGroup"`
	Lines              []LineDTO  `json:"lines"`
}

// LineDTO is a single debit or credit movement.
type LineDTO struct {
	Label      string  `json:"label"`
	Debit      float64 `json:"debit"`
	Credit     float64 `json:"credit"`
	AccountRef string  `json:"accountRef,omitempty"`

	OriginalDebit     float64     `json:"originalDebit"`
	OriginalCredit    float64     `json:"originalCredit"`
	OriginalCurrency  string      `json:"originalCurrency,omitempty"`
	ConvertedCurrency string      `json:"convertedCurrency,omitempty"`
	ExchangeRate      *float64    `json:"exchangeRate,omitempty"`
	ExchangeRateDate  *parse.Date `json:"exchangeRateDate,omitempty"`

	USDDebit  *float64 `json:"usdDebit,omitempty"`
	USDCredit *float64 `json:"usdCredit,omitempty"`
}
