// Package record assembles the display-ready record of a processed piece.
package record

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/ledger-intake/internal/domain/currency"
	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/normalizer"
	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/parse"
	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/repository"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

// ErrNoValidEntries means the tree holds no usable ledger entries and no
// record can be built.
var ErrNoValidEntries = errors.New("no valid entries")

// Entry fields read when building the record. Alternatives are tried in
// order.
var (
	labelFields         = []string{"Libelle", "label", "Description"}
	accountFields       = []string{"NumCompte", "Compte", "accountRef"}
	dateFields          = []string{"Date", "date", "DateOperation"}
	invoiceNumberFields = []string{"NumFacture", "InvoiceNumber", "invoiceNumber"}
	taxAmountFields     = []string{"TotalTVA", "MontantTVA", "vatTotal"}
	taxRateFields       = []string{"TauxTVA", "taxRate"}
	invoiceDateFields   = []string{"DateFacture", "invoiceDate", "Date"}
)

// Input is everything the assembler needs for one piece.
type Input struct {
	Piece      *repository.Piece
	Dossier    *repository.Dossier
	Tree       any
	Conversion currency.Context
	// Original is the piece this one duplicates, if any.
	Original *repository.PieceRef
}

// Result is an assembled record plus the converted entries it was built from.
type Result struct {
	Record  *PieceDTO
	Entries []any
	// Degraded is set when population failed and Record only carries
	// identifiers.
	Degraded bool
}

type step func(dto *PieceDTO, in Input, entries []any)

// Assembler builds PieceDTOs.
type Assembler struct {
	logger *slog.Logger
	steps  []step
}

// NewAssembler creates an assembler
func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		logger: logger,
		steps:  []step{withMetadata, withHeader, withProvenance, withDuplicate, withEcritures},
	}
}

// Build assembles the record of in.Piece. It fails with ErrNoValidEntries
// when the tree has no entries; any other failure yields a minimal record.
func (a *Assembler) Build(in Input) (Result, error) {
	if in.Piece == nil {
		return Result{}, fmt.Errorf("%w: missing piece", ErrNoValidEntries)
	}

	entries, err := normalizer.ExtractEntries(in.Tree)
	if err != nil {
		a.logger.Warn("cannot build record", "piece_id", in.Piece.ID, "stage", "extract_entries", "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrNoValidEntries, err)
	}

	converted := currency.Apply(entries, in.Conversion)
	dto, err := a.populate(in, converted)
	if err != nil {
		observability.RecordFallbacks.Inc()
		a.logger.Error("record assembly failed, returning minimal record",
			"piece_id", in.Piece.ID,
			"stage", "populate",
			"source_currency", in.Conversion.SourceCurrency,
			"target_currency", in.Conversion.TargetCurrency,
			"error", err,
		)
		return Result{Record: minimal(in.Piece), Entries: converted, Degraded: true}, nil
	}
	return Result{Record: dto, Entries: converted}, nil
}

func (a *Assembler) populate(in Input, entries []any) (dto *PieceDTO, err error) {
	defer func() {
		if r := recover(); r != nil {
			dto = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	dto = minimal(in.Piece)
	for _, s := range a.steps {
		s(dto, in, entries)
	}
	dto.Amount = HeadlineAmount(entries)
	return dto, nil
}

func minimal(p *repository.Piece) *PieceDTO {
	return &PieceDTO{ID: p.ID, Filename: p.Filename, DossierID: p.DossierID}
}

func withMetadata(dto *PieceDTO, in Input, _ []any) {
	p := in.Piece
	dto.OriginalFilename = p.OriginalFilename
	dto.Type = p.Type
	dto.Status = string(p.Status)
	if !p.UploadDate.IsZero() {
		upload := p.UploadDate
		dto.UploadDate = &upload
	}
	dto.IsForced = p.IsForced
	if in.Dossier != nil {
		dto.DossierName = in.Dossier.Name
	}
}

// withHeader reads invoice-level fields from the first entry.
func withHeader(dto *PieceDTO, _ Input, entries []any) {
	header := entries[0]
	dto.InvoiceNumber = parse.FirstString(header, "", invoiceNumberFields...)
	dto.TaxAmount = firstFloat(header, taxAmountFields...)
	dto.TaxRate = firstFloat(header, taxRateFields...)
	if raw := parse.FirstString(header, "", invoiceDateFields...); raw != "" {
		if t, err := parse.EntryDate(raw); err == nil {
			dto.InvoiceDate = parse.Date{Time: t}
		}
	}
}

func withProvenance(dto *PieceDTO, in Input, _ []any) {
	p := in.Piece
	c := in.Conversion

	dto.AICurrency = p.AICurrency
	dto.AIAmount = p.AIAmount

	dto.OriginalCurrency = c.SourceCurrency
	if p.OriginalCurrency != nil && *p.OriginalCurrency != "" {
		dto.OriginalCurrency = *p.OriginalCurrency
	}
	dto.ConvertedCurrency = c.TargetCurrency
	if p.ConvertedCurrency != nil && *p.ConvertedCurrency != "" {
		dto.ConvertedCurrency = *p.ConvertedCurrency
	}

	switch {
	case c.Converts():
		rate := c.Rate
		dto.ExchangeRate = &rate
		if !c.RateDate.IsZero() {
			dto.ExchangeRateDate = &parse.Date{Time: c.RateDate}
		}
	case p.ExchangeRate != nil:
		rate := *p.ExchangeRate
		dto.ExchangeRate = &rate
		if p.ExchangeRateDate != nil {
			dto.ExchangeRateDate = &parse.Date{Time: *p.ExchangeRateDate}
		}
	}
}

func withDuplicate(dto *PieceDTO, in Input, _ []any) {
	dto.IsDuplicate = in.Piece.IsDuplicate
	if in.Original != nil {
		id := in.Original.ID
		dto.OriginalPieceID = &id
		dto.OriginalPieceName = in.Original.Filename
		return
	}
	if in.Piece.OriginalPieceID != nil {
		id := *in.Piece.OriginalPieceID
		dto.OriginalPieceID = &id
	}
}

func withEcritures(dto *PieceDTO, in Input, entries []any) {
	dto.Ecritures = make([]EcritureDTO, 0, len(entries))
	for _, e := range entries {
		ecriture := EcritureDTO{
			Label:              parse.CleanLabel(parse.FirstString(e, "", labelFields...)),
			Date:               entryDate(e),
			IsTransactionGroup: currency.IsTransactionGroup(e),
		}
		if ecriture.IsTransactionGroup {
			nested, _ := parse.Array(e, currency.FieldGroupEntries)
			ecriture.Lines = make([]LineDTO, 0, len(nested))
			for _, n := range nested {
				ecriture.Lines = append(ecriture.Lines, buildLine(n, in.Conversion))
			}
		} else {
			ecriture.Lines = []LineDTO{buildLine(e, in.Conversion)}
		}
		dto.Ecritures = append(dto.Ecritures, ecriture)
	}
}

func buildLine(e any, c currency.Context) LineDTO {
	line := LineDTO{
		Label:      parse.CleanLabel(parse.FirstString(e, "", labelFields...)),
		Debit:      parse.Float(e, currency.FieldDebit),
		Credit:     parse.Float(e, currency.FieldCredit),
		AccountRef: parse.FirstString(e, "", accountFields...),
	}

	line.OriginalDebit = line.Debit
	line.OriginalCredit = line.Credit
	if _, ok := parse.Field(e, currency.FieldOriginalDebit); ok {
		line.OriginalDebit = parse.Float(e, currency.FieldOriginalDebit)
	}
	if _, ok := parse.Field(e, currency.FieldOriginalCredit); ok {
		line.OriginalCredit = parse.Float(e, currency.FieldOriginalCredit)
	}

	line.ConvertedCurrency = parse.String(e, currency.FieldCurrency, c.TargetCurrency)
	line.OriginalCurrency = parse.String(e, currency.FieldOriginalCurrency, c.SourceCurrency)
	if _, ok := parse.Field(e, currency.FieldExchangeRate); ok {
		rate := parse.Float(e, currency.FieldExchangeRate)
		line.ExchangeRate = &rate
	}
	if raw := parse.String(e, currency.FieldExchangeRateDate, ""); raw != "" {
		if t, err := parse.StrictDate(raw); err == nil {
			line.ExchangeRateDate = &parse.Date{Time: t}
		}
	}

	switch {
	case line.ConvertedCurrency == currency.USD:
		line.USDDebit = ptr(line.Debit)
		line.USDCredit = ptr(line.Credit)
	case line.OriginalCurrency == currency.USD:
		line.USDDebit = ptr(line.OriginalDebit)
		line.USDCredit = ptr(line.OriginalCredit)
	case c.USDRate > 0:
		line.USDDebit = ptr(currency.Round2(line.OriginalDebit * c.USDRate))
		line.USDCredit = ptr(currency.Round2(line.OriginalCredit * c.USDRate))
	}
	return line
}

// HeadlineAmount is the largest single debit or credit across entries,
// including entries nested in transaction groups.
func HeadlineAmount(entries []any) float64 {
	var largest float64
	for _, e := range entries {
		if currency.IsTransactionGroup(e) {
			nested, _ := parse.Array(e, currency.FieldGroupEntries)
			if m := HeadlineAmount(nested); m > largest {
				largest = m
			}
			continue
		}
		if d := parse.Float(e, currency.FieldDebit); d > largest {
			largest = d
		}
		if c := parse.Float(e, currency.FieldCredit); c > largest {
			largest = c
		}
	}
	return largest
}

// TransactionDate is the first entry date the tree carries, or the zero time.
func TransactionDate(entries []any) time.Time {
	for _, e := range entries {
		if d := entryDate(e); !d.IsZero() {
			return d.Time
		}
		if currency.IsTransactionGroup(e) {
			nested, _ := parse.Array(e, currency.FieldGroupEntries)
			if t := TransactionDate(nested); !t.IsZero() {
				return t
			}
		}
	}
	return time.Time{}
}

func entryDate(e any) parse.Date {
	raw := parse.FirstString(e, "", dateFields...)
	if raw == "" {
		return parse.Date{}
	}
	t, err := parse.EntryDate(raw)
	if err != nil {
		return parse.Date{}
	}
	return parse.Date{Time: t}
}

func firstFloat(node any, fields ...string) float64 {
	for _, f := range fields {
		if _, ok := parse.Field(node, f); ok {
			return parse.Float(node, f)
		}
	}
	return 0
}

func ptr(v float64) *float64 { return &v }
