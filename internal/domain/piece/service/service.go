// Package service runs the AI-response processing pipeline for pieces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/ledger-intake/internal/domain/common"
	"github.com/FACorreiaa/ledger-intake/internal/domain/currency"
	"github.com/FACorreiaa/ledger-intake/internal/domain/duplicate"
	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/normalizer"
	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/repository"
	"github.com/FACorreiaa/ledger-intake/internal/domain/record"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

var (
	// ErrAlreadyProcessing is returned when another worker owns the piece.
	ErrAlreadyProcessing = fmt.Errorf("%w: piece is already processing", common.ErrConflict)
	// ErrPipelinePanic wraps a panic recovered while processing a piece.
	ErrPipelinePanic = errors.New("processing pipeline panicked")
)

// RateResolver resolves the conversion context of a document.
type RateResolver interface {
	Resolve(ctx context.Context, sourceCurrency, targetCurrency string, transactionDate time.Time) currency.Context
}

// DuplicateDetector classifies a piece against the stored ones.
type DuplicateDetector interface {
	Detect(ctx context.Context, piece *repository.Piece) duplicate.Verdict
}

// PieceService processes AI responses and serves assembled records
type PieceService struct {
	repo       repository.PieceRepository
	normalizer *normalizer.Normalizer
	rates      RateResolver
	detector   DuplicateDetector
	assembler  *record.Assembler
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewPieceService creates a new piece service
func NewPieceService(
	repo repository.PieceRepository,
	rates RateResolver,
	detector DuplicateDetector,
	logger *slog.Logger,
) *PieceService {
	return &PieceService{
		repo:       repo,
		normalizer: normalizer.New(logger),
		rates:      rates,
		detector:   detector,
		assembler:  record.NewAssembler(logger),
		logger:     logger,
		tracer:     otel.Tracer("ledger-intake/piece"),
	}
}

// Process runs normalization, conversion, duplicate detection and assembly
// for one piece, persisting each stage. A piece whose response holds no
// entries is REJECTED and record.ErrNoValidEntries is returned.
func (s *PieceService) Process(ctx context.Context, pieceID uuid.UUID, payload any, isBankStatement bool) (*record.Result, error) {
	ctx, span := s.tracer.Start(ctx, "PieceService.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("piece.id", pieceID.String()),
		attribute.Bool("piece.bank_statement", isBankStatement),
	)

	start := time.Now()
	defer func() {
		observability.ProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	res, err := s.process(ctx, pieceID, payload, isBankStatement)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "processed")
	return res, nil
}

func (s *PieceService) process(ctx context.Context, pieceID uuid.UUID, payload any, isBankStatement bool) (*record.Result, error) {
	acquired, err := s.repo.MarkProcessing(ctx, pieceID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark piece processing: %w", err)
	}
	if !acquired {
		return nil, ErrAlreadyProcessing
	}
	return s.runAcquired(ctx, pieceID, payload, isBankStatement)
}

// runAcquired runs the pipeline on a piece this worker holds in PROCESSING.
// A panic releases the piece back to UPLOADED.
func (s *PieceService) runAcquired(ctx context.Context, pieceID uuid.UUID, payload any, isBankStatement bool) (res *record.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = s.release(ctx, pieceID, fmt.Errorf("%w: %v", ErrPipelinePanic, r))
		}
	}()
	return s.pipeline(ctx, pieceID, payload, isBankStatement)
}

func (s *PieceService) pipeline(ctx context.Context, pieceID uuid.UUID, payload any, isBankStatement bool) (*record.Result, error) {
	piece, err := s.repo.GetPieceByID(ctx, pieceID)
	if err != nil {
		return nil, s.release(ctx, pieceID, fmt.Errorf("failed to load piece: %w", err))
	}

	dossier, err := s.repo.GetDossierByID(ctx, piece.DossierID)
	if err != nil {
		s.logger.Warn("dossier unavailable, currency conversion disabled",
			"piece_id", pieceID, "dossier_id", piece.DossierID, "stage", "load_dossier", "error", err)
		dossier = nil
	}

	tree := s.normalize(pieceID, payload, isBankStatement)

	conversion := s.resolveConversion(ctx, piece, dossier, tree)
	applyConversion(piece, conversion)
	if err := s.repo.UpdateCurrencyFields(ctx, piece); err != nil {
		return nil, s.release(ctx, pieceID, fmt.Errorf("failed to persist currency fields: %w", err))
	}

	verdict := s.detectDuplicate(ctx, piece)
	if err := s.repo.UpdateDuplicateStatus(ctx, piece.ID, piece.IsDuplicate, piece.OriginalPieceID); err != nil {
		return nil, s.release(ctx, pieceID, fmt.Errorf("failed to persist duplicate status: %w", err))
	}

	res, err := s.assembler.Build(record.Input{
		Piece:      piece,
		Dossier:    dossier,
		Tree:       tree,
		Conversion: conversion,
		Original:   verdict.Original,
	})
	if errors.Is(err, record.ErrNoValidEntries) {
		observability.PiecesProcessed.WithLabelValues(string(repository.StatusRejected)).Inc()
		if statusErr := s.repo.UpdateStatus(ctx, pieceID, repository.StatusRejected); statusErr != nil {
			s.logger.Error("failed to reject piece", "piece_id", pieceID, "error", statusErr)
		}
		return nil, err
	}
	if err != nil {
		return nil, s.release(ctx, pieceID, err)
	}

	stored, err := json.Marshal(map[string]any{
		normalizer.KeyEcritures:       res.Entries,
		normalizer.KeyIsBankStatement: isBankStatement,
	})
	if err != nil {
		return nil, s.release(ctx, pieceID, fmt.Errorf("failed to encode entries: %w", err))
	}

	amount := res.Record.Amount
	if res.Degraded {
		amount = record.HeadlineAmount(res.Entries)
	}
	if err := s.repo.SaveProcessingResult(ctx, pieceID, repository.ProcessingResult{
		Status:    repository.StatusProcessed,
		Amount:    &amount,
		Ecritures: stored,
	}); err != nil {
		return nil, s.release(ctx, pieceID, fmt.Errorf("failed to save processing result: %w", err))
	}

	res.Record.Status = string(repository.StatusProcessed)
	observability.PiecesProcessed.WithLabelValues(string(repository.StatusProcessed)).Inc()
	s.logger.Info("piece processed",
		"piece_id", pieceID,
		"entries", len(res.Entries),
		"amount", amount,
		"duplicate", piece.IsDuplicate,
		"degraded", res.Degraded,
	)
	return &res, nil
}

// normalize returns the canonical tree, or the original payload when the
// response could not be normalized.
func (s *PieceService) normalize(pieceID uuid.UUID, payload any, isBankStatement bool) any {
	result := s.normalizer.Normalize(payload, isBankStatement)
	if !result.OK() {
		s.logger.Warn("could not normalize AI response, using original payload",
			"piece_id", pieceID, "stage", "normalize", "bank_statement", isBankStatement, "error", result.Err)
		return result.Tree
	}
	return result.Response.Tree()
}

func (s *PieceService) resolveConversion(ctx context.Context, piece *repository.Piece, dossier *repository.Dossier, tree any) currency.Context {
	var source, target string
	if piece.AICurrency != nil {
		source = *piece.AICurrency
	}
	if dossier != nil {
		target = dossier.Currency
	}

	txDate := piece.UploadDate
	if entries, err := normalizer.ExtractEntries(tree); err == nil {
		if d := record.TransactionDate(entries); !d.IsZero() {
			txDate = d
		}
	}

	ctx, span := s.tracer.Start(ctx, "PieceService.resolveConversion")
	defer span.End()
	c := s.rates.Resolve(ctx, source, target, txDate)
	span.SetAttributes(
		attribute.String("currency.source", c.SourceCurrency),
		attribute.String("currency.target", c.TargetCurrency),
		attribute.String("currency.tier", c.Tier),
		attribute.Float64("currency.rate", c.Rate),
	)
	if c.Tier == currency.TierEmergency {
		s.logger.Warn("conversion used emergency rates",
			"piece_id", piece.ID,
			"stage", "resolve_conversion",
			"source_currency", c.SourceCurrency,
			"target_currency", c.TargetCurrency,
			"effective_date", c.RateDate.Format(time.DateOnly),
		)
	}
	return c
}

func applyConversion(piece *repository.Piece, c currency.Context) {
	if c.SourceCurrency != "" {
		src := c.SourceCurrency
		piece.OriginalCurrency = &src
	}
	if c.TargetCurrency != "" {
		tgt := c.TargetCurrency
		piece.ConvertedCurrency = &tgt
	}
	rate := c.Rate
	piece.ExchangeRate = &rate
	if !c.RateDate.IsZero() {
		d := c.RateDate
		piece.ExchangeRateDate = &d
	}
}

func (s *PieceService) detectDuplicate(ctx context.Context, piece *repository.Piece) duplicate.Verdict {
	ctx, span := s.tracer.Start(ctx, "PieceService.detectDuplicate")
	defer span.End()

	verdict := s.detector.Detect(ctx, piece)
	piece.IsDuplicate = verdict.Duplicate
	piece.OriginalPieceID = nil
	if verdict.Original != nil {
		id := verdict.Original.ID
		piece.OriginalPieceID = &id
	}
	span.SetAttributes(attribute.Bool("piece.duplicate", verdict.Duplicate), attribute.String("duplicate.check", verdict.Check))
	return verdict
}

// release hands the piece back to UPLOADED so it can be retried.
func (s *PieceService) release(ctx context.Context, pieceID uuid.UUID, cause error) error {
	if err := s.repo.UpdateStatus(ctx, pieceID, repository.StatusUploaded); err != nil {
		s.logger.Error("failed to release piece", "piece_id", pieceID, "error", err)
	}
	s.logger.Error("piece processing failed", "piece_id", pieceID, "error", cause)
	return cause
}

// Record assembles the record of a processed piece from its stored entries.
func (s *PieceService) Record(ctx context.Context, pieceID uuid.UUID) (*record.PieceDTO, error) {
	ctx, span := s.tracer.Start(ctx, "PieceService.Record")
	defer span.End()

	piece, err := s.repo.GetPieceByID(ctx, pieceID)
	if err != nil {
		return nil, err
	}
	if len(piece.Ecritures) == 0 {
		return nil, fmt.Errorf("%w: piece %s has no entries yet", common.ErrNotFound, pieceID)
	}

	var tree any
	if err := json.Unmarshal(piece.Ecritures, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode stored entries: %w", err)
	}

	dossier, err := s.repo.GetDossierByID(ctx, piece.DossierID)
	if err != nil {
		s.logger.Warn("dossier unavailable", "piece_id", pieceID, "dossier_id", piece.DossierID, "error", err)
		dossier = nil
	}

	var original *repository.PieceRef
	if piece.OriginalPieceID != nil {
		original, err = s.repo.GetPieceRef(ctx, *piece.OriginalPieceID)
		if err != nil {
			s.logger.Warn("original piece unavailable", "piece_id", pieceID, "original_piece_id", *piece.OriginalPieceID, "error", err)
			original = &repository.PieceRef{ID: *piece.OriginalPieceID}
		}
	}

	res, err := s.assembler.Build(record.Input{
		Piece:      piece,
		Dossier:    dossier,
		Tree:       tree,
		Conversion: s.storedContext(ctx, piece),
		Original:   original,
	})
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// storedContext describes entries that were converted when processed. Its
// rate is 1 so they are not converted again; only the USD rate is resolved.
func (s *PieceService) storedContext(ctx context.Context, piece *repository.Piece) currency.Context {
	c := currency.Context{Rate: 1.0}
	if piece.OriginalCurrency != nil {
		c.SourceCurrency = *piece.OriginalCurrency
	}
	if piece.ConvertedCurrency != nil {
		c.TargetCurrency = *piece.ConvertedCurrency
	}
	if c.SourceCurrency == "" {
		return c
	}

	date := piece.UploadDate
	if piece.ExchangeRateDate != nil {
		date = *piece.ExchangeRateDate
	}
	usd := s.rates.Resolve(ctx, c.SourceCurrency, currency.USD, date)
	if usd.Tier != currency.TierUnknownCurrency {
		c.USDRate = usd.Rate
	}
	return c
}
