// Package duplicate decides whether an incoming piece duplicates one that is
// already stored.
package duplicate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/repository"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

// Checks, in evaluation order.
const (
	CheckFilename      = "filename"
	CheckContentHash   = "content_hash"
	CheckExtractedData = "extracted_data"
)

// DefaultTolerance is the relative amount band of the extracted-data check.
const DefaultTolerance = 0.01

// Finder is the subset of the piece repository used by the detector.
type Finder interface {
	FindByFilename(ctx context.Context, filename string, excludeID uuid.UUID) (*repository.PieceRef, error)
	FindByContentHash(ctx context.Context, hash string, excludeID uuid.UUID) (*repository.PieceRef, error)
	FindSimilar(ctx context.Context, q repository.SimilarQuery) (*repository.PieceRef, error)
}

// Config holds the detector settings
type Config struct {
	Tolerance float64
}

// Verdict is the outcome of a detection run.
type Verdict struct {
	Duplicate bool
	Check     string
	Original  *repository.PieceRef
}

// Detector runs the filename, content-hash and extracted-data checks,
// stopping at the first match.
type Detector struct {
	finder Finder
	cfg    Config
	logger *slog.Logger
}

// NewDetector creates a detector
func NewDetector(finder Finder, cfg Config, logger *slog.Logger) *Detector {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{finder: finder, cfg: cfg, logger: logger}
}

// IsDuplicate reports whether piece duplicates an existing piece.
func (d *Detector) IsDuplicate(ctx context.Context, piece *repository.Piece) bool {
	return d.Detect(ctx, piece).Duplicate
}

// Detect never fails: lookup errors are logged and count as no match.
func (d *Detector) Detect(ctx context.Context, piece *repository.Piece) Verdict {
	if piece == nil {
		return Verdict{}
	}

	checks := []struct {
		name string
		run  func(context.Context, *repository.Piece) (*repository.PieceRef, error)
	}{
		{CheckFilename, d.byFilename},
		{CheckContentHash, d.byContentHash},
		{CheckExtractedData, d.byExtractedData},
	}

	for _, c := range checks {
		ref, err := c.run(ctx, piece)
		if err != nil {
			d.logger.Warn("duplicate check failed", "piece_id", piece.ID, "check", c.name, "error", err)
			continue
		}
		if ref != nil && ref.ID != piece.ID {
			observability.DuplicatesDetected.WithLabelValues(c.name).Inc()
			d.logger.Info("duplicate piece detected",
				"piece_id", piece.ID,
				"original_piece_id", ref.ID,
				"check", c.name,
			)
			return Verdict{Duplicate: true, Check: c.name, Original: ref}
		}
	}
	return Verdict{}
}

func (d *Detector) byFilename(ctx context.Context, p *repository.Piece) (*repository.PieceRef, error) {
	if strings.TrimSpace(p.Filename) == "" {
		return nil, nil
	}
	return d.finder.FindByFilename(ctx, p.Filename, p.ID)
}

// byContentHash only runs when a hash has been computed for the piece.
func (d *Detector) byContentHash(ctx context.Context, p *repository.Piece) (*repository.PieceRef, error) {
	if p.ContentHash == nil || *p.ContentHash == "" {
		return nil, nil
	}
	return d.finder.FindByContentHash(ctx, *p.ContentHash, p.ID)
}

// byExtractedData matches pieces of the same dossier uploaded the same day
// with the same currency and an amount within the tolerance band.
func (d *Detector) byExtractedData(ctx context.Context, p *repository.Piece) (*repository.PieceRef, error) {
	if p.AIAmount == nil || p.AICurrency == nil || *p.AICurrency == "" || p.UploadDate.IsZero() {
		return nil, nil
	}

	lo, hi := Band(*p.AIAmount, d.cfg.Tolerance)
	return d.finder.FindSimilar(ctx, repository.SimilarQuery{
		DossierID:  p.DossierID,
		MinAmount:  lo,
		MaxAmount:  hi,
		Currency:   *p.AICurrency,
		UploadDate: p.UploadDate,
		ExcludeID:  p.ID,
	})
}

// Band returns the inclusive [amount-tolerance*|amount|, amount+tolerance*|amount|]
// interval, computed in decimal so that the edges are exact.
func Band(amount, tolerance float64) (float64, float64) {
	a := decimal.NewFromFloat(amount)
	delta := a.Mul(decimal.NewFromFloat(tolerance)).Abs()
	return a.Sub(delta).InexactFloat64(), a.Add(delta).InexactFloat64()
}
