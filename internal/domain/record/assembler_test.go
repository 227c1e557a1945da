package record

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-intake/internal/domain/currency"
	"github.com/FACorreiaa/ledger-intake/internal/domain/piece/repository"
)

func setupAssemblerTest() *Assembler {
	return NewAssembler(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testPiece() *repository.Piece {
	aiCurrency := "EUR"
	aiAmount := 200.0
	return &repository.Piece{
		ID:               uuid.New(),
		DossierID:        uuid.New(),
		Filename:         "facture-2025-03.pdf",
		OriginalFilename: "Facture Mars.pdf",
		Type:             repository.TypeInvoice,
		Status:           repository.StatusProcessing,
		UploadDate:       time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC),
		AICurrency:       &aiCurrency,
		AIAmount:         &aiAmount,
	}
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestBuild_InvoiceConversion(t *testing.T) {
	a := setupAssemblerTest()
	piece := testPiece()
	tree := decode(t, `{"ecritures":[{"DebitAmt":"0","CreditAmt":"200","Libelle":"  Achat   fournitures ","NumCompte":"6064"}]}`)
	conv := currency.Context{
		SourceCurrency: "EUR",
		TargetCurrency: "USD",
		Rate:           1.1,
		RateDate:       time.Date(2025, 3, 19, 0, 0, 0, 0, time.UTC),
		USDRate:        1.1,
	}

	res, err := a.Build(Input{Piece: piece, Dossier: &repository.Dossier{ID: piece.DossierID, Name: "Atlas SARL"}, Tree: tree, Conversion: conv})
	require.NoError(t, err)
	require.False(t, res.Degraded)

	entry := res.Entries[0].(map[string]any)
	assert.Equal(t, 220.0, entry[currency.FieldCredit])
	assert.Equal(t, 200.0, entry[currency.FieldOriginalCredit])
	assert.Equal(t, "USD", entry[currency.FieldCurrency])
	assert.Equal(t, "EUR", entry[currency.FieldOriginalCurrency])
	assert.Equal(t, "2025-03-19", entry[currency.FieldExchangeRateDate])

	dto := res.Record
	assert.Equal(t, piece.ID, dto.ID)
	assert.Equal(t, "Atlas SARL", dto.DossierName)
	assert.Equal(t, 220.0, dto.Amount)
	assert.Equal(t, "EUR", dto.OriginalCurrency)
	assert.Equal(t, "USD", dto.ConvertedCurrency)
	require.NotNil(t, dto.ExchangeRate)
	assert.Equal(t, 1.1, *dto.ExchangeRate)
	require.NotNil(t, dto.ExchangeRateDate)
	assert.Equal(t, "2025-03-19", dto.ExchangeRateDate.Format(time.DateOnly))

	require.Len(t, dto.Ecritures, 1)
	require.Len(t, dto.Ecritures[0].Lines, 1)
	line := dto.Ecritures[0].Lines[0]
	assert.Equal(t, "Achat fournitures", line.Label)
	assert.Equal(t, "6064", line.AccountRef)
	assert.Equal(t, 220.0, line.Credit)
	assert.Equal(t, 200.0, line.OriginalCredit)
	require.NotNil(t, line.USDCredit)
	assert.Equal(t, 220.0, *line.USDCredit)
}

func TestBuild_NoValidEntries(t *testing.T) {
	a := setupAssemblerTest()
	tests := []struct {
		name string
		tree string
	}{
		{"no ecritures and no outputText", `{"isBankStatement":false}`},
		{"empty ecritures", `{"ecritures":[]}`},
		{"ecritures not an array", `{"ecritures":{"DebitAmt":"1"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Build(Input{Piece: testPiece(), Tree: decode(t, tc.tree)})
			assert.ErrorIs(t, err, ErrNoValidEntries)
		})
	}
}

func TestBuild_FallsBackToMinimalRecord(t *testing.T) {
	a := setupAssemblerTest()
	a.steps = append(a.steps, func(*PieceDTO, Input, []any) { panic("boom") })
	piece := testPiece()

	res, err := a.Build(Input{Piece: piece, Tree: decode(t, `{"ecritures":[{"DebitAmt":"10"}]}`)})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, &PieceDTO{ID: piece.ID, Filename: piece.Filename, DossierID: piece.DossierID}, res.Record)
	assert.Len(t, res.Entries, 1)
}

func TestBuild_HeaderFields(t *testing.T) {
	a := setupAssemblerTest()
	tree := decode(t, `{"ecritures":[
		{"NumFacture":"F-0193","TotalTVA":"40,00","TauxTVA":20,"DateFacture":"15/03/2025","DebitAmt":"240"},
		{"NumFacture":"ignored","CreditAmt":"240"}
	]}`)

	res, err := a.Build(Input{Piece: testPiece(), Tree: tree})
	require.NoError(t, err)

	dto := res.Record
	assert.Equal(t, "F-0193", dto.InvoiceNumber)
	assert.Equal(t, 40.0, dto.TaxAmount)
	assert.Equal(t, 20.0, dto.TaxRate)
	assert.Equal(t, "2025-03-15", dto.InvoiceDate.Format(time.DateOnly))
	assert.Nil(t, dto.ExchangeRate)
}

func TestBuild_DuplicateBackReference(t *testing.T) {
	a := setupAssemblerTest()
	piece := testPiece()
	piece.IsDuplicate = true
	original := &repository.PieceRef{ID: uuid.New(), Filename: "facture-2025-03 (1).pdf"}

	res, err := a.Build(Input{Piece: piece, Tree: decode(t, `{"ecritures":[{"DebitAmt":"1"}]}`), Original: original})
	require.NoError(t, err)
	assert.True(t, res.Record.IsDuplicate)
	require.NotNil(t, res.Record.OriginalPieceID)
	assert.Equal(t, original.ID, *res.Record.OriginalPieceID)
	assert.Equal(t, original.Filename, res.Record.OriginalPieceName)
}

func TestBuild_TransactionGroups(t *testing.T) {
	a := setupAssemblerTest()
	tree := decode(t, `{"ecritures":[
		{"isTransactionGroup":true,"Libelle":"Relevé avril","entries":[
			{"DebitAmt":"50","Libelle":"Frais"},
			{"CreditAmt":"700,25","Libelle":"Virement client"}
		]},
		{"DebitAmt":"300"}
	],"isBankStatement":true}`)

	res, err := a.Build(Input{Piece: testPiece(), Tree: tree})
	require.NoError(t, err)

	dto := res.Record
	assert.Equal(t, 700.25, dto.Amount)
	require.Len(t, dto.Ecritures, 2)
	assert.True(t, dto.Ecritures[0].IsTransactionGroup)
	require.Len(t, dto.Ecritures[0].Lines, 2)
	assert.Equal(t, "Virement client", dto.Ecritures[0].Lines[1].Label)
	assert.False(t, dto.Ecritures[1].IsTransactionGroup)
}

func TestHeadlineAmount(t *testing.T) {
	tests := []struct {
		name     string
		entries  string
		expected float64
	}{
		{"single credit", `[{"DebitAmt":"0","CreditAmt":"200"}]`, 200},
		{"largest line wins over total", `[{"DebitAmt":"100"},{"DebitAmt":"150"},{"CreditAmt":"250"}]`, 250},
		{"nested entries count", `[{"isTransactionGroup":true,"entries":[{"DebitAmt":"999"}]},{"DebitAmt":"5"}]`, 999},
		{"unparsable amounts are zero", `[{"DebitAmt":"n/a"}]`, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			entries := decode(t, tc.entries).([]any)
			assert.Equal(t, tc.expected, HeadlineAmount(entries))
		})
	}
}

func TestTransactionDate(t *testing.T) {
	entries := decode(t, `[{"isTransactionGroup":true,"entries":[{"Date":"02/04/2025"}]},{"Date":"2025-05-01"}]`).([]any)
	assert.Equal(t, time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC), TransactionDate(entries))

	assert.True(t, TransactionDate(decode(t, `[{"DebitAmt":"1"}]`).([]any)).IsZero())
}

func TestPieceDTO_JSONShape(t *testing.T) {
	a := setupAssemblerTest()
	res, err := a.Build(Input{Piece: testPiece(), Tree: decode(t, `{"ecritures":[{"DebitAmt":"12,5","Date":"01/02/2025"}]}`)})
	require.NoError(t, err)

	raw, err := json.Marshal(res.Record)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "facture-2025-03.pdf", out["filename"])
	assert.Equal(t, 12.5, out["amount"])
	assert.Equal(t, "2025-02-01", out["invoiceDate"])
	assert.Nil(t, out["exchangeRate"])
	ecritures := out["ecritures"].([]any)
	assert.Equal(t, "2025-02-01", ecritures[0].(map[string]any)["date"])
}
