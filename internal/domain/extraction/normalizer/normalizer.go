// Package normalizer converts the divergent payload shapes produced by the
// extraction service into one canonical shape: a list of ledger entries plus
// a document-class flag.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/ledger-intake/internal/domain/extraction/parse"
	"github.com/FACorreiaa/ledger-intake/pkg/observability"
)

// Payload keys produced by the extraction service.
const (
	KeyOutputText      = "outputText"
	KeyEcritures       = "ecritures"
	KeyEcrituresUpper  = "Ecritures"
	KeyEntries         = "entries"
	KeyIsBankStatement = "isBankStatement"
)

var (
	ErrNotNormalizable = errors.New("response cannot be normalized")
	ErrNoEntries       = errors.New("no ledger entries found")
)

// Response is the canonical normalized payload.
type Response struct {
	// Ecritures is normally an ordered []any of entry objects. The invoice
	// path keeps a parsed value verbatim when it carries no entries key.
	Ecritures       any
	IsBankStatement bool
}

// Entries returns the ledger entries when Ecritures is an array.
func (r Response) Entries() ([]any, bool) {
	arr, ok := r.Ecritures.([]any)
	return arr, ok
}

// Tree renders the response as the JSON object persisted with the piece.
func (r Response) Tree() map[string]any {
	return map[string]any{
		KeyEcritures:       r.Ecritures,
		KeyIsBankStatement: r.IsBankStatement,
	}
}

// Result is the outcome of a normalization attempt. When Err is set, Tree is
// the original input, unmodified.
type Result struct {
	Response *Response
	Tree     any
	Err      error
}

// OK reports whether normalization succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Response != nil
}

// Normalizer dispatches on the document class.
type Normalizer struct {
	logger *slog.Logger
}

// New creates a normalizer
func New(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}

// Normalize never panics and never returns a nil Tree.
func (n *Normalizer) Normalize(raw any, isBankStatement bool) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("normalization panicked", "is_bank_statement", isBankStatement, "panic", r)
			result = failed(raw, fmt.Errorf("%w: %v", ErrNotNormalizable, r))
		}
		outcome := "ok"
		if !result.OK() {
			outcome = "failed"
		}
		observability.Normalizations.WithLabelValues(documentClass(isBankStatement), outcome).Inc()
	}()

	var (
		resp *Response
		err  error
	)
	if isBankStatement {
		resp, err = normalizeBankStatement(raw)
	} else {
		resp, err = normalizeInvoice(raw)
	}
	if err != nil {
		n.logger.Warn("could not normalize response", "is_bank_statement", isBankStatement, "error", err)
		return failed(raw, err)
	}

	return Result{Response: resp, Tree: resp.Tree()}
}

func documentClass(isBankStatement bool) string {
	if isBankStatement {
		return "bank_statement"
	}
	return "invoice"
}

func failed(raw any, err error) Result {
	return Result{Tree: raw, Err: err}
}

// normalizeBankStatement flattens every transaction group's entries, in order.
func normalizeBankStatement(raw any) (*Response, error) {
	text, ok := parse.Field(raw, KeyOutputText)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrNotNormalizable, KeyOutputText)
	}

	parsed, err := decodeEmbedded(text)
	if err != nil {
		return nil, err
	}

	groups, ok := parse.Array(parsed, KeyEcrituresUpper)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s array", ErrNotNormalizable, KeyEcrituresUpper)
	}

	entries := make([]any, 0, len(groups))
	for _, group := range groups {
		nested, ok := parse.Array(group, KeyEntries)
		if !ok {
			continue
		}
		entries = append(entries, nested...)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNotNormalizable, ErrNoEntries)
	}

	return &Response{Ecritures: entries, IsBankStatement: true}, nil
}

// normalizeInvoice accepts an embedded outputText, or ecritures at the root.
func normalizeInvoice(raw any) (*Response, error) {
	if text, ok := parse.Field(raw, KeyOutputText); ok {
		parsed, err := decodeEmbedded(text)
		if err != nil {
			return nil, err
		}
		if ecritures, ok := entriesField(parsed); ok {
			return &Response{Ecritures: ecritures}, nil
		}
		// An array root is used as-is; anything else is kept verbatim.
		return &Response{Ecritures: parsed}, nil
	}

	if ecritures, ok := entriesField(raw); ok {
		return &Response{Ecritures: ecritures}, nil
	}

	return nil, fmt.Errorf("%w: neither %s nor %s present", ErrNotNormalizable, KeyOutputText, KeyEcritures)
}

func entriesField(node any) (any, bool) {
	if v, ok := parse.Field(node, KeyEcritures); ok {
		return v, true
	}
	if v, ok := parse.Field(node, KeyEcrituresUpper); ok {
		return v, true
	}
	return nil, false
}

// decodeEmbedded parses the JSON text carried by outputText. Already decoded
// objects and arrays are accepted unchanged.
func decodeEmbedded(text any) (any, error) {
	switch v := text.(type) {
	case map[string]any, []any:
		return v, nil
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(parse.StripCodeFence(v)), &parsed); err != nil {
			return nil, fmt.Errorf("%w: invalid embedded json: %v", ErrNotNormalizable, err)
		}
		if parsed == nil {
			return nil, fmt.Errorf("%w: embedded json is null", ErrNotNormalizable)
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("%w: %s is not text", ErrNotNormalizable, KeyOutputText)
	}
}

// ExtractEntries locates the ledger entries of a stored tree, which may be a
// normalized response or an original payload. It checks, in order, a direct
// ecritures field, an array root, then the embedded outputText.
func ExtractEntries(tree any) ([]any, error) {
	if v, ok := parse.Field(tree, KeyEcritures); ok {
		return nonEmpty(v)
	}
	if arr, ok := tree.([]any); ok {
		return nonEmpty(arr)
	}
	if text, ok := parse.Field(tree, KeyOutputText); ok {
		parsed, err := decodeEmbedded(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoEntries, err)
		}
		if v, ok := entriesField(parsed); ok {
			return nonEmpty(v)
		}
		return nonEmpty(parsed)
	}
	return nil, ErrNoEntries
}

func nonEmpty(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: entries are not an array", ErrNoEntries)
	}
	if len(arr) == 0 {
		return nil, fmt.Errorf("%w: entries are empty", ErrNoEntries)
	}
	return arr, nil
}

// IsBankStatement reads the class flag persisted with a normalized tree.
func IsBankStatement(tree any) bool {
	return parse.Bool(tree, KeyIsBankStatement)
}
