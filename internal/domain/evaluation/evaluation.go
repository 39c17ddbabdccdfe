// Package evaluation scores an untrusted candidate table against a trusted
// reference table.
//
// Rows are aligned by a shared identifier column when both tables carry one
// (matched case-insensitively) and by position otherwise. The score is the
// root-mean-square error over every aligned target value. Every failure is
// returned as an *Error with a Kind; Evaluate never panics.
package evaluation

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/okian/datacup/internal/domain/table"
)

// DefaultIdentifierColumn is the row-key column name used when none is set.
const DefaultIdentifierColumn = "id"

// Mode is the row alignment strategy chosen for an evaluation.
type Mode int

// Alignment modes.
const (
	ModeIdentifier Mode = iota + 1
	ModePositional
)

func (m Mode) String() string {
	switch m {
	case ModeIdentifier:
		return "identifier"
	case ModePositional:
		return "positional"
	default:
		return "unknown"
	}
}

// Result is a successful evaluation.
type Result struct {
	Score float64
	Mode  Mode
	// Pairs is the number of true/predicted values the score covers.
	Pairs int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithIdentifierColumn sets the row-key column name.
func WithIdentifierColumn(name string) Option {
	return func(e *Evaluator) {
		if name = strings.TrimSpace(name); name != "" {
			e.identifier = name
		}
	}
}

// WithDelimiter sets the candidate field separator.
func WithDelimiter(r rune) Option {
	return func(e *Evaluator) {
		if r != 0 {
			e.delimiter = r
		}
	}
}

// Evaluator holds only configuration and is safe for concurrent use.
type Evaluator struct {
	identifier string
	delimiter  rune
}

// New creates an Evaluator.
func New(opts ...Option) *Evaluator {
	e := &Evaluator{
		identifier: DefaultIdentifierColumn,
		delimiter:  ',',
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Identifier returns the configured row-key column name.
func (e *Evaluator) Identifier() string { return e.identifier }

// Evaluate parses candidate and scores it against ref. A non-nil error is
// always an *Error.
func (e *Evaluator) Evaluate(ref *table.Table, candidate []byte) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = Result{}, internal("panic during evaluation: %v", r)
		}
	}()

	if ref == nil {
		return Result{}, internal("reference table is not loaded")
	}

	cand, perr := table.Parse(candidate, table.WithDelimiter(e.delimiter))
	if perr != nil {
		return Result{}, reject(KindParseError, "%v", perr)
	}
	if cand.Len() == 0 {
		return Result{}, reject(KindEmptySubmission, "submission has a header but no rows")
	}

	var (
		p    *pairs
		mode Mode
		rerr *Error
	)
	refID, refHas := ref.Lookup(e.identifier)
	candID, candHas := cand.Lookup(e.identifier)
	if refHas && candHas {
		mode = ModeIdentifier
		p, rerr = e.alignByIdentifier(ref, cand, refID, candID)
	} else {
		mode = ModePositional
		p, rerr = alignByPosition(ref, cand)
	}
	if rerr != nil {
		return Result{}, rerr
	}

	if len(p.missing) > 0 {
		return Result{}, &Error{
			Kind:     KindMissingValues,
			Message:  fmt.Sprintf("%d predicted values are missing or not finite", p.missingN),
			Expected: len(p.pred),
			Received: p.missingN,
			Columns:  p.missing,
		}
	}

	score, serr := RMSE(p.truth, p.pred)
	if serr != nil {
		if errors.Is(serr, ErrNotFinite) {
			return Result{}, internal("reference values produce a non-finite score")
		}
		return Result{}, internal("%v", serr)
	}
	return Result{Score: score, Mode: mode, Pairs: len(p.truth)}, nil
}

// alignByIdentifier inner-joins the tables on the identifier column. Rows
// whose key is absent on either side are dropped; duplicate keys pair every
// reference row with every candidate row sharing the key.
func (e *Evaluator) alignByIdentifier(ref, cand *table.Table, refID, candID int) (*pairs, *Error) {
	var targets []int
	for c := range ref.Columns() {
		if ref.IsNumeric(c) && !strings.EqualFold(ref.Name(c), e.identifier) {
			targets = append(targets, c)
		}
	}
	if len(targets) == 0 {
		return nil, reject(KindNoTargetColumn, "reference has no numeric column besides %q", e.identifier)
	}

	byKey := make(map[string][]int, cand.Len())
	for r := range cand.Len() {
		if table.IsMissing(cand.Cell(r, candID)) {
			continue
		}
		k := cand.Key(r, candID)
		byKey[k] = append(byKey[k], r)
	}
	type match struct{ ref, cand int }
	var joined []match
	for r := range ref.Len() {
		if table.IsMissing(ref.Cell(r, refID)) {
			continue
		}
		for _, c := range byKey[ref.Key(r, refID)] {
			joined = append(joined, match{ref: r, cand: c})
		}
	}

	p := newPairs()
	var absent, nonNumeric []string
	nonNumericN := 0
	for _, t := range targets {
		name := ref.Name(t)
		cc, ok := cand.Column(name)
		if !ok {
			absent = append(absent, name)
			continue
		}
		bad := 0
		for _, m := range joined {
			truth, _ := ref.Float(m.ref, t)
			pred, ok := cand.Float(m.cand, cc)
			if !ok {
				bad++
				continue
			}
			p.add(name, truth, pred)
		}
		if bad > 0 {
			nonNumeric = append(nonNumeric, name)
			nonNumericN += bad
		}
	}

	if len(nonNumeric) > 0 {
		return nil, &Error{
			Kind:     KindNonNumericValues,
			Message:  fmt.Sprintf("%d predicted values are not numbers", nonNumericN),
			Received: nonNumericN,
			Columns:  nonNumeric,
		}
	}
	if len(p.truth) == 0 {
		msg := "no target column could be matched to the reference"
		if len(joined) == 0 {
			msg = fmt.Sprintf("no %s value in the submission matches the reference", e.identifier)
		}
		cols := absent
		if len(cols) == 0 {
			for _, t := range targets {
				cols = append(cols, ref.Name(t))
			}
		}
		return nil, &Error{Kind: KindColumnNameMismatch, Message: msg, Columns: cols}
	}
	return p, nil
}

// alignByPosition matches rows by ordinal and scores the numeric columns
// both tables share, in ascending name order, flattened row by row.
func alignByPosition(ref, cand *table.Table) (*pairs, *Error) {
	if ref.Len() != cand.Len() {
		return nil, &Error{
			Kind:     KindRowCountMismatch,
			Message:  fmt.Sprintf("expected %d rows, received %d", ref.Len(), cand.Len()),
			Expected: ref.Len(),
			Received: cand.Len(),
		}
	}

	candNumeric := make(map[string]struct{})
	for _, name := range cand.NumericColumns() {
		candNumeric[name] = struct{}{}
	}
	var common []string
	for _, name := range ref.NumericColumns() {
		if _, ok := candNumeric[name]; ok {
			common = append(common, name)
		}
	}
	if len(common) == 0 {
		return nil, reject(KindNoCommonNumericColumns, "no numeric column name is shared with the reference")
	}
	slices.Sort(common)

	refCols := make([]int, len(common))
	candCols := make([]int, len(common))
	for i, name := range common {
		refCols[i], _ = ref.Column(name)
		candCols[i], _ = cand.Column(name)
	}

	p := newPairs()
	for r := range ref.Len() {
		for i, name := range common {
			truth, _ := ref.Float(r, refCols[i])
			pred, _ := cand.Float(r, candCols[i])
			p.add(name, truth, pred)
		}
	}
	return p, nil
}

// pairs accumulates aligned values and the columns holding unusable
// predictions.
type pairs struct {
	truth, pred []float64
	missing     []string
	missingN    int
	seen        map[string]struct{}
}

func newPairs() *pairs {
	return &pairs{seen: make(map[string]struct{})}
}

func (p *pairs) add(col string, truth, pred float64) {
	if math.IsNaN(pred) || math.IsInf(pred, 0) {
		p.missingN++
		if _, ok := p.seen[col]; !ok {
			p.seen[col] = struct{}{}
			p.missing = append(p.missing, col)
		}
	}
	p.truth = append(p.truth, truth)
	p.pred = append(p.pred, pred)
}
