package loadgen

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"

	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/internal/domain/table"
)

// Noise levels: participant p predicts with standard deviation
// baseSigma * (1 + p*sigmaStep), so lower indexes tend to rank higher.
const (
	baseSigma = 0.5
	sigmaStep = 0.25
)

// Generator builds noisy copies of a reference table.
type Generator struct {
	ref       *table.Table
	evaluator *evaluation.Evaluator
	delimiter rune
	ident     string
	rng       *rand.Rand
}

// NewGenerator returns a generator for ref. The evaluator must be configured
// the way the server's is so expected scores match.
func NewGenerator(ref *table.Table, ident string, delimiter rune, seed uint64) *Generator {
	return &Generator{
		ref:       ref,
		evaluator: evaluation.New(evaluation.WithIdentifierColumn(ident), evaluation.WithDelimiter(delimiter)),
		delimiter: delimiter,
		ident:     ident,
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// ParticipantID returns the id used for participant p.
func ParticipantID(p int) string { return fmt.Sprintf("lg-%04d", p) }

// Generate returns submissions rounds deep for each of participants,
// interleaved by round.
func (g *Generator) Generate(participants, rounds int) ([]Submission, error) {
	subs := make([]Submission, 0, participants*rounds)
	for range rounds {
		for p := range participants {
			sigma := baseSigma * (1 + float64(p)*sigmaStep)
			content, err := g.noisyCopy(sigma)
			if err != nil {
				return nil, err
			}
			res, err := g.evaluator.Evaluate(g.ref, content)
			if err != nil {
				return nil, fmt.Errorf("generated file does not evaluate: %w", err)
			}
			subs = append(subs, Submission{
				ID:            uuid.NewString(),
				ParticipantID: ParticipantID(p),
				Content:       content,
				Expected:      res.Score,
			})
		}
	}
	return subs, nil
}

// noisyCopy writes the reference with gaussian noise on every numeric
// column except the identifier, with rows shuffled.
func (g *Generator) noisyCopy(sigma float64) ([]byte, error) {
	cols := g.ref.Columns()
	idCol, hasID := g.ref.Lookup(g.ident)

	order := make([]int, g.ref.Len())
	for i := range order {
		order[i] = i
	}
	if hasID {
		g.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = g.delimiter
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	rec := make([]string, len(cols))
	for _, r := range order {
		for c := range cols {
			rec[c] = g.ref.Cell(r, c)
			if (hasID && c == idCol) || !g.ref.IsNumeric(c) {
				continue
			}
			if v, ok := g.ref.Float(r, c); ok {
				rec[c] = strconv.FormatFloat(v+g.rng.NormFloat64()*sigma, 'g', -1, 64)
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
