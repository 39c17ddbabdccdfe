package repository

import (
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/internal/domain/types"
	"github.com/okian/datacup/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: best score ASC, then participantID ASC (deterministic).
// In-order traversal yields the leaderboard from best to worst, and every
// node carries its subtree size so strict-less counts take O(log n).

// record is a participant's best plus bookkeeping.
type record struct {
	best  float64
	count int64
}

// treap node
type node struct {
	id    string
	score float64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID)
// in the leaderboard (lower scores first).
func less(aScore float64, aID string, bScore float64, bID string) bool {
	if aScore != bScore {
		return aScore < bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score float64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score float64) *node {
	if n == nil {
		return nil
	}
	if score == n.score && id == n.id {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	} else if less(score, id, n.score, n.id) {
		n.left = deleteNode(n.left, id, score)
	} else {
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// countLess returns the number of nodes whose score is strictly below score.
func countLess(n *node, score float64) int {
	c := 0
	for n != nil {
		if n.score < score {
			c += nsize(n.left) + 1
			n = n.right
		} else {
			n = n.left
		}
	}
	return c
}

// collectTopN appends up to limit entries in leaderboard order.
func collectTopN(n *node, limit int, records map[string]*record, out *[]types.Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, records, out)
	if len(*out) < limit {
		if rec, ok := records[n.id]; ok {
			*out = append(*out, types.Entry{ParticipantID: n.id, BestScore: rec.best, SubmissionCount: rec.count})
		}
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, records, out)
	}
}

// assignRanks sets strict-less ranks on a prefix of the global order: an
// entry's rank is one past the index of the first entry sharing its score.
// Ties share a rank and the following rank skips past them.
func assignRanks(entries []types.Entry) {
	for i := range entries {
		if i > 0 && entries[i].BestScore == entries[i-1].BestScore {
			entries[i].Rank = entries[i-1].Rank
			continue
		}
		entries[i].Rank = i + 1
	}
}

// submissionKey scopes a submission id to its participant.
type submissionKey struct{ participant, id string }

// TreapStore keeps the ranking state in memory. One mutex covers the freeze
// flag, the submission log and the tree, so a freeze toggle and a record
// never interleave.
type TreapStore struct {
	mu     sync.RWMutex
	root   *node
	byID   map[string]*record
	log    map[string][]model.Submission // participant -> submissions, oldest first
	seen   map[submissionKey]struct{}
	frozen bool
	rng    *rand.Rand
}

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TreapStore{
		byID: make(map[string]*record),
		log:  make(map[string][]model.Submission),
		seen: make(map[submissionKey]struct{}),
		rng:  rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15)), //nolint:gosec // tree balance only
	}
}

// Close implements Store.
func (s *TreapStore) Close() error { return nil }

// RecordSubmission implements Store.RecordSubmission in O(log n) expected time.
func (s *TreapStore) RecordSubmission(ctx context.Context, sub model.Submission) (model.ScoreRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("record", float64(time.Since(start).Milliseconds()))
	}()

	if err := ctx.Err(); err != nil {
		return model.ScoreRecord{}, errUnavailable("record", err)
	}
	if err := validateSubmission(sub); err != nil {
		return model.ScoreRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return model.ScoreRecord{}, ErrCompetitionFrozen
	}

	key := submissionKey{participant: sub.ParticipantID, id: sub.ID}
	if _, dup := s.seen[key]; dup {
		out := model.ScoreRecord{ParticipantID: sub.ParticipantID, Duplicate: true}
		if rec, ok := s.byID[sub.ParticipantID]; ok {
			out.BestScore, out.SubmissionCount = rec.best, rec.count
		}
		return out, nil
	}

	s.seen[key] = struct{}{}
	s.log[sub.ParticipantID] = append(s.log[sub.ParticipantID], sub)

	rec, ok := s.byID[sub.ParticipantID]
	improved := !ok || sub.Score < rec.best
	switch {
	case !ok:
		rec = &record{best: sub.Score}
		s.byID[sub.ParticipantID] = rec
		s.root = insert(s.root, sub.ParticipantID, sub.Score, s.rng.Uint64())
	case improved:
		s.root = deleteNode(s.root, sub.ParticipantID, rec.best)
		rec.best = sub.Score
		s.root = insert(s.root, sub.ParticipantID, sub.Score, s.rng.Uint64())
	}
	rec.count++

	return model.ScoreRecord{
		ParticipantID:   sub.ParticipantID,
		BestScore:       rec.best,
		SubmissionCount: rec.count,
		Improved:        improved,
	}, nil
}

// Rank returns the current rank and score for a participant in O(log n).
func (s *TreapStore) Rank(ctx context.Context, participantID string) (types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("rank", float64(time.Since(start).Milliseconds()))
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[participantID]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return types.Entry{
		Rank:            countLess(s.root, rec.best) + 1,
		ParticipantID:   participantID,
		BestScore:       rec.best,
		SubmissionCount: rec.count,
	}, nil
}

// TopN returns the top N entries ordered by score asc.
func (s *TreapStore) TopN(ctx context.Context, n int) ([]types.Entry, error) {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("top_n", float64(time.Since(start).Milliseconds()))
	}()

	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, s.byID, &out)
	assignRanks(out)
	return out, nil
}

// Submissions returns up to limit submissions, newest first.
func (s *TreapStore) Submissions(ctx context.Context, participantID string, limit int) ([]model.Submission, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.log[participantID]
	out := make([]model.Submission, len(all))
	for i := range all {
		out[i] = all[len(all)-1-i]
	}
	slices.SortStableFunc(out, func(a, b model.Submission) int {
		return b.TS.Compare(a.TS)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetFrozen implements Store.
func (s *TreapStore) SetFrozen(ctx context.Context, frozen bool) error {
	s.mu.Lock()
	s.frozen = frozen
	s.mu.Unlock()
	metrics.UpdateFrozen(frozen)
	return nil
}

// IsFrozen implements Store.
func (s *TreapStore) IsFrozen(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen, nil
}

// Count returns the number of scored participants.
func (s *TreapStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}
