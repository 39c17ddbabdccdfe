package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/datacup/internal/domain/model"
	"github.com/okian/datacup/pkg/logger"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

// floatEqual compares two float64 values with a small tolerance for floating-point precision
func floatEqual(a, b float64) bool {
	const tolerance = 1e-10
	return math.Abs(a-b) < tolerance
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		s := NewTreapStore(WithSeed(42))
		defer s.Close()
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "datacup.db"))
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		defer s.Close()
		fn(t, s)
	})
}

var seq int

func submission(participant string, score float64) model.Submission {
	seq++
	return model.Submission{
		ID:            fmt.Sprintf("sub-%d", seq),
		ParticipantID: participant,
		FileName:      "pred.csv",
		Score:         score,
		TS:            time.Unix(1_700_000_000+int64(seq), 0),
	}
}

func mustRecord(t *testing.T, s Store, participant string, score float64) model.ScoreRecord {
	t.Helper()
	rec, err := s.RecordSubmission(context.Background(), submission(participant, score))
	if err != nil {
		t.Fatalf("record %s %v: %v", participant, score, err)
	}
	return rec
}

func TestStore_MonotonicBest(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		scores := []float64{5, 7, 3, 3, 4, 0.5, 9}
		best := math.Inf(1)
		for i, sc := range scores {
			rec := mustRecord(t, s, "alice", sc)
			improved := sc < best
			best = math.Min(best, sc)
			if !floatEqual(rec.BestScore, best) {
				t.Errorf("step %d: best = %v, want %v", i, rec.BestScore, best)
			}
			if rec.SubmissionCount != int64(i+1) {
				t.Errorf("step %d: count = %d, want %d", i, rec.SubmissionCount, i+1)
			}
			if rec.Improved != improved {
				t.Errorf("step %d: improved = %v, want %v", i, rec.Improved, improved)
			}
		}
		n, err := s.Count(context.Background())
		if err != nil || n != 1 {
			t.Errorf("count = %d, %v; want 1", n, err)
		}
	})
}

func TestStore_Ranks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustRecord(t, s, "carol", 0.1)
		mustRecord(t, s, "bob", 0.1)
		mustRecord(t, s, "dave", 0.4)
		mustRecord(t, s, "erin", 0.9)

		want := map[string]int{"bob": 1, "carol": 1, "dave": 3, "erin": 4}
		for id, rank := range want {
			e, err := s.Rank(ctx, id)
			if err != nil {
				t.Fatalf("rank %s: %v", id, err)
			}
			if e.Rank != rank {
				t.Errorf("rank %s = %d, want %d", id, e.Rank, rank)
			}
		}

		if _, err := s.Rank(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown participant err = %v, want ErrNotFound", err)
		}

		top, err := s.TopN(ctx, 10)
		if err != nil {
			t.Fatalf("top: %v", err)
		}
		gotIDs := make([]string, len(top))
		gotRanks := make([]int, len(top))
		for i, e := range top {
			gotIDs[i], gotRanks[i] = e.ParticipantID, e.Rank
		}
		if fmt.Sprint(gotIDs) != "[bob carol dave erin]" || fmt.Sprint(gotRanks) != "[1 1 3 4]" {
			t.Errorf("top = %v %v", gotIDs, gotRanks)
		}

		top, err = s.TopN(ctx, 2)
		if err != nil || len(top) != 2 || top[1].ParticipantID != "carol" {
			t.Errorf("top 2 = %+v, %v", top, err)
		}

		if _, err := s.TopN(ctx, 0); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("top 0 err = %v, want ErrInvalidLimit", err)
		}
	})
}

func TestStore_RankMatchesBruteForce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(3, 5))
		best := map[string]float64{}
		for range 300 {
			id := fmt.Sprintf("p%02d", rng.IntN(40))
			sc := float64(rng.IntN(50)) / 10
			mustRecord(t, s, id, sc)
			if b, ok := best[id]; !ok || sc < b {
				best[id] = sc
			}
		}

		for id, b := range best {
			want := 1
			for _, other := range best {
				if other < b {
					want++
				}
			}
			e, err := s.Rank(ctx, id)
			if err != nil || e.Rank != want || !floatEqual(e.BestScore, b) {
				t.Fatalf("rank %s = %+v, %v; want rank %d best %v", id, e, err, want, b)
			}
		}

		top, err := s.TopN(ctx, len(best))
		if err != nil {
			t.Fatal(err)
		}
		if len(top) != len(best) {
			t.Fatalf("top returned %d entries, want %d", len(top), len(best))
		}
		if !sort.SliceIsSorted(top, func(i, j int) bool {
			if top[i].BestScore != top[j].BestScore {
				return top[i].BestScore < top[j].BestScore
			}
			return top[i].ParticipantID < top[j].ParticipantID
		}) {
			t.Errorf("leaderboard not ordered: %+v", top)
		}
		for _, e := range top {
			r, _ := s.Rank(ctx, e.ParticipantID)
			if r.Rank != e.Rank {
				t.Errorf("%s: leaderboard rank %d, rank query %d", e.ParticipantID, e.Rank, r.Rank)
			}
		}
	})
}

func TestStore_Frozen(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustRecord(t, s, "alice", 2)

		if frozen, err := s.IsFrozen(ctx); err != nil || frozen {
			t.Fatalf("initial frozen = %v, %v", frozen, err)
		}
		if err := s.SetFrozen(ctx, true); err != nil {
			t.Fatal(err)
		}
		if frozen, _ := s.IsFrozen(ctx); !frozen {
			t.Fatal("expected frozen")
		}

		for _, id := range []string{"alice", "bob"} {
			_, err := s.RecordSubmission(ctx, submission(id, 0.1))
			if !errors.Is(err, ErrCompetitionFrozen) {
				t.Errorf("record %s while frozen err = %v", id, err)
			}
		}

		e, err := s.Rank(ctx, "alice")
		if err != nil || e.BestScore != 2 || e.SubmissionCount != 1 {
			t.Errorf("alice changed while frozen: %+v, %v", e, err)
		}
		if _, err := s.Rank(ctx, "bob"); !errors.Is(err, ErrNotFound) {
			t.Errorf("bob recorded while frozen: %v", err)
		}
		if hist, _ := s.Submissions(ctx, "alice", 10); len(hist) != 1 {
			t.Errorf("history grew while frozen: %d", len(hist))
		}

		if err := s.SetFrozen(ctx, false); err != nil {
			t.Fatal(err)
		}
		if rec := mustRecord(t, s, "alice", 1); rec.SubmissionCount != 2 {
			t.Errorf("count after unfreeze = %d", rec.SubmissionCount)
		}
	})
}

func TestStore_DuplicateSubmission(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		sub := submission("alice", 3)
		if _, err := s.RecordSubmission(ctx, sub); err != nil {
			t.Fatal(err)
		}

		again := sub
		again.Score = 0.01
		rec, err := s.RecordSubmission(ctx, again)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.Duplicate || rec.SubmissionCount != 1 || rec.BestScore != 3 || rec.ParticipantID != "alice" {
			t.Errorf("duplicate record = %+v", rec)
		}
	})
}

func TestStore_SubmissionIDScopedToParticipant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		alice := model.Submission{ID: "attempt-1", ParticipantID: "alice", Score: 0.5, TS: time.Unix(1_700_000_000, 0)}
		bob := model.Submission{ID: "attempt-1", ParticipantID: "bob", Score: 0.1, TS: time.Unix(1_700_000_001, 0)}
		if _, err := s.RecordSubmission(ctx, alice); err != nil {
			t.Fatal(err)
		}

		rec, err := s.RecordSubmission(ctx, bob)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Duplicate || rec.ParticipantID != "bob" || rec.SubmissionCount != 1 || rec.BestScore != 0.1 {
			t.Errorf("bob's record = %+v", rec)
		}

		e, err := s.Rank(ctx, "bob")
		if err != nil {
			t.Fatalf("rank bob: %v", err)
		}
		if e.Rank != 1 {
			t.Errorf("bob rank = %d, want 1", e.Rank)
		}
		e, err = s.Rank(ctx, "alice")
		if err != nil || e.Rank != 2 || e.BestScore != 0.5 {
			t.Errorf("alice = %+v, %v", e, err)
		}

		again, err := s.RecordSubmission(ctx, bob)
		if err != nil {
			t.Fatal(err)
		}
		if !again.Duplicate || again.ParticipantID != "bob" || again.SubmissionCount != 1 {
			t.Errorf("bob's retry = %+v", again)
		}
	})
}

func TestStore_InvalidInput(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, sc := range []float64{-1, math.NaN(), math.Inf(1)} {
			if _, err := s.RecordSubmission(ctx, submission("alice", sc)); !errors.Is(err, ErrInvalidScore) {
				t.Errorf("score %v err = %v, want ErrInvalidScore", sc, err)
			}
		}
		if _, err := s.RecordSubmission(ctx, model.Submission{ID: "x", Score: 1}); !errors.Is(err, ErrInvalidSubmission) {
			t.Errorf("missing participant err = %v", err)
		}
		if n, _ := s.Count(ctx); n != 0 {
			t.Errorf("count = %d after rejected input", n)
		}
	})
}

func TestStore_Submissions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		mustRecord(t, s, "alice", 3)
		mustRecord(t, s, "bob", 1)
		mustRecord(t, s, "alice", 2)
		mustRecord(t, s, "alice", 4)

		hist, err := s.Submissions(ctx, "alice", 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(hist) != 2 || hist[0].Score != 4 || hist[1].Score != 2 {
			t.Errorf("history = %+v", hist)
		}
		if hist[0].FileName != "pred.csv" || hist[0].TS.IsZero() {
			t.Errorf("history metadata = %+v", hist[0])
		}

		none, err := s.Submissions(ctx, "nobody", 5)
		if err != nil || len(none) != 0 {
			t.Errorf("unknown history = %v, %v", none, err)
		}
		if _, err := s.Submissions(ctx, "alice", 0); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("limit 0 err = %v", err)
		}
	})
}

func TestStore_ConcurrentSameParticipant(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const workers, each = 8, 25

		subs := make([][]model.Submission, workers)
		for w := range workers {
			for i := range each {
				subs[w] = append(subs[w], model.Submission{
					ID:            fmt.Sprintf("w%d-%d", w, i),
					ParticipantID: "alice",
					Score:         float64(w*each+i) + 1,
				})
			}
		}

		var wg sync.WaitGroup
		errs := make(chan error, workers*each)
		for w := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for _, sub := range subs[w] {
					if _, err := s.RecordSubmission(ctx, sub); err != nil {
						errs <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatalf("concurrent record: %v", err)
		}

		e, err := s.Rank(ctx, "alice")
		if err != nil {
			t.Fatal(err)
		}
		if e.SubmissionCount != workers*each {
			t.Errorf("count = %d, want %d (lost update)", e.SubmissionCount, workers*each)
		}
		if e.BestScore != 1 {
			t.Errorf("best = %v, want 1", e.BestScore)
		}
	})
}

func TestStore_FreezeDuringSubmissions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const participants = 20

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted = map[string]int64{}
		)
		for p := range participants {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := fmt.Sprintf("p%02d", p)
				for i := range 10 {
					_, err := s.RecordSubmission(ctx, model.Submission{
						ID: fmt.Sprintf("%s-%d", id, i), ParticipantID: id, Score: float64(i),
					})
					switch {
					case err == nil:
						mu.Lock()
						accepted[id]++
						mu.Unlock()
					case errors.Is(err, ErrCompetitionFrozen):
					default:
						t.Errorf("record: %v", err)
					}
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 10 {
				_ = s.SetFrozen(ctx, i%2 == 0)
			}
			_ = s.SetFrozen(ctx, false)
		}()
		wg.Wait()

		for id, n := range accepted {
			e, err := s.Rank(ctx, id)
			if err != nil || e.SubmissionCount != n {
				t.Errorf("%s: stored count %d (%v), accepted %d", id, e.SubmissionCount, err, n)
			}
		}
		count, _ := s.Count(ctx)
		if count != len(accepted) {
			t.Errorf("count = %d, accepted participants = %d", count, len(accepted))
		}
	})
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "datacup.db")

	s, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	mustRecord(t, s, "alice", 0.25)
	if err := s.SetFrozen(ctx, true); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if frozen, _ := s.IsFrozen(ctx); !frozen {
		t.Error("freeze flag lost on reopen")
	}
	e, err := s.Rank(ctx, "alice")
	if err != nil || e.BestScore != 0.25 || e.Rank != 1 {
		t.Errorf("alice after reopen = %+v, %v", e, err)
	}
}

func TestSQLStore_DeadlineIsTransient(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "datacup.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = s.RecordSubmission(ctx, submission("alice", 1))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expired deadline err = %v, want ErrStoreUnavailable", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "redis", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
	s, err := Open(context.Background(), DriverMemory, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*TreapStore); !ok {
		t.Errorf("memory driver returned %T", s)
	}
}

func TestDialect_Rebind(t *testing.T) {
	got := dialectPostgres.rebind("SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?")
	if got != "SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3" {
		t.Errorf("rebind = %q", got)
	}
	if q := "SELECT ?"; dialectSQLite.rebind(q) != q {
		t.Error("sqlite rebind must not change the query")
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/x.db", 2*time.Second)
	for _, want := range []string{"file:/tmp/x.db?", "busy_timeout%282000%29", "_txlock=immediate"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("dsn %q lacks %q", dsn, want)
		}
	}
	if got := sqliteDSN("file:x.db?mode=memory", time.Second); got != "file:x.db?mode=memory" {
		t.Errorf("explicit dsn rewritten: %q", got)
	}
}
