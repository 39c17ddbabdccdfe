package evaluation_test

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/okian/datacup/internal/domain/evaluation"
	"github.com/okian/datacup/internal/domain/table"
	. "github.com/smartystreets/goconvey/convey"
)

func mustTable(t *testing.T, s string) *table.Table {
	t.Helper()
	tbl, err := table.Parse([]byte(s))
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tbl
}

func TestEvaluator_IdentifierMode(t *testing.T) {
	Convey("Given a reference keyed by id", t, func() {
		ev := evaluation.New()
		ref := mustTable(t, "id,target\n1,2.0\n2,4.0\n")

		Convey("When the candidate is reordered and one value is off by one", func() {
			res, err := ev.Evaluate(ref, []byte("id,target\n2,4.0\n1,3.0\n"))

			Convey("Then rows should align by id", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, evaluation.ModeIdentifier)
				So(res.Pairs, ShouldEqual, 2)
				So(res.Score, ShouldAlmostEqual, math.Sqrt(0.5), 1e-12)
				So(fmt.Sprintf("%.5f", res.Score), ShouldEqual, "0.70711")
			})
		})

		Convey("When the identifier column differs in case", func() {
			res, err := ev.Evaluate(ref, []byte("ID,target\n1,2.0\n2,4.0\n"))

			Convey("Then identifier mode should still apply", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, evaluation.ModeIdentifier)
				So(res.Score, ShouldEqual, 0)
			})
		})

		Convey("When the candidate has extra and missing ids", func() {
			res, err := ev.Evaluate(ref, []byte("id,target\n2,5.0\n9,100\n"))

			Convey("Then unmatched rows should be dropped by the join", func() {
				So(err, ShouldBeNil)
				So(res.Pairs, ShouldEqual, 1)
				So(res.Score, ShouldAlmostEqual, 1.0, 1e-12)
			})
		})

		Convey("When ids are written as floats", func() {
			res, err := ev.Evaluate(ref, []byte("id,target\n1.0,2.0\n2.0,4.0\n"))

			Convey("Then they should match numerically", func() {
				So(err, ShouldBeNil)
				So(res.Pairs, ShouldEqual, 2)
			})
		})

		Convey("When the candidate renames the target column", func() {
			_, err := ev.Evaluate(ref, []byte("id,prediction\n1,2.0\n2,4.0\n"))

			Convey("Then it should be a column name mismatch", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindColumnNameMismatch)
				var e *evaluation.Error
				So(errors.As(err, &e), ShouldBeTrue)
				So(e.Columns, ShouldResemble, []string{"target"})
			})
		})

		Convey("When no candidate id matches the reference", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n7,2.0\n8,4.0\n"))

			Convey("Then it should be a column name mismatch", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindColumnNameMismatch)
			})
		})

		Convey("When a predicted value is missing", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n1,\n2,4.0\n"))

			Convey("Then it should report missing values", func() {
				var e *evaluation.Error
				So(errors.As(err, &e), ShouldBeTrue)
				So(e.Kind, ShouldEqual, evaluation.KindMissingValues)
				So(e.Received, ShouldEqual, 1)
				So(e.Columns, ShouldResemble, []string{"target"})
			})
		})

		Convey("When a predicted value is infinite", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n1,inf\n2,4.0\n"))

			Convey("Then it should report missing values", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindMissingValues)
			})
		})

		Convey("When a predicted value is text", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n1,high\n2,4.0\n"))

			Convey("Then it should report non-numeric values", func() {
				var e *evaluation.Error
				So(errors.As(err, &e), ShouldBeTrue)
				So(e.Kind, ShouldEqual, evaluation.KindNonNumericValues)
				So(e.Received, ShouldEqual, 1)
			})
		})

		Convey("When the reference has no numeric target", func() {
			labels := mustTable(t, "id,label\n1,a\n2,b\n")
			_, err := ev.Evaluate(labels, []byte("id,label\n1,a\n2,b\n"))

			Convey("Then it should report no target column", func() {
				So(errors.Is(err, &evaluation.Error{Kind: evaluation.KindNoTargetColumn}), ShouldBeTrue)
			})
		})

		Convey("When ids differ only beyond float64 precision", func() {
			big := "id,target\n9007199254740992,1\n9007199254740993,2\n"
			res, err := ev.Evaluate(mustTable(t, big), []byte(big))

			Convey("Then each id should pair with itself", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, evaluation.ModeIdentifier)
				So(res.Pairs, ShouldEqual, 2)
				So(res.Score, ShouldEqual, 0)
			})
		})
	})
}

func TestEvaluator_PositionalMode(t *testing.T) {
	Convey("Given a reference without an id column", t, func() {
		ev := evaluation.New()
		ref := mustTable(t, "y\n1\n2\n3\n")

		Convey("When the candidate has fewer rows", func() {
			_, err := ev.Evaluate(ref, []byte("y\n1\n2\n"))

			Convey("Then it should report the row counts", func() {
				var e *evaluation.Error
				So(errors.As(err, &e), ShouldBeTrue)
				So(e.Kind, ShouldEqual, evaluation.KindRowCountMismatch)
				So(e.Expected, ShouldEqual, 3)
				So(e.Received, ShouldEqual, 2)
			})
		})

		Convey("When only the candidate has an id column", func() {
			res, err := ev.Evaluate(ref, []byte("id,y\n1,1\n2,2\n3,4\n"))

			Convey("Then rows should align by position", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, evaluation.ModePositional)
				So(res.Score, ShouldAlmostEqual, 1/math.Sqrt(3), 1e-12)
			})
		})

		Convey("When the candidate shares no numeric column", func() {
			_, err := ev.Evaluate(ref, []byte("z\n1\n2\n3\n"))

			Convey("Then it should report no common numeric columns", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindNoCommonNumericColumns)
			})
		})

		Convey("When the shared column holds text in the candidate", func() {
			_, err := ev.Evaluate(ref, []byte("y\na\nb\nc\n"))

			Convey("Then it is not numeric and nothing is shared", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindNoCommonNumericColumns)
			})
		})

		Convey("When a candidate value is missing", func() {
			_, err := ev.Evaluate(ref, []byte("y\n1\nNA\n3\n"))

			Convey("Then it should report missing values", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindMissingValues)
			})
		})

		Convey("When the reference itself has a missing value", func() {
			holey := mustTable(t, "y,x\n1,a\n,b\n3,c\n")
			_, err := ev.Evaluate(holey, []byte("y\n1\n2\n3\n"))

			Convey("Then it should be an internal error", func() {
				So(evaluation.KindOf(err), ShouldEqual, evaluation.KindInternalError)
			})
		})
	})

	Convey("Given a reference with several numeric columns", t, func() {
		ev := evaluation.New()
		ref := mustTable(t, "b,a,note\n1,10,x\n2,20,y\n")

		Convey("When the candidate shares a subset and adds text columns", func() {
			res, err := ev.Evaluate(ref, []byte("comment,a,c\nfoo,11,0\nbar,21,0\n"))

			Convey("Then only the shared numeric columns should be scored", func() {
				So(err, ShouldBeNil)
				So(res.Pairs, ShouldEqual, 2)
				So(res.Score, ShouldAlmostEqual, 1.0, 1e-12)
			})
		})
	})
}

func TestEvaluator_Rejections(t *testing.T) {
	Convey("Given an evaluator and a reference", t, func() {
		ev := evaluation.New()
		ref := mustTable(t, "id,target\n1,2\n")

		Convey("When the candidate is empty", func() {
			_, err := ev.Evaluate(ref, nil)
			So(evaluation.KindOf(err), ShouldEqual, evaluation.KindParseError)
		})

		Convey("When the candidate is malformed", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n1,2,3,4\n"))
			So(evaluation.KindOf(err), ShouldEqual, evaluation.KindParseError)
		})

		Convey("When the candidate has only a header", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n"))
			So(evaluation.KindOf(err), ShouldEqual, evaluation.KindEmptySubmission)
		})

		Convey("When the reference is missing", func() {
			_, err := ev.Evaluate(nil, []byte("id,target\n1,2\n"))
			So(evaluation.KindOf(err), ShouldEqual, evaluation.KindInternalError)
		})

		Convey("When the error is printed", func() {
			_, err := ev.Evaluate(ref, []byte("id,target\n"))
			So(err.Error(), ShouldStartWith, "empty_submission")
		})
	})
}

func TestEvaluator_Options(t *testing.T) {
	Convey("Given an evaluator with a custom identifier and delimiter", t, func() {
		ev := evaluation.New(evaluation.WithIdentifierColumn("row_id"), evaluation.WithDelimiter(';'))
		So(ev.Identifier(), ShouldEqual, "row_id")
		ref, err := table.Parse([]byte("Row_ID;y\na;1\nb;2\n"), table.WithDelimiter(';'))
		So(err, ShouldBeNil)

		Convey("When scoring a reordered candidate", func() {
			res, err := ev.Evaluate(ref, []byte("row_id;y\nb;2\na;1\n"))

			Convey("Then it should join on the configured column", func() {
				So(err, ShouldBeNil)
				So(res.Mode, ShouldEqual, evaluation.ModeIdentifier)
				So(res.Score, ShouldEqual, 0)
			})
		})
	})
}

// buildCSV renders an id,a,b table with the given row order and offset.
func buildCSV(ids []int, a, b []float64, offset float64) string {
	var sb strings.Builder
	sb.WriteString("id,a,b\n")
	for _, i := range ids {
		fmt.Fprintf(&sb, "%d,%g,%g\n", i, a[i]+offset, b[i]+offset)
	}
	return sb.String()
}

func TestEvaluator_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	ev := evaluation.New()

	for trial := range 25 {
		n := 1 + rng.IntN(40)
		ids := make([]int, n)
		a := make([]float64, n)
		b := make([]float64, n)
		for i := range n {
			ids[i] = i
			a[i] = math.Round(rng.NormFloat64()*1000) / 100
			b[i] = math.Round(rng.NormFloat64()*1000) / 100
		}
		ref := mustTable(t, buildCSV(ids, a, b, 0))

		res, err := ev.Evaluate(ref, []byte(buildCSV(ids, a, b, 0)))
		if err != nil || res.Score != 0 {
			t.Fatalf("trial %d: identical tables scored %v, %v", trial, res.Score, err)
		}

		d := float64(rng.IntN(9)+1) * 0.25
		if rng.IntN(2) == 0 {
			d = -d
		}
		res, err = ev.Evaluate(ref, []byte(buildCSV(ids, a, b, d)))
		if err != nil || math.Abs(res.Score-math.Abs(d)) > 1e-9 {
			t.Fatalf("trial %d: offset %v scored %v, %v", trial, d, res.Score, err)
		}

		shuffled := append([]int(nil), ids...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		perm, err := ev.Evaluate(ref, []byte(buildCSV(shuffled, a, b, d)))
		if err != nil || math.Abs(perm.Score-res.Score) > 1e-12 {
			t.Fatalf("trial %d: permutation changed score %v -> %v (%v)", trial, res.Score, perm.Score, err)
		}
	}
}

func TestEvaluator_Concurrent(t *testing.T) {
	ev := evaluation.New()
	ref := mustTable(t, "id,target\n1,2.0\n2,4.0\n")
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ev.Evaluate(ref, []byte("id,target\n2,4.0\n1,3.0\n"))
			if err != nil || math.Abs(res.Score-math.Sqrt(0.5)) > 1e-12 {
				t.Errorf("concurrent evaluate = %v, %v", res.Score, err)
			}
		}()
	}
	wg.Wait()
}

func TestRMSE(t *testing.T) {
	cases := []struct {
		name    string
		truth   []float64
		pred    []float64
		want    float64
		wantErr error
	}{
		{name: "zero", truth: []float64{1, 2}, pred: []float64{1, 2}, want: 0},
		{name: "unit", truth: []float64{0, 0}, pred: []float64{1, -1}, want: 1},
		{name: "length", truth: []float64{1}, pred: []float64{1, 2}, wantErr: evaluation.ErrLengthMismatch},
		{name: "empty", wantErr: evaluation.ErrNoValues},
		{name: "nan", truth: []float64{math.NaN()}, pred: []float64{1}, wantErr: evaluation.ErrNotFinite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := evaluation.RMSE(tc.truth, tc.pred)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if err == nil && math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("RMSE = %v, want %v", got, tc.want)
			}
		})
	}
}
