package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/okian/datacup/internal/domain/model"
)

const benchParticipants = 10_000

func seedStore(b *testing.B, s Store) {
	b.Helper()
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))
	for i := range benchParticipants {
		_, err := s.RecordSubmission(ctx, model.Submission{
			ID:            fmt.Sprintf("seed-%d", i),
			ParticipantID: fmt.Sprintf("p%05d", i),
			Score:         rng.Float64() * 10,
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func benchStores(b *testing.B, fn func(b *testing.B, s Store)) {
	b.Run("memory", func(b *testing.B) {
		s := NewTreapStore()
		seedStore(b, s)
		b.ResetTimer()
		fn(b, s)
	})
	b.Run("sqlite", func(b *testing.B) {
		s, err := OpenSQLite(context.Background(), filepath.Join(b.TempDir(), "bench.db"))
		if err != nil {
			b.Fatal(err)
		}
		defer s.Close()
		seedStore(b, s)
		b.ResetTimer()
		fn(b, s)
	})
}

func BenchmarkRecordSubmission(b *testing.B) {
	benchStores(b, func(b *testing.B, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(3, 4))
		for i := 0; b.Loop(); i++ {
			_, err := s.RecordSubmission(ctx, model.Submission{
				ID:            fmt.Sprintf("bench-%d", i),
				ParticipantID: fmt.Sprintf("p%05d", rng.IntN(benchParticipants)),
				Score:         rng.Float64() * 10,
			})
			if err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkRank(b *testing.B) {
	benchStores(b, func(b *testing.B, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(5, 6))
		for b.Loop() {
			if _, err := s.Rank(ctx, fmt.Sprintf("p%05d", rng.IntN(benchParticipants))); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkTopN(b *testing.B) {
	benchStores(b, func(b *testing.B, s Store) {
		ctx := context.Background()
		for b.Loop() {
			if _, err := s.TopN(ctx, 100); err != nil {
				b.Fatal(err)
			}
		}
	})
}
