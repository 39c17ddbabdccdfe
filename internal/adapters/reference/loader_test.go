package reference_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/okian/datacup/internal/adapters/reference"
	"github.com/okian/datacup/internal/domain/table"
	"github.com/okian/datacup/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
	_ = logger.SetLevelString("error")
}

func writeFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "solution.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoader(t *testing.T) {
	Convey("Given a reference file on disk", t, func() {
		dir := t.TempDir()
		path := writeFile(t, dir, "id,target\n1,2.0\n2,4.0\n")
		loader := reference.NewLoader(path)
		ctx := context.Background()

		Convey("When it is loaded twice without changes", func() {
			first, err1 := loader.Load(ctx)
			second, err2 := loader.Load(ctx)

			Convey("Then the parsed table should be reused", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Len(), ShouldEqual, 2)
				So(second, ShouldPointTo, first)
			})
		})

		Convey("When the file is replaced between loads", func() {
			first, _ := loader.Load(ctx)
			writeFile(t, dir, "id,target\n1,2.0\n2,4.0\n3,8.0\n")
			second, err := loader.Load(ctx)

			Convey("Then the new content should be picked up", func() {
				So(err, ShouldBeNil)
				So(second, ShouldNotPointTo, first)
				So(second.Len(), ShouldEqual, 3)
			})
		})

		Convey("When many goroutines load at once", func() {
			var wg sync.WaitGroup
			tables := make([]*table.Table, 16)
			for i := range tables {
				wg.Add(1)
				go func() {
					defer wg.Done()
					tables[i], _ = loader.Load(ctx)
				}()
			}
			wg.Wait()

			Convey("Then all of them should see the same table", func() {
				for _, tbl := range tables {
					So(tbl, ShouldNotBeNil)
					So(tbl.Len(), ShouldEqual, 2)
				}
			})
		})

		Convey("When the context is already cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := loader.Load(cctx)

			Convey("Then it should fail with the context error", func() {
				So(errors.Is(err, reference.ErrLoad), ShouldBeTrue)
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})

	Convey("Given a missing reference file", t, func() {
		loader := reference.NewLoader(filepath.Join(t.TempDir(), "nope.csv"))

		Convey("When it is loaded", func() {
			_, err := loader.Load(context.Background())

			Convey("Then it should fail with ErrLoad", func() {
				So(errors.Is(err, reference.ErrLoad), ShouldBeTrue)
				So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
			})
		})
	})

	Convey("Given a semicolon separated reference", t, func() {
		path := writeFile(t, t.TempDir(), "id;y\n1;0.5\n")
		loader := reference.NewLoader(path, reference.WithDelimiter(';'))

		Convey("Then the delimiter option should be honoured", func() {
			tbl, err := loader.Load(context.Background())
			So(err, ShouldBeNil)
			So(tbl.Columns(), ShouldResemble, []string{"id", "y"})
			So(loader.Path(), ShouldEqual, path)
		})
	})
}
