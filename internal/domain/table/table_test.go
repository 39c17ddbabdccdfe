package table_test

import (
	"errors"
	"math"
	"testing"

	"github.com/okian/datacup/internal/domain/table"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given delimited text with a header row", t, func() {
		Convey("When it contains numeric and text columns", func() {
			tbl, err := table.Parse([]byte("\xEF\xBB\xBFID,target,label\n1,2.5,a\n2,,b\n\n3,NaN,c\n"))

			Convey("Then the BOM and blank line should be ignored", func() {
				So(err, ShouldBeNil)
				So(tbl.Columns(), ShouldResemble, []string{"ID", "target", "label"})
				So(tbl.Len(), ShouldEqual, 3)
			})

			Convey("And numeric columns should be detected by parseability", func() {
				So(tbl.NumericColumns(), ShouldResemble, []string{"ID", "target"})
				col, ok := tbl.Column("label")
				So(ok, ShouldBeTrue)
				So(tbl.IsNumeric(col), ShouldBeFalse)
			})

			Convey("And missing cells should read as NaN", func() {
				col, _ := tbl.Column("target")
				v, ok := tbl.Float(1, col)
				So(ok, ShouldBeTrue)
				So(math.IsNaN(v), ShouldBeTrue)
				v, ok = tbl.Float(0, col)
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, 2.5)
			})

			Convey("And Lookup should ignore case", func() {
				col, ok := tbl.Lookup("id")
				So(ok, ShouldBeTrue)
				So(col, ShouldEqual, 0)
				_, ok = tbl.Column("id")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When header names repeat", func() {
			tbl, err := table.Parse([]byte("y,y,y.1,y\n1,2,3,4\n"))

			Convey("Then duplicates should be renamed without clashing", func() {
				So(err, ShouldBeNil)
				So(tbl.Columns(), ShouldResemble, []string{"y", "y.2", "y.1", "y.3"})
			})
		})

		Convey("When a row is short", func() {
			tbl, err := table.Parse([]byte("a,b,c\n1,2\n"))

			Convey("Then it should be padded with missing cells", func() {
				So(err, ShouldBeNil)
				So(tbl.Cell(0, 2), ShouldEqual, "")
				So(tbl.IsNumeric(2), ShouldBeTrue)
			})
		})

		Convey("When a row is too long", func() {
			_, err := table.Parse([]byte("a,b\n1,2,3\n"))

			Convey("Then it should be malformed", func() {
				So(errors.Is(err, table.ErrMalformed), ShouldBeTrue)
			})
		})

		Convey("When quoting is broken", func() {
			_, err := table.Parse([]byte("a,b\n\"1,2\n3,4\"x\n"))

			Convey("Then it should be malformed", func() {
				So(errors.Is(err, table.ErrMalformed), ShouldBeTrue)
			})
		})

		Convey("When the input is empty or whitespace", func() {
			_, err := table.Parse([]byte(" \n\n"))

			Convey("Then it should report empty input", func() {
				So(errors.Is(err, table.ErrEmptyInput), ShouldBeTrue)
			})
		})

		Convey("When only a header is present", func() {
			tbl, err := table.Parse([]byte("id,target\n"))

			Convey("Then the table should have no rows", func() {
				So(err, ShouldBeNil)
				So(tbl.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a different delimiter is configured", func() {
			tbl, err := table.Parse([]byte("id;y\n1;0.5\n"), table.WithDelimiter(';'))

			Convey("Then fields should split on it", func() {
				So(err, ShouldBeNil)
				So(tbl.Columns(), ShouldResemble, []string{"id", "y"})
			})
		})
	})
}

func TestKey(t *testing.T) {
	Convey("Given identifier cells written differently", t, func() {
		tbl, err := table.Parse([]byte("id\n1\n1.0\n 1 \nabc\n"))
		So(err, ShouldBeNil)

		Convey("Then numerically equal values should share a key", func() {
			So(tbl.Key(0, 0), ShouldEqual, "1")
			So(tbl.Key(1, 0), ShouldEqual, "1")
			So(tbl.Key(2, 0), ShouldEqual, "1")
			So(tbl.Key(3, 0), ShouldEqual, "abc")
		})
	})

	Convey("Given integer ids beyond float64 precision", t, func() {
		tbl, err := table.Parse([]byte("id\n9007199254740992\n9007199254740993\n9007199254740993.0\n1e3\n1000\n"))
		So(err, ShouldBeNil)

		Convey("Then neighbouring ids should keep distinct keys", func() {
			So(tbl.Key(0, 0), ShouldEqual, "9007199254740992")
			So(tbl.Key(1, 0), ShouldEqual, "9007199254740993")
			So(tbl.Key(2, 0), ShouldEqual, "9007199254740993")
		})

		Convey("Then exponent and plain forms of one integer should agree", func() {
			So(tbl.Key(3, 0), ShouldEqual, tbl.Key(4, 0))
		})
	})
}

func TestIsMissing(t *testing.T) {
	for _, tok := range []string{"", " ", "NA", "N/A", "NaN", "nan", "null", "NULL", "None"} {
		if !table.IsMissing(tok) {
			t.Errorf("IsMissing(%q) = false, want true", tok)
		}
	}
	for _, tok := range []string{"0", "-", "none", "x"} {
		if table.IsMissing(tok) {
			t.Errorf("IsMissing(%q) = true, want false", tok)
		}
	}
}
