package types_test

import (
	"encoding/json"
	"testing"

	types "github.com/okian/datacup/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	Convey("Given an Entry struct", t, func() {
		entry := types.Entry{Rank: 3, ParticipantID: "p-1", BestScore: 0.5, SubmissionCount: 4}

		Convey("When encoding it as JSON", func() {
			b, err := json.Marshal(entry)

			Convey("Then it should use snake_case field names", func() {
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"rank":3,"participant_id":"p-1","best_score":0.5,"submission_count":4}`)
			})
		})
	})
}

func TestHistoryEntry(t *testing.T) {
	Convey("Given a history entry without a file name", t, func() {
		b, err := json.Marshal(types.HistoryEntry{SubmissionID: "s-1", Score: 1})

		Convey("Then the file name should be omitted", func() {
			So(err, ShouldBeNil)
			So(string(b), ShouldNotContainSubstring, "file_name")
		})
	})
}
