package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"

	"github.com/soaringjerry/FlashTrack/internal/models"
)

// ExportSubmissionsCSV renders one row per submission, oldest first, with a
// count_<id> column per question id. Unanswered questions are left blank.
func ExportSubmissionsCSV(subs []*models.Submission, questionIDs []int) ([]byte, error) {
	ids := append([]int(nil), questionIDs...)
	sort.Ints(ids)
	rows := append([]*models.Submission(nil), subs...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := []string{"id", "unique_code", "created_at"}
	for _, id := range ids {
		header = append(header, "count_"+strconv.Itoa(id))
	}
	_ = w.Write(header)
	for _, sub := range rows {
		rec := make([]string, 0, len(header))
		rec = append(rec, sub.ID, sub.Code, sub.CreatedAt.UTC().Format(time.RFC3339))
		for _, id := range ids {
			if v, ok := sub.Answers[id]; ok {
				rec = append(rec, strconv.Itoa(v))
			} else {
				rec = append(rec, "")
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
