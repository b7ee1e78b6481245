package governance

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// CandidateCSVHeader is the header row of the archive candidate export.
var CandidateCSVHeader = []string{"dataset_name", "source", "category", "size_mb", "rows", "age_days", "last_updated"}

// WriteCandidatesCSV writes one row per candidate after a header row.
func WriteCandidatesCSV(w io.Writer, cands []core.Evaluation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CandidateCSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, ev := range cands {
		last := ""
		if ev.Record.LastUpdated != nil {
			last = ev.Record.LastUpdated.UTC().Format(time.RFC3339)
		}
		row := []string{
			ev.Record.Name,
			ev.Record.Source,
			ev.Record.Category,
			strconv.FormatFloat(ev.Record.SizeMB, 'f', -1, 64),
			strconv.FormatInt(ev.Record.RecordCount, 10),
			strconv.Itoa(ev.AgeDays),
			last,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %q: %w", ev.Record.Name, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
