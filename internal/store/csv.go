package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Ticket defaults applied when a CSV cell is missing or blank.
const (
	DefaultTicketID       = "Unknown"
	DefaultTicketSubject  = "No Subject"
	DefaultTicketPriority = "Low"
	DefaultTicketStatus   = "Open"
	DefaultTicketCategory = "General"
)

// Canonical column names and the header spellings accepted for each.
var datasetAliases = map[string][]string{
	"dataset_name": {"dataset_name", "name"},
	"source":       {"source"},
	"category":     {"category"},
	"file_size_mb": {"file_size_mb", "size_mb"},
	"record_count": {"record_count", "rows", "row_count"},
	"last_updated": {"last_updated"},
	"archived":     {"archived"},
}

var ticketAliases = map[string][]string{
	"ticket_id":    {"ticket_id"},
	"subject":      {"subject", "title"},
	"priority":     {"priority"},
	"status":       {"status"},
	"category":     {"category"},
	"created_date": {"created_date"},
	"assigned_to":  {"assigned_to"},
}

// timeLayouts are tried in order; naive layouts are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// columns maps canonical names to their index in a parsed header.
type columns map[string]int

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c columns) has(name string) bool {
	_, ok := c[name]
	return ok
}

func readHeader(r *csv.Reader, aliases map[string][]string) (columns, error) {
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: missing header", core.ErrMalformedCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedCSV, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}

	cols := make(columns)
	for canonical, names := range aliases {
		for _, n := range names {
			if i, ok := index[n]; ok {
				cols[canonical] = i
				break
			}
		}
	}
	return cols, nil
}

func readRows(r *csv.Reader, fn func(row []string)) error {
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrMalformedCSV, err)
		}
		fn(row)
	}
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	return cr
}

// ParseDatasetsCSV reads a dataset catalog CSV. The name column is
// required; other columns are optional and fall back to zero values.
func ParseDatasetsCSV(r io.Reader) ([]core.DatasetRecord, error) {
	cr := newCSVReader(r)
	cols, err := readHeader(cr, datasetAliases)
	if err != nil {
		return nil, err
	}
	if !cols.has("dataset_name") {
		return nil, fmt.Errorf("%w: missing dataset_name column", core.ErrMalformedCSV)
	}

	var out []core.DatasetRecord
	err = readRows(cr, func(row []string) {
		out = append(out, core.DatasetRecord{
			Name:        cols.get(row, "dataset_name"),
			Source:      cols.get(row, "source"),
			Category:    cols.get(row, "category"),
			SizeMB:      parseFloat(cols.get(row, "file_size_mb")),
			RecordCount: parseCount(cols.get(row, "record_count")),
			LastUpdated: ParseTime(cols.get(row, "last_updated")),
			Archived:    parseBool(cols.get(row, "archived")),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseTicketsCSV reads an IT ticket CSV, applying defaults to blank cells.
func ParseTicketsCSV(r io.Reader) ([]core.Ticket, error) {
	cr := newCSVReader(r)
	cols, err := readHeader(cr, ticketAliases)
	if err != nil {
		return nil, err
	}

	var out []core.Ticket
	err = readRows(cr, func(row []string) {
		out = append(out, core.Ticket{
			TicketID:    orDefault(cols.get(row, "ticket_id"), DefaultTicketID),
			Subject:     orDefault(cols.get(row, "subject"), DefaultTicketSubject),
			Priority:    orDefault(cols.get(row, "priority"), DefaultTicketPriority),
			Status:      orDefault(cols.get(row, "status"), DefaultTicketStatus),
			Category:    orDefault(cols.get(row, "category"), DefaultTicketCategory),
			CreatedDate: ParseTime(cols.get(row, "created_date")),
			AssignedTo:  cols.get(row, "assigned_to"),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseTime accepts the common catalog timestamp layouts. Blank or
// unparseable values return nil.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// parseCount accepts integers and float spellings such as "1200.0".
func parseCount(s string) int64 {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	return int64(parseFloat(s))
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
