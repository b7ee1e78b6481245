package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// DatasetExportHeader is the column order of ExportDatasetsCSV.
var DatasetExportHeader = []string{
	"id", "dataset_name", "source", "category",
	"file_size_mb", "record_count", "last_updated", "archived",
}

const datasetColumns = `id, dataset_name, source, category, file_size_mb, record_count, last_updated, archived`

// ListDatasets returns the whole catalog, newest rows first.
func (s *Store) ListDatasets(ctx context.Context) ([]core.DatasetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+datasetColumns+` FROM datasets_metadata ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var out []core.DatasetRecord
	for rows.Next() {
		rec, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetDataset returns one catalog row.
func (s *Store) GetDataset(ctx context.Context, id int64) (core.DatasetRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets_metadata WHERE id = ?`, id)
	rec, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.DatasetRecord{}, fmt.Errorf("dataset %d: %w", id, core.ErrNotFound)
	}
	return rec, err
}

// CountDatasets returns the number of catalog rows.
func (s *Store) CountDatasets(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets_metadata`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count datasets: %w", err)
	}
	return n, nil
}

// LoadDatasetsCSV imports a catalog CSV. Without force an already
// populated catalog is left untouched; with force every existing row is
// replaced. The CSV is fully parsed before the database is touched.
func (s *Store) LoadDatasetsCSV(ctx context.Context, r io.Reader, force bool) (LoadResult, error) {
	recs, err := ParseDatasetsCSV(r)
	if err != nil {
		return LoadResult{}, err
	}

	var res LoadResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets_metadata`).Scan(&existing); err != nil {
			return fmt.Errorf("count datasets: %w", err)
		}
		if existing > 0 && !force {
			res.Skipped = true
			return nil
		}
		if existing > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM datasets_metadata`); err != nil {
				return fmt.Errorf("clear datasets: %w", err)
			}
			res.Replaced = existing
		}
		n, err := insertDatasets(ctx, tx, recs)
		res.Inserted = n
		return err
	})
	if err != nil {
		return LoadResult{}, err
	}
	return res, nil
}

// InsertDatasets appends records to the catalog.
func (s *Store) InsertDatasets(ctx context.Context, recs []core.DatasetRecord) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = insertDatasets(ctx, tx, recs)
		return err
	})
	return n, err
}

func insertDatasets(ctx context.Context, tx *sql.Tx, recs []core.DatasetRecord) (int, error) {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO datasets_metadata
			(dataset_name, source, category, file_size_mb, record_count, last_updated, archived)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.Name, rec.Source, rec.Category, rec.SizeMB, rec.RecordCount,
			formatTime(rec.LastUpdated), rec.Archived,
		); err != nil {
			return i, fmt.Errorf("insert dataset %q: %w", rec.Name, err)
		}
	}
	return len(recs), nil
}

// SetArchived flips the archived flag on one dataset.
func (s *Store) SetArchived(ctx context.Context, id int64, archived bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE datasets_metadata SET archived = ? WHERE id = ?`, archived, id)
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set archived: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("dataset %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// ExportDatasetsCSV writes the catalog in list order.
func (s *Store) ExportDatasetsCSV(ctx context.Context, w io.Writer) error {
	recs, err := s.ListDatasets(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(DatasetExportHeader); err != nil {
		return err
	}
	for _, rec := range recs {
		last := ""
		if rec.LastUpdated != nil {
			last = rec.LastUpdated.UTC().Format(time.RFC3339)
		}
		if err := cw.Write([]string{
			strconv.FormatInt(rec.ID, 10),
			rec.Name,
			rec.Source,
			rec.Category,
			strconv.FormatFloat(rec.SizeMB, 'f', -1, 64),
			strconv.FormatInt(rec.RecordCount, 10),
			last,
			strconv.FormatBool(rec.Archived),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDataset(sc scanner) (core.DatasetRecord, error) {
	var rec core.DatasetRecord
	var last sql.NullString
	if err := sc.Scan(&rec.ID, &rec.Name, &rec.Source, &rec.Category,
		&rec.SizeMB, &rec.RecordCount, &last, &rec.Archived); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan dataset: %w", err)
	}
	rec.LastUpdated = parseStoredTime(last)
	return rec, nil
}
