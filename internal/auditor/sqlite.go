package auditor

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

// SQLiteAuditor persists audit events to a SQLite database.
// Rows carry a SHA-256 checksum so edits to history can be detected.
type SQLiteAuditor struct {
	db        *sql.DB
	mu        sync.Mutex
	retention time.Duration // 0 = keep forever
	log       logger.Logger
}

// SQLiteConfig configures the SQLite auditor.
type SQLiteConfig struct {
	Path      string        // Database file path
	Retention time.Duration // How long to keep logs (0 = forever)
	Log       logger.Logger // Receives write failures; nil discards
}

// AuditRecord represents a single audit log entry.
type AuditRecord struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	DatasetID int64     `json:"dataset_id,omitempty"`
	SizeMB    float64   `json:"size_mb,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	Error     string    `json:"error,omitempty"`
	Fields    string    `json:"fields,omitempty"` // JSON-encoded extra fields
	Checksum  string    `json:"checksum"`
}

// NewSQLite creates a new SQLite auditor.
func NewSQLite(cfg SQLiteConfig) (*SQLiteAuditor, error) {
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteAuditor{
		db:        db,
		retention: cfg.Retention,
		log:       log,
	}, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		action TEXT NOT NULL,
		target TEXT,
		mode TEXT,
		reason TEXT,
		dataset_id INTEGER,
		size_mb REAL,
		actor TEXT,
		error TEXT,
		fields TEXT,
		checksum TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_target ON audit_log(target);
	CREATE INDEX IF NOT EXISTS idx_audit_level ON audit_log(level);

	CREATE TABLE IF NOT EXISTS audit_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO audit_meta (key, value)
		VALUES ('created_at', ?)
	`, time.Now().UTC().Format(time.RFC3339))

	return err
}

// Record persists an audit event to the database.
// Failures are logged and swallowed: auditing never blocks an operation.
func (a *SQLiteAuditor) Record(ctx context.Context, evt core.AuditEvent) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	r := AuditRecord{
		Timestamp: evt.Time,
		Level:     evt.Level,
		Action:    evt.Action,
		Target:    evt.Target,
	}
	if evt.Err != nil {
		r.Error = evt.Err.Error()
	}
	if evt.Fields != nil {
		r.Mode, _ = evt.Fields["mode"].(string)
		r.Reason, _ = evt.Fields["reason"].(string)
		r.Actor, _ = evt.Fields["actor"].(string)
		if v, ok := evt.Fields["dataset_id"].(int64); ok {
			r.DatasetID = v
		}
		if v, ok := evt.Fields["size_mb"].(float64); ok {
			r.SizeMB = v
		}
		if b, err := json.Marshal(evt.Fields); err == nil {
			r.Fields = string(b)
		}
	}
	r.Checksum = computeChecksum(r)

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO audit_log (timestamp, level, action, target, mode, reason, dataset_id, size_mb, actor, error, fields, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level, r.Action, r.Target, r.Mode, r.Reason,
		r.DatasetID, r.SizeMB, r.Actor, r.Error, r.Fields, r.Checksum,
	)
	if err != nil {
		a.log.Error("audit write failed", logger.F("action", evt.Action), logger.F("error", err))
	}
}

// computeChecksum hashes every stored column except id and checksum.
func computeChecksum(r AuditRecord) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%d|%s|%s|%s|%s",
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Level, r.Action, r.Target, r.Mode, r.Reason, r.DatasetID,
		strconv.FormatFloat(r.SizeMB, 'g', -1, 64),
		r.Actor, r.Error, r.Fields)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Close closes the database connection.
func (a *SQLiteAuditor) Close() error {
	return a.db.Close()
}

// QueryFilter specifies filters for querying audit records.
type QueryFilter struct {
	Since  time.Time
	Until  time.Time
	Action string // evaluate, archive, ticket_update, catalog_load
	Level  string // info, warn, error
	Target string // partial match
	Limit  int
}

const recordColumns = `id, timestamp, level, action, target, mode, reason, dataset_id, size_mb, actor, error, fields, checksum`

// Query retrieves audit records matching the given filters, newest first.
func (a *SQLiteAuditor) Query(ctx context.Context, filter QueryFilter) ([]AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	query := `SELECT ` + recordColumns + ` FROM audit_log WHERE 1=1`
	args := []interface{}{}

	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.Level != "" {
		query += " AND level = ?"
		args = append(args, filter.Level)
	}
	if filter.Target != "" {
		query += " AND target LIKE ?"
		args = append(args, "%"+filter.Target+"%")
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func scanRecord(rows *sql.Rows) (AuditRecord, error) {
	var r AuditRecord
	var ts string
	var target, mode, reason, actor, errStr, fields sql.NullString
	var datasetID sql.NullInt64
	var sizeMB sql.NullFloat64

	if err := rows.Scan(&r.ID, &ts, &r.Level, &r.Action, &target, &mode, &reason,
		&datasetID, &sizeMB, &actor, &errStr, &fields, &r.Checksum); err != nil {
		return r, fmt.Errorf("scan row: %w", err)
	}

	r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	r.Target = target.String
	r.Mode = mode.String
	r.Reason = reason.String
	r.DatasetID = datasetID.Int64
	r.SizeMB = sizeMB.Float64
	r.Actor = actor.String
	r.Error = errStr.String
	r.Fields = fields.String
	return r, nil
}

// VerifyIntegrity checks all records for tampering.
// Returns list of record IDs with invalid checksums.
func (a *SQLiteAuditor) VerifyIntegrity(ctx context.Context) ([]int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM audit_log ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query for integrity check: %w", err)
	}
	defer rows.Close()

	var tampered []int64
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if r.Checksum != computeChecksum(r) {
			tampered = append(tampered, r.ID)
		}
	}

	return tampered, rows.Err()
}

// AuditStats contains summary statistics.
type AuditStats struct {
	TotalRecords   int64     `json:"total_records"`
	FirstRecord    time.Time `json:"first_record"`
	LastRecord     time.Time `json:"last_record"`
	Archived       int64     `json:"archived"`
	ArchivedSizeMB float64   `json:"archived_size_mb"`
	TicketUpdates  int64     `json:"ticket_updates"`
	Errors         int64     `json:"errors"`
}

// Stats returns summary statistics from the audit log.
func (a *SQLiteAuditor) Stats(ctx context.Context) (*AuditStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := &AuditStats{}

	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&stats.TotalRecords); err != nil {
		return nil, err
	}

	var firstTS, lastTS sql.NullString
	if err := a.db.QueryRowContext(ctx, "SELECT MIN(timestamp), MAX(timestamp) FROM audit_log").Scan(&firstTS, &lastTS); err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if firstTS.Valid {
		stats.FirstRecord, _ = time.Parse(time.RFC3339Nano, firstTS.String)
	}
	if lastTS.Valid {
		stats.LastRecord, _ = time.Parse(time.RFC3339Nano, lastTS.String)
	}

	var archivedMB sql.NullFloat64
	if err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(size_mb) FROM audit_log WHERE action = ? AND reason = 'archived'",
		core.AuditActionArchive,
	).Scan(&stats.Archived, &archivedMB); err != nil {
		return nil, err
	}
	stats.ArchivedSizeMB = archivedMB.Float64

	if err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE action = ?", core.AuditActionTicketUpdate,
	).Scan(&stats.TicketUpdates); err != nil {
		return nil, err
	}

	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log WHERE level = 'error'").Scan(&stats.Errors); err != nil {
		return nil, err
	}

	return stats, nil
}

// Prune removes records older than the given age. A zero age uses the
// configured retention; with no retention nothing is removed.
func (a *SQLiteAuditor) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = a.retention
	}
	if olderThan <= 0 {
		return 0, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	result, err := a.db.ExecContext(ctx, "DELETE FROM audit_log WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Export writes all records since the given time as indented JSON.
func (a *SQLiteAuditor) Export(ctx context.Context, since time.Time) ([]byte, error) {
	records, err := a.Query(ctx, QueryFilter{Since: since})
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(records, "", "  ")
}

// Ensure SQLiteAuditor implements core.Auditor
var _ core.Auditor = (*SQLiteAuditor)(nil)
