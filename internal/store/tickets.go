package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// TicketUpdate carries the optional fields of a ticket edit.
// Nil pointers leave the column unchanged.
type TicketUpdate struct {
	Status     *string
	AssignedTo *string
}

const ticketColumns = `id, ticket_id, subject, priority, status, category, created_date, assigned_to`

// ListTickets returns all tickets in insertion order.
func (s *Store) ListTickets(ctx context.Context) ([]core.Ticket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ticketColumns+` FROM it_tickets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	var out []core.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTicket returns one ticket by primary key.
func (s *Store) GetTicket(ctx context.Context, id int64) (core.Ticket, error) {
	return getTicket(ctx, s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTicket(ctx context.Context, q queryRower, id int64) (core.Ticket, error) {
	t, err := scanTicket(q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM it_tickets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Ticket{}, fmt.Errorf("ticket %d: %w", id, core.ErrNotFound)
	}
	return t, err
}

// CountTickets returns the number of tickets.
func (s *Store) CountTickets(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM it_tickets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tickets: %w", err)
	}
	return n, nil
}

// LoadTicketsCSV imports tickets. Without force a non-empty table is
// left untouched.
func (s *Store) LoadTicketsCSV(ctx context.Context, r io.Reader, force bool) (LoadResult, error) {
	tickets, err := ParseTicketsCSV(r)
	if err != nil {
		return LoadResult{}, err
	}

	var res LoadResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM it_tickets`).Scan(&existing); err != nil {
			return fmt.Errorf("count tickets: %w", err)
		}
		if existing > 0 && !force {
			res.Skipped = true
			return nil
		}
		if existing > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM it_tickets`); err != nil {
				return fmt.Errorf("clear tickets: %w", err)
			}
			res.Replaced = existing
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO it_tickets
				(ticket_id, subject, priority, status, category, created_date, assigned_to)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tickets {
			if _, err := stmt.ExecContext(ctx,
				t.TicketID, t.Subject, t.Priority, t.Status, t.Category,
				formatTime(t.CreatedDate), t.AssignedTo,
			); err != nil {
				return fmt.Errorf("insert ticket %q: %w", t.TicketID, err)
			}
			res.Inserted++
		}
		return nil
	})
	if err != nil {
		return LoadResult{}, err
	}
	return res, nil
}

// UpdateTicket applies u to ticket id and returns the row before and
// after the change.
func (s *Store) UpdateTicket(ctx context.Context, id int64, u TicketUpdate) (before, after core.Ticket, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		before, err = getTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		after = before
		if u.Status != nil {
			after.Status = *u.Status
		}
		if u.AssignedTo != nil {
			after.AssignedTo = *u.AssignedTo
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE it_tickets SET status = ?, assigned_to = ? WHERE id = ?`,
			after.Status, after.AssignedTo, id)
		if err != nil {
			return fmt.Errorf("update ticket %d: %w", id, err)
		}
		return nil
	})
	return before, after, err
}

func scanTicket(sc scanner) (core.Ticket, error) {
	var t core.Ticket
	var created sql.NullString
	if err := sc.Scan(&t.ID, &t.TicketID, &t.Subject, &t.Priority, &t.Status,
		&t.Category, &created, &t.AssignedTo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("scan ticket: %w", err)
	}
	t.CreatedDate = parseStoredTime(created)
	return t, nil
}
