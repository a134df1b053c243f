package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/gym-backoffice/internal/persistence"
	"github.com/example/gym-backoffice/internal/scheduler"
)

// sqlTx binds the repositories to one database transaction.
type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
	mapper  *ErrorMapper
}

func (t *sqlTx) Bookings() persistence.BookingRepository   { return bookingRepository{t} }
func (t *sqlTx) Contracts() persistence.ContractRepository { return contractRepository{t} }
func (t *sqlTx) Members() persistence.MemberDirectory      { return memberDirectory{t} }

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
	return res, t.mapper.MapError(err)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
	return rows, t.mapper.MapError(err)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- bookings ---

type bookingRepository struct{ t *sqlTx }

const bookingColumns = `id, trainer_id, client_id, start_time, end_time, status, title, notes, created_at, updated_at`

func (r bookingRepository) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	if booking.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.t.exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.TrainerID,
		booking.ClientID,
		formatTime(booking.Start),
		formatTime(booking.End),
		booking.Status,
		booking.Title,
		nullString(booking.Notes),
		formatTime(booking.CreatedAt),
		formatTime(booking.UpdatedAt),
	)
	return err
}

func (r bookingRepository) UpdateBooking(ctx context.Context, booking persistence.Booking) error {
	res, err := r.t.exec(ctx, `
		UPDATE bookings
		SET trainer_id = ?, client_id = ?, start_time = ?, end_time = ?, status = ?, title = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		booking.TrainerID,
		booking.ClientID,
		formatTime(booking.Start),
		formatTime(booking.End),
		booking.Status,
		booking.Title,
		nullString(booking.Notes),
		formatTime(booking.UpdatedAt),
		booking.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r bookingRepository) GetBooking(ctx context.Context, id string) (persistence.Booking, error) {
	if id == "" {
		return persistence.Booking{}, persistence.ErrNotFound
	}
	row := r.t.queryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	booking, err := scanBooking(row)
	if err != nil {
		return persistence.Booking{}, r.t.mapper.MapError(err)
	}
	return booking, nil
}

func (r bookingRepository) ListBookings(ctx context.Context, filter persistence.BookingFilter) ([]persistence.Booking, error) {
	var (
		where []string
		args  []any
	)

	if filter.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeID)
	}
	if filter.ExcludeCancelled {
		where = append(where, "status <> ?")
		args = append(args, string(scheduler.StatusCancelled))
	}

	switch {
	case filter.AnyResource && filter.TrainerID != "" && filter.ClientID != "":
		where = append(where, "(trainer_id = ? OR client_id = ?)")
		args = append(args, filter.TrainerID, filter.ClientID)
	default:
		if filter.TrainerID != "" {
			where = append(where, "trainer_id = ?")
			args = append(args, filter.TrainerID)
		}
		if filter.ClientID != "" {
			where = append(where, "client_id = ?")
			args = append(args, filter.ClientID)
		}
	}

	if filter.OverlapEnd != nil {
		where = append(where, "start_time < ?")
		args = append(args, formatTime(*filter.OverlapEnd))
	}
	if filter.OverlapStart != nil {
		where = append(where, "end_time > ?")
		args = append(args, formatTime(*filter.OverlapStart))
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []persistence.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, r.t.mapper.MapError(err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, r.t.mapper.MapError(err)
	}
	return bookings, nil
}

func scanBooking(row rowScanner) (persistence.Booking, error) {
	var (
		booking                          persistence.Booking
		start, end, createdAt, updatedAt string
		notes                            sql.NullString
	)
	if err := row.Scan(
		&booking.ID,
		&booking.TrainerID,
		&booking.ClientID,
		&start,
		&end,
		&booking.Status,
		&booking.Title,
		&notes,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Booking{}, err
	}

	var err error
	if booking.Start, err = parseTime(start); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if booking.End, err = parseTime(end); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse end_time: %w", err)
	}
	if booking.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if booking.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Booking{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	booking.Notes = stringPtr(notes)
	return booking, nil
}

// --- contracts ---

type contractRepository struct{ t *sqlTx }

const contractColumns = `id, subject_id, membership_id, start_time, end_time, price, state, created_at, updated_at`

func (r contractRepository) CreateContract(ctx context.Context, contract persistence.Contract) error {
	if contract.ID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.t.exec(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		contract.ID,
		contract.SubjectID,
		contract.MembershipID,
		formatTime(contract.Start),
		formatTime(contract.End),
		contract.Price,
		contract.State,
		formatTime(contract.CreatedAt),
		formatTime(contract.UpdatedAt),
	)
	return err
}

func (r contractRepository) UpdateContract(ctx context.Context, contract persistence.Contract) error {
	res, err := r.t.exec(ctx, `
		UPDATE contracts
		SET subject_id = ?, membership_id = ?, start_time = ?, end_time = ?, price = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		contract.SubjectID,
		contract.MembershipID,
		formatTime(contract.Start),
		formatTime(contract.End),
		contract.Price,
		contract.State,
		formatTime(contract.UpdatedAt),
		contract.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (r contractRepository) GetContract(ctx context.Context, id string) (persistence.Contract, error) {
	if id == "" {
		return persistence.Contract{}, persistence.ErrNotFound
	}
	row := r.t.queryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id)
	contract, err := scanContract(row)
	if err != nil {
		return persistence.Contract{}, r.t.mapper.MapError(err)
	}
	return contract, nil
}

func (r contractRepository) ListContracts(ctx context.Context, filter persistence.ContractFilter) ([]persistence.Contract, error) {
	var (
		where []string
		args  []any
	)
	if filter.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			placeholders[i] = "?"
			args = append(args, state)
		}
		where = append(where, "state IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EndsAtOrBefore != nil {
		where = append(where, "end_time <= ?")
		args = append(args, formatTime(*filter.EndsAtOrBefore))
	}
	if filter.After != nil {
		end := formatTime(filter.After.End)
		where = append(where, "(end_time > ? OR (end_time = ? AND id > ?))")
		args = append(args, end, end, filter.After.ID)
	}

	query := `SELECT ` + contractColumns + ` FROM contracts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY end_time ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.t.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []persistence.Contract
	for rows.Next() {
		contract, err := scanContract(rows)
		if err != nil {
			return nil, r.t.mapper.MapError(err)
		}
		contracts = append(contracts, contract)
	}
	if err := rows.Err(); err != nil {
		return nil, r.t.mapper.MapError(err)
	}
	return contracts, nil
}

func scanContract(row rowScanner) (persistence.Contract, error) {
	var (
		contract                         persistence.Contract
		start, end, createdAt, updatedAt string
	)
	if err := row.Scan(
		&contract.ID,
		&contract.SubjectID,
		&contract.MembershipID,
		&start,
		&end,
		&contract.Price,
		&contract.State,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Contract{}, err
	}

	var err error
	if contract.Start, err = parseTime(start); err != nil {
		return persistence.Contract{}, fmt.Errorf("failed to parse start_time: %w", err)
	}
	if contract.End, err = parseTime(end); err != nil {
		return persistence.Contract{}, fmt.Errorf("failed to parse end_time: %w", err)
	}
	if contract.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Contract{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if contract.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Contract{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return contract, nil
}

func (r contractRepository) AppendHistory(ctx context.Context, record persistence.ContractHistory) error {
	if record.ID == "" || record.ToState == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.t.exec(ctx, `
		INSERT INTO contract_history (id, contract_id, from_state, to_state, changed_at, changed_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ContractID,
		nullString(record.FromState),
		record.ToState,
		formatTime(record.ChangedAt),
		record.ChangedBy,
		nullString(record.Reason),
	)
	return err
}

// ListHistory returns records oldest first. The inception record sorts ahead
// of any transition sharing its timestamp.
func (r contractRepository) ListHistory(ctx context.Context, contractID string) ([]persistence.ContractHistory, error) {
	rows, err := r.t.query(ctx, `
		SELECT id, contract_id, from_state, to_state, changed_at, changed_by, reason
		FROM contract_history
		WHERE contract_id = ?
		ORDER BY changed_at ASC, CASE WHEN from_state IS NULL THEN 0 ELSE 1 END ASC, id ASC`,
		contractID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []persistence.ContractHistory
	for rows.Next() {
		var (
			record       persistence.ContractHistory
			from, reason sql.NullString
			changedAt    string
		)
		if err := rows.Scan(&record.ID, &record.ContractID, &from, &record.ToState, &changedAt, &record.ChangedBy, &reason); err != nil {
			return nil, r.t.mapper.MapError(err)
		}
		if record.ChangedAt, err = parseTime(changedAt); err != nil {
			return nil, fmt.Errorf("failed to parse changed_at: %w", err)
		}
		record.FromState = stringPtr(from)
		record.Reason = stringPtr(reason)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, r.t.mapper.MapError(err)
	}
	return records, nil
}

// --- members ---

type memberDirectory struct{ t *sqlTx }

func (d memberDirectory) GetMember(ctx context.Context, kind persistence.MemberKind, id string) (persistence.Member, error) {
	var (
		member               persistence.Member
		kindStr              string
		active               int
		createdAt, updatedAt string
	)
	err := d.t.queryRow(ctx, `
		SELECT kind, id, display_name, active, created_at, updated_at
		FROM members
		WHERE kind = ? AND id = ?`,
		string(kind), id,
	).Scan(&kindStr, &member.ID, &member.DisplayName, &active, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Member{}, persistence.ErrNotFound
		}
		return persistence.Member{}, d.t.mapper.MapError(err)
	}

	member.Kind = persistence.MemberKind(kindStr)
	member.Active = active != 0
	if member.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Member{}, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if member.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Member{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return member, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
