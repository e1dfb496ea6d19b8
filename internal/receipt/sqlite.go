package receipt

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/zombor/receipt-scanner/internal/receipt/migrations"
)

// isoLayout stores timestamps as timezone-naive ISO 8601 local time, which
// keeps the table readable by other tools working on the same file
const isoLayout = "2006-01-02T15:04:05.999999999"

// SQLiteDB implements the DB interface on a single-file SQLite database
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens or creates the database file at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteDB{db: db}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// migrate applies the numbered *.up.sql files newer than the highest
// version in schema_migrations, each in its own transaction
func (s *SQLiteDB) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	names, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return fmt.Errorf("migration %s has no version prefix", name)
		}
		if version <= current {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.apply(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		slog.Debug("Applied migration", "version", version, "file", name)
	}
	return nil
}

func (s *SQLiteDB) apply(version int, stmts string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmts); err != nil {
		return err
	}
	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		version, time.Now().Local().Format(isoLayout),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveReceipt appends a receipt and assigns its ID
func (s *SQLiteDB) SaveReceipt(receipt *Receipt) error {
	var receiptTime sql.NullString
	if receipt.ReceiptTime != nil {
		receiptTime = sql.NullString{String: receipt.ReceiptTime.Local().Format(isoLayout), Valid: true}
	}

	res, err := s.db.Exec(
		`INSERT INTO receipt (entry_date_time, receipt_date_time, price, vat, filename, content_type)
		VALUES (?, ?, ?, ?, ?, ?)`,
		receipt.EnteredAt.Local().Format(isoLayout),
		receiptTime,
		receipt.Price,
		receipt.VAT,
		receipt.Filename,
		receipt.ContentType,
	)
	if err != nil {
		return fmt.Errorf("inserting receipt: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading receipt id: %w", err)
	}
	receipt.ID = uint64(id)
	return nil
}

const selectReceipt = `SELECT id, entry_date_time, receipt_date_time, price, vat,
	COALESCE(filename, ''), COALESCE(content_type, '')
	FROM receipt`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r           Receipt
		enteredAt   string
		receiptTime sql.NullString
	)
	if err := row.Scan(&r.ID, &enteredAt, &receiptTime, &r.Price, &r.VAT, &r.Filename, &r.ContentType); err != nil {
		return nil, err
	}

	t, err := time.ParseInLocation(isoLayout, enteredAt, time.Local)
	if err != nil {
		return nil, fmt.Errorf("parsing entry time of receipt %d: %w", r.ID, err)
	}
	r.EnteredAt = t

	if receiptTime.Valid {
		t, err := time.ParseInLocation(isoLayout, receiptTime.String, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parsing receipt time of receipt %d: %w", r.ID, err)
		}
		r.ReceiptTime = &t
	}
	return &r, nil
}

// GetReceipt retrieves a receipt by ID
func (s *SQLiteDB) GetReceipt(id uint64) (*Receipt, error) {
	r, err := scanReceipt(s.db.QueryRow(selectReceipt+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying receipt: %w", err)
	}
	return r, nil
}

// ListReceipts returns one page of receipts
func (s *SQLiteDB) ListReceipts(page int) ([]*Receipt, error) {
	if page < 0 {
		return nil, fmt.Errorf("%w: page %d", ErrInvalidData, page)
	}

	rows, err := s.db.Query(selectReceipt+" ORDER BY id LIMIT ? OFFSET ?", PageSize, page*PageSize)
	if err != nil {
		return nil, fmt.Errorf("querying receipts: %w", err)
	}
	defer rows.Close()

	receipts := make([]*Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating receipts: %w", err)
	}
	return receipts, nil
}

// CountReceipts returns the number of stored receipts
func (s *SQLiteDB) CountReceipts() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM receipt").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting receipts: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}
