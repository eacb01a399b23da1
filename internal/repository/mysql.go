package repository

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

const dbTimeout = 2 * time.Second

// DefaultQuota is granted to users that have no user_quotas row yet.
const DefaultQuota = 10

// Schema creates the tables this package reads and writes. Each statement is
// executed separately so the DSN does not need multiStatements.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS user_quotas (
		user_id           VARCHAR(64) PRIMARY KEY,
		monthly_quota     INT NOT NULL,
		remaining_credits INT NOT NULL,
		updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_orders (
		id            CHAR(36) PRIMARY KEY,
		user_id       VARCHAR(64) NOT NULL,
		file_name     VARCHAR(255) NOT NULL,
		file_sha256   CHAR(64) NOT NULL,
		status        VARCHAR(16) NOT NULL,
		po_number     VARCHAR(64) NOT NULL DEFAULT '',
		vendor_name   VARCHAR(255) NOT NULL DEFAULT '',
		total_amount  DECIMAL(14,2) NOT NULL DEFAULT 0,
		line_items    INT NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_purchase_orders_user (user_id, created_at)
	)`,
}

const (
	queryQuota = "SELECT monthly_quota, remaining_credits FROM user_quotas WHERE user_id = ?"

	// A missing row is created already debited once.
	queryConsume = "INSERT INTO user_quotas (user_id, monthly_quota, remaining_credits) VALUES (?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE remaining_credits = GREATEST(remaining_credits - 1, 0)"

	querySaveOrder = "INSERT INTO purchase_orders (id, user_id, file_name, file_sha256, status, po_number, vendor_name, total_amount, line_items, error_message) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	queryRecent = "SELECT id, user_id, file_name, file_sha256, status, po_number, vendor_name, total_amount, line_items, COALESCE(error_message, ''), created_at " +
		"FROM purchase_orders WHERE user_id = ? ORDER BY created_at DESC LIMIT ?"

	queryStats = "SELECT COUNT(*), COALESCE(SUM(status = 'completed'), 0), COALESCE(SUM(status = 'failed'), 0) " +
		"FROM purchase_orders WHERE user_id = ?"
)

// MySQLRepo implements QuotaStore and RecordStore using prepared statements
// and context timeouts.
type MySQLRepo struct {
	db           *sql.DB
	defaultQuota int
	stmtQuota    *sql.Stmt
	stmtConsume  *sql.Stmt
	stmtSave     *sql.Stmt
	stmtRecent   *sql.Stmt
	stmtStats    *sql.Stmt
}

// Migrate creates missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, ddl := range Schema {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

// NewMySQLRepo prepares all statements up front. The caller owns the *sql.DB lifetime.
// A non-positive defaultQuota falls back to DefaultQuota.
func NewMySQLRepo(db *sql.DB, defaultQuota int) (*MySQLRepo, error) {
	if defaultQuota <= 0 {
		defaultQuota = DefaultQuota
	}
	r := &MySQLRepo{db: db, defaultQuota: defaultQuota}

	for _, p := range []struct {
		name  string
		query string
		dst   **sql.Stmt
	}{
		{"quota", queryQuota, &r.stmtQuota},
		{"consume", queryConsume, &r.stmtConsume},
		{"saveOrder", querySaveOrder, &r.stmtSave},
		{"recentOrders", queryRecent, &r.stmtRecent},
		{"stats", queryStats, &r.stmtStats},
	} {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(err, "prepare %s", p.name)
		}
		*p.dst = stmt
	}
	return r, nil
}

// Quota returns the user's allowance, defaulted when no row exists.
func (r *MySQLRepo) Quota(ctx context.Context, userID string) (Quota, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var q Quota
	err := r.stmtQuota.QueryRowContext(ctx, userID).Scan(&q.MonthlyQuota, &q.RemainingCredits)
	if errors.Is(err, sql.ErrNoRows) {
		return Quota{MonthlyQuota: r.defaultQuota, RemainingCredits: r.defaultQuota}, nil
	}
	if err != nil {
		return Quota{}, errors.Wrap(err, "repo quota")
	}
	return q, nil
}

// RemainingCredits implements QuotaStore.
func (r *MySQLRepo) RemainingCredits(ctx context.Context, userID string) (int, error) {
	q, err := r.Quota(ctx, userID)
	if err != nil {
		return 0, err
	}
	return q.RemainingCredits, nil
}

// ConsumeCredit implements QuotaStore.
func (r *MySQLRepo) ConsumeCredit(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err := r.stmtConsume.ExecContext(ctx, userID, r.defaultQuota, r.defaultQuota-1)
	if err != nil {
		return errors.Wrap(err, "repo consumeCredit")
	}
	return nil
}

// SaveOrder implements RecordStore.
func (r *MySQLRepo) SaveOrder(ctx context.Context, rec *OrderRecord) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var errMsg sql.NullString
	if rec.ErrorMessage != "" {
		errMsg = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}
	_, err := r.stmtSave.ExecContext(ctx,
		rec.ID, rec.UserID, rec.FileName, rec.FileSHA256, string(rec.Status),
		rec.PONumber, rec.VendorName, rec.TotalAmount, rec.LineItems, errMsg,
	)
	if err != nil {
		return errors.Wrap(err, "repo saveOrder")
	}
	return nil
}

// RecentOrders implements RecordStore.
func (r *MySQLRepo) RecentOrders(ctx context.Context, userID string, limit int) ([]OrderRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.stmtRecent.QueryContext(ctx, userID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "repo recentOrders")
	}
	defer rows.Close()

	var records []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.FileName, &rec.FileSHA256, &status,
			&rec.PONumber, &rec.VendorName, &rec.TotalAmount, &rec.LineItems, &rec.ErrorMessage, &rec.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "repo recentOrders scan")
		}
		rec.Status = OrderStatus(status)
		records = append(records, rec)
	}
	return records, errors.Wrap(rows.Err(), "repo recentOrders rows")
}

// Stats implements RecordStore.
func (r *MySQLRepo) Stats(ctx context.Context, userID string) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var s Stats
	if err := r.stmtStats.QueryRowContext(ctx, userID).Scan(&s.Total, &s.Completed, &s.Failed); err != nil {
		return Stats{}, errors.Wrap(err, "repo stats")
	}
	s.SuccessRate = successRate(s.Completed, s.Total)
	return s, nil
}

func successRate(completed, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Ping checks the database connection.
func (r *MySQLRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()
	return errors.Wrap(r.db.PingContext(ctx), "repo ping")
}

// Close releases all prepared statements.
func (r *MySQLRepo) Close() error {
	for _, s := range []*sql.Stmt{r.stmtQuota, r.stmtConsume, r.stmtSave, r.stmtRecent, r.stmtStats} {
		if s != nil {
			s.Close()
		}
	}
	return nil
}
