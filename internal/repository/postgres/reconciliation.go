package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ubipay/internal/domain"
	"ubipay/internal/reconciliation"
	"ubipay/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const (
	reportColumns = `id, report_date, provider, currency, total_internal, total_provider, internal_amount,
	provider_amount, matched, discrepancies, status, error, started_at, completed_at`

	discrepancyColumns = `id, report_id, type, provider_reference, transaction_id, internal_amount, provider_amount,
	difference, currency, severity, status, resolution, resolved_by, resolved_at, auto_resolved, created_at`
)

type ReconciliationRepository struct {
	db *sqlx.DB
}

func NewReconciliationRepository(db *sqlx.DB) *ReconciliationRepository {
	return &ReconciliationRepository{db: db}
}

func (r *ReconciliationRepository) StartReport(ctx context.Context, report *domain.ReconciliationReport) ([]*domain.ReconciliationDiscrepancy, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query, args, err := sqlx.Named(`
		INSERT INTO reconciliation_reports (`+reportColumns+`)
		VALUES (
			:id, :report_date, :provider, :currency, :total_internal, :total_provider, :internal_amount,
			:provider_amount, :matched, :discrepancies, :status, :error, :started_at, :completed_at
		)
		ON CONFLICT (provider, report_date, currency) DO UPDATE SET
			total_internal = 0,
			total_provider = 0,
			internal_amount = 0,
			provider_amount = 0,
			matched = 0,
			discrepancies = 0,
			status = EXCLUDED.status,
			error = NULL,
			started_at = EXCLUDED.started_at,
			completed_at = NULL
		RETURNING id
	`, report)
	if err != nil {
		return nil, errors.Wrap(err, "failed to bind reconciliation report")
	}
	if err := tx.GetContext(ctx, &report.ID, tx.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to create reconciliation report")
	}

	var resolved []*domain.ReconciliationDiscrepancy
	err = tx.SelectContext(ctx, &resolved,
		`SELECT `+discrepancyColumns+` FROM reconciliation_discrepancies WHERE report_id = $1 AND status <> 'pending'`,
		report.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load resolved discrepancies")
	}
	return resolved, errors.Wrap(tx.Commit(), "failed to commit reconciliation report")
}

func (r *ReconciliationRepository) CompleteReport(ctx context.Context, report *domain.ReconciliationReport, discrepancies []*domain.ReconciliationDiscrepancy) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := `
		UPDATE reconciliation_reports SET
			total_internal = :total_internal,
			total_provider = :total_provider,
			internal_amount = :internal_amount,
			provider_amount = :provider_amount,
			matched = :matched,
			discrepancies = :discrepancies,
			status = :status,
			completed_at = :completed_at
		WHERE id = :id
	`
	res, err := tx.NamedExecContext(ctx, query, report)
	if err != nil {
		return errors.Wrap(err, "failed to update reconciliation report")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrReportNotFound
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM reconciliation_discrepancies WHERE report_id = $1 AND status = 'pending'`, report.ID)
	if err != nil {
		return errors.Wrap(err, "failed to clear previous discrepancies")
	}

	if len(discrepancies) > 0 {
		insert := `
			INSERT INTO reconciliation_discrepancies (` + discrepancyColumns + `)
			VALUES (
				:id, :report_id, :type, :provider_reference, :transaction_id, :internal_amount, :provider_amount,
				:difference, :currency, :severity, :status, :resolution, :resolved_by, :resolved_at, :auto_resolved, :created_at
			)
		`
		if _, err := tx.NamedExecContext(ctx, insert, discrepancies); err != nil {
			return errors.Wrap(err, "failed to insert discrepancies")
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit reconciliation report")
}

func (r *ReconciliationRepository) FailReport(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	query := `UPDATE reconciliation_reports SET status = $2, error = $3, completed_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, domain.ReportStatusFailed, reason, at)
	if err != nil {
		return errors.Wrap(err, "failed to mark report failed")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrReportNotFound
	}
	return nil
}

func (r *ReconciliationRepository) GetReport(ctx context.Context, id uuid.UUID) (*domain.ReconciliationReport, error) {
	report := &domain.ReconciliationReport{}
	query := `SELECT ` + reportColumns + ` FROM reconciliation_reports WHERE id = $1`
	if err := r.db.GetContext(ctx, report, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrReportNotFound
		}
		return nil, errors.Wrap(err, "failed to get reconciliation report")
	}
	return report, nil
}

func (r *ReconciliationRepository) ListReports(ctx context.Context, filter reconciliation.ReportFilter) ([]*domain.ReconciliationReport, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Provider != nil {
		add("provider = $%d", *filter.Provider)
	}
	if !filter.StartDate.IsZero() {
		add("report_date >= $%d::date", filter.StartDate.Format("2006-01-02"))
	}
	if !filter.EndDate.IsZero() {
		add("report_date <= $%d::date", filter.EndDate.Format("2006-01-02"))
	}

	query := `SELECT ` + reportColumns + ` FROM reconciliation_reports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at`

	var out []*domain.ReconciliationReport
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to list reconciliation reports")
	}
	return out, nil
}

func (r *ReconciliationRepository) GetDiscrepancy(ctx context.Context, id uuid.UUID) (*domain.ReconciliationDiscrepancy, error) {
	d := &domain.ReconciliationDiscrepancy{}
	query := `SELECT ` + discrepancyColumns + ` FROM reconciliation_discrepancies WHERE id = $1`
	if err := r.db.GetContext(ctx, d, query, id); err != nil {
		if isNoRows(err) {
			return nil, errors.ErrDiscrepancyNotFound
		}
		return nil, errors.Wrap(err, "failed to get discrepancy")
	}
	return d, nil
}

func (r *ReconciliationRepository) ListPendingDiscrepancies(ctx context.Context, filter reconciliation.DiscrepancyFilter) ([]*domain.ReconciliationDiscrepancy, int, error) {
	where := []string{"status = 'pending'"}
	var args []interface{}
	if filter.Severity != nil {
		args = append(args, *filter.Severity)
		where = append(where, fmt.Sprintf("severity = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM reconciliation_discrepancies WHERE `+cond, args...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count pending discrepancies")
	}

	query := `SELECT ` + discrepancyColumns + ` FROM reconciliation_discrepancies WHERE ` + cond + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var out []*domain.ReconciliationDiscrepancy
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list pending discrepancies")
	}
	return out, total, nil
}

func (r *ReconciliationRepository) ResolveDiscrepancy(ctx context.Context, d *domain.ReconciliationDiscrepancy) error {
	query := `
		UPDATE reconciliation_discrepancies SET
			status = 'resolved',
			resolution = :resolution,
			resolved_by = :resolved_by,
			resolved_at = :resolved_at,
			auto_resolved = :auto_resolved
		WHERE id = :id AND status = 'pending'
	`
	res, err := r.db.NamedExecContext(ctx, query, d)
	if err != nil {
		return errors.Wrap(err, "failed to resolve discrepancy")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetDiscrepancy(ctx, d.ID); err != nil {
			return err
		}
		return errors.ErrAlreadyResolved
	}
	return nil
}

func (r *ReconciliationRepository) CreateBalanceReconciliation(ctx context.Context, b *domain.BalanceReconciliation) error {
	query := `
		INSERT INTO balance_reconciliations (
			id, provider, currency, report_date, ubi_balance, provider_balance, difference, percentage_diff, status, created_at
		) VALUES (
			:id, :provider, :currency, :report_date, :ubi_balance, :provider_balance, :difference, :percentage_diff, :status, :created_at
		)
	`
	_, err := r.db.NamedExecContext(ctx, query, b)
	return errors.Wrap(err, "failed to create balance reconciliation")
}

func (r *ReconciliationRepository) CreateAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (id, kind, severity, provider, currency, message, payload, created_at)
		VALUES (:id, :kind, :severity, :provider, :currency, :message, :payload, :created_at)
	`
	_, err := r.db.NamedExecContext(ctx, query, alert)
	return errors.Wrap(err, "failed to create alert")
}
