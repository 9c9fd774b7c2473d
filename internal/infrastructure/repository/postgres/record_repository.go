package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

// RecordRepository stores the normalized output of a run: the merged
// TaxRecord set and the derived foreign accounts. A re-run replaces both
// wholesale inside one transaction, so readers never observe a half-written
// result set.
type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) ReplaceForRun(ctx context.Context, runID string, records []domain.TaxRecord, accounts []domain.ForeignAccount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin records tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tax_records WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM foreign_accounts WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}

	for idx, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO tax_records (run_id, position, form, code, payload)
VALUES ($1,$2,$3,$4,$5)
`, runID, idx, record.Form, record.Code, payload); err != nil {
			return fmt.Errorf("insert record %s/%s: %w", record.Form, record.Code, err)
		}
	}

	for idx, account := range accounts {
		payload, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO foreign_accounts (run_id, position, account_number, payload)
VALUES ($1,$2,$3,$4)
`, runID, idx, account.AccountNumber, payload); err != nil {
			return fmt.Errorf("insert account %s: %w", account.AccountNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit records tx: %w", err)
	}
	return nil
}

func (r *RecordRepository) ListRecords(ctx context.Context, runID string) ([]domain.TaxRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT payload
FROM tax_records
WHERE run_id = $1
ORDER BY position
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []domain.TaxRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var record domain.TaxRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func (r *RecordRepository) ListAccounts(ctx context.Context, runID string) ([]domain.ForeignAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT payload
FROM foreign_accounts
WHERE run_id = $1
ORDER BY position
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []domain.ForeignAccount
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		var account domain.ForeignAccount
		if err := json.Unmarshal(payload, &account); err != nil {
			return nil, fmt.Errorf("unmarshal account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (r *RecordRepository) UpdateRecordValue(ctx context.Context, runID string, record domain.TaxRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE tax_records
SET payload = $4
WHERE run_id = $1 AND form = $2 AND code = $3
`, runID, record.Form, record.Code, payload)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRecordNotFound, "update record",
			fmt.Errorf("run %s form %s code %s", runID, record.Form, record.Code))
	}
	return nil
}
