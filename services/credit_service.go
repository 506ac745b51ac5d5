package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stepCreditAPI/internal/apperr"
	"stepCreditAPI/internal/credit"
	"stepCreditAPI/middleware"
)

// CreditService owns the per-user credit ledger: a balance row plus an
// append-only entry log. Every mutation locks the balance row inside a
// transaction, so concurrent credits/debits on one user serialize while
// different users proceed in parallel.
type CreditService struct {
	db *pgxpool.Pool
}

func NewCreditService(db *pgxpool.Pool) *CreditService {
	return &CreditService{db: db}
}

// Credit adds earned or bonus credits. entryID is the caller-generated id used
// to dedupe at-least-once retries; pass uuid.Nil to mint a fresh one.
func (s *CreditService) Credit(ctx context.Context, userID string, amount int, kind credit.EntryKind, source, description string, metadata map[string]any, entryID uuid.UUID) (*credit.Account, error) {
	if !kind.Increases() {
		return nil, apperr.Validation("kind %q cannot be credited", kind)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := s.creditInTx(ctx, tx, userID, amount, kind, source, description, metadata, entryID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

// Debit removes spent or penalty credits, failing without side effects when
// the available balance is too low.
func (s *CreditService) Debit(ctx context.Context, userID string, amount int, kind credit.EntryKind, source, description string, metadata map[string]any) (*credit.Account, error) {
	if kind.Increases() || !kind.Valid() {
		return nil, apperr.Validation("kind %q cannot be debited", kind)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	account, err := s.debitInTx(ctx, tx, userID, amount, kind, source, description, metadata)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return account, nil
}

// GetBalance returns a zeroed account for unknown users instead of not-found,
// since accounts are created lazily on first credit.
func (s *CreditService) GetBalance(ctx context.Context, userID string) (*credit.Account, error) {
	account := &credit.Account{UserID: userID, LastUpdated: time.Now()}

	query := `
		SELECT user_id, available_credits, lifetime_earned, lifetime_spent, last_updated
		FROM credit_balances
		WHERE user_id = $1
	`
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.AvailableCredits,
		&account.LifetimeEarned,
		&account.LifetimeSpent,
		&account.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return account, nil
}

func (s *CreditService) ListTransactions(ctx context.Context, userID string, kind credit.EntryKind, limit, offset int) (*credit.TransactionListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT id, user_id, kind, amount, source, description, metadata, created_at
		FROM credit_ledger
		WHERE user_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := s.db.Query(ctx, query, userID, string(kind), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	entries := []*credit.Entry{}
	for rows.Next() {
		var entry credit.Entry
		var metadata []byte
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Kind,
			&entry.Amount,
			&entry.Source,
			&entry.Description,
			&metadata,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				log.Printf("Failed to decode metadata for ledger entry %s: %v", entry.ID, err)
			}
		}
		entries = append(entries, &entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM credit_ledger WHERE user_id = $1 AND ($2 = '' OR kind = $2)`
	if err := s.db.QueryRow(ctx, countQuery, userID, string(kind)).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	return &credit.TransactionListResponse{
		Transactions: entries,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
		HasNextPage:  total > offset+limit,
	}, nil
}

// lockAccount inserts the balance row if missing and takes the row lock that
// serializes all ledger mutations for this user until the tx ends.
func (s *CreditService) lockAccount(ctx context.Context, tx pgx.Tx, userID string) (*credit.Account, error) {
	_, err := tx.Exec(ctx, `INSERT INTO credit_balances (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	account := &credit.Account{}
	query := `
		SELECT user_id, available_credits, lifetime_earned, lifetime_spent, last_updated
		FROM credit_balances
		WHERE user_id = $1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, query, userID).Scan(
		&account.UserID,
		&account.AvailableCredits,
		&account.LifetimeEarned,
		&account.LifetimeSpent,
		&account.LastUpdated,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance row: %w", err)
	}
	return account, nil
}

func (s *CreditService) appendEntry(ctx context.Context, tx pgx.Tx, entry *credit.Entry) (bool, error) {
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode entry metadata: %w", err)
	}
	if entry.Metadata == nil {
		metadata = []byte("{}")
	}

	// Duplicate ids are retried requests: insert nothing and tell the caller.
	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_ledger (id, user_id, kind, amount, source, description, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.UserID, entry.Kind, entry.Amount, entry.Source, entry.Description, metadata, entry.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *CreditService) saveAccount(ctx context.Context, tx pgx.Tx, account *credit.Account) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_balances
		SET available_credits = $1, lifetime_earned = $2, lifetime_spent = $3, last_updated = $4
		WHERE user_id = $5
	`, account.AvailableCredits, account.LifetimeEarned, account.LifetimeSpent, account.LastUpdated, account.UserID)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// creditInTx is the shared mutation used by Credit, the achievement engine and
// step conversion, so award-and-complete style flows stay in one transaction.
func (s *CreditService) creditInTx(ctx context.Context, tx pgx.Tx, userID string, amount int, kind credit.EntryKind, source, description string, metadata map[string]any, entryID uuid.UUID) (*credit.Account, error) {
	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	updated, err := account.Apply(kind, amount)
	if err != nil {
		return nil, err
	}

	if entryID == uuid.Nil {
		entryID = uuid.New()
	}
	inserted, err := s.appendEntry(ctx, tx, &credit.Entry{
		ID:          entryID,
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Source:      source,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Retry of an already-applied credit: leave the balance untouched.
		return account, nil
	}

	if err := s.saveAccount(ctx, tx, &updated); err != nil {
		return nil, err
	}

	middleware.RecordLedgerEntry(string(kind), amount)
	return &updated, nil
}

func (s *CreditService) debitInTx(ctx context.Context, tx pgx.Tx, userID string, amount int, kind credit.EntryKind, source, description string, metadata map[string]any) (*credit.Account, error) {
	account, err := s.lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	updated, err := account.Apply(kind, amount)
	if err != nil {
		return nil, err
	}

	if _, err := s.appendEntry(ctx, tx, &credit.Entry{
		ID:          uuid.New(),
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Source:      source,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now(),
	}); err != nil {
		return nil, err
	}

	if err := s.saveAccount(ctx, tx, &updated); err != nil {
		return nil, err
	}

	middleware.RecordLedgerEntry(string(kind), amount)
	return &updated, nil
}
