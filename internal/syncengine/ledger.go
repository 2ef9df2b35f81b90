package syncengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mobilemoney/internal/database"

	"github.com/jackc/pgx/v5"
)

// TransferResult carries the two ledger entries and the sender's new
// balance produced by one successful Ledger.Transfer.
type TransferResult struct {
	NewSenderBalance int64
	DebitEntry       *database.LedgerEntry
	CreditEntry      *database.LedgerEntry
}

// Ledger is the Payment collaborator (C6): it debits the sender, credits
// the recipient, and emits both ledger entries atomically within the
// caller's transaction.
type Ledger struct {
	repo *database.LedgerRepository
}

func NewLedger(repo *database.LedgerRepository) *Ledger {
	return &Ledger{repo: repo}
}

// Transfer moves amountMinor from sender to recipient. MUST run inside
// the orchestrator's durable transaction. Returns database.ErrInsufficientFunds
// without mutating anything if the sender's balance would go negative.
// Account rows are locked sender-then-recipient or recipient-then-sender,
// whichever phone number sorts first, so two transfers between the same
// pair of accounts in opposite directions cannot deadlock.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, offlineTxID, senderPhone, recipientPhone string, amountMinor int64, txHash string) (*TransferResult, error) {
	if err := l.repo.EnsureAccount(ctx, tx, recipientPhone); err != nil {
		return nil, err
	}

	first, second := senderPhone, recipientPhone
	if recipientPhone < senderPhone {
		first, second = recipientPhone, senderPhone
	}
	if _, err := l.repo.LockAccountForUpdate(ctx, tx, first); err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", first, err)
	}
	if second != first {
		if _, err := l.repo.LockAccountForUpdate(ctx, tx, second); err != nil {
			return nil, fmt.Errorf("failed to lock account %s: %w", second, err)
		}
	}

	newSenderBalance, err := l.repo.ApplyDebit(ctx, tx, senderPhone, amountMinor)
	if err != nil {
		if errors.Is(err, database.ErrInsufficientFunds) {
			return nil, database.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	newRecipientBalance, err := l.repo.ApplyCredit(ctx, tx, recipientPhone, amountMinor)
	if err != nil {
		return nil, fmt.Errorf("failed to credit recipient: %w", err)
	}

	now := time.Now().UTC()
	reference := "OFFLINE-" + txHash

	debit := &database.LedgerEntry{
		ID:             NewID(),
		UserID:         senderPhone,
		Type:           database.Debit,
		Category:       "transfer",
		AmountMinor:    amountMinor,
		BalanceAfter:   newSenderBalance,
		Reference:      reference,
		Status:         database.LedgerPosted,
		IsOffline:      true,
		OfflineTxID:    &offlineTxID,
		SenderPhone:    senderPhone,
		RecipientPhone: recipientPhone,
		CreatedAt:      now,
	}
	credit := &database.LedgerEntry{
		ID:             NewID(),
		UserID:         recipientPhone,
		Type:           database.Credit,
		Category:       "transfer",
		AmountMinor:    amountMinor,
		BalanceAfter:   newRecipientBalance,
		Reference:      reference,
		Status:         database.LedgerPosted,
		IsOffline:      true,
		OfflineTxID:    &offlineTxID,
		SenderPhone:    senderPhone,
		RecipientPhone: recipientPhone,
		CreatedAt:      now,
	}

	if err := l.repo.InsertEntry(ctx, tx, debit); err != nil {
		return nil, fmt.Errorf("failed to insert debit entry: %w", err)
	}
	if err := l.repo.InsertEntry(ctx, tx, credit); err != nil {
		return nil, fmt.Errorf("failed to insert credit entry: %w", err)
	}

	return &TransferResult{
		NewSenderBalance: newSenderBalance,
		DebitEntry:       debit,
		CreditEntry:      credit,
	}, nil
}

// Balance returns a user's current authoritative balance, read-only — the
// validator's double-spend pass uses this without taking a row lock.
func (l *Ledger) Balance(ctx context.Context, q database.DBTX, phone string) (int64, error) {
	account, err := l.repo.GetAccount(ctx, q, phone)
	if err != nil {
		if errors.Is(err, database.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return account.Balance, nil
}
