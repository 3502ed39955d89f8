package scarab

import (
	"context"
	"fmt"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetBalance returns the account projection, lazily creating a zero account
// on first access.
func (service *Service) GetBalance(ctx context.Context, address Address) (Account, error) {
	account, err := service.store.GetOrCreateAccount(ctx, address)
	if err != nil {
		return Account{}, err
	}
	if err := account.VerifyProjection(); err != nil {
		return Account{}, err
	}
	return account, nil
}

// TransactionHistory lists ledger entries for an address, newest first.
func (service *Service) TransactionHistory(ctx context.Context, address Address, limit int, offset int) (TransactionHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	entries, totalCount, err := service.store.ListEntries(ctx, address, limit, offset)
	if err != nil {
		return TransactionHistory{}, err
	}
	return TransactionHistory{Entries: entries, TotalCount: totalCount}, nil
}

// ClaimDaily credits the scheduled claim amount and advances the streak. Two
// simultaneous claims for one address serialize on the locked account row, so
// the loser observes the winner's claim date and fails same-day.
func (service *Service) ClaimDaily(ctx context.Context, address Address, boosted bool, metadata MetadataJSON) (ClaimResult, error) {
	var result ClaimResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.LockAccount(ctx, address)
		if err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		outcome, err := evaluateClaim(account.LastClaimUnixUTC, account.Streak, nowUnixUTC, boosted)
		if err != nil {
			return err
		}
		updated, err := service.applyDelta(ctx, txStore, account, outcome.amount, outcome.kind, "", metadata, nowUnixUTC, func(account *Account) {
			account.LastClaimUnixUTC = nowUnixUTC
			account.Streak = outcome.streak
		})
		if err != nil {
			return err
		}
		result = ClaimResult{
			Amount:     outcome.amount,
			Streak:     outcome.streak,
			FirstClaim: outcome.firstClaim,
			Balance:    updated.Balance,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationClaim,
		Address:   address,
		Amount:    result.Amount,
		Error:     operationError,
	})
	return result, operationError
}

// Spend debits the fixed price of the purpose. Fails without side effects
// when the balance cannot cover the cost.
func (service *Service) Spend(ctx context.Context, address Address, purpose SpendPurpose, relatedID string, metadata MetadataJSON) (int64, error) {
	if _, err := ParseSpendPurpose(purpose.String()); err != nil {
		return 0, err
	}
	cost := purpose.Cost()
	var newBalance int64
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		account, err := txStore.LockAccount(ctx, address)
		if err != nil {
			return err
		}
		updated, err := service.applyDelta(ctx, txStore, account, -cost, EntrySpend, relatedID, metadata, service.nowFn(), nil)
		if err != nil {
			return err
		}
		newBalance = updated.Balance
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSpend,
		Address:   address,
		Amount:    -cost,
		RelatedID: relatedID,
		Error:     operationError,
	})
	return newBalance, operationError
}

// applyDelta performs the read-modify-write against an already locked account
// row: balance and running-total update, optional extra mutation, and the
// matching ledger entry. The caller owns the surrounding transaction.
func (service *Service) applyDelta(ctx context.Context, txStore Store, account Account, amount int64, kind EntryKind, relatedID string, metadata MetadataJSON, nowUnixUTC int64, adjust func(account *Account)) (Account, error) {
	if amount < 0 && account.Balance+amount < 0 {
		return Account{}, ErrInsufficientBalance
	}
	account.Balance += amount
	switch kind {
	case EntryClaimInitial, EntryClaimDaily:
		account.TotalEarned += amount
	case EntryPurchaseCredit:
		account.TotalPurchased += amount
	case EntrySpend:
		account.TotalSpent += -amount
	}
	if adjust != nil {
		adjust(&account)
	}
	if err := account.VerifyProjection(); err != nil {
		return Account{}, err
	}
	if err := txStore.UpdateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	entry, err := NewLedgerEntry(account.Address, kind, amount, relatedID, metadata, nowUnixUTC)
	if err != nil {
		return Account{}, err
	}
	if err := txStore.InsertEntry(ctx, entry); err != nil {
		return Account{}, err
	}
	return account, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
