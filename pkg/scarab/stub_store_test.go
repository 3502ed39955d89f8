package scarab

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. WithTx serializes callers the way the
// real stores serialize on locked rows.
type stubStore struct {
	txMu      sync.Mutex
	accounts  map[string]Account
	entries   []LedgerEntry
	purchases map[string]Purchase

	getAccountError    error
	lockAccountError   error
	updateAccountError error
	insertEntryError   error
	listEntriesError   error
	createPurchaseErr  error
	getPurchaseError   error
	txHashExistsError  error
	markConfirmedError error
	markFailedError    error
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts:  make(map[string]Account),
		purchases: make(map[string]Purchase),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMu.Lock()
	defer store.txMu.Unlock()
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, address Address) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, exists := store.accounts[address.String()]
	if !exists {
		account = Account{Address: address}
		store.accounts[address.String()] = account
	}
	return account, nil
}

func (store *stubStore) LockAccount(ctx context.Context, address Address) (Account, error) {
	if store.lockAccountError != nil {
		return Account{}, store.lockAccountError
	}
	return store.GetOrCreateAccount(ctx, address)
}

func (store *stubStore) UpdateAccount(_ context.Context, account Account) error {
	if store.updateAccountError != nil {
		return store.updateAccountError
	}
	store.accounts[account.Address.String()] = account
	return nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry LedgerEntry) error {
	if store.insertEntryError != nil {
		return store.insertEntryError
	}
	entry.EntryID = fmt.Sprintf("entry-%d", len(store.entries)+1)
	store.entries = append(store.entries, entry)
	return nil
}

func (store *stubStore) ListEntries(_ context.Context, address Address, limit int, offset int) ([]LedgerEntry, int64, error) {
	if store.listEntriesError != nil {
		return nil, 0, store.listEntriesError
	}
	matched := make([]LedgerEntry, 0)
	for index := len(store.entries) - 1; index >= 0; index-- {
		if store.entries[index].Address == address {
			matched = append(matched, store.entries[index])
		}
	}
	totalCount := int64(len(matched))
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, totalCount, nil
}

func (store *stubStore) CreatePurchase(_ context.Context, purchase Purchase) error {
	if store.createPurchaseErr != nil {
		return store.createPurchaseErr
	}
	store.purchases[purchase.PurchaseID] = purchase
	return nil
}

func (store *stubStore) GetPurchase(_ context.Context, purchaseID PurchaseID) (Purchase, error) {
	if store.getPurchaseError != nil {
		return Purchase{}, store.getPurchaseError
	}
	purchase, exists := store.purchases[purchaseID.String()]
	if !exists {
		return Purchase{}, ErrPurchaseNotFound
	}
	return purchase, nil
}

func (store *stubStore) LockPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error) {
	return store.GetPurchase(ctx, purchaseID)
}

func (store *stubStore) ListPurchases(_ context.Context, address Address, limit int) ([]Purchase, error) {
	matched := make([]Purchase, 0)
	for _, purchase := range store.purchases {
		if purchase.Address == address {
			matched = append(matched, purchase)
		}
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) TxHashExists(_ context.Context, txHash TxHash) (bool, error) {
	if store.txHashExistsError != nil {
		return false, store.txHashExistsError
	}
	for _, purchase := range store.purchases {
		if purchase.TxHash == txHash.String() {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) MarkPurchaseConfirmed(_ context.Context, purchaseID PurchaseID, txHash TxHash, confirmedUnixUTC int64) error {
	if store.markConfirmedError != nil {
		return store.markConfirmedError
	}
	purchase, exists := store.purchases[purchaseID.String()]
	if !exists {
		return ErrPurchaseNotFound
	}
	if purchase.Status != PurchaseStatusPending {
		return ErrPurchaseClosed
	}
	for _, other := range store.purchases {
		if other.TxHash == txHash.String() {
			return ErrTxHashReused
		}
	}
	purchase.Status = PurchaseStatusConfirmed
	purchase.TxHash = txHash.String()
	purchase.ConfirmedUnixUTC = confirmedUnixUTC
	store.purchases[purchaseID.String()] = purchase
	return nil
}

func (store *stubStore) MarkPurchaseFailed(_ context.Context, purchaseID PurchaseID) error {
	if store.markFailedError != nil {
		return store.markFailedError
	}
	purchase, exists := store.purchases[purchaseID.String()]
	if !exists {
		return ErrPurchaseNotFound
	}
	if purchase.Status != PurchaseStatusPending {
		return ErrPurchaseClosed
	}
	purchase.Status = PurchaseStatusFailed
	store.purchases[purchaseID.String()] = purchase
	return nil
}

func (store *stubStore) mustAccount(test *testing.T, address Address) Account {
	test.Helper()
	account, exists := store.accounts[address.String()]
	if !exists {
		test.Fatalf("account %s not found", address.String())
	}
	return account
}

func (store *stubStore) mustPurchase(test *testing.T, purchaseID string) Purchase {
	test.Helper()
	purchase, exists := store.purchases[purchaseID]
	if !exists {
		test.Fatalf("purchase %s not found", purchaseID)
	}
	return purchase
}

func (store *stubStore) entrySum(address Address) int64 {
	var sum int64
	for _, entry := range store.entries {
		if entry.Address == address {
			sum += entry.Amount
		}
	}
	return sum
}
