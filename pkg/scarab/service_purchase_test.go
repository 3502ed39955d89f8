package scarab

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreatePurchaseRecordsPendingAttempt(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name             string
		tier             PurchaseTier
		wantUSDCCents    int64
		wantScarabAmount int64
	}{
		{name: "small", tier: TierSmall, wantUSDCCents: 100, wantScarabAmount: 50},
		{name: "medium", tier: TierMedium, wantUSDCCents: 500, wantScarabAmount: 300},
		{name: "large", tier: TierLarge, wantUSDCCents: 2000, wantScarabAmount: 1500},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore()
			now := utc(2024, time.March, 10, 12, 0)
			service := mustNewService(test, store, fixedClock(now))
			address := mustAddress(test, "buyer")

			purchase, err := service.CreatePurchase(context.Background(), address, testCase.tier)
			if err != nil {
				test.Fatalf("create purchase: %v", err)
			}
			if purchase.PurchaseID == "" {
				test.Fatalf("expected generated purchase id")
			}
			if purchase.USDCCents != testCase.wantUSDCCents || purchase.ScarabAmount != testCase.wantScarabAmount {
				test.Fatalf("unexpected terms: %+v", purchase)
			}
			if purchase.Status != PurchaseStatusPending {
				test.Fatalf("expected pending status, got %s", purchase.Status)
			}
			if purchase.CreatedUnixUTC != now.Unix() {
				test.Fatalf("expected created at %d, got %d", now.Unix(), purchase.CreatedUnixUTC)
			}

			stored := store.mustPurchase(test, purchase.PurchaseID)
			if stored.Tier != testCase.tier {
				test.Fatalf("expected stored tier %s, got %s", testCase.tier, stored.Tier)
			}
			account := store.mustAccount(test, address)
			if account.Balance != 0 {
				test.Fatalf("pending purchase must not credit balance, got %d", account.Balance)
			}
			if len(store.entries) != 0 {
				test.Fatalf("pending purchase must not write ledger entries, got %d", len(store.entries))
			}
		})
	}
}

func TestCreatePurchaseUnknownTierRejected(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")

	_, err := service.CreatePurchase(context.Background(), address, PurchaseTier("jumbo"))
	if !errors.Is(err, ErrInvalidTier) {
		test.Fatalf("expected ErrInvalidTier, got %v", err)
	}
	if len(store.purchases) != 0 {
		test.Fatalf("expected no purchase record for invalid tier")
	}
}

func TestConfirmPurchaseCreditsOnce(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	now := utc(2024, time.March, 10, 12, 0)
	service := mustNewService(test, store, fixedClock(now))
	address := mustAddress(test, "buyer")

	purchase, err := service.CreatePurchase(context.Background(), address, TierMedium)
	if err != nil {
		test.Fatalf("create purchase: %v", err)
	}
	purchaseID := mustPurchaseID(test, purchase.PurchaseID)
	txHash := mustTxHash(test, "0xdeadbeef01")

	result, err := service.ConfirmPurchase(context.Background(), purchaseID, txHash)
	if err != nil {
		test.Fatalf("confirm purchase: %v", err)
	}
	if result.ScarabAmount != 300 || result.Balance != 300 {
		test.Fatalf("unexpected confirm result: %+v", result)
	}

	stored := store.mustPurchase(test, purchase.PurchaseID)
	if stored.Status != PurchaseStatusConfirmed || stored.TxHash != txHash.String() {
		test.Fatalf("unexpected stored purchase: %+v", stored)
	}
	if stored.ConfirmedUnixUTC != now.Unix() {
		test.Fatalf("expected confirmed at %d, got %d", now.Unix(), stored.ConfirmedUnixUTC)
	}
	account := store.mustAccount(test, address)
	if account.Balance != 300 || account.TotalPurchased != 300 {
		test.Fatalf("unexpected account state: %+v", account)
	}
	if len(store.entries) != 1 {
		test.Fatalf("expected 1 entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.Kind != EntryPurchaseCredit || entry.Amount != 300 || entry.RelatedID != purchase.PurchaseID {
		test.Fatalf("unexpected credit entry: %+v", entry)
	}
}

func TestConfirmPurchaseReplayDoesNotDoubleCredit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")

	purchase, err := service.CreatePurchase(context.Background(), address, TierSmall)
	if err != nil {
		test.Fatalf("create purchase: %v", err)
	}
	purchaseID := mustPurchaseID(test, purchase.PurchaseID)

	if _, err := service.ConfirmPurchase(context.Background(), purchaseID, mustTxHash(test, "0xhash-a")); err != nil {
		test.Fatalf("first confirm: %v", err)
	}
	_, err = service.ConfirmPurchase(context.Background(), purchaseID, mustTxHash(test, "0xhash-a"))
	if !errors.Is(err, ErrPurchaseAlreadyConfirmed) {
		test.Fatalf("expected ErrPurchaseAlreadyConfirmed on replay, got %v", err)
	}
	_, err = service.ConfirmPurchase(context.Background(), purchaseID, mustTxHash(test, "0xhash-b"))
	if !errors.Is(err, ErrPurchaseAlreadyConfirmed) {
		test.Fatalf("expected ErrPurchaseAlreadyConfirmed with fresh hash, got %v", err)
	}

	account := store.mustAccount(test, address)
	if account.Balance != 50 {
		test.Fatalf("expected single credit of 50, got %d", account.Balance)
	}
	if len(store.entries) != 1 {
		test.Fatalf("expected single credit entry, got %d", len(store.entries))
	}
}

func TestConfirmPurchaseRejectsReusedTxHash(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")
	txHash := mustTxHash(test, "0xshared-hash")

	first, err := service.CreatePurchase(context.Background(), address, TierSmall)
	if err != nil {
		test.Fatalf("create first purchase: %v", err)
	}
	second, err := service.CreatePurchase(context.Background(), address, TierSmall)
	if err != nil {
		test.Fatalf("create second purchase: %v", err)
	}

	if _, err := service.ConfirmPurchase(context.Background(), mustPurchaseID(test, first.PurchaseID), txHash); err != nil {
		test.Fatalf("confirm first: %v", err)
	}
	_, err = service.ConfirmPurchase(context.Background(), mustPurchaseID(test, second.PurchaseID), txHash)
	if !errors.Is(err, ErrTxHashReused) {
		test.Fatalf("expected ErrTxHashReused, got %v", err)
	}

	stored := store.mustPurchase(test, second.PurchaseID)
	if stored.Status != PurchaseStatusPending {
		test.Fatalf("second purchase must stay pending, got %s", stored.Status)
	}
	account := store.mustAccount(test, address)
	if account.Balance != 50 {
		test.Fatalf("expected single credit, got balance %d", account.Balance)
	}
}

func TestConfirmPurchaseUnknownIDFails(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))

	_, err := service.ConfirmPurchase(context.Background(), mustPurchaseID(test, "missing-id"), mustTxHash(test, "0xhash"))
	if !errors.Is(err, ErrPurchaseNotFound) {
		test.Fatalf("expected ErrPurchaseNotFound, got %v", err)
	}
}

func TestFailPurchaseClosesPendingAttempt(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")

	purchase, err := service.CreatePurchase(context.Background(), address, TierLarge)
	if err != nil {
		test.Fatalf("create purchase: %v", err)
	}
	purchaseID := mustPurchaseID(test, purchase.PurchaseID)

	if err := service.FailPurchase(context.Background(), purchaseID); err != nil {
		test.Fatalf("fail purchase: %v", err)
	}
	stored := store.mustPurchase(test, purchase.PurchaseID)
	if stored.Status != PurchaseStatusFailed {
		test.Fatalf("expected failed status, got %s", stored.Status)
	}

	// Failing twice is a no-op.
	if err := service.FailPurchase(context.Background(), purchaseID); err != nil {
		test.Fatalf("repeated fail: %v", err)
	}

	_, err = service.ConfirmPurchase(context.Background(), purchaseID, mustTxHash(test, "0xlate-hash"))
	if !errors.Is(err, ErrPurchaseClosed) {
		test.Fatalf("expected ErrPurchaseClosed after failure, got %v", err)
	}
	account := store.mustAccount(test, address)
	if account.Balance != 0 {
		test.Fatalf("failed purchase must not credit, got %d", account.Balance)
	}
}

func TestFailPurchaseRejectsConfirmedAttempt(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")

	purchase, err := service.CreatePurchase(context.Background(), address, TierSmall)
	if err != nil {
		test.Fatalf("create purchase: %v", err)
	}
	purchaseID := mustPurchaseID(test, purchase.PurchaseID)
	if _, err := service.ConfirmPurchase(context.Background(), purchaseID, mustTxHash(test, "0xhash")); err != nil {
		test.Fatalf("confirm: %v", err)
	}

	err = service.FailPurchase(context.Background(), purchaseID)
	if !errors.Is(err, ErrPurchaseAlreadyConfirmed) {
		test.Fatalf("expected ErrPurchaseAlreadyConfirmed, got %v", err)
	}
	stored := store.mustPurchase(test, purchase.PurchaseID)
	if stored.Status != PurchaseStatusConfirmed {
		test.Fatalf("confirmed purchase must stay confirmed, got %s", stored.Status)
	}
}

func TestListPurchasesClampsLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	service := mustNewService(test, store, fixedClock(utc(2024, time.March, 10, 12, 0)))
	address := mustAddress(test, "buyer")

	for index := 0; index < 3; index++ {
		if _, err := service.CreatePurchase(context.Background(), address, TierSmall); err != nil {
			test.Fatalf("create purchase %d: %v", index, err)
		}
	}

	purchases, err := service.ListPurchases(context.Background(), address, 2)
	if err != nil {
		test.Fatalf("list purchases: %v", err)
	}
	if len(purchases) != 2 {
		test.Fatalf("expected 2 purchases, got %d", len(purchases))
	}

	defaulted, err := service.ListPurchases(context.Background(), address, 0)
	if err != nil {
		test.Fatalf("list purchases default: %v", err)
	}
	if len(defaulted) != 3 {
		test.Fatalf("expected 3 purchases under default limit, got %d", len(defaulted))
	}
}
