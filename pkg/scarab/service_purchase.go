package scarab

import (
	"context"

	"github.com/google/uuid"
)

// CreatePurchase records a pending purchase of a published tier bundle. No
// balance mutation happens until the payment proof is confirmed.
func (service *Service) CreatePurchase(ctx context.Context, address Address, tier PurchaseTier) (Purchase, error) {
	if _, err := ParsePurchaseTier(tier.String()); err != nil {
		return Purchase{}, err
	}
	usdcCents, scarabAmount := tier.Terms()
	purchase := Purchase{
		PurchaseID:     uuid.NewString(),
		Address:        address,
		Tier:           tier,
		USDCCents:      usdcCents,
		ScarabAmount:   scarabAmount,
		Status:         PurchaseStatusPending,
		CreatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if _, err := txStore.GetOrCreateAccount(ctx, address); err != nil {
			return err
		}
		return txStore.CreatePurchase(ctx, purchase)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreatePurchase,
		Address:   address,
		Amount:    scarabAmount,
		RelatedID: purchase.PurchaseID,
		Error:     operationError,
	})
	if operationError != nil {
		return Purchase{}, operationError
	}
	return purchase, nil
}

// ConfirmPurchase settles a pending purchase against an external payment
// proof exactly once. The status transition and the balance credit commit as
// one transaction; replaying the call (same or different hash) never credits
// twice, and one hash can never settle two purchases.
func (service *Service) ConfirmPurchase(ctx context.Context, purchaseID PurchaseID, txHash TxHash) (ConfirmResult, error) {
	var result ConfirmResult
	var address Address
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		purchase, err := txStore.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		address = purchase.Address
		switch purchase.Status {
		case PurchaseStatusConfirmed:
			return ErrPurchaseAlreadyConfirmed
		case PurchaseStatusFailed:
			return ErrPurchaseClosed
		}
		reused, err := txStore.TxHashExists(ctx, txHash)
		if err != nil {
			return err
		}
		if reused {
			return ErrTxHashReused
		}
		nowUnixUTC := service.nowFn()
		if err := txStore.MarkPurchaseConfirmed(ctx, purchaseID, txHash, nowUnixUTC); err != nil {
			return err
		}
		account, err := txStore.LockAccount(ctx, purchase.Address)
		if err != nil {
			return err
		}
		metadata, err := NewMetadataJSON("")
		if err != nil {
			return err
		}
		updated, err := service.applyDelta(ctx, txStore, account, purchase.ScarabAmount, EntryPurchaseCredit, purchase.PurchaseID, metadata, nowUnixUTC, nil)
		if err != nil {
			return err
		}
		result = ConfirmResult{
			ScarabAmount: purchase.ScarabAmount,
			Balance:      updated.Balance,
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationConfirmPurchase,
		Address:   address,
		Amount:    result.ScarabAmount,
		RelatedID: purchaseID.String(),
		Error:     operationError,
	})
	return result, operationError
}

// FailPurchase marks a pending purchase failed after the payment proof was
// rejected. Failing an already failed purchase is a no-op; a confirmed
// purchase never leaves the confirmed state.
func (service *Service) FailPurchase(ctx context.Context, purchaseID PurchaseID) error {
	var address Address
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		purchase, err := txStore.LockPurchase(ctx, purchaseID)
		if err != nil {
			return err
		}
		address = purchase.Address
		switch purchase.Status {
		case PurchaseStatusConfirmed:
			return ErrPurchaseAlreadyConfirmed
		case PurchaseStatusFailed:
			return nil
		}
		return txStore.MarkPurchaseFailed(ctx, purchaseID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationFailPurchase,
		Address:   address,
		RelatedID: purchaseID.String(),
		Error:     operationError,
	})
	return operationError
}

// GetPurchase returns one purchase attempt by id.
func (service *Service) GetPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error) {
	return service.store.GetPurchase(ctx, purchaseID)
}

// ListPurchases lists recent purchase attempts for an address, newest first.
func (service *Service) ListPurchases(ctx context.Context, address Address, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return service.store.ListPurchases(ctx, address, limit)
}
