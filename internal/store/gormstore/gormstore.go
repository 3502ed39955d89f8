package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/scarab/pkg/scarab"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPurchaseTxHash = "uniq_purchases_tx_hash"
	defaultMetadataJSON      = "{}"
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectEntry        = "entry"
	errorSubjectPurchase     = "purchase"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLock            = "lock"
	errorCodeLookup          = "lookup"
	errorCodeUpdate          = "update"
	errorCodeUpdateStatus    = "update_status"
)

// Store implements scarab.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite deployments and tests; postgres
// schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &LedgerEntry{}, &Purchase{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore scarab.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccount(ctx context.Context, address scarab.Address) (scarab.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"address": clause.Expr{SQL: "excluded.address"},
			}),
		}).
		FirstOrCreate(&model, Account{Address: address.String()}).Error
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) LockAccount(ctx context.Context, address scarab.Address) (scarab.Account, error) {
	if _, err := store.GetOrCreateAccount(ctx, address); err != nil {
		return scarab.Account{}, err
	}
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address.String()).
		Take(&model).Error
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account scarab.Account) error {
	var lastClaimAt *time.Time
	if account.LastClaimUnixUTC != 0 {
		value := time.Unix(account.LastClaimUnixUTC, 0).UTC()
		lastClaimAt = &value
	}
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("address = ?", account.Address.String()).
		Updates(map[string]interface{}{
			"balance":         account.Balance,
			"total_earned":    account.TotalEarned,
			"total_spent":     account.TotalSpent,
			"total_purchased": account.TotalPurchased,
			"last_claim_at":   lastClaimAt,
			"streak":          account.Streak,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, gorm.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry scarab.LedgerEntry) error {
	var relatedID *string
	if entry.RelatedID != "" {
		value := entry.RelatedID
		relatedID = &value
	}
	model := LedgerEntry{
		EntryID:   entry.EntryID,
		Address:   entry.Address.String(),
		Kind:      entry.Kind.String(),
		Amount:    entry.Amount,
		RelatedID: relatedID,
		Metadata:  datatypesJSON(entry.Metadata.String()),
		CreatedAt: time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, address scarab.Address, limit int, offset int) ([]scarab.LedgerEntry, int64, error) {
	var totalCount int64
	err := store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("address = ?", address.String()).
		Count(&totalCount).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	var rows []LedgerEntry
	err = store.db.WithContext(ctx).
		Where("address = ?", address.String()).
		Order("created_at DESC, entry_id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}

	entries := make([]scarab.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, totalCount, nil
}

func (store *Store) CreatePurchase(ctx context.Context, purchase scarab.Purchase) error {
	model := Purchase{
		PurchaseID:   purchase.PurchaseID,
		Address:      purchase.Address.String(),
		Tier:         purchase.Tier.String(),
		USDCCents:    purchase.USDCCents,
		ScarabAmount: purchase.ScarabAmount,
		Status:       purchase.Status.String(),
		CreatedAt:    time.Unix(purchase.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPurchase(ctx context.Context, purchaseID scarab.PurchaseID) (scarab.Purchase, error) {
	return store.fetchPurchase(ctx, purchaseID, false)
}

func (store *Store) LockPurchase(ctx context.Context, purchaseID scarab.PurchaseID) (scarab.Purchase, error) {
	return store.fetchPurchase(ctx, purchaseID, true)
}

func (store *Store) fetchPurchase(ctx context.Context, purchaseID scarab.PurchaseID, forUpdate bool) (scarab.Purchase, error) {
	query := store.db.WithContext(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Purchase
	err := query.Where("purchase_id = ?", purchaseID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return scarab.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, scarab.ErrPurchaseNotFound)
		}
		return scarab.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, err)
	}
	purchase, err := mapPurchase(model)
	if err != nil {
		return scarab.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	return purchase, nil
}

func (store *Store) ListPurchases(ctx context.Context, address scarab.Address, limit int) ([]scarab.Purchase, error) {
	var rows []Purchase
	err := store.db.WithContext(ctx).
		Where("address = ?", address.String()).
		Order("created_at DESC, purchase_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	purchases := make([]scarab.Purchase, 0, len(rows))
	for _, row := range rows {
		purchase, err := mapPurchase(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		purchases = append(purchases, purchase)
	}
	return purchases, nil
}

func (store *Store) TxHashExists(ctx context.Context, txHash scarab.TxHash) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("tx_hash = ?", txHash.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectPurchase, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) MarkPurchaseConfirmed(ctx context.Context, purchaseID scarab.PurchaseID, txHash scarab.TxHash, confirmedUnixUTC int64) error {
	confirmedAt := time.Unix(confirmedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("purchase_id = ? AND status = ?", purchaseID.String(), scarab.PurchaseStatusPending.String()).
		Updates(map[string]interface{}{
			"status":       scarab.PurchaseStatusConfirmed.String(),
			"tx_hash":      txHash.String(),
			"confirmed_at": confirmedAt,
		})
	if isTxHashConflict(result.Error) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, scarab.ErrTxHashReused)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, scarab.ErrPurchaseClosed)
	}
	return nil
}

func (store *Store) MarkPurchaseFailed(ctx context.Context, purchaseID scarab.PurchaseID) error {
	result := store.db.WithContext(ctx).
		Model(&Purchase{}).
		Where("purchase_id = ? AND status = ?", purchaseID.String(), scarab.PurchaseStatusPending.String()).
		Update("status", scarab.PurchaseStatusFailed.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, scarab.ErrPurchaseClosed)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = scarab.ErrStoreUnavailable
	}
	return scarab.WrapError(errorOperationStore, subject, code, err)
}

func mapAccount(model Account) (scarab.Account, error) {
	address, err := scarab.NewAddress(model.Address)
	if err != nil {
		return scarab.Account{}, err
	}
	return scarab.Account{
		Address:          address,
		Balance:          model.Balance,
		TotalEarned:      model.TotalEarned,
		TotalSpent:       model.TotalSpent,
		TotalPurchased:   model.TotalPurchased,
		LastClaimUnixUTC: timeOrZero(model.LastClaimAt),
		Streak:           model.Streak,
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func mapLedgerEntry(row LedgerEntry) (scarab.LedgerEntry, error) {
	address, err := scarab.NewAddress(row.Address)
	if err != nil {
		return scarab.LedgerEntry{}, err
	}
	kind, err := scarab.ParseEntryKind(row.Kind)
	if err != nil {
		return scarab.LedgerEntry{}, err
	}
	metadata, err := scarab.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return scarab.LedgerEntry{}, err
	}
	relatedID := ""
	if row.RelatedID != nil {
		relatedID = *row.RelatedID
	}
	return scarab.LedgerEntry{
		EntryID:        row.EntryID,
		Address:        address,
		Kind:           kind,
		Amount:         row.Amount,
		RelatedID:      relatedID,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func mapPurchase(row Purchase) (scarab.Purchase, error) {
	address, err := scarab.NewAddress(row.Address)
	if err != nil {
		return scarab.Purchase{}, err
	}
	tier, err := scarab.ParsePurchaseTier(row.Tier)
	if err != nil {
		return scarab.Purchase{}, err
	}
	status, err := scarab.ParsePurchaseStatus(row.Status)
	if err != nil {
		return scarab.Purchase{}, err
	}
	txHash := ""
	if row.TxHash != nil {
		txHash = *row.TxHash
	}
	return scarab.Purchase{
		PurchaseID:       row.PurchaseID,
		Address:          address,
		Tier:             tier,
		USDCCents:        row.USDCCents,
		ScarabAmount:     row.ScarabAmount,
		Status:           status,
		TxHash:           txHash,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
		ConfirmedUnixUTC: timeOrZero(row.ConfirmedAt),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isTxHashConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPurchaseTxHash
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
