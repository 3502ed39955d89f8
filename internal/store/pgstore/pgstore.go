package pgstore

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/scarab/pkg/scarab"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintPurchaseTxHash = "uniq_purchases_tx_hash"
	pgUniqueViolationCode    = "23505"
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectEntry        = "entry"
	errorSubjectPurchase     = "purchase"
	errorSubjectTransaction  = "transaction"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
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

	sqlInsertOrGetAccount = `
		insert into accounts(address) values($1)
		on conflict (address) do update set address = excluded.address
		returning address, balance, total_earned, total_spent, total_purchased,
			coalesce(extract(epoch from last_claim_at)::bigint, 0), streak,
			extract(epoch from created_at)::bigint
	`

	sqlSelectAccountForUpdate = `
		select address, balance, total_earned, total_spent, total_purchased,
			coalesce(extract(epoch from last_claim_at)::bigint, 0), streak,
			extract(epoch from created_at)::bigint
		from accounts
		where address = $1
		for update
	`

	sqlUpdateAccount = `
		update accounts
		set balance = $2, total_earned = $3, total_spent = $4, total_purchased = $5,
			last_claim_at = to_timestamp(nullif($6::bigint, 0)), streak = $7
		where address = $1
	`

	sqlInsertEntry = `
		insert into ledger_entries(entry_id, address, kind, amount, related_id, metadata, created_at)
		values(gen_random_uuid(), $1, $2, $3, nullif($4, ''), coalesce(nullif($5,''),'{}')::jsonb, to_timestamp($6))
	`

	sqlCountEntries = `
		select count(*) from ledger_entries where address = $1
	`

	sqlListEntries = `
		select entry_id::text, address, kind, amount, coalesce(related_id, ''),
			coalesce(metadata::text, '{}'), extract(epoch from created_at)::bigint
		from ledger_entries
		where address = $1
		order by created_at desc, entry_id desc
		limit $2 offset $3
	`

	sqlInsertPurchase = `
		insert into purchases(purchase_id, address, tier, usdc_cents, scarab_amount, status, created_at)
		values($1, $2, $3, $4, $5, $6, to_timestamp($7))
	`

	sqlSelectPurchase = `
		select purchase_id::text, address, tier, usdc_cents, scarab_amount, status,
			coalesce(tx_hash, ''), extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from confirmed_at)::bigint, 0)
		from purchases
		where purchase_id = $1
	`

	sqlSelectPurchaseForUpdate = sqlSelectPurchase + `
		for update
	`

	sqlListPurchases = `
		select purchase_id::text, address, tier, usdc_cents, scarab_amount, status,
			coalesce(tx_hash, ''), extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from confirmed_at)::bigint, 0)
		from purchases
		where address = $1
		order by created_at desc, purchase_id desc
		limit $2
	`

	sqlTxHashExists = `
		select exists(select 1 from purchases where tx_hash = $1)
	`

	sqlMarkPurchaseConfirmed = `
		update purchases
		set status = 'confirmed', tx_hash = $2, confirmed_at = to_timestamp($3)
		where purchase_id = $1 and status = 'pending'
	`

	sqlMarkPurchaseFailed = `
		update purchases
		set status = 'failed'
		where purchase_id = $1 and status = 'pending'
	`
)

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements scarab.Store using a pgx connection pool. Outside WithTx
// statements run in autocommit mode.
type Store struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) runner() querier {
	if store.tx != nil {
		return store.tx
	}
	return store.pool
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore scarab.Store) error) error {
	if store.tx != nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, address scarab.Address) (scarab.Account, error) {
	account, err := scanAccount(store.runner().QueryRow(ctx, sqlInsertOrGetAccount, address.String()))
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func (store *Store) LockAccount(ctx context.Context, address scarab.Address) (scarab.Account, error) {
	if _, err := store.GetOrCreateAccount(ctx, address); err != nil {
		return scarab.Account{}, err
	}
	account, err := scanAccount(store.runner().QueryRow(ctx, sqlSelectAccountForUpdate, address.String()))
	if err != nil {
		return scarab.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return account, nil
}

func (store *Store) UpdateAccount(ctx context.Context, account scarab.Account) error {
	tag, err := store.runner().Exec(ctx, sqlUpdateAccount,
		account.Address.String(),
		account.Balance,
		account.TotalEarned,
		account.TotalSpent,
		account.TotalPurchased,
		account.LastClaimUnixUTC,
		account.Streak,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, pgx.ErrNoRows)
	}
	return nil
}

func (store *Store) InsertEntry(ctx context.Context, entry scarab.LedgerEntry) error {
	_, err := store.runner().Exec(ctx, sqlInsertEntry,
		entry.Address.String(),
		entry.Kind.String(),
		entry.Amount,
		entry.RelatedID,
		entry.Metadata.String(),
		entry.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, address scarab.Address, limit int, offset int) ([]scarab.LedgerEntry, int64, error) {
	var totalCount int64
	if err := store.runner().QueryRow(ctx, sqlCountEntries, address.String()).Scan(&totalCount); err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	rows, err := store.runner().Query(ctx, sqlListEntries, address.String(), limit, offset)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entries, totalCount, nil
}

func (store *Store) CreatePurchase(ctx context.Context, purchase scarab.Purchase) error {
	_, err := store.runner().Exec(ctx, sqlInsertPurchase,
		purchase.PurchaseID,
		purchase.Address.String(),
		purchase.Tier.String(),
		purchase.USDCCents,
		purchase.ScarabAmount,
		purchase.Status.String(),
		purchase.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetPurchase(ctx context.Context, purchaseID scarab.PurchaseID) (scarab.Purchase, error) {
	return store.fetchPurchase(ctx, purchaseID, sqlSelectPurchase)
}

func (store *Store) LockPurchase(ctx context.Context, purchaseID scarab.PurchaseID) (scarab.Purchase, error) {
	return store.fetchPurchase(ctx, purchaseID, sqlSelectPurchaseForUpdate)
}

func (store *Store) fetchPurchase(ctx context.Context, purchaseID scarab.PurchaseID, query string) (scarab.Purchase, error) {
	purchase, err := scanPurchase(store.runner().QueryRow(ctx, query, purchaseID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scarab.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, scarab.ErrPurchaseNotFound)
		}
		return scarab.Purchase{}, wrapStoreError(errorSubjectPurchase, errorCodeGet, err)
	}
	return purchase, nil
}

func (store *Store) ListPurchases(ctx context.Context, address scarab.Address, limit int) ([]scarab.Purchase, error) {
	rows, err := store.runner().Query(ctx, sqlListPurchases, address.String(), limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	defer rows.Close()
	purchases := make([]scarab.Purchase, 0)
	for rows.Next() {
		purchase, err := scanPurchase(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		purchases = append(purchases, purchase)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	return purchases, nil
}

func (store *Store) TxHashExists(ctx context.Context, txHash scarab.TxHash) (bool, error) {
	var exists bool
	if err := store.runner().QueryRow(ctx, sqlTxHashExists, txHash.String()).Scan(&exists); err != nil {
		return false, wrapStoreError(errorSubjectPurchase, errorCodeLookup, err)
	}
	return exists, nil
}

func (store *Store) MarkPurchaseConfirmed(ctx context.Context, purchaseID scarab.PurchaseID, txHash scarab.TxHash, confirmedUnixUTC int64) error {
	tag, err := store.runner().Exec(ctx, sqlMarkPurchaseConfirmed, purchaseID.String(), txHash.String(), confirmedUnixUTC)
	if isTxHashConflict(err) {
		return wrapStoreError(errorSubjectPurchase, errorCodeDuplicate, scarab.ErrTxHashReused)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, scarab.ErrPurchaseClosed)
	}
	return nil
}

func (store *Store) MarkPurchaseFailed(ctx context.Context, purchaseID scarab.PurchaseID) error {
	tag, err := store.runner().Exec(ctx, sqlMarkPurchaseFailed, purchaseID.String())
	if err != nil {
		return wrapStoreError(errorSubjectPurchase, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
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

func scanAccount(row pgx.Row) (scarab.Account, error) {
	var (
		addressValue     string
		balance          int64
		totalEarned      int64
		totalSpent       int64
		totalPurchased   int64
		lastClaimUnixUTC int64
		streak           int64
		createdUnixUTC   int64
	)
	err := row.Scan(&addressValue, &balance, &totalEarned, &totalSpent, &totalPurchased, &lastClaimUnixUTC, &streak, &createdUnixUTC)
	if err != nil {
		return scarab.Account{}, err
	}
	address, err := scarab.NewAddress(addressValue)
	if err != nil {
		return scarab.Account{}, err
	}
	return scarab.Account{
		Address:          address,
		Balance:          balance,
		TotalEarned:      totalEarned,
		TotalSpent:       totalSpent,
		TotalPurchased:   totalPurchased,
		LastClaimUnixUTC: lastClaimUnixUTC,
		Streak:           streak,
		CreatedUnixUTC:   createdUnixUTC,
	}, nil
}

func scanEntries(rows pgx.Rows) ([]scarab.LedgerEntry, error) {
	entries := make([]scarab.LedgerEntry, 0)
	for rows.Next() {
		var (
			entryID        string
			addressValue   string
			kindValue      string
			amount         int64
			relatedID      string
			metadataValue  string
			createdUnixUTC int64
		)
		if err := rows.Scan(&entryID, &addressValue, &kindValue, &amount, &relatedID, &metadataValue, &createdUnixUTC); err != nil {
			return nil, err
		}
		address, err := scarab.NewAddress(addressValue)
		if err != nil {
			return nil, err
		}
		kind, err := scarab.ParseEntryKind(kindValue)
		if err != nil {
			return nil, err
		}
		metadata, err := scarab.NewMetadataJSON(metadataValue)
		if err != nil {
			return nil, err
		}
		entries = append(entries, scarab.LedgerEntry{
			EntryID:        entryID,
			Address:        address,
			Kind:           kind,
			Amount:         amount,
			RelatedID:      relatedID,
			Metadata:       metadata,
			CreatedUnixUTC: createdUnixUTC,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanPurchase(row pgx.Row) (scarab.Purchase, error) {
	var (
		purchaseID       string
		addressValue     string
		tierValue        string
		usdcCents        int64
		scarabAmount     int64
		statusValue      string
		txHash           string
		createdUnixUTC   int64
		confirmedUnixUTC int64
	)
	err := row.Scan(&purchaseID, &addressValue, &tierValue, &usdcCents, &scarabAmount, &statusValue, &txHash, &createdUnixUTC, &confirmedUnixUTC)
	if err != nil {
		return scarab.Purchase{}, err
	}
	address, err := scarab.NewAddress(addressValue)
	if err != nil {
		return scarab.Purchase{}, err
	}
	tier, err := scarab.ParsePurchaseTier(tierValue)
	if err != nil {
		return scarab.Purchase{}, err
	}
	status, err := scarab.ParsePurchaseStatus(statusValue)
	if err != nil {
		return scarab.Purchase{}, err
	}
	return scarab.Purchase{
		PurchaseID:       purchaseID,
		Address:          address,
		Tier:             tier,
		USDCCents:        usdcCents,
		ScarabAmount:     scarabAmount,
		Status:           status,
		TxHash:           txHash,
		CreatedUnixUTC:   createdUnixUTC,
		ConfirmedUnixUTC: confirmedUnixUTC,
	}, nil
}

func isTxHashConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPurchaseTxHash
	}
	return false
}
