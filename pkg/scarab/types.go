package scarab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Address is the canonical lowercased account identifier.
type Address struct {
	value string
}

// TxHash identifies a settled external payment.
type TxHash struct {
	value string
}

// PurchaseID identifies a purchase attempt.
type PurchaseID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewAddress validates and canonicalizes an address (trimmed, lowercased).
func NewAddress(raw string) (Address, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Address{}, fmt.Errorf("%w: empty value", ErrInvalidAddress)
	}
	for _, character := range normalized {
		if character > unicode.MaxASCII || unicode.IsSpace(character) || unicode.IsControl(character) {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
	}
	return Address{value: normalized}, nil
}

// String returns the canonical identifier.
func (address Address) String() string {
	return address.value
}

// NewTxHash validates and normalizes a payment transaction hash.
func NewTxHash(raw string) (TxHash, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return TxHash{}, fmt.Errorf("%w: empty value", ErrInvalidTxHash)
	}
	for _, character := range normalized {
		if character > unicode.MaxASCII || unicode.IsSpace(character) || unicode.IsControl(character) {
			return TxHash{}, fmt.Errorf("%w: %q", ErrInvalidTxHash, raw)
		}
	}
	return TxHash{value: normalized}, nil
}

// String returns the normalized hash.
func (hash TxHash) String() string {
	return hash.value
}

// NewPurchaseID validates and normalizes a purchase id.
func NewPurchaseID(raw string) (PurchaseID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PurchaseID{}, fmt.Errorf("%w: empty value", ErrInvalidPurchaseID)
	}
	return PurchaseID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PurchaseID) String() string {
	return id.value
}

// NewMetadataJSON validates a metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// EntryKind enumerates ledger entry kinds.
type EntryKind string

const (
	EntryClaimInitial   EntryKind = "claim_initial"
	EntryClaimDaily     EntryKind = "claim_daily"
	EntrySpend          EntryKind = "spend"
	EntryPurchaseCredit EntryKind = "purchase_credit"
)

// ParseEntryKind validates a stored entry kind.
func ParseEntryKind(raw string) (EntryKind, error) {
	kind := EntryKind(raw)
	switch kind {
	case EntryClaimInitial, EntryClaimDaily, EntrySpend, EntryPurchaseCredit:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidEntryKind, raw)
}

// String returns the stored representation.
func (kind EntryKind) String() string {
	return string(kind)
}

// SpendPurpose names a fixed-price action funded by scarabs.
type SpendPurpose string

const (
	PurposeReview SpendPurpose = "review"
	PurposeVote   SpendPurpose = "vote"
)

// ParseSpendPurpose validates a purpose against the price table.
func ParseSpendPurpose(raw string) (SpendPurpose, error) {
	purpose := SpendPurpose(strings.ToLower(strings.TrimSpace(raw)))
	if _, known := spendPrices[purpose]; !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidPurpose, raw)
	}
	return purpose, nil
}

// String returns the stored representation.
func (purpose SpendPurpose) String() string {
	return string(purpose)
}

// Cost returns the fixed scarab price of the purpose.
func (purpose SpendPurpose) Cost() int64 {
	return spendPrices[purpose]
}

// PurchaseTier names a fixed price/quantity purchase bundle.
type PurchaseTier string

const (
	TierSmall  PurchaseTier = "small"
	TierMedium PurchaseTier = "medium"
	TierLarge  PurchaseTier = "large"
)

// ParsePurchaseTier validates a tier against the published table.
func ParsePurchaseTier(raw string) (PurchaseTier, error) {
	tier := PurchaseTier(strings.ToLower(strings.TrimSpace(raw)))
	if _, known := purchaseTiers[tier]; !known {
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
	}
	return tier, nil
}

// String returns the stored representation.
func (tier PurchaseTier) String() string {
	return string(tier)
}

// Terms returns the published USDC price (cents) and scarab quantity for the tier.
func (tier PurchaseTier) Terms() (int64, int64) {
	terms := purchaseTiers[tier]
	return terms.usdcCents, terms.scarabAmount
}

// PurchaseStatus defines the purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusConfirmed PurchaseStatus = "confirmed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// ParsePurchaseStatus validates a stored purchase status.
func ParsePurchaseStatus(raw string) (PurchaseStatus, error) {
	status := PurchaseStatus(raw)
	switch status {
	case PurchaseStatusPending, PurchaseStatusConfirmed, PurchaseStatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPurchaseStatus, raw)
}

// String returns the stored representation.
func (status PurchaseStatus) String() string {
	return string(status)
}

// Account is the materialized balance projection for one address.
type Account struct {
	Address          Address
	Balance          int64
	TotalEarned      int64
	TotalSpent       int64
	TotalPurchased   int64
	LastClaimUnixUTC int64
	Streak           int64
	CreatedUnixUTC   int64
}

// VerifyProjection checks the balance identity against the running totals.
func (account Account) VerifyProjection() error {
	if account.Balance < 0 {
		return fmt.Errorf("%w: negative balance %d", ErrInvalidBalance, account.Balance)
	}
	if account.Balance != account.TotalEarned+account.TotalPurchased-account.TotalSpent {
		return fmt.Errorf("%w: balance %d does not match totals", ErrInvalidBalance, account.Balance)
	}
	return nil
}

// LedgerEntry is a single immutable line in the transaction log.
type LedgerEntry struct {
	EntryID        string
	Address        Address
	Kind           EntryKind
	Amount         int64
	RelatedID      string
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// NewLedgerEntry validates a ledger entry prior to insertion. The entry id is
// assigned by the store.
func NewLedgerEntry(address Address, kind EntryKind, amount int64, relatedID string, metadata MetadataJSON, createdUnixUTC int64) (LedgerEntry, error) {
	if _, err := ParseEntryKind(kind.String()); err != nil {
		return LedgerEntry{}, err
	}
	if amount == 0 {
		return LedgerEntry{}, fmt.Errorf("%w: zero amount", ErrInvalidAmount)
	}
	if kind == EntrySpend && amount > 0 {
		return LedgerEntry{}, fmt.Errorf("%w: spend entries must be negative", ErrInvalidAmount)
	}
	if kind != EntrySpend && amount < 0 {
		return LedgerEntry{}, fmt.Errorf("%w: credit entries must be positive", ErrInvalidAmount)
	}
	return LedgerEntry{
		Address:        address,
		Kind:           kind,
		Amount:         amount,
		RelatedID:      relatedID,
		Metadata:       metadata,
		CreatedUnixUTC: createdUnixUTC,
	}, nil
}

// Purchase is one purchase attempt of a fixed tier bundle.
type Purchase struct {
	PurchaseID       string
	Address          Address
	Tier             PurchaseTier
	USDCCents        int64
	ScarabAmount     int64
	Status           PurchaseStatus
	TxHash           string
	CreatedUnixUTC   int64
	ConfirmedUnixUTC int64
}

// ClaimResult reports a successful daily claim.
type ClaimResult struct {
	Amount     int64
	Streak     int64
	FirstClaim bool
	Balance    int64
}

// ConfirmResult reports a confirmed purchase credit.
type ConfirmResult struct {
	ScarabAmount int64
	Balance      int64
}

// TransactionHistory is one page of ledger entries, newest first.
type TransactionHistory struct {
	Entries    []LedgerEntry
	TotalCount int64
}

// Store is the persistence contract used by Service. Implementations must
// provide per-address serialization for rows read through the Lock methods
// inside WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, address Address) (Account, error)
	LockAccount(ctx context.Context, address Address) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	InsertEntry(ctx context.Context, entry LedgerEntry) error
	ListEntries(ctx context.Context, address Address, limit int, offset int) ([]LedgerEntry, int64, error)
	CreatePurchase(ctx context.Context, purchase Purchase) error
	GetPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error)
	LockPurchase(ctx context.Context, purchaseID PurchaseID) (Purchase, error)
	ListPurchases(ctx context.Context, address Address, limit int) ([]Purchase, error)
	TxHashExists(ctx context.Context, txHash TxHash) (bool, error)
	MarkPurchaseConfirmed(ctx context.Context, purchaseID PurchaseID, txHash TxHash, confirmedUnixUTC int64) error
	MarkPurchaseFailed(ctx context.Context, purchaseID PurchaseID) error
}
