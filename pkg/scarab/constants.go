package scarab

const (
	operationClaim           = "claim"
	operationSpend           = "spend"
	operationCreatePurchase  = "create_purchase"
	operationConfirmPurchase = "confirm_purchase"
	operationFailPurchase    = "fail_purchase"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	firstClaimAmount int64 = 20
	dailyClaimBase   int64 = 5
	streakBonusCap   int64 = 10
	boostMultiplier  int64 = 2

	secondsPerDay int64 = 86400

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

var spendPrices = map[SpendPurpose]int64{
	PurposeReview: 2,
	PurposeVote:   5,
}

type purchaseTerms struct {
	usdcCents    int64
	scarabAmount int64
}

// Published tier table: price in USDC cents, quantity in scarabs.
var purchaseTiers = map[PurchaseTier]purchaseTerms{
	TierSmall:  {usdcCents: 100, scarabAmount: 50},
	TierMedium: {usdcCents: 500, scarabAmount: 300},
	TierLarge:  {usdcCents: 2000, scarabAmount: 1500},
}
