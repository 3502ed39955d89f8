package scarab

// TrustLevel is the discount bracket derived from combined reputation.
type TrustLevel string

const (
	TrustGuardian TrustLevel = "guardian"
	TrustVerified TrustLevel = "verified"
	TrustTrusted  TrustLevel = "trusted"
	TrustNew      TrustLevel = "new"
)

// String returns the stored representation.
func (level TrustLevel) String() string {
	return string(level)
}

// TierResult pairs a trust level with its fee in basis points.
type TierResult struct {
	TrustLevel     TrustLevel
	FeeBasisPoints int64
}

type tierThreshold struct {
	minimumScore   int64
	trustLevel     TrustLevel
	feeBasisPoints int64
}

// Ordered highest first; first match wins.
var tierThresholds = []tierThreshold{
	{minimumScore: 200, trustLevel: TrustGuardian, feeBasisPoints: 0},
	{minimumScore: 50, trustLevel: TrustVerified, feeBasisPoints: 10},
	{minimumScore: 10, trustLevel: TrustTrusted, feeBasisPoints: 30},
}

// ComputeTier maps review reputation plus scarab holdings to a fee tier.
// Pure and side-effect free; safe to call with stale inputs.
func ComputeTier(reputationScore int64, scarabBalance int64) TierResult {
	combinedScore := reputationScore + scarabBalance/10
	for _, threshold := range tierThresholds {
		if combinedScore >= threshold.minimumScore {
			return TierResult{
				TrustLevel:     threshold.trustLevel,
				FeeBasisPoints: threshold.feeBasisPoints,
			}
		}
	}
	return TierResult{
		TrustLevel:     TrustNew,
		FeeBasisPoints: 50,
	}
}
