package scarab

import "time"

// claimOutcome is the result of evaluating claim eligibility against the
// account's stored claim state. It carries no side effects.
type claimOutcome struct {
	amount     int64
	streak     int64
	kind       EntryKind
	firstClaim bool
}

// evaluateClaim computes the claim amount and streak transition. Day
// boundaries are UTC calendar days, not elapsed hours.
func evaluateClaim(lastClaimUnixUTC int64, currentStreak int64, nowUnixUTC int64, boosted bool) (claimOutcome, error) {
	multiplier := int64(1)
	if boosted {
		multiplier = boostMultiplier
	}
	if lastClaimUnixUTC == 0 {
		return claimOutcome{
			amount:     firstClaimAmount * multiplier,
			streak:     1,
			kind:       EntryClaimInitial,
			firstClaim: true,
		}, nil
	}
	daysSinceLastClaim := calendarDaysBetween(lastClaimUnixUTC, nowUnixUTC)
	switch {
	case daysSinceLastClaim <= 0:
		return claimOutcome{}, ErrAlreadyClaimedToday
	case daysSinceLastClaim == 1:
		streak := currentStreak + 1
		bonus := streak - 1
		if bonus > streakBonusCap {
			bonus = streakBonusCap
		}
		return claimOutcome{
			amount: (dailyClaimBase + bonus) * multiplier,
			streak: streak,
			kind:   EntryClaimDaily,
		}, nil
	default:
		return claimOutcome{
			amount: dailyClaimBase * multiplier,
			streak: 1,
			kind:   EntryClaimDaily,
		}, nil
	}
}

// calendarDaysBetween returns the number of UTC calendar-day boundaries
// crossed between the two instants. 23:59 and 00:01 on adjacent days count
// as one day apart even though the elapsed time is two minutes.
func calendarDaysBetween(earlierUnixUTC int64, laterUnixUTC int64) int64 {
	return civilDayNumber(laterUnixUTC) - civilDayNumber(earlierUnixUTC)
}

func civilDayNumber(unixUTC int64) int64 {
	moment := time.Unix(unixUTC, 0).UTC()
	midnight := time.Date(moment.Year(), moment.Month(), moment.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Unix() / secondsPerDay
}
