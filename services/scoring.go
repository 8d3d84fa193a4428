package services

import (
	"math"

	"guild-war-system/models"
)

// BaseRewardBundle is the payout before multipliers (tunable via config later)
var BaseRewardBundle = models.RewardBundle{
	Crystals: 50000,
	Exons:    500,
	GuildExp: 5000,
}

// Divisors for the three reward factors.
const (
	participationDivisor = 50.0
	dominanceDivisor     = 10000.0
)

// WinnerOf picks the winning guild from the final scores. The challenger
// wins ties: a war declaration is an all-in bet, and a target that cannot
// outscore the challenger has not defended. Confirmed as the intended
// tie-break policy, not an accident of comparison order.
func WinnerOf(war *models.War) string {
	if war.Scores[war.TargetID] > war.Scores[war.ChallengerID] {
		return war.TargetID
	}
	return war.ChallengerID
}

// CalculateRewards converts the terminal war state into the winner's reward
// bundle. Three independent factors are averaged and applied to the base:
//
//	territory     = 1 + controlled/total
//	participation = 1 + registered/50
//	dominance     = 1 + |score difference|/10000
//
// Each reward field is rounded down. The factor trio is preserved on the
// bundle for auditability.
func CalculateRewards(war *models.War, territories []models.Territory, winnerID string) models.RewardBundle {
	controlled := 0
	for _, t := range territories {
		if t.ControllerID != nil && *t.ControllerID == winnerID {
			controlled++
		}
	}

	m := models.RewardMultipliers{
		Territory:     1.0,
		Participation: 1.0 + float64(len(war.Participants[winnerID]))/participationDivisor,
		Dominance:     1.0 + scoreDifference(war)/dominanceDivisor,
	}
	if len(territories) > 0 {
		m.Territory = 1.0 + float64(controlled)/float64(len(territories))
	}

	avg := m.Average()
	return models.RewardBundle{
		Crystals:    int64(math.Floor(float64(BaseRewardBundle.Crystals) * avg)),
		Exons:       int64(math.Floor(float64(BaseRewardBundle.Exons) * avg)),
		GuildExp:    int64(math.Floor(float64(BaseRewardBundle.GuildExp) * avg)),
		Multipliers: m,
	}
}

func scoreDifference(war *models.War) float64 {
	diff := war.Scores[war.ChallengerID] - war.Scores[war.TargetID]
	return math.Abs(float64(diff))
}
