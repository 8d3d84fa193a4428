package services

import (
	"testing"

	"guild-war-system/models"
)

func warWithScores(challenger, target string, challengerScore, targetScore int64) *models.War {
	return &models.War{
		ID:           "war-1",
		ChallengerID: challenger,
		TargetID:     target,
		Participants: models.ParticipantRoster{challenger: {}, target: {}},
		Scores:       models.GuildScores{challenger: challengerScore, target: targetScore},
	}
}

func TestWinnerOf(t *testing.T) {
	cases := []struct {
		name            string
		challengerScore int64
		targetScore     int64
		want            string
	}{
		{"challenger ahead", 1000, 400, "alpha"},
		{"target ahead", 400, 1000, "beta"},
		{"tie goes to challenger", 500, 500, "alpha"},
		{"zero-zero goes to challenger", 0, 0, "alpha"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			war := warWithScores("alpha", "beta", tc.challengerScore, tc.targetScore)
			if got := WinnerOf(war); got != tc.want {
				t.Fatalf("WinnerOf() = %s, want %s", got, tc.want)
			}
		})
	}
}

func territoriesControlledBy(guildID string, controlled, total int) []models.Territory {
	out := make([]models.Territory, total)
	for i := range out {
		out[i] = models.Territory{ID: string(rune('a' + i)), Type: models.TerritoryTypeOutpost}
		if i < controlled {
			gid := guildID
			out[i].ControllerID = &gid
		}
	}
	return out
}

func TestCalculateRewards(t *testing.T) {
	// Winner holds 14 of 22 territories with a 30-strong roster and a
	// 400-point margin: multipliers 1.6363.., 1.6, 1.04, average 1.42545..
	war := warWithScores("alpha", "beta", 2400, 2000)
	roster := make([]string, 30)
	for i := range roster {
		roster[i] = memberID("alpha", i)
	}
	war.Participants["alpha"] = roster

	rewards := CalculateRewards(war, territoriesControlledBy("alpha", 14, 22), "alpha")

	if rewards.Crystals != 71272 {
		t.Errorf("crystals = %d, want 71272", rewards.Crystals)
	}
	if rewards.Exons != 712 {
		t.Errorf("exons = %d, want 712", rewards.Exons)
	}
	if rewards.GuildExp != 7127 {
		t.Errorf("guild exp = %d, want 7127", rewards.GuildExp)
	}
	if rewards.Multipliers.Participation != 1.6 {
		t.Errorf("participation multiplier = %v, want 1.6", rewards.Multipliers.Participation)
	}
	if rewards.Multipliers.Dominance != 1.04 {
		t.Errorf("dominance multiplier = %v, want 1.04", rewards.Multipliers.Dominance)
	}
}

func TestCalculateRewardsNoTerritories(t *testing.T) {
	war := warWithScores("alpha", "beta", 100, 0)
	rewards := CalculateRewards(war, nil, "alpha")
	if rewards.Multipliers.Territory != 1.0 {
		t.Fatalf("territory multiplier without territories = %v, want 1.0", rewards.Multipliers.Territory)
	}
	if rewards.Crystals < BaseRewardBundle.Crystals {
		t.Fatalf("crystals %d below base %d", rewards.Crystals, BaseRewardBundle.Crystals)
	}
}

func TestCalculateRewardsNeverBelowBase(t *testing.T) {
	// Worst case: no territories held, empty roster, dead-even scores.
	// Every multiplier bottoms out at 1.0 so the bundle equals the base.
	war := warWithScores("alpha", "beta", 0, 0)
	rewards := CalculateRewards(war, territoriesControlledBy("beta", 0, 22), "alpha")
	if rewards.Crystals != BaseRewardBundle.Crystals ||
		rewards.Exons != BaseRewardBundle.Exons ||
		rewards.GuildExp != BaseRewardBundle.GuildExp {
		t.Fatalf("floor bundle = %+v, want base %+v", rewards, BaseRewardBundle)
	}
}
