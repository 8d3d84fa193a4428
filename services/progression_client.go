// guild-war-system/services/progression_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// GuildMember is one member as reported by the guild service.
type GuildMember struct {
	UserID string `json:"user_id"`
	Level  int    `json:"level"`
	Active bool   `json:"active"`
}

// GuildInfo is the slice of guild state the war engine needs: level gating
// and the member roster. Guild CRUD itself lives in the guild service.
type GuildInfo struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Level   int           `json:"level"`
	Members []GuildMember `json:"members"`
}

// ActiveMembers returns the ids of members flagged active.
func (g *GuildInfo) ActiveMembers() []string {
	var ids []string
	for _, m := range g.Members {
		if m.Active {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// MemberLevel returns the member's level, 0 when not in the guild.
func (g *GuildInfo) MemberLevel(userID string) int {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.Level
		}
	}
	return 0
}

// GuildDirectory resolves guild state from the external guild service.
type GuildDirectory interface {
	GetGuild(ctx context.Context, guildID string) (*GuildInfo, error)
}

// RewardLedger is the external currency/progression collaborator credited at
// war end. The engine never enforces balances itself.
type RewardLedger interface {
	CreditGuildTreasury(ctx context.Context, guildID string, crystals, exons int64) error
	AddGuildExperience(ctx context.Context, guildID string, amount int64, source string) error
}

// AchievementTrigger notifies the achievement service about capture and
// victory milestones.
type AchievementTrigger interface {
	OnTerritoryCaptured(ctx context.Context, territoryID, userID string)
	OnWarVictory(ctx context.Context, guildID string)
}

// ProgressionClient talks to the guild/progression service over its internal
// HTTP API. It implements GuildDirectory, RewardLedger and AchievementTrigger.
type ProgressionClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewProgressionClient(baseURL, token string) *ProgressionClient {
	return &ProgressionClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ProgressionClient) GetGuild(ctx context.Context, guildID string) (*GuildInfo, error) {
	var out GuildInfo
	if err := c.call(ctx, "GET", fmt.Sprintf("/guilds/%s", guildID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ProgressionClient) CreditGuildTreasury(ctx context.Context, guildID string, crystals, exons int64) error {
	body := map[string]interface{}{
		"crystals": crystals,
		"exons":    exons,
	}
	return c.call(ctx, "POST", fmt.Sprintf("/guilds/%s/treasury/credit", guildID), body, nil)
}

func (c *ProgressionClient) AddGuildExperience(ctx context.Context, guildID string, amount int64, source string) error {
	body := map[string]interface{}{
		"amount": amount,
		"source": source,
	}
	return c.call(ctx, "POST", fmt.Sprintf("/guilds/%s/experience", guildID), body, nil)
}

func (c *ProgressionClient) OnTerritoryCaptured(ctx context.Context, territoryID, userID string) {
	body := map[string]interface{}{
		"territory_id": territoryID,
		"user_id":      userID,
	}
	if err := c.call(ctx, "POST", "/achievements/territory-captured", body, nil); err != nil {
		log.Printf("achievement trigger territory-captured failed: %v", err)
	}
}

func (c *ProgressionClient) OnWarVictory(ctx context.Context, guildID string) {
	body := map[string]interface{}{
		"guild_id": guildID,
	}
	if err := c.call(ctx, "POST", "/achievements/war-victory", body, nil); err != nil {
		log.Printf("achievement trigger war-victory failed: %v", err)
	}
}

func (c *ProgressionClient) call(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode != http.StatusOK {
		log.Printf("ProgressionService %s %s returned %d: %s", method, path, resp.StatusCode, string(respBody))
		return fmt.Errorf("progression service %s failed: %d", path, resp.StatusCode)
	}

	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}
