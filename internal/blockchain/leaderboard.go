package blockchain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// LeaderboardEntry is one finisher as recorded by the contract. RankPosition
// is assigned after sorting and is 1-based.
type LeaderboardEntry struct {
	WalletAddress string `json:"wallet"`
	Score         int64  `json:"score"`
	RankPosition  int    `json:"rank_position"`
	UserID        string `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
}

type rawLeaderboardEntry struct {
	Wallet   string          `json:"wallet"`
	Score    json.RawMessage `json:"score"`
	UserID   json.RawMessage `json:"userId"`
	Username string          `json:"username"`
}

// ParseLeaderboard decodes the JSON blob returned by getLeaderboard and
// returns the entries sorted by score descending. Equal scores keep the
// order the contract reported them in.
func ParseLeaderboard(payload string) ([]LeaderboardEntry, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, nil
	}

	var raw []rawLeaderboardEntry
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(raw))
	for i, r := range raw {
		if r.Wallet == "" {
			return nil, fmt.Errorf("leaderboard entry %d: missing wallet", i)
		}
		score, err := parseScore(r.Score)
		if err != nil {
			return nil, fmt.Errorf("leaderboard entry %d: %w", i, err)
		}
		entries = append(entries, LeaderboardEntry{
			WalletAddress: r.Wallet,
			Score:         score,
			UserID:        looseString(r.UserID),
			Username:      r.Username,
		})
	}

	SortLeaderboard(entries)
	return entries, nil
}

// SortLeaderboard orders entries by score descending (stable) and rewrites
// RankPosition to match.
func SortLeaderboard(entries []LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].RankPosition = i + 1
	}
}

func parseScore(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("missing score")
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return numberToInt(n.String())
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("invalid score %s", string(raw))
	}
	return numberToInt(s)
}

// numberToInt accepts integral scores in any JSON spelling ("20", 20.0,
// 2e1) and rejects fractions and values outside int64.
func numberToInt(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid score %q", s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("score %q is not a whole number", s)
	}
	v := d.BigInt()
	if !v.IsInt64() {
		return 0, fmt.Errorf("score %q is out of range", s)
	}
	return v.Int64(), nil
}

func looseString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
