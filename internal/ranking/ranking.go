// Package ranking projects engineer XP into a leaderboard. It only reads; XP
// is written by the task engine when work is approved.
package ranking

import (
	"context"
	"iter"

	"appbee/internal/config"
	"appbee/internal/domain"
	"appbee/internal/engine/auth"
	"appbee/internal/repo"
)

// ErrUnavailable is returned to callers who may not see the leaderboard.
var ErrUnavailable = &domain.Error{Kind: domain.KindAuthorization, Message: "leaderboard unavailable: an approved account is required"}

type Entry struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"account_id"`
	FullName  string `json:"full_name"`
	XP        int64  `json:"xp"`
	Level     int64  `json:"level"`
}

// Ranking is a snapshot of the top engineers taken at query time.
type Ranking struct {
	entries []Entry
}

// All yields (rank, entry) pairs, best first. Ranks start at 1. The sequence
// can be ranged over any number of times.
func (r Ranking) All() iter.Seq2[int, Entry] {
	return func(yield func(int, Entry) bool) {
		for _, e := range r.entries {
			if !yield(e.Rank, e) {
				return
			}
		}
	}
}

func (r Ranking) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the snapshot.
func (r Ranking) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

type Projector struct {
	Repo   repo.Repo
	Config *config.Config
}

// Limit clamps a requested size to the configured bounds. Zero or negative
// selects the default.
func (p Projector) Limit(requested int) int {
	cfg := p.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if requested <= 0 {
		return cfg.Leaderboard.DefaultLimit
	}
	if requested > cfg.Leaderboard.MaxLimit {
		return cfg.Leaderboard.MaxLimit
	}
	return requested
}

// TopEngineers ranks approved engineers by XP, highest first. Engineers with
// equal XP keep registration order.
func (p Projector) TopEngineers(ctx context.Context, principal auth.Principal, limit int) (Ranking, error) {
	if !principal.Eligible() {
		return Ranking{}, ErrUnavailable
	}
	accounts, err := p.Repo.TopEngineers(ctx, p.Limit(limit))
	if err != nil {
		return Ranking{}, err
	}
	entries := make([]Entry, len(accounts))
	for i, a := range accounts {
		entries[i] = Entry{
			Rank:      i + 1,
			AccountID: a.ID,
			FullName:  a.FullName,
			XP:        a.XP,
			Level:     a.Level(),
		}
	}
	return Ranking{entries: entries}, nil
}
