package rewards

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/snap-coin/snapbot/snapbot/chat"
)

// DefaultMinTenure is how long a user must have been in the guild to win.
const DefaultMinTenure = time.Hour

// MembershipLookup resolves a user's membership in a guild.
type MembershipLookup func(ctx context.Context, guildID, userID snowflake.ID) (chat.Member, error)

// Tracker holds the users seen chatting during the current lottery period.
type Tracker struct {
	mu     sync.Mutex
	active map[snowflake.ID]struct{}
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		active: make(map[snowflake.ID]struct{}),
		now:    time.Now,
	}
}

// Track records userID as active in the current period. Safe for concurrent use.
func (t *Tracker) Track(userID snowflake.ID) {
	t.mu.Lock()
	t.active[userID] = struct{}{}
	t.mu.Unlock()
}

// Active returns a sorted snapshot of the current period's users.
func (t *Tracker) Active() []snowflake.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// ResetPeriod clears the active set.
func (t *Tracker) ResetPeriod() {
	t.mu.Lock()
	t.active = make(map[snowflake.ID]struct{})
	t.mu.Unlock()
}

// Drain returns the period's users and clears the set under one lock, so a
// concurrent Track lands either in the drained period or in the next one.
func (t *Tracker) Drain() []snowflake.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := t.snapshotLocked()
	t.active = make(map[snowflake.ID]struct{})
	return ids
}

func (t *Tracker) snapshotLocked() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ListEligible keeps the candidates that are non-bot members of guildID with at
// least minTenure of membership. Users that cannot be resolved are skipped.
func (t *Tracker) ListEligible(ctx context.Context, candidates []snowflake.ID, lookup MembershipLookup, guildID snowflake.ID, minTenure time.Duration) []snowflake.ID {
	now := t.now()
	eligible := make([]snowflake.ID, 0, len(candidates))
	for _, userID := range candidates {
		member, err := lookup(ctx, guildID, userID)
		if err != nil {
			slog.Debug("Skipping unresolvable lottery candidate",
				slog.String("type", "lottery"),
				slog.String("user_id", userID.String()),
				slog.Any("error", err))
			continue
		}
		if IsEligible(member, guildID, minTenure, now) {
			eligible = append(eligible, userID)
		}
	}
	return eligible
}

// IsEligible reports whether member may win a lottery draw at now.
func IsEligible(member chat.Member, guildID snowflake.ID, minTenure time.Duration, now time.Time) bool {
	if member.IsBot {
		return false
	}
	if member.GuildID != guildID {
		return false
	}
	if member.JoinedAt.IsZero() {
		return false
	}
	return now.Sub(member.JoinedAt) >= minTenure
}
