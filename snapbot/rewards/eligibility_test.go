package rewards

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snap-coin/snapbot/snapbot/chat"
)

const testGuild = snowflake.ID(1000)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	t := NewTracker()
	t.now = func() time.Time { return testNow }
	return t
}

func membersLookup(members map[snowflake.ID]chat.Member) MembershipLookup {
	return func(_ context.Context, _ snowflake.ID, userID snowflake.ID) (chat.Member, error) {
		m, ok := members[userID]
		if !ok {
			return chat.Member{}, chat.ErrMemberNotFound
		}
		return m, nil
	}
}

func TestTracker_TrackIsIdempotent(t *testing.T) {
	tracker := newTestTracker()
	tracker.Track(2)
	tracker.Track(1)
	tracker.Track(2)

	assert.Equal(t, 2, tracker.Len())
	assert.Equal(t, []snowflake.ID{1, 2}, tracker.Active())
}

func TestTracker_ListEligible(t *testing.T) {
	tracker := newTestTracker()
	members := map[snowflake.ID]chat.Member{
		1: {UserID: 1, GuildID: testGuild, JoinedAt: testNow.Add(-2 * time.Hour)},
		2: {UserID: 2, GuildID: testGuild, IsBot: true, JoinedAt: testNow.Add(-2 * time.Hour)},
		3: {UserID: 3, GuildID: testGuild, JoinedAt: testNow.Add(-30 * time.Minute)},
		4: {UserID: 4, GuildID: 999, JoinedAt: testNow.Add(-2 * time.Hour)},
		5: {UserID: 5, GuildID: testGuild},
		6: {UserID: 6, GuildID: testGuild, JoinedAt: testNow.Add(-time.Hour)},
	}

	candidates := []snowflake.ID{1, 2, 3, 4, 5, 6, 7}
	got := tracker.ListEligible(context.Background(), candidates, membersLookup(members), testGuild, time.Hour)

	assert.Equal(t, []snowflake.ID{1, 6}, got)
}

func TestTracker_ListEligibleOnlyConsidersCandidates(t *testing.T) {
	tracker := newTestTracker()
	members := map[snowflake.ID]chat.Member{
		1: {UserID: 1, GuildID: testGuild, JoinedAt: testNow.Add(-48 * time.Hour)},
		2: {UserID: 2, GuildID: testGuild, JoinedAt: testNow.Add(-48 * time.Hour)},
	}

	got := tracker.ListEligible(context.Background(), []snowflake.ID{2}, membersLookup(members), testGuild, time.Hour)
	assert.Equal(t, []snowflake.ID{2}, got)

	got = tracker.ListEligible(context.Background(), nil, membersLookup(members), testGuild, time.Hour)
	assert.Empty(t, got)
}

func TestTracker_ListEligibleSkipsLookupErrors(t *testing.T) {
	tracker := newTestTracker()
	lookup := func(_ context.Context, _ snowflake.ID, userID snowflake.ID) (chat.Member, error) {
		if userID == 1 {
			return chat.Member{}, errors.New("rate limited")
		}
		return chat.Member{UserID: userID, GuildID: testGuild, JoinedAt: testNow.Add(-2 * time.Hour)}, nil
	}

	got := tracker.ListEligible(context.Background(), []snowflake.ID{1, 2}, lookup, testGuild, time.Hour)
	assert.Equal(t, []snowflake.ID{2}, got)
}

func TestTracker_ResetPeriod(t *testing.T) {
	tracker := newTestTracker()
	tracker.ResetPeriod()
	assert.Zero(t, tracker.Len())

	tracker.Track(1)
	tracker.Track(2)
	tracker.ResetPeriod()
	assert.Zero(t, tracker.Len())
	assert.Empty(t, tracker.Active())
}

func TestTracker_Drain(t *testing.T) {
	tracker := newTestTracker()
	tracker.Track(3)
	tracker.Track(1)

	assert.Equal(t, []snowflake.ID{1, 3}, tracker.Drain())
	assert.Zero(t, tracker.Len())
	assert.Empty(t, tracker.Drain())
}

func TestTracker_ConcurrentTrackAndDrain(t *testing.T) {
	tracker := newTestTracker()

	const writers = 8
	const perWriter = 500

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		drained = make(map[snowflake.ID]int)
		done    = make(chan struct{})
	)

	collect := func(ids []snowflake.ID) {
		mu.Lock()
		for _, id := range ids {
			drained[id]++
		}
		mu.Unlock()
	}

	drainerDone := make(chan struct{})
	go func() {
		defer close(drainerDone)
		for {
			select {
			case <-done:
				return
			default:
				collect(tracker.Drain())
			}
		}
	}()

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				tracker.Track(snowflake.ID(w*perWriter + i + 1))
			}
		}(w)
	}
	wg.Wait()
	close(done)
	<-drainerDone
	collect(tracker.Drain())

	// every user was tracked once, so each must land in exactly one drain
	require.Len(t, drained, writers*perWriter)
	for id, n := range drained {
		assert.Equal(t, 1, n, "user %s drained %d times", id, n)
	}
}

func TestIsEligible(t *testing.T) {
	tests := []struct {
		name   string
		member chat.Member
		want   bool
	}{
		{
			name:   "long standing member",
			member: chat.Member{GuildID: testGuild, JoinedAt: testNow.AddDate(0, -1, 0)},
			want:   true,
		},
		{
			name:   "exactly at minimum tenure",
			member: chat.Member{GuildID: testGuild, JoinedAt: testNow.Add(-time.Hour)},
			want:   true,
		},
		{
			name:   "too new",
			member: chat.Member{GuildID: testGuild, JoinedAt: testNow.Add(-59 * time.Minute)},
		},
		{
			name:   "bot",
			member: chat.Member{GuildID: testGuild, IsBot: true, JoinedAt: testNow.AddDate(-1, 0, 0)},
		},
		{
			name:   "other guild",
			member: chat.Member{GuildID: 42, JoinedAt: testNow.AddDate(-1, 0, 0)},
		},
		{
			name:   "unknown join time",
			member: chat.Member{GuildID: testGuild},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEligible(tt.member, testGuild, time.Hour, testNow))
		})
	}
}

func TestUniformIndex(t *testing.T) {
	_, err := uniformIndex(0)
	require.Error(t, err)

	const n = 4
	const draws = 20000
	counts := make([]int, n)
	for i := 0; i < draws; i++ {
		idx, err := uniformIndex(n)
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, n)
		counts[idx]++
	}

	// 5000 expected per bucket; the bound is far outside normal variance
	for i, c := range counts {
		assert.InDelta(t, draws/n, c, 500, "bucket %d", i)
	}
}
