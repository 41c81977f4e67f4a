package payout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/snap-coin/snapbot/snapbot/database"
	"github.com/snap-coin/snapbot/snapbot/database/models"
	"github.com/snap-coin/snapbot/snapbot/database/repositories"
)

type fakeEndpoint struct {
	mu         sync.Mutex
	status     int
	txHash     string
	submitted  []map[string]any
	statusHits int
}

func (e *fakeEndpoint) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if strings.Contains(r.URL.Path, "/get-withdrawals/") {
			e.statusHits++
			if e.txHash == "" {
				_, _ = w.Write([]byte(`{"status": "queued"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": e.txHash})
			return
		}

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		e.submitted = append(e.submitted, body)
		w.WriteHeader(e.status)
	})
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) SendMessage(_ context.Context, _ snowflake.ID, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, content)
	return nil
}

type payoutFixture struct {
	scheduler *Scheduler
	endpoint  *fakeEndpoint
	notifier  *recordingNotifier
	rewards   repositories.RewardRepository
	wallets   repositories.WalletRepository
	payouts   repositories.PayoutRepository
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.InitializeSchema(ctx))
	return db.BunDB()
}

func newPayoutFixture(t *testing.T, status int) *payoutFixture {
	t.Helper()
	db := newTestDB(t)

	endpoint := &fakeEndpoint{status: status}
	srv := httptest.NewServer(endpoint.handler(t))
	t.Cleanup(srv.Close)

	f := &payoutFixture{
		endpoint: endpoint,
		notifier: &recordingNotifier{},
		rewards:  repositories.NewRewardRepository(db),
		wallets:  repositories.NewWalletRepository(db, repositories.DefaultWalletAddressLength),
		payouts:  repositories.NewPayoutRepository(db),
	}
	f.scheduler = NewScheduler(Config{
		Interval:            time.Hour,
		SettleDelay:         5 * time.Minute,
		ProofAttempts:       2,
		MaxConcurrentProofs: 2,
		ChannelID:           555,
	}, f.rewards, NewClient(srv.URL, "s3cret", time.Second), f.payouts, f.notifier)
	f.scheduler.after = func(time.Duration) <-chan time.Time {
		c := make(chan time.Time, 1)
		c <- time.Time{}
		return c
	}
	return f
}

func address(prefix string) string {
	return prefix + strings.Repeat("x", repositories.DefaultWalletAddressLength-len(prefix))
}

func TestScheduler_AcceptedPayoutZeroesBalances(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusOK)
	f.endpoint.txHash = "0xfeed"

	const user = snowflake.ID(42)
	require.NoError(t, f.rewards.Accrue(ctx, user, models.LotteryRewardKind, 0.1))
	require.NoError(t, f.rewards.Accrue(ctx, user, models.LotteryRewardKind, 0.1))
	require.NoError(t, f.wallets.Register(ctx, user, address("snap")))

	report, err := f.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.proofs.Wait())

	assert.True(t, report.Accepted)
	assert.Equal(t, []snowflake.ID{user}, report.Users)
	require.Len(t, f.endpoint.submitted, 1)
	sent := f.endpoint.submitted[0]
	assert.Equal(t, "s3cret", sent["secret_key"])
	assert.Equal(t, report.Reference, sent["status_reference_wallet"])
	assert.Len(t, report.Reference, ReferenceLength)
	assert.Equal(t, []any{[]any{address("snap"), 0.2}}, sent["receivers"])

	balance, err := f.rewards.Balance(ctx, user, models.LotteryRewardKind)
	require.NoError(t, err)
	assert.Zero(t, balance)

	pending, err := f.rewards.ListPendingPayable(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// the next cycle has nothing to pay
	report, err = f.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Len(t, f.endpoint.submitted, 1)

	recorded, err := f.payouts.Get(ctx, sent["status_reference_wallet"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusSettled, recorded.Status)
	assert.Equal(t, "0xfeed", recorded.TxHash)
	require.Len(t, recorded.PaidUsers, 1)
	assert.Equal(t, "42", recorded.PaidUsers[0].UserID)

	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "<@42>")
	assert.Contains(t, f.notifier.messages[0], "0xfeed")
}

func TestScheduler_RejectedPayoutKeepsBalances(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusInternalServerError)

	require.NoError(t, f.rewards.Accrue(ctx, 1, models.LotteryRewardKind, 0.3))
	require.NoError(t, f.rewards.Accrue(ctx, 2, models.LotteryRewardKind, 0.7))
	require.NoError(t, f.wallets.Register(ctx, 1, address("one")))
	require.NoError(t, f.wallets.Register(ctx, 2, address("two")))

	report, err := f.scheduler.RunCycle(ctx)
	require.ErrorIs(t, err, ErrPayoutRejected)
	assert.False(t, report.Accepted)
	assert.Equal(t, StateIdle, f.scheduler.State())

	for id, want := range map[snowflake.ID]float64{1: 0.3, 2: 0.7} {
		balance, err := f.rewards.Balance(ctx, id, models.LotteryRewardKind)
		require.NoError(t, err)
		assert.InDelta(t, want, balance, 1e-9)
	}

	unsettled, err := f.payouts.ListUnsettled(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
	assert.Empty(t, f.notifier.messages)
}

func TestScheduler_BatchOnlyHasPayableUsers(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusOK)

	require.NoError(t, f.rewards.Accrue(ctx, 1, models.LotteryRewardKind, 0.5))
	require.NoError(t, f.rewards.Accrue(ctx, 2, models.LotteryRewardKind, 0.5))
	require.NoError(t, f.wallets.Register(ctx, 1, address("one")))
	require.NoError(t, f.wallets.Register(ctx, 3, address("three")))

	report, err := f.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.proofs.Wait())

	assert.Equal(t, []snowflake.ID{1}, report.Users)
	require.Len(t, f.endpoint.submitted, 1)
	assert.Equal(t, []any{[]any{address("one"), 0.5}}, f.endpoint.submitted[0]["receivers"])

	balance, err := f.rewards.Balance(ctx, 2, models.LotteryRewardKind)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, balance, 1e-9)
}

func TestScheduler_NoPendingSkipsEndpoint(t *testing.T) {
	f := newPayoutFixture(t, http.StatusOK)

	report, err := f.scheduler.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Pending)
	assert.Empty(t, f.endpoint.submitted)
}

func TestScheduler_ProofGivesUpWithoutRollback(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusOK)

	require.NoError(t, f.rewards.Accrue(ctx, 9, models.LotteryRewardKind, 1))
	require.NoError(t, f.wallets.Register(ctx, 9, address("nine")))

	report, err := f.scheduler.RunCycle(ctx)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.proofs.Wait())

	assert.Equal(t, 2, f.endpoint.statusHits)
	assert.Empty(t, f.notifier.messages)

	balance, err := f.rewards.Balance(ctx, 9, models.LotteryRewardKind)
	require.NoError(t, err)
	assert.Zero(t, balance)

	recorded, err := f.payouts.Get(ctx, report.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusAccepted, recorded.Status)
}

func TestScheduler_ReferenceFailureAbandonsCycle(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusOK)
	f.scheduler.newReference = func() (string, error) { return "", errors.New("entropy exhausted") }

	require.NoError(t, f.rewards.Accrue(ctx, 1, models.LotteryRewardKind, 1))
	require.NoError(t, f.wallets.Register(ctx, 1, address("one")))

	_, err := f.scheduler.RunCycle(ctx)
	require.Error(t, err)
	assert.Empty(t, f.endpoint.submitted)

	balance, err := f.rewards.Balance(ctx, 1, models.LotteryRewardKind)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, balance, 1e-9)
}

func TestScheduler_StartOnceAndResume(t *testing.T) {
	ctx := context.Background()
	f := newPayoutFixture(t, http.StatusOK)
	f.endpoint.txHash = "0xcafe"

	require.NoError(t, f.payouts.RecordAccepted(ctx, &models.Payout{
		Reference: "resumeme",
		Receivers: 2,
		Users:     2,
		Total:     0.5,
		CreatedAt: time.Now().Add(-time.Hour),
		PaidUsers: []*models.PayoutUser{{UserID: "77"}, {UserID: "78"}},
	}))

	require.NoError(t, f.scheduler.Start(ctx))
	assert.ErrorIs(t, f.scheduler.Start(ctx), ErrAlreadyStarted)

	require.Eventually(t, func() bool {
		p, err := f.payouts.Get(ctx, "resumeme")
		return err == nil && p.Status == models.PayoutStatusSettled
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		f.notifier.mu.Lock()
		defer f.notifier.mu.Unlock()
		return len(f.notifier.messages) == 1
	}, 5*time.Second, 10*time.Millisecond)
	f.notifier.mu.Lock()
	assert.Contains(t, f.notifier.messages[0], "<@77>, <@78>")
	assert.Contains(t, f.notifier.messages[0], "0xcafe")
	f.notifier.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.scheduler.Shutdown(shutdownCtx))
}

type blockedLedger struct{}

func (blockedLedger) Settle(context.Context, repositories.SettleFunc) (int, error) {
	return 0, fmt.Errorf("%w: database is locked", repositories.ErrZeroingPending)
}

func TestScheduler_OwedZeroingSkipsCycle(t *testing.T) {
	f := newPayoutFixture(t, http.StatusOK)
	f.scheduler.ledger = blockedLedger{}

	report, err := f.scheduler.RunCycle(context.Background())
	assert.ErrorIs(t, err, repositories.ErrZeroingPending)
	assert.False(t, report.Accepted)
	assert.Empty(t, f.endpoint.submitted)
	assert.Equal(t, StateIdle, f.scheduler.State())
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	f := newPayoutFixture(t, http.StatusOK)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.scheduler.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		f.scheduler.mu.Lock()
		defer f.scheduler.mu.Unlock()
		return f.scheduler.started
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("payout scheduler did not stop")
	}
	assert.ErrorIs(t, f.scheduler.Start(context.Background()), ErrAlreadyStarted)
	assert.Error(t, f.scheduler.ctx.Err())
}
