package rewards

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/snap-coin/snapbot/snapbot/chat"
)

const (
	defaultRetryBackoff   = 60 * time.Second
	defaultHistoryLimit   = 50
	accrualAttemptTimeout = 10 * time.Second
)

// LotteryState is where the scheduler currently is in its cycle.
type LotteryState int32

const (
	StateWaiting LotteryState = iota
	StateDrawing
	StateSettling
	StateSuspended
	StateStopped
)

func (s LotteryState) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateDrawing:
		return "drawing"
	case StateSettling:
		return "settling"
	case StateSuspended:
		return "suspended"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("LotteryState(%d)", int32(s))
	}
}

// CycleOutcome tells the run loop what to do after a cycle.
type CycleOutcome int

const (
	// CycleCompleted consumed the period; wait for the next tick.
	CycleCompleted CycleOutcome = iota
	// CycleTransient did not consume the period; retry it after a backoff.
	CycleTransient
	// CycleFatal stops the scheduler.
	CycleFatal
)

type CycleResult struct {
	Outcome  CycleOutcome
	Winner   snowflake.ID
	Eligible int
	Err      error
}

// LotteryLedger is the part of the reward ledger the lottery writes to.
type LotteryLedger interface {
	AccrueLotteryWin(ctx context.Context, userID snowflake.ID, amount float64, wonAt time.Time) error
}

// WalletChecker reports whether a user has a payout destination.
type WalletChecker interface {
	IsRegistered(ctx context.Context, userID snowflake.ID) (bool, error)
}

type LotteryConfig struct {
	GuildID      snowflake.ID
	Period       time.Duration
	RewardAmount float64
	RewardEmoji  string
	MinTenure    time.Duration
	RetryBackoff time.Duration
	HistoryLimit int
}

// LotteryScheduler draws one winner per period from the tracker's active users.
type LotteryScheduler struct {
	cfg      LotteryConfig
	tracker  *Tracker
	platform chat.Platform
	ledger   LotteryLedger
	wallets  WalletChecker

	state atomic.Int32
	pick  func(n int) (int, error)
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func NewLotteryScheduler(cfg LotteryConfig, tracker *Tracker, platform chat.Platform, ledger LotteryLedger, wallets WalletChecker) *LotteryScheduler {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MinTenure < 0 {
		cfg.MinTenure = DefaultMinTenure
	}
	return &LotteryScheduler{
		cfg:      cfg,
		tracker:  tracker,
		platform: platform,
		ledger:   ledger,
		wallets:  wallets,
		pick:     uniformIndex,
		now:      time.Now,
		after:    time.After,
	}
}

// uniformIndex returns a uniformly distributed index in [0, n).
func uniformIndex(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("cannot pick from %d candidates", n)
	}
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to draw random index: %w", err)
	}
	return int(i.Int64()), nil
}

func (s *LotteryScheduler) State() LotteryState {
	return LotteryState(s.state.Load())
}

func (s *LotteryScheduler) setState(state LotteryState) {
	s.state.Store(int32(state))
}

// Run waits one period, draws, and repeats until ctx is cancelled.
func (s *LotteryScheduler) Run(ctx context.Context) {
	slog.Info("Starting lottery task",
		slog.String("type", "lottery"),
		slog.String("guild_id", s.cfg.GuildID.String()),
		slog.Duration("period", s.cfg.Period),
		slog.Float64("reward_amount", s.cfg.RewardAmount))
	defer s.setState(StateStopped)

	for {
		s.setState(StateWaiting)
		if !s.sleep(ctx, s.cfg.Period) {
			return
		}

		for {
			res := s.runCycleSafe(ctx)
			if res.Outcome == CycleCompleted {
				slog.Info("Active users cleared",
					slog.String("type", "lottery"),
					slog.Duration("next_draw_in", s.cfg.Period))
				break
			}
			if res.Outcome == CycleFatal {
				if ctx.Err() == nil {
					slog.Error("Lottery task stopped",
						slog.String("type", "lottery"),
						slog.Any("error", res.Err))
				}
				return
			}

			slog.Warn("Lottery cycle did not complete, retrying",
				slog.String("type", "lottery"),
				slog.Any("error", res.Err),
				slog.Duration("backoff", s.cfg.RetryBackoff))
			if !s.sleep(ctx, s.cfg.RetryBackoff) {
				return
			}
		}
	}
}

func (s *LotteryScheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return true
	}
}

// runCycleSafe turns a panic into a retry only while the period's active set
// is untouched. Once drained the period counts as consumed.
func (s *LotteryScheduler) runCycleSafe(ctx context.Context) (res CycleResult) {
	var drained bool
	defer func() {
		if r := recover(); r != nil {
			outcome := CycleTransient
			if drained {
				outcome = CycleCompleted
			}
			res = CycleResult{Outcome: outcome, Err: fmt.Errorf("lottery cycle panic: %v", r)}
			slog.Error("Lottery cycle panicked",
				slog.String("type", "lottery"),
				slog.Bool("period_consumed", drained),
				slog.Any("panic", r))
		}
	}()
	return s.runCycle(ctx, &drained)
}

// RunCycle performs a single draw. The active set is only consumed once the
// guild has been resolved.
func (s *LotteryScheduler) RunCycle(ctx context.Context) CycleResult {
	var drained bool
	return s.runCycle(ctx, &drained)
}

func (s *LotteryScheduler) runCycle(ctx context.Context, drained *bool) CycleResult {
	if err := ctx.Err(); err != nil {
		return CycleResult{Outcome: CycleFatal, Err: err}
	}

	guild, err := s.platform.ResolveGuild(ctx, s.cfg.GuildID)
	if err != nil {
		s.setState(StateSuspended)
		slog.Warn("Guild not found",
			slog.String("type", "lottery"),
			slog.String("guild_id", s.cfg.GuildID.String()),
			slog.Any("error", err))
		return CycleResult{Outcome: CycleTransient, Err: err}
	}

	s.setState(StateDrawing)
	candidates := s.tracker.Drain()
	*drained = true
	eligible := s.tracker.ListEligible(ctx, candidates, s.platform.ResolveMember, guild.ID, s.cfg.MinTenure)
	if len(eligible) == 0 {
		slog.Info("No active eligible users for lottery this round",
			slog.String("type", "lottery"),
			slog.Int("active", len(candidates)))
		return CycleResult{Outcome: CycleCompleted}
	}

	idx, err := s.pick(len(eligible))
	if err != nil {
		// the period is already drained; nothing to retry against
		slog.Error("Failed to draw lottery winner",
			slog.String("type", "lottery"),
			slog.Any("error", err))
		return CycleResult{Outcome: CycleCompleted, Eligible: len(eligible), Err: err}
	}
	winner := eligible[idx]

	s.setState(StateSettling)
	if err := s.accrue(ctx, winner); err != nil {
		return CycleResult{Outcome: CycleFatal, Winner: winner, Eligible: len(eligible), Err: err}
	}

	slog.Info("Lottery winner drawn",
		slog.String("type", "lottery"),
		slog.String("status", "success"),
		slog.String("winner_id", winner.String()),
		slog.Int("eligible", len(eligible)),
		slog.Float64("reward", s.cfg.RewardAmount))

	s.notifyWinner(ctx, guild.ID, winner)
	return CycleResult{Outcome: CycleCompleted, Winner: winner, Eligible: len(eligible)}
}

// accrue keeps retrying until the reward is written. After shutdown is
// requested it makes one last attempt and reports the loss if that fails too.
func (s *LotteryScheduler) accrue(ctx context.Context, winner snowflake.ID) error {
	wonAt := s.now()
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), accrualAttemptTimeout)
		err := s.ledger.AccrueLotteryWin(attemptCtx, winner, s.cfg.RewardAmount, wonAt)
		cancel()
		if err == nil {
			return nil
		}

		slog.Error("Failed to accrue lottery reward",
			slog.String("type", "lottery"),
			slog.String("winner_id", winner.String()),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if ctx.Err() != nil {
			return fmt.Errorf("lottery reward for %s not recorded before shutdown: %w", winner, err)
		}
		select {
		case <-ctx.Done():
		case <-s.after(s.cfg.RetryBackoff):
		}
	}
}

// notifyWinner reacts to the winner's most recent message and, if they have no
// wallet yet, tells them how to add one. Failures are only logged.
func (s *LotteryScheduler) notifyWinner(ctx context.Context, guildID, winner snowflake.ID) {
	channels, err := s.platform.ListGuildTextChannels(ctx, guildID)
	if err != nil {
		slog.Warn("Could not list text channels",
			slog.String("type", "lottery"),
			slog.Any("error", err))
		return
	}

	for _, channel := range channels {
		messages, err := s.platform.RecentMessages(ctx, channel.ID, s.cfg.HistoryLimit)
		if err != nil {
			slog.Warn("Error checking channel",
				slog.String("type", "lottery"),
				slog.String("channel", channel.Name),
				slog.Any("error", err))
			continue
		}

		for _, msg := range messages {
			if msg.AuthorID != winner {
				continue
			}
			if err := s.platform.React(ctx, channel.ID, msg.ID, s.cfg.RewardEmoji); err != nil {
				slog.Warn("Failed to react to winner message",
					slog.String("type", "lottery"),
					slog.String("channel", channel.Name),
					slog.Any("error", err))
			}
			s.sendWalletHint(ctx, channel.ID, winner)
			return
		}
	}

	slog.Warn("Could not find recent message from winner",
		slog.String("type", "lottery"),
		slog.String("winner_id", winner.String()))
}

func (s *LotteryScheduler) sendWalletHint(ctx context.Context, channelID, winner snowflake.ID) {
	registered, err := s.wallets.IsRegistered(ctx, winner)
	if err != nil {
		slog.Error("Failed to check winner wallet",
			slog.String("type", "lottery"),
			slog.String("winner_id", winner.String()),
			slog.Any("error", err))
		return
	}
	if registered {
		return
	}

	if err := s.platform.SendMessage(ctx, channelID, WalletHint(winner)); err != nil {
		slog.Warn("Failed to send wallet hint",
			slog.String("type", "lottery"),
			slog.Any("error", err))
	}
}

// WalletHint is the message sent to winners without a registered wallet.
func WalletHint(winner snowflake.ID) string {
	return fmt.Sprintf("Congratulations <@%s>! You have won the lottery, but it looks like you haven't connected your wallet yet. "+
		"Please use the /add_wallet command to connect your wallet address and receive your reward.", winner)
}
