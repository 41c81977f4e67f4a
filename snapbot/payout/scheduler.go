package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/snap-coin/snapbot/snapbot/database/models"
	"github.com/snap-coin/snapbot/snapbot/database/repositories"
)

var ErrAlreadyStarted = errors.New("payout scheduler already started")

const runShutdownTimeout = 10 * time.Second

type State int32

const (
	StateIdle State = iota
	StateBatching
	StateSubmitted
	StateReconciled
	StateAbandoned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBatching:
		return "batching"
	case StateSubmitted:
		return "submitted"
	case StateReconciled:
		return "reconciled"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Ledger is the settle entry point of the reward ledger.
type Ledger interface {
	Settle(ctx context.Context, fn repositories.SettleFunc) (int, error)
}

// Gateway submits batches and reports their settlement.
type Gateway interface {
	Submit(ctx context.Context, batch Batch) error
	WithdrawalStatus(ctx context.Context, reference string) (string, error)
}

type AuditLog interface {
	RecordAccepted(ctx context.Context, payout *models.Payout) error
	MarkSettled(ctx context.Context, reference, txHash string, settledAt time.Time) error
	ListUnsettled(ctx context.Context) ([]*models.Payout, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, channelID snowflake.ID, content string) error
}

type Config struct {
	Interval            time.Duration
	SettleDelay         time.Duration
	ProofAttempts       int
	MaxConcurrentProofs int
	ChannelID           snowflake.ID
	RunOnStart          bool
}

// CycleReport summarises one payout cycle.
type CycleReport struct {
	Pending   int
	Reference string
	Receivers int
	Users     []snowflake.ID
	Total     decimal.Decimal
	Accepted  bool
}

type proofJob struct {
	reference string
	users     []snowflake.ID
	total     decimal.Decimal
	wait      time.Duration
}

// Scheduler runs payout cycles on a fixed interval and follows accepted
// batches up asynchronously.
type Scheduler struct {
	cfg      Config
	ledger   Ledger
	gateway  Gateway
	audit    AuditLog
	notifier Notifier

	cron   *cron.Cron
	proofs *errgroup.Group
	tasks  sync.WaitGroup

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	state        atomic.Int32
	newReference func() (string, error)
	now          func() time.Time
	after        func(time.Duration) <-chan time.Time
}

func NewScheduler(cfg Config, ledger Ledger, gateway Gateway, audit AuditLog, notifier Notifier) *Scheduler {
	if cfg.ProofAttempts <= 0 {
		cfg.ProofAttempts = 1
	}
	if cfg.MaxConcurrentProofs <= 0 {
		cfg.MaxConcurrentProofs = 1
	}

	proofs := &errgroup.Group{}
	proofs.SetLimit(cfg.MaxConcurrentProofs)

	log := cronLogger{}
	return &Scheduler{
		cfg:      cfg,
		ledger:   ledger,
		gateway:  gateway,
		audit:    audit,
		notifier: notifier,
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		proofs:       proofs,
		ctx:          context.Background(),
		newReference: GenerateReference,
		now:          time.Now,
		after:        time.After,
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) setState(state State) {
	s.state.Store(int32(state))
}

// Start registers the payout job and resumes follow-ups of accepted batches
// that were never settled. It may only be called once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	id := s.cron.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(s.runScheduled))
	s.resumeUnsettled(s.ctx)
	s.cron.Start()

	slog.Info("Payout scheduler started",
		slog.String("type", "payout"),
		slog.Duration("interval", s.cfg.Interval))

	if s.cfg.RunOnStart {
		// shares the skip-if-running wrapper with the scheduled entry
		job := s.cron.Entry(id).WrappedJob
		s.tasks.Add(1)
		go func() {
			defer s.tasks.Done()
			job.Run()
		}()
	}
	return nil
}

// Run starts the scheduler and shuts it down once ctx is cancelled. A cycle
// in flight at that point is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.Start(context.WithoutCancel(ctx)); err != nil {
		slog.Error("Failed to start payout scheduler",
			slog.String("type", "payout"),
			slog.Any("error", err))
		return
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), runShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Payout scheduler did not stop cleanly",
			slog.String("type", "payout"),
			slog.Any("error", err))
	}
}

// Shutdown waits for a running cycle, then cancels and awaits proof pollers.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	stopped := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.tasks.Wait()
		s.cancel()
		_ = s.proofs.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Payout scheduler stopped", slog.String("type", "payout"))
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("payout scheduler shutdown: %w", ctx.Err())
	}
}

func (s *Scheduler) runScheduled() {
	if _, err := s.RunCycle(s.ctx); err != nil {
		slog.Error("Payout cycle failed",
			slog.String("type", "payout"),
			slog.Any("error", err))
	}
}

// RunCycle settles every payable balance as one batch. Balances are zeroed
// only after the endpoint accepted the batch.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	defer s.setState(StateIdle)

	var (
		report CycleReport
		batch  Batch
	)
	pending, err := s.ledger.Settle(ctx, func(ctx context.Context, pending []repositories.Pending) ([]snowflake.ID, error) {
		s.setState(StateBatching)
		reference, err := s.newReference()
		if err != nil {
			return nil, err
		}
		batch = BuildBatch(reference, pending)
		if len(batch.Receivers) == 0 {
			return nil, nil
		}

		s.setState(StateSubmitted)
		if err := s.gateway.Submit(ctx, batch); err != nil {
			return nil, err
		}
		report.Accepted = true
		return batch.Users, nil
	})
	report.Pending = pending
	report.Reference = batch.Reference
	report.Receivers = len(batch.Receivers)
	report.Users = batch.Users
	report.Total = batch.Total

	if pending == 0 && err == nil {
		slog.Info("No pending withdrawals found", slog.String("type", "payout"))
		return report, nil
	}

	if !report.Accepted {
		if errors.Is(err, repositories.ErrZeroingPending) {
			slog.Error("Previous payout is not cleared from the ledger yet, skipping cycle",
				slog.String("type", "payout"),
				slog.Any("error", err))
			return report, err
		}
		if err != nil {
			s.setState(StateAbandoned)
			slog.Warn("Payout request failed, balances kept for next cycle",
				slog.String("type", "payout"),
				slog.String("reference", batch.Reference),
				slog.Int("receivers", len(batch.Receivers)),
				slog.Any("error", err))
			return report, fmt.Errorf("payout %s abandoned: %w", batch.Reference, err)
		}
		slog.Info("Nothing payable after rounding", slog.String("type", "payout"))
		return report, nil
	}

	if err != nil {
		// accepted by the endpoint; the ledger blocks until these balances are zeroed
		slog.Error("Failed to zero balances after accepted payout",
			slog.String("type", "payout"),
			slog.String("reference", batch.Reference),
			slog.Any("error", err))
	}

	s.setState(StateReconciled)
	slog.Info("Requested payout",
		slog.String("type", "payout"),
		slog.String("status", "success"),
		slog.String("reference", batch.Reference),
		slog.Int("receivers", len(batch.Receivers)),
		slog.Int("users", len(batch.Users)),
		slog.String("total", batch.Total.StringFixed(AmountPlaces)))

	total, _ := batch.Total.Float64()
	paidUsers := make([]*models.PayoutUser, len(batch.Users))
	for i, id := range batch.Users {
		paidUsers[i] = &models.PayoutUser{UserID: id.String()}
	}
	if auditErr := s.audit.RecordAccepted(context.WithoutCancel(ctx), &models.Payout{
		Reference: batch.Reference,
		Receivers: len(batch.Receivers),
		Users:     len(batch.Users),
		Total:     total,
		CreatedAt: s.now(),
		PaidUsers: paidUsers,
	}); auditErr != nil {
		slog.Error("Failed to record payout",
			slog.String("type", "payout"),
			slog.String("reference", batch.Reference),
			slog.Any("error", auditErr))
	}

	s.followUp(proofJob{
		reference: batch.Reference,
		users:     batch.Users,
		total:     batch.Total,
		wait:      s.cfg.SettleDelay,
	})
	return report, err
}

func (s *Scheduler) resumeUnsettled(ctx context.Context) {
	payouts, err := s.audit.ListUnsettled(ctx)
	if err != nil {
		slog.Error("Failed to list unsettled payouts",
			slog.String("type", "payout"),
			slog.Any("error", err))
		return
	}

	for _, p := range payouts {
		wait := p.CreatedAt.Add(s.cfg.SettleDelay).Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.followUp(proofJob{
			reference: p.Reference,
			users:     paidUserIDs(p),
			total:     decimal.NewFromFloat(p.Total),
			wait:      wait,
		})
	}
}

func paidUserIDs(p *models.Payout) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(p.PaidUsers))
	for _, u := range p.PaidUsers {
		id, err := snowflake.Parse(u.UserID)
		if err != nil {
			slog.Warn("Skipping invalid user id in payout record",
				slog.String("type", "payout"),
				slog.String("reference", p.Reference),
				slog.String("user_id", u.UserID))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Scheduler) followUp(job proofJob) {
	ctx := s.ctx
	ok := s.proofs.TryGo(func() error {
		s.pollProof(ctx, job)
		return nil
	})
	if !ok {
		slog.Warn("Too many payouts awaiting proof, skipping follow-up",
			slog.String("type", "payout"),
			slog.String("reference", job.reference))
	}
}

func (s *Scheduler) pollProof(ctx context.Context, job proofJob) {
	wait := job.wait
	for attempt := 1; attempt <= s.cfg.ProofAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}
		wait = s.cfg.SettleDelay

		txHash, err := s.gateway.WithdrawalStatus(ctx, job.reference)
		if err != nil {
			slog.Warn("Withdrawal not settled yet",
				slog.String("type", "payout"),
				slog.String("reference", job.reference),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
			continue
		}

		if err := s.audit.MarkSettled(ctx, job.reference, txHash, s.now()); err != nil {
			slog.Error("Failed to mark payout settled",
				slog.String("type", "payout"),
				slog.String("reference", job.reference),
				slog.Any("error", err))
		}
		slog.Info("Payout settled",
			slog.String("type", "payout"),
			slog.String("status", "success"),
			slog.String("reference", job.reference),
			slog.String("tx_hash", txHash))
		s.announce(ctx, job, txHash)
		return
	}

	slog.Warn("Gave up waiting for payout proof",
		slog.String("type", "payout"),
		slog.String("reference", job.reference),
		slog.Int("attempts", s.cfg.ProofAttempts))
}

func (s *Scheduler) announce(ctx context.Context, job proofJob, txHash string) {
	if s.cfg.ChannelID == 0 || s.notifier == nil {
		return
	}
	if err := s.notifier.SendMessage(ctx, s.cfg.ChannelID, ProofMessage(job.reference, job.users, job.total, txHash)); err != nil {
		slog.Warn("Failed to post payout proof",
			slog.String("type", "payout"),
			slog.String("reference", job.reference),
			slog.Any("error", err))
	}
}

// ProofMessage is what gets posted to the payout channel once a batch settles.
func ProofMessage(reference string, users []snowflake.ID, total decimal.Decimal, txHash string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💸 Payout of %s sent", total.StringFixed(AmountPlaces))
	if len(users) > 0 {
		mentions := make([]string, len(users))
		for i, id := range users {
			mentions[i] = "<@" + id.String() + ">"
		}
		fmt.Fprintf(&b, " to %s", strings.Join(mentions, ", "))
	}
	fmt.Fprintf(&b, "\nReference: `%s`\nTransaction: `%s`", reference, txHash)
	return b.String()
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(msg, append([]any{slog.String("type", "payout")}, keysAndValues...)...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(msg, append([]any{slog.String("type", "payout"), slog.Any("error", err)}, keysAndValues...)...)
}
