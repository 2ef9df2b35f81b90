// Package retention runs the recurring sweeps the sync engine and chat
// layer need to bound table growth: expired nonces, pruned conversation
// history, archived stale conversations, and cleaned-up resolved
// conflicts. One Scheduler instance runs in the retention worker process.
package retention

import (
	"context"
	"time"

	"mobilemoney/internal/chat"
	"mobilemoney/internal/database"
	"mobilemoney/internal/queue"
	"mobilemoney/internal/syncengine"
	"mobilemoney/pkg/logger"

	"go.uber.org/zap"
)

// Config carries the cutoffs the scheduler applies. MessagePruneHour is
// the local hour (0-23) the daily message/conversation pass targets;
// nonce expiry and conflict cleanup run on every tick since both rely on
// a stored expiry/resolved-at column rather than a wall-clock trigger.
type Config struct {
	NonceRetention     time.Duration
	ChatPruneAfter     time.Duration
	ConflictRetention  time.Duration
	MessagePruneHour   int
	Location           *time.Location
	TickInterval       time.Duration
}

// SweepReporter is the stream the scheduler summarises each tick's
// cleanup onto. *queue.StreamQueue satisfies this structurally.
type SweepReporter interface {
	Publish(ctx context.Context, stream string, data []byte) (string, error)
}

const sweepReportStream = "retention-sweeps"

// Scheduler is C14: a single long-lived loop, safe to run on more than
// one worker replica at once since every sweep is naturally idempotent
// (deleting rows already past their cutoff never double-deletes) and the
// daily message/conversation pass additionally takes a named advisory
// lock keyed by the calendar day, so two replicas do not run it at the
// same time. The lock is released when the pass ends, so a replica that
// has not yet run the pass that day may still run it afterwards.
type Scheduler struct {
	db        *database.DB
	nonces    *syncengine.NonceRegistry
	conflicts *syncengine.ConflictStore
	memory    *chat.Memory
	cfg       Config
	reporter  SweepReporter

	lastDailyRun time.Time
}

func NewScheduler(db *database.DB, nonces *syncengine.NonceRegistry, conflicts *syncengine.ConflictStore, memory *chat.Memory, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	return &Scheduler{db: db, nonces: nonces, conflicts: conflicts, memory: memory, cfg: cfg}
}

// SetSweepReporter wires an optional reporting stream; a nil reporter
// is a no-op, matching the sync orchestrator's alert-publisher wiring.
func (s *Scheduler) SetSweepReporter(r SweepReporter) {
	s.reporter = r
}

// Run blocks, ticking the scheduler until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the always-on sweeps every interval, and the daily
// message/conversation pass once per calendar day once the configured
// local hour has been reached.
func (s *Scheduler) tick(ctx context.Context) {
	report := queue.RetentionSweepMessage{RanAt: time.Now().UTC()}

	noncesDeleted, err := s.sweepNonces(ctx)
	if err != nil {
		logger.Error("retention: nonce sweep failed", zap.Error(err))
	}
	report.NoncesDeleted = noncesDeleted

	conflictsDeleted, err := s.sweepConflicts(ctx)
	if err != nil {
		logger.Error("retention: conflict cleanup failed", zap.Error(err))
	}
	report.ConflictsDeleted = conflictsDeleted

	now := time.Now().In(s.cfg.Location)
	if now.Hour() < s.cfg.MessagePruneHour || sameDay(now, s.lastDailyRun) {
		s.reportSweep(ctx, report)
		return
	}

	release, acquired, err := syncengine.TryAcquireNamedLock(ctx, "retention-daily", now.Format("2006-01-02"), 30*time.Minute)
	if err != nil {
		logger.Error("retention: failed to acquire daily lock", zap.Error(err))
		s.reportSweep(ctx, report)
		return
	}
	if !acquired {
		s.lastDailyRun = now
		s.reportSweep(ctx, report)
		return
	}
	defer release()

	messagesDeleted, conversationsArchived, err := s.pruneMessages(ctx)
	if err != nil {
		logger.Error("retention: message prune failed", zap.Error(err))
	}
	report.MessagesDeleted = messagesDeleted
	report.ConversationsArchived = conversationsArchived
	s.lastDailyRun = now
	s.reportSweep(ctx, report)
}

// reportSweep publishes one tick's tally to the reporting stream. A nil
// reporter, or a tick that cleaned up nothing, is a no-op.
func (s *Scheduler) reportSweep(ctx context.Context, report queue.RetentionSweepMessage) {
	if s.reporter == nil {
		return
	}
	if report.NoncesDeleted == 0 && report.ConflictsDeleted == 0 && report.MessagesDeleted == 0 && report.ConversationsArchived == 0 {
		return
	}
	data, err := report.ToJSON()
	if err != nil {
		logger.Warn("retention: failed to encode sweep report", zap.Error(err))
		return
	}
	if _, err := s.reporter.Publish(ctx, sweepReportStream, data); err != nil {
		logger.Warn("retention: failed to publish sweep report", zap.Error(err))
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func (s *Scheduler) sweepNonces(ctx context.Context) (int64, error) {
	deleted, err := s.nonces.SweepExpired(ctx, s.db.Pool())
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("retention: swept expired nonces", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (s *Scheduler) sweepConflicts(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.ConflictRetention)
	deleted, err := s.conflicts.PruneResolved(ctx, s.db.Pool(), cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		logger.Info("retention: pruned resolved conflicts", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (s *Scheduler) pruneMessages(ctx context.Context) (int64, int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.ChatPruneAfter)
	deletedMessages, archivedConversations, err := s.memory.Prune(ctx, s.db.Pool(), cutoff)
	if err != nil {
		return 0, 0, err
	}
	logger.Info("retention: pruned conversation history",
		zap.Int64("deleted_messages", deletedMessages), zap.Int64("archived_conversations", archivedConversations))
	return deletedMessages, archivedConversations, nil
}
