package challenge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/seonghun126/algoduel-bot/internal/domain"
	"github.com/seonghun126/algoduel-bot/internal/obslog"
)

// Engine owns the challenge lifecycle: creation, periodic polling, solve
// detection, rating application, finalization and cancellation. It keeps no
// challenge state in memory between ticks; every tick re-reads active rows
// from the store, which keeps the design restart-safe.
type Engine struct {
	store    Store
	profiles ProfileStore
	judge    JudgeClient
	model    RatingModel

	notifier CompletionNotifier
	syncer   MessageSyncer

	// inFlight is a non-blocking guard so a slow tick cannot overlap the
	// next one.
	inFlight atomic.Bool

	mu        sync.Mutex
	lastTick  time.Time
	lastErr   string
	lastErrAt time.Time
}

type Option func(*Engine)

func WithCompletionNotifier(n CompletionNotifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithMessageSyncer(s MessageSyncer) Option {
	return func(e *Engine) { e.syncer = s }
}

func NewEngine(store Store, profiles ProfileStore, judge JudgeClient, model RatingModel, opts ...Option) *Engine {
	e := &Engine{store: store, profiles: profiles, judge: judge, model: model}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateChallenge snapshots participant ratings, inserts the challenge with
// all participants in one transaction, and appends the problem to each
// participant's history best-effort. Missing ratings are warnings, never
// errors: the challenge still starts.
func (e *Engine) CreateChallenge(ctx context.Context, p CreateParams) (string, error) {
	if p.LengthMinutes <= 0 {
		return "", fmt.Errorf("challenge length must be positive, got %d", p.LengthMinutes)
	}
	if len(p.ParticipantUserIDs) == 0 {
		return "", fmt.Errorf("challenge needs at least one participant")
	}

	started := p.StartedAt.UTC()
	ch := &domain.Challenge{
		ID:            uuid.NewString(),
		ServerID:      p.ServerID,
		ChannelID:     p.ChannelID,
		MessageID:     p.MessageID,
		HostUserID:    p.HostUserID,
		Problem:       p.Problem,
		LengthMinutes: p.LengthMinutes,
		StartedAt:     started,
		EndsAt:        started.Add(time.Duration(p.LengthMinutes) * time.Minute),
		Status:        domain.StatusActive,
		CheckIndex:    0,
	}
	for i, uid := range p.ParticipantUserIDs {
		before, err := e.profiles.GetRating(ctx, p.ServerID, uid)
		if err != nil {
			obslog.L().Warn("rating_snapshot_error", zap.String("user_id", uid), zap.Error(err))
			before = nil
		}
		if before == nil {
			obslog.L().Warn("rating_unknown", zap.String("user_id", uid), zap.String("server_id", p.ServerID))
		}
		ch.Participants = append(ch.Participants, &domain.Participant{
			ChallengeID:  ch.ID,
			UserID:       uid,
			Position:     i,
			RatingBefore: before,
		})
	}

	if err := e.store.InsertChallenge(ctx, ch); err != nil {
		return "", fmt.Errorf("insert challenge: %w", err)
	}

	// History entries are outside the transaction and best-effort.
	for _, pt := range ch.Participants {
		if err := e.profiles.AddHistoryEntry(ctx, ch.ServerID, pt.UserID, ch.Problem.Ref.Key()); err != nil {
			obslog.L().Warn("history_append_error", zap.String("user_id", pt.UserID), zap.Error(err))
		}
	}

	obslog.L().Info("challenge_create",
		zap.String("challenge_id", ch.ID),
		zap.String("server_id", ch.ServerID),
		zap.String("problem", ch.Problem.Ref.Key()),
		zap.Int("length_minutes", ch.LengthMinutes),
		zap.Int("participants", len(ch.Participants)),
	)
	return ch.ID, nil
}

// RunTick processes every active challenge once: finalize when eligible,
// otherwise one round-robin solve check. A failure in one challenge is
// recorded and never blocks the others.
func (e *Engine) RunTick(ctx context.Context, now time.Time) error {
	if !e.inFlight.CompareAndSwap(false, true) {
		obslog.L().Warn("tick_overlap_skip", zap.Time("now", now))
		return nil
	}
	defer e.inFlight.Store(false)

	e.mu.Lock()
	e.lastTick = now
	e.mu.Unlock()

	active, err := e.store.ListActive(ctx, "")
	if err != nil {
		e.recordError(err, now)
		obslog.L().Error("tick_list_active_error", zap.Error(err))
		return err
	}

	for _, ch := range active {
		if err := e.processChallenge(ctx, ch, now); err != nil {
			e.recordError(err, now)
			obslog.L().Error("tick_challenge_error", zap.String("challenge_id", ch.ID), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) processChallenge(ctx context.Context, ch *domain.Challenge, now time.Time) error {
	if ch.AllSolved() || ch.Expired(now) {
		return e.finalize(ctx, ch)
	}
	return e.pollOne(ctx, ch)
}

type resolution struct {
	participant *domain.Participant
	outcome     Outcome
	solvedAt    time.Time
}

// finalize resolves every unsolved participant in one pass. If any outcome is
// pending or error the whole pass aborts with no writes: partial credit is
// never locked in, and the challenge is retried next tick.
func (e *Engine) finalize(ctx context.Context, ch *domain.Challenge) error {
	var (
		rs      []resolution
		blocked bool
	)
	for _, p := range ch.Participants {
		if p.Solved() {
			continue
		}
		out, at, err := e.resolveOutcome(ctx, ch, p)
		if out == OutcomeError {
			obslog.L().Warn("finalize_judge_error",
				zap.String("challenge_id", ch.ID),
				zap.String("user_id", p.UserID),
				zap.Error(err),
			)
		}
		if out == OutcomePending || out == OutcomeError {
			blocked = true
		}
		rs = append(rs, resolution{participant: p, outcome: out, solvedAt: at})
	}
	if blocked {
		obslog.L().Info("finalize_deferred", zap.String("challenge_id", ch.ID))
		return nil
	}

	var notes []StreakNote
	for _, r := range rs {
		if r.outcome != OutcomeOK {
			continue
		}
		note, err := e.recordSolve(ctx, ch, r.participant, r.solvedAt)
		if err != nil {
			return err
		}
		if note != nil {
			notes = append(notes, *note)
		}
	}
	for _, r := range rs {
		if r.outcome != OutcomeNone {
			continue
		}
		if err := e.applyPenalty(ctx, ch, r.participant); err != nil {
			return err
		}
	}

	ok, err := e.store.UpdateStatus(ctx, ch.ID, domain.StatusCompleted, "")
	if err != nil {
		return fmt.Errorf("complete challenge: %w", err)
	}
	if !ok {
		// Cancelled between the checks and this write; the cancel wins.
		obslog.L().Warn("finalize_lost_status_race", zap.String("challenge_id", ch.ID))
		return nil
	}
	ch.Status = domain.StatusCompleted

	obslog.L().Info("challenge_completed",
		zap.String("challenge_id", ch.ID),
		zap.String("server_id", ch.ServerID),
		zap.Int("participants", len(ch.Participants)),
	)

	if e.notifier != nil {
		if err := e.notifier.OnChallengeCompleted(ctx, ch.ID); err != nil {
			obslog.L().Warn("completion_notify_error", zap.String("challenge_id", ch.ID), zap.Error(err))
		}
	}
	e.sync(ctx, ch, notes)
	return nil
}

// pollOne performs one round-robin solve check. Only one participant is
// queried per tick to keep judge load flat regardless of duel size; the
// cursor is persisted immediately so polling resumes where it left off after
// a restart.
func (e *Engine) pollOne(ctx context.Context, ch *domain.Challenge) error {
	k := len(ch.Participants)
	if k == 0 {
		return nil
	}

	target := -1
	for i := 0; i < k; i++ {
		j := (ch.CheckIndex + i) % k
		if !ch.Participants[j].Solved() {
			target = j
			break
		}
	}

	next := (ch.CheckIndex + 1) % k
	if err := e.store.UpdateCheckIndex(ctx, ch.ID, next); err != nil {
		return fmt.Errorf("advance check index: %w", err)
	}
	ch.CheckIndex = next

	if target < 0 {
		return nil
	}
	p := ch.Participants[target]

	out, at, err := e.resolveOutcome(ctx, ch, p)
	if out != OutcomeOK {
		// Not solving yet is the expected case outside finalize.
		if out == OutcomeError {
			obslog.L().Debug("poll_judge_error", zap.String("challenge_id", ch.ID), zap.String("user_id", p.UserID), zap.Error(err))
		}
		e.sync(ctx, ch, nil)
		return nil
	}

	note, err := e.recordSolve(ctx, ch, p, at)
	if err != nil {
		return err
	}
	var notes []StreakNote
	if note != nil {
		notes = append(notes, *note)
	}
	e.sync(ctx, ch, notes)
	return nil
}

// resolveOutcome classifies one participant's solve state. A store failure
// while reading the handle counts as an error outcome, not "no handle":
// nobody gets penalized over an outage.
func (e *Engine) resolveOutcome(ctx context.Context, ch *domain.Challenge, p *domain.Participant) (Outcome, time.Time, error) {
	handle, err := e.profiles.GetHandle(ctx, ch.ServerID, p.UserID)
	if err != nil {
		return OutcomeError, time.Time{}, fmt.Errorf("get handle: %w", err)
	}
	if handle == "" {
		obslog.L().Warn("handle_missing", zap.String("challenge_id", ch.ID), zap.String("user_id", p.UserID))
		return OutcomeNone, time.Time{}, nil
	}
	subs, err := e.judge.QuerySubmissions(ctx, ch.Problem.Ref, handle)
	if err != nil {
		return OutcomeError, time.Time{}, fmt.Errorf("query judge: %w", err)
	}
	start, end := ch.Window()
	out, at := classifySubmissions(subs, start, end)
	return out, at, nil
}

// recordSolve timestamps the solve, applies the reward delta when the current
// rating is known, and computes the streak note. The store write is guarded
// so a delta can never be applied twice.
func (e *Engine) recordSolve(ctx context.Context, ch *domain.Challenge, p *domain.Participant, solvedAt time.Time) (*StreakNote, error) {
	cur, err := e.profiles.GetRating(ctx, ch.ServerID, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("get rating: %w", err)
	}

	var delta *int
	if cur == nil {
		obslog.L().Warn("solve_without_rating", zap.String("challenge_id", ch.ID), zap.String("user_id", p.UserID))
	} else {
		_, reward := e.model.ComputeDeltas(*cur, ch.Problem.Rating, ch.LengthMinutes)
		delta = &reward
	}

	if err := e.store.MarkSolved(ctx, ch.ID, p.UserID, solvedAt, delta); err != nil {
		return nil, fmt.Errorf("mark solved: %w", err)
	}
	at := solvedAt
	p.SolvedAt = &at
	p.RatingDelta = delta

	if cur != nil && delta != nil {
		// Rating push is best-effort: the solve row is already committed and
		// must not be retried (the delta is one-shot).
		if err := e.profiles.UpdateRating(ctx, ch.ServerID, p.UserID, *cur+*delta); err != nil {
			obslog.L().Warn("rating_update_error", zap.String("user_id", p.UserID), zap.Error(err))
		}
	}

	obslog.L().Info("challenge_solve",
		zap.String("challenge_id", ch.ID),
		zap.String("user_id", p.UserID),
		zap.Time("solved_at", solvedAt),
	)
	return e.streakNote(ctx, ch, p.UserID, solvedAt), nil
}

// applyPenalty charges an unresolved participant at finalize. Unknown rating
// means no mutation at all; the challenge still completes.
func (e *Engine) applyPenalty(ctx context.Context, ch *domain.Challenge, p *domain.Participant) error {
	cur, err := e.profiles.GetRating(ctx, ch.ServerID, p.UserID)
	if err != nil {
		return fmt.Errorf("get rating: %w", err)
	}
	if cur == nil {
		obslog.L().Warn("penalty_without_rating", zap.String("challenge_id", ch.ID), zap.String("user_id", p.UserID))
		return nil
	}

	penalty, _ := e.model.ComputeDeltas(*cur, ch.Problem.Rating, ch.LengthMinutes)
	if err := e.store.SetPenalty(ctx, ch.ID, p.UserID, penalty); err != nil {
		return fmt.Errorf("set penalty: %w", err)
	}
	p.RatingDelta = &penalty

	if err := e.profiles.UpdateRating(ctx, ch.ServerID, p.UserID, *cur+penalty); err != nil {
		obslog.L().Warn("rating_update_error", zap.String("user_id", p.UserID), zap.Error(err))
	}

	obslog.L().Info("challenge_penalty",
		zap.String("challenge_id", ch.ID),
		zap.String("user_id", p.UserID),
		zap.Int("delta", penalty),
	)
	return nil
}

// streakNote compares the streak with and without the just-recorded solve and
// reports only strict increases. Advisory output; failures just drop the note.
func (e *Engine) streakNote(ctx context.Context, ch *domain.Challenge, userID string, at time.Time) *StreakNote {
	before, err := e.profiles.GetStreak(ctx, ch.ServerID, userID, at, ch.ID)
	if err != nil {
		obslog.L().Warn("streak_query_error", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	after, err := e.profiles.GetStreak(ctx, ch.ServerID, userID, at, "")
	if err != nil {
		obslog.L().Warn("streak_query_error", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if after.Current <= before.Current {
		return nil
	}
	return &StreakNote{
		UserID:       userID,
		Days:         after.Current,
		PersonalBest: after.Longest > before.Longest,
	}
}

// Cancel is an idempotent one-shot: it succeeds only while the challenge is
// still active and never touches ratings or streaks.
func (e *Engine) Cancel(ctx context.Context, id, cancelledBy string) (*domain.Challenge, bool, error) {
	ch, err := e.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if ch == nil || ch.Status != domain.StatusActive {
		return nil, false, nil
	}
	ok, err := e.store.UpdateStatus(ctx, id, domain.StatusCancelled, cancelledBy)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	ch.Status = domain.StatusCancelled
	ch.CancelledBy = cancelledBy

	obslog.L().Info("challenge_cancel",
		zap.String("challenge_id", id),
		zap.String("cancelled_by", cancelledBy),
	)
	e.sync(ctx, ch, nil)
	return ch, true, nil
}

// ListActive returns the active challenges for a server.
func (e *Engine) ListActive(ctx context.Context, serverID string) ([]*domain.Challenge, error) {
	return e.store.ListActive(ctx, serverID)
}

// ListActiveByUser returns the active challenges a user participates in.
func (e *Engine) ListActiveByUser(ctx context.Context, serverID, userID string) ([]*domain.Challenge, error) {
	all, err := e.store.ListActive(ctx, serverID)
	if err != nil {
		return nil, err
	}
	var out []*domain.Challenge
	for _, ch := range all {
		for _, p := range ch.Participants {
			if p.UserID == userID {
				out = append(out, ch)
				break
			}
		}
	}
	return out, nil
}

// RecentCompleted returns the latest completed challenges for a server, each
// annotated with its first solver.
func (e *Engine) RecentCompleted(ctx context.Context, serverID string, limit int) ([]*CompletedChallenge, error) {
	chs, err := e.store.ListRecentCompleted(ctx, serverID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*CompletedChallenge, 0, len(chs))
	for _, ch := range chs {
		out = append(out, &CompletedChallenge{Challenge: ch, FirstSolver: ch.FirstSolver()})
	}
	return out, nil
}

// GetChallenge loads one challenge regardless of status.
func (e *Engine) GetChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	return e.store.GetChallenge(ctx, id)
}

// LastTick reports when RunTick last started, for health reporting.
func (e *Engine) LastTick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTick
}

// LastError reports the most recent per-challenge error. Intentionally lossy:
// each occurrence overwrites the previous one.
func (e *Engine) LastError() (string, time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr, e.lastErrAt
}

func (e *Engine) recordError(err error, at time.Time) {
	e.mu.Lock()
	e.lastErr = err.Error()
	e.lastErrAt = at
	e.mu.Unlock()
}

func (e *Engine) sync(ctx context.Context, ch *domain.Challenge, notes []StreakNote) {
	if e.syncer == nil {
		return
	}
	if err := e.syncer.SyncChallenge(ctx, ch, notes); err != nil {
		obslog.L().Warn("message_sync_error", zap.String("challenge_id", ch.ID), zap.Error(err))
	}
}
