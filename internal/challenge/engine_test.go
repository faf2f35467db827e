package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/seonghun126/algoduel-bot/internal/domain"
)

const testServer = "srv1"

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeProfiles struct {
	mu      sync.Mutex
	ratings map[string]*int
	handles map[string]string
	// streaks is keyed by "user|excludeChallengeID" ("" for none).
	streaks map[string]domain.Streak
	history []string
	pushed  map[string]int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{
		ratings: make(map[string]*int),
		handles: make(map[string]string),
		streaks: make(map[string]domain.Streak),
		pushed:  make(map[string]int),
	}
}

func (f *fakeProfiles) setRating(user string, r int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := r
	f.ratings[user] = &v
}

func (f *fakeProfiles) GetRating(ctx context.Context, serverID, userID string) (*int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.ratings[userID]
	if !ok || r == nil {
		return nil, nil
	}
	v := *r
	return &v, nil
}

func (f *fakeProfiles) UpdateRating(ctx context.Context, serverID, userID string, newRating int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := newRating
	f.ratings[userID] = &v
	f.pushed[userID]++
	return nil
}

func (f *fakeProfiles) GetHandle(ctx context.Context, serverID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[userID], nil
}

func (f *fakeProfiles) GetStreak(ctx context.Context, serverID, userID string, at time.Time, exclude string) (domain.Streak, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streaks[userID+"|"+exclude], nil
}

func (f *fakeProfiles) AddHistoryEntry(ctx context.Context, serverID, userID, problemKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, userID+":"+problemKey)
	return nil
}

type judgeReply struct {
	subs []domain.Submission
	err  error
}

type fakeJudge struct {
	mu      sync.Mutex
	replies map[string]judgeReply // by handle
	calls   []string
}

func newFakeJudge() *fakeJudge {
	return &fakeJudge{replies: make(map[string]judgeReply)}
}

func (f *fakeJudge) QuerySubmissions(ctx context.Context, ref domain.ProblemRef, handle string) ([]domain.Submission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handle)
	r := f.replies[handle]
	return r.subs, r.err
}

func (f *fakeJudge) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func accepted(at time.Time) domain.Submission {
	return domain.Submission{ID: 1, ContestID: 1850, ProblemIndex: "A", Verdict: domain.VerdictAccepted, SubmittedAt: at}
}

func judging(at time.Time) domain.Submission {
	return domain.Submission{ID: 2, ContestID: 1850, ProblemIndex: "A", SubmittedAt: at}
}

type fixedModel struct{ pen, rew int }

func (m fixedModel) ComputeDeltas(cur, prob, length int) (int, int) { return m.pen, m.rew }

type captureSyncer struct {
	mu    sync.Mutex
	notes []StreakNote
	calls int
}

func (s *captureSyncer) SyncChallenge(ctx context.Context, ch *domain.Challenge, notes []StreakNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.notes = append(s.notes, notes...)
	return nil
}

type countNotifier struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (n *countNotifier) OnChallengeCompleted(ctx context.Context, id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
	if n.fail {
		return errors.New("notifier down")
	}
	return nil
}

type testEnv struct {
	engine   *Engine
	store    *MemoryStore
	profiles *fakeProfiles
	judge    *fakeJudge
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	store := NewMemoryStore()
	profiles := newFakeProfiles()
	judge := newFakeJudge()
	e := NewEngine(store, profiles, judge, fixedModel{pen: -20, rew: 25}, opts...)
	return &testEnv{engine: e, store: store, profiles: profiles, judge: judge}
}

func (env *testEnv) createDuel(t *testing.T, users ...string) string {
	t.Helper()
	id, err := env.engine.CreateChallenge(context.Background(), CreateParams{
		ServerID:           testServer,
		ChannelID:          "chan1",
		MessageID:          "msg1",
		HostUserID:         users[0],
		Problem:            domain.Problem{Ref: domain.ProblemRef{ContestID: 1850, Index: "A"}, Name: "To My Critics", Rating: 1600},
		LengthMinutes:      30,
		ParticipantUserIDs: users,
		StartedAt:          t0,
	})
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	return id
}

func (env *testEnv) mustGet(t *testing.T, id string) *domain.Challenge {
	t.Helper()
	ch, err := env.store.GetChallenge(context.Background(), id)
	if err != nil || ch == nil {
		t.Fatalf("GetChallenge(%s): ch=%v err=%v", id, ch, err)
	}
	return ch
}

func linkHandles(env *testEnv, users ...string) {
	for _, u := range users {
		env.profiles.handles[u] = "cf_" + u
	}
}

func TestCreateChallengeWindowAndSnapshots(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	// bob has no rating on purpose

	id := env.createDuel(t, "alice", "bob")
	ch := env.mustGet(t, id)

	if !ch.EndsAt.Equal(ch.StartedAt.Add(30 * time.Minute)) {
		t.Fatalf("endsAt must be startedAt+30m, got %v vs %v", ch.EndsAt, ch.StartedAt)
	}
	if ch.Status != domain.StatusActive || ch.CheckIndex != 0 {
		t.Fatalf("new challenge must be ACTIVE with checkIndex 0: %s %d", ch.Status, ch.CheckIndex)
	}
	if len(ch.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(ch.Participants))
	}
	if ch.Participants[0].RatingBefore == nil || *ch.Participants[0].RatingBefore != 1500 {
		t.Fatalf("alice rating snapshot missing")
	}
	if ch.Participants[1].RatingBefore != nil {
		t.Fatalf("bob has no rating; snapshot must be nil")
	}
	if len(env.profiles.history) != 2 {
		t.Fatalf("expected a history entry per participant, got %v", env.profiles.history)
	}
}

func TestCreateChallengeValidation(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.CreateChallenge(context.Background(), CreateParams{
		ServerID: testServer, LengthMinutes: 0, ParticipantUserIDs: []string{"a"}, StartedAt: t0,
	})
	if err == nil {
		t.Fatalf("expected error for zero length")
	}
	_, err = env.engine.CreateChallenge(context.Background(), CreateParams{
		ServerID: testServer, LengthMinutes: 30, StartedAt: t0,
	})
	if err == nil {
		t.Fatalf("expected error for empty participants")
	}
}

func TestRoundRobinCursorAdvances(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	ctx := context.Background()
	for n := 1; n <= 5; n++ {
		if err := env.engine.RunTick(ctx, t0.Add(time.Duration(n)*time.Minute)); err != nil {
			t.Fatalf("RunTick #%d: %v", n, err)
		}
		ch := env.mustGet(t, id)
		if ch.CheckIndex != n%2 {
			t.Fatalf("after %d ticks expected checkIndex %d, got %d", n, n%2, ch.CheckIndex)
		}
		for _, p := range ch.Participants {
			if p.SolvedAt != nil || p.RatingDelta != nil {
				t.Fatalf("no solves expected, participant %s mutated", p.UserID)
			}
		}
	}
	if env.judge.callCount() != 5 {
		t.Fatalf("expected exactly one judge query per tick, got %d", env.judge.callCount())
	}
}

func TestRoundRobinWrapsFromLastPosition(t *testing.T) {
	env := newTestEnv(t)
	linkHandles(env, "a", "b", "c")
	id := env.createDuel(t, "a", "b", "c")
	if err := env.store.UpdateCheckIndex(context.Background(), id, 2); err != nil {
		t.Fatalf("seed checkIndex: %v", err)
	}

	if err := env.engine.RunTick(context.Background(), t0.Add(time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.CheckIndex != 0 {
		t.Fatalf("expected cursor to wrap to 0, got %d", ch.CheckIndex)
	}
}

func TestRoundRobinSolveAppliesReward(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	solveAt := t0.Add(300 * time.Second)
	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(solveAt)}}

	if err := env.engine.RunTick(context.Background(), t0.Add(6*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	alice := ch.Participants[0]
	if alice.SolvedAt == nil || !alice.SolvedAt.Equal(solveAt) {
		t.Fatalf("expected solvedAt %v, got %v", solveAt, alice.SolvedAt)
	}
	if alice.RatingDelta == nil || *alice.RatingDelta != 25 {
		t.Fatalf("expected reward delta 25, got %v", alice.RatingDelta)
	}
	if r, _ := env.profiles.GetRating(context.Background(), testServer, "alice"); r == nil || *r != 1525 {
		t.Fatalf("expected pushed rating 1525, got %v", r)
	}
	if ch.Status != domain.StatusActive {
		t.Fatalf("one solve of two must keep the challenge active")
	}
}

func TestFinalizePenalizesUnsolved(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	// no submissions at all → both none at expiry
	if err := env.engine.RunTick(context.Background(), t0.Add(31*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", ch.Status)
	}
	for _, p := range ch.Participants {
		if p.SolvedAt != nil {
			t.Fatalf("%s must stay unsolved", p.UserID)
		}
		if p.RatingDelta == nil || *p.RatingDelta != -20 {
			t.Fatalf("%s expected penalty -20, got %v", p.UserID, p.RatingDelta)
		}
	}
	if r, _ := env.profiles.GetRating(context.Background(), testServer, "alice"); *r != 1480 {
		t.Fatalf("expected alice at 1480, got %d", *r)
	}
	if r, _ := env.profiles.GetRating(context.Background(), testServer, "bob"); *r != 1380 {
		t.Fatalf("expected bob at 1380, got %d", *r)
	}
}

func TestFinalizeAbortsOnErrorOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	// alice resolves to none; bob's judge query blows up
	env.judge.replies["cf_bob"] = judgeReply{err: errors.New("judge outage")}

	if err := env.engine.RunTick(context.Background(), t0.Add(31*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusActive {
		t.Fatalf("finalize must defer on error outcome, got %s", ch.Status)
	}
	for _, p := range ch.Participants {
		if p.RatingDelta != nil || p.SolvedAt != nil {
			t.Fatalf("no participant may be mutated when finalize defers (%s)", p.UserID)
		}
	}

	// outage clears → next tick completes
	env.judge.replies["cf_bob"] = judgeReply{}
	if err := env.engine.RunTick(context.Background(), t0.Add(32*time.Minute)); err != nil {
		t.Fatalf("RunTick retry: %v", err)
	}
	if ch := env.mustGet(t, id); ch.Status != domain.StatusCompleted {
		t.Fatalf("expected completion after outage cleared, got %s", ch.Status)
	}
}

func TestFinalizeAbortsOnPendingOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	env.judge.replies["cf_bob"] = judgeReply{subs: []domain.Submission{judging(t0.Add(29 * time.Minute))}}

	if err := env.engine.RunTick(context.Background(), t0.Add(31*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusActive {
		t.Fatalf("finalize must defer while a submission is judging, got %s", ch.Status)
	}
	for _, p := range ch.Participants {
		if p.RatingDelta != nil {
			t.Fatalf("no deltas while pending (%s)", p.UserID)
		}
	}
}

func TestFinalizeCompletesEarlyWhenAllSolved(t *testing.T) {
	notifier := &countNotifier{}
	env := newTestEnv(t, WithCompletionNotifier(notifier))
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(2 * time.Minute))}}
	env.judge.replies["cf_bob"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(3 * time.Minute))}}

	ctx := context.Background()
	// two round-robin ticks record both solves, third finalizes early
	for n := 1; n <= 3; n++ {
		if err := env.engine.RunTick(ctx, t0.Add(time.Duration(4+n)*time.Minute)); err != nil {
			t.Fatalf("RunTick #%d: %v", n, err)
		}
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusCompleted {
		t.Fatalf("expected early completion, got %s", ch.Status)
	}
	for _, p := range ch.Participants {
		if p.RatingDelta == nil || *p.RatingDelta != 25 {
			t.Fatalf("%s expected reward 25, got %v", p.UserID, p.RatingDelta)
		}
	}
	if len(notifier.ids) != 1 || notifier.ids[0] != id {
		t.Fatalf("completion notifier expected exactly once for %s, got %v", id, notifier.ids)
	}
}

func TestDeltaNeverAppliedTwice(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(5 * time.Minute))}}

	ctx := context.Background()
	if err := env.engine.RunTick(ctx, t0.Add(6*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	// expiry: alice already solved, bob penalized
	if err := env.engine.RunTick(ctx, t0.Add(31*time.Minute)); err != nil {
		t.Fatalf("RunTick finalize: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", ch.Status)
	}
	alice, bob := ch.Participants[0], ch.Participants[1]
	if *alice.RatingDelta != 25 || bob.RatingDelta == nil || *bob.RatingDelta != -20 {
		t.Fatalf("deltas wrong: alice=%v bob=%v", alice.RatingDelta, bob.RatingDelta)
	}
	if env.profiles.pushed["alice"] != 1 || env.profiles.pushed["bob"] != 1 {
		t.Fatalf("rating must be pushed exactly once per participant: %v", env.profiles.pushed)
	}

	// completed challenges are inert on later ticks
	before := env.judge.callCount()
	if err := env.engine.RunTick(ctx, t0.Add(45*time.Minute)); err != nil {
		t.Fatalf("RunTick after completion: %v", err)
	}
	if env.judge.callCount() != before {
		t.Fatalf("completed challenge must not be polled again")
	}
	if got := env.mustGet(t, id); *got.Participants[0].RatingDelta != 25 {
		t.Fatalf("completed rows must not change")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	ctx := context.Background()
	ch, ok, err := env.engine.Cancel(ctx, id, "alice")
	if err != nil || !ok || ch == nil {
		t.Fatalf("first cancel: ok=%v err=%v", ok, err)
	}
	if ch.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", ch.Status)
	}
	if _, ok, _ := env.engine.Cancel(ctx, id, "alice"); ok {
		t.Fatalf("second cancel must be a no-op")
	}
	if _, ok, _ := env.engine.Cancel(ctx, "missing-id", "alice"); ok {
		t.Fatalf("cancel of unknown id must be a no-op")
	}

	got := env.mustGet(t, id)
	for _, p := range got.Participants {
		if p.RatingDelta != nil {
			t.Fatalf("cancellation must not touch ratings")
		}
	}

	// cancelled challenges are invisible to ticks
	if err := env.engine.RunTick(ctx, t0.Add(40*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if env.judge.callCount() != 0 {
		t.Fatalf("cancelled challenge must not be polled")
	}
}

func TestStreakNoteOnlyOnStrictIncrease(t *testing.T) {
	syncer := &captureSyncer{}
	env := newTestEnv(t, WithMessageSyncer(syncer))
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	// alice: streak grows 2 → 3 and beats her longest
	env.profiles.streaks["alice|"+id] = domain.Streak{Current: 2, Longest: 2}
	env.profiles.streaks["alice|"] = domain.Streak{Current: 3, Longest: 3}
	// bob: already solved today, streak unchanged
	env.profiles.streaks["bob|"+id] = domain.Streak{Current: 4, Longest: 9}
	env.profiles.streaks["bob|"] = domain.Streak{Current: 4, Longest: 9}

	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(time.Minute))}}
	env.judge.replies["cf_bob"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(2 * time.Minute))}}

	ctx := context.Background()
	for n := 1; n <= 2; n++ {
		if err := env.engine.RunTick(ctx, t0.Add(time.Duration(2+n)*time.Minute)); err != nil {
			t.Fatalf("RunTick #%d: %v", n, err)
		}
	}

	if len(syncer.notes) != 1 {
		t.Fatalf("expected exactly one streak note, got %v", syncer.notes)
	}
	n := syncer.notes[0]
	if n.UserID != "alice" || n.Days != 3 || !n.PersonalBest {
		t.Fatalf("unexpected note: %+v", n)
	}
}

func TestMissingHandleResolvesToNone(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice") // bob never linked a handle

	id := env.createDuel(t, "alice", "bob")
	if err := env.engine.RunTick(context.Background(), t0.Add(31*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	if ch.Status != domain.StatusCompleted {
		t.Fatalf("missing handle must not block finalize, got %s", ch.Status)
	}
	bob := ch.Participants[1]
	if bob.RatingDelta == nil || *bob.RatingDelta != -20 {
		t.Fatalf("unlinked participant takes the penalty, got %v", bob.RatingDelta)
	}
}

func TestSolveWithUnknownRatingSkipsDelta(t *testing.T) {
	env := newTestEnv(t)
	linkHandles(env, "alice", "bob")
	// neither user has a rating
	id := env.createDuel(t, "alice", "bob")

	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(time.Minute))}}
	if err := env.engine.RunTick(context.Background(), t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	ch := env.mustGet(t, id)
	alice := ch.Participants[0]
	if alice.SolvedAt == nil {
		t.Fatalf("solve must still be timestamped without a rating")
	}
	if alice.RatingDelta != nil {
		t.Fatalf("no delta may be applied without a rating, got %v", alice.RatingDelta)
	}
	if env.profiles.pushed["alice"] != 0 {
		t.Fatalf("no rating push expected")
	}
}

// gateStore blocks ListActive until released so two ticks can be forced to
// overlap.
type gateStore struct {
	Store
	enter chan struct{}
	exit  chan struct{}
}

func (g *gateStore) ListActive(ctx context.Context, serverID string) ([]*domain.Challenge, error) {
	g.enter <- struct{}{}
	<-g.exit
	return g.Store.ListActive(ctx, serverID)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	store := NewMemoryStore()
	gate := &gateStore{Store: store, enter: make(chan struct{}, 1), exit: make(chan struct{})}
	profiles := newFakeProfiles()
	e := NewEngine(gate, profiles, newFakeJudge(), fixedModel{pen: -20, rew: 25})

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- e.RunTick(ctx, t0) }()
	<-gate.enter // first tick is inside ListActive

	// second tick must bail out immediately without touching the store
	if err := e.RunTick(ctx, t0.Add(time.Second)); err != nil {
		t.Fatalf("overlapping RunTick: %v", err)
	}
	select {
	case g := <-gate.enter:
		t.Fatalf("second tick reached the store: %v", g)
	default:
	}

	close(gate.exit)
	if err := <-done; err != nil {
		t.Fatalf("first RunTick: %v", err)
	}
}

// flakyStore fails check-index updates for one challenge to prove per-challenge
// isolation.
type flakyStore struct {
	Store
	failID string
}

func (f *flakyStore) UpdateCheckIndex(ctx context.Context, id string, index int) error {
	if id == f.failID {
		return fmt.Errorf("disk on fire")
	}
	return f.Store.UpdateCheckIndex(ctx, id, index)
}

func TestTickIsolatesPerChallengeFailures(t *testing.T) {
	store := NewMemoryStore()
	profiles := newFakeProfiles()
	judge := newFakeJudge()
	profiles.handles["alice"] = "cf_alice"
	profiles.handles["bob"] = "cf_bob"

	e := NewEngine(store, profiles, judge, fixedModel{pen: -20, rew: 25})
	ctx := context.Background()

	mk := func(user string, started time.Time) string {
		id, err := e.CreateChallenge(ctx, CreateParams{
			ServerID: testServer, ChannelID: "c", HostUserID: user,
			Problem:       domain.Problem{Ref: domain.ProblemRef{ContestID: 1850, Index: "A"}, Rating: 1600},
			LengthMinutes: 30, ParticipantUserIDs: []string{user}, StartedAt: started,
		})
		if err != nil {
			t.Fatalf("CreateChallenge: %v", err)
		}
		return id
	}
	first := mk("alice", t0)
	_ = mk("bob", t0.Add(time.Second))

	flaky := &flakyStore{Store: store, failID: first}
	e2 := NewEngine(flaky, profiles, judge, fixedModel{pen: -20, rew: 25})

	if err := e2.RunTick(ctx, t0.Add(time.Minute)); err != nil {
		t.Fatalf("RunTick must not propagate per-challenge errors: %v", err)
	}
	msg, at := e2.LastError()
	if msg == "" || at.IsZero() {
		t.Fatalf("expected last error to be recorded")
	}
	if e2.LastTick().IsZero() {
		t.Fatalf("expected last tick to be recorded")
	}
	// the healthy challenge was still polled
	if judge.callCount() != 1 {
		t.Fatalf("expected the second challenge to be processed, calls=%d", judge.callCount())
	}
}

func TestListingsAndFirstSolver(t *testing.T) {
	env := newTestEnv(t)
	env.profiles.setRating("alice", 1500)
	env.profiles.setRating("bob", 1400)
	linkHandles(env, "alice", "bob")
	id := env.createDuel(t, "alice", "bob")

	ctx := context.Background()
	active, err := env.engine.ListActive(ctx, testServer)
	if err != nil || len(active) != 1 {
		t.Fatalf("ListActive: %v %d", err, len(active))
	}
	mine, err := env.engine.ListActiveByUser(ctx, testServer, "bob")
	if err != nil || len(mine) != 1 {
		t.Fatalf("ListActiveByUser(bob): %v %d", err, len(mine))
	}
	none, err := env.engine.ListActiveByUser(ctx, testServer, "carol")
	if err != nil || len(none) != 0 {
		t.Fatalf("ListActiveByUser(carol) should be empty: %v %d", err, len(none))
	}

	// bob solves first, alice later; finalize at expiry
	env.judge.replies["cf_bob"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(4 * time.Minute))}}
	env.judge.replies["cf_alice"] = judgeReply{subs: []domain.Submission{accepted(t0.Add(9 * time.Minute))}}
	for n := 1; n <= 3; n++ {
		if err := env.engine.RunTick(ctx, t0.Add(time.Duration(10+n)*time.Minute)); err != nil {
			t.Fatalf("RunTick #%d: %v", n, err)
		}
	}

	recent, err := env.engine.RecentCompleted(ctx, testServer, 5)
	if err != nil || len(recent) != 1 {
		t.Fatalf("RecentCompleted: %v %d", err, len(recent))
	}
	if recent[0].Challenge.ID != id {
		t.Fatalf("unexpected challenge %s", recent[0].Challenge.ID)
	}
	if recent[0].FirstSolver == nil || recent[0].FirstSolver.UserID != "bob" {
		t.Fatalf("expected bob as first solver, got %+v", recent[0].FirstSolver)
	}
}
