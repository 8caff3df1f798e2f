package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
	"github.com/ivankudzin/sparkcall/backend/internal/services/rtc"
)

type stubBinding struct {
	channelID string
	userID    int64
	tracks    rtc.Tracks
	closed    bool
	mu        sync.Mutex
}

func (b *stubBinding) ChannelID() string { return b.channelID }
func (b *stubBinding) UserID() int64     { return b.userID }

func (b *stubBinding) SetTrackEnabled(_ context.Context, track string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch track {
	case "audio":
		b.tracks.Audio = enabled
	case "video":
		b.tracks.Video = enabled
	}
	return nil
}

func (b *stubBinding) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type stubProvider struct {
	mu         sync.Mutex
	bindings   []*stubBinding
	failBind   map[int64]error
	failRebind map[int64]error
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		failBind:   make(map[int64]error),
		failRebind: make(map[int64]error),
	}
}

func (p *stubProvider) Bind(_ context.Context, channelID string, userID int64, tracks rtc.Tracks) (rtc.Binding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failBind[userID]; err != nil {
		return nil, err
	}
	b := &stubBinding{channelID: channelID, userID: userID, tracks: tracks}
	p.bindings = append(p.bindings, b)
	return b, nil
}

func (p *stubProvider) Rebind(_ context.Context, binding rtc.Binding, tracks rtc.Tracks) (rtc.Binding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failRebind[binding.UserID()]; err != nil {
		return nil, err
	}
	b := binding.(*stubBinding)
	b.mu.Lock()
	b.tracks = tracks
	b.mu.Unlock()
	return b, nil
}

func (p *stubProvider) openBindings() []*stubBinding {
	p.mu.Lock()
	defer p.mu.Unlock()
	var open []*stubBinding
	for _, b := range p.bindings {
		b.mu.Lock()
		if !b.closed {
			open = append(open, b)
		}
		b.mu.Unlock()
	}
	return open
}

type membershipRecorder struct {
	mu        sync.Mutex
	inSession []int64
	released  []int64
}

func (m *membershipRecorder) MarkInSession(userIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inSession = append(m.inSession, userIDs...)
}

func (m *membershipRecorder) Release(userIDs ...int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, userIDs...)
}

func (m *membershipRecorder) releasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.released)
}

type archiveRecorder struct {
	mu       sync.Mutex
	sessions []model.CallSession
}

func (a *archiveRecorder) SaveSession(_ context.Context, s model.CallSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, s)
	return nil
}

type contactsStub struct{}

func (contactsStub) GetContactCard(_ context.Context, userID int64) (model.ContactCard, error) {
	return model.ContactCard{UserID: userID, DisplayName: "user", Telegram: "@user"}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *eventRecorder) Publish(_ context.Context, _ []int64, event model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) count(kind model.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *eventRecorder) last(kind model.EventKind) (model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return model.Event{}, false
}

type fixture struct {
	svc        *Service
	provider   *stubProvider
	membership *membershipRecorder
	archive    *archiveRecorder
	recorder   *eventRecorder
}

func newServiceForTest(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		provider:   newStubProvider(),
		membership: &membershipRecorder{},
		archive:    &archiveRecorder{},
		recorder:   &eventRecorder{},
	}
	f.svc = NewService(Dependencies{
		Provider:   f.provider,
		Publisher:  f.recorder,
		Membership: f.membership,
		Archive:    f.archive,
		Contacts:   contactsStub{},
	}, cfg)

	return f
}

func testMatch() model.PendingMatch {
	return model.PendingMatch{ID: "m-1", ParticipantA: 1, ParticipantB: 2, Score: 80}
}

// waitFor polls until cond holds or the deadline hits.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartBindsAudioForBoth(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})

	sess, err := f.svc.Start(context.Background(), testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != enums.SessionStatusActive || sess.Stage != enums.StageAudio {
		t.Fatalf("expected active stage-1 session, got %s stage %d", sess.Status, sess.Stage)
	}
	if sess.ChannelID == "" {
		t.Fatalf("channel id must be set")
	}

	open := f.provider.openBindings()
	if len(open) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(open))
	}
	for _, b := range open {
		if !b.tracks.Audio || b.tracks.Video {
			t.Fatalf("stage 1 must be audio-only, got %+v", b.tracks)
		}
	}
	if got := f.recorder.count(model.EventCallStarted); got != 1 {
		t.Fatalf("expected call started event, got %d", got)
	}
	f.membership.mu.Lock()
	marked := len(f.membership.inSession)
	f.membership.mu.Unlock()
	if marked != 2 {
		t.Fatalf("both users must be marked in session")
	}
}

func TestInitialBindFailureTerminates(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})
	f.provider.failBind[2] = &rtc.AcquisitionError{Kind: rtc.FailureDeviceBusy, UserID: 2}

	sess, err := f.svc.Start(context.Background(), testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != enums.SessionStatusTerminated {
		t.Fatalf("expected terminated, got %s", sess.Status)
	}
	if !strings.Contains(string(sess.EndReason), "transport-failed") {
		t.Fatalf("expected transport reason, got %q", sess.EndReason)
	}
	if len(f.provider.openBindings()) != 0 {
		t.Fatalf("successful binding must be closed on teardown")
	}
	if f.membership.releasedCount() != 2 {
		t.Fatalf("both users must be released")
	}
}

func TestStageTimerOpensDecisionAndMutualContinueAdvances(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 30 * time.Millisecond,
		Stage2Duration: time.Minute,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("vote by 1: %v", err)
	}
	snap, err := f.svc.SubmitDecision(ctx, sess.ID, 2, enums.StageAudio, enums.VoteContinue)
	if err != nil {
		t.Fatalf("vote by 2: %v", err)
	}

	if snap.Session.Stage != enums.StageVideo {
		t.Fatalf("expected stage 2, got %d", snap.Session.Stage)
	}
	if got := f.recorder.count(model.EventStageAdvanced); got != 1 {
		t.Fatalf("expected stage advanced event, got %d", got)
	}
	for _, b := range f.provider.openBindings() {
		if !b.tracks.Audio || !b.tracks.Video {
			t.Fatalf("stage 2 must carry audio and video, got %+v", b.tracks)
		}
	}
}

func TestEndVoteTerminatesImmediately(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 30 * time.Millisecond,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("continue by 1: %v", err)
	}
	snap, err := f.svc.SubmitDecision(ctx, sess.ID, 2, enums.StageAudio, enums.VoteEnd)
	if err != nil {
		t.Fatalf("end by 2: %v", err)
	}

	if snap.Session.Status != enums.SessionStatusTerminated {
		t.Fatalf("expected terminated, got %s", snap.Session.Status)
	}
	if snap.Session.EndReason != enums.EndReasonDeclinedBy(2) {
		t.Fatalf("wrong end reason %q", snap.Session.EndReason)
	}
	if len(f.provider.openBindings()) != 0 {
		t.Fatalf("bindings must be closed on terminate")
	}
	if f.membership.releasedCount() != 2 {
		t.Fatalf("both users must be released")
	}
	if got := f.recorder.count(model.EventSessionEnded); got != 1 {
		t.Fatalf("expected session ended event, got %d", got)
	}
}

func TestDecisionTimeoutTerminates(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		DecisionTTL:    30 * time.Millisecond,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	// One side answers, the other goes silent.
	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("vote: %v", err)
	}

	waitFor(t, "session to end", func() bool {
		return f.recorder.count(model.EventSessionEnded) == 1
	})

	snap, err := f.svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Session.EndReason != enums.EndReasonTimedOut {
		t.Fatalf("expected timeout reason, got %q", snap.Session.EndReason)
	}
}

func TestVideoRebindFailureTerminatesWithTransportReason(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		Stage2Duration: time.Minute,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()
	f.provider.failRebind[2] = &rtc.AcquisitionError{Kind: rtc.FailurePermissionDenied, UserID: 2}

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("vote: %v", err)
	}
	snap, err := f.svc.SubmitDecision(ctx, sess.ID, 2, enums.StageAudio, enums.VoteContinue)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}

	if snap.Session.Status != enums.SessionStatusTerminated {
		t.Fatalf("expected terminated, got %s", snap.Session.Status)
	}
	if snap.Session.EndReason != enums.EndReasonTransportFailed(2) {
		t.Fatalf("camera failure must name the failing user, got %q", snap.Session.EndReason)
	}
	if len(f.provider.openBindings()) != 0 {
		t.Fatalf("bindings must be closed on transport teardown")
	}
}

func advanceToContact(t *testing.T, f *fixture, ctx context.Context, sessionID string) {
	t.Helper()

	for _, stage := range []enums.Stage{enums.StageAudio, enums.StageVideo} {
		want := int(stage)
		waitFor(t, "decision to open", func() bool {
			return f.recorder.count(model.EventDecisionOpened) == want
		})
		if _, err := f.svc.SubmitDecision(ctx, sessionID, 1, stage, enums.VoteContinue); err != nil {
			t.Fatalf("vote stage %d by 1: %v", stage, err)
		}
		if _, err := f.svc.SubmitDecision(ctx, sessionID, 2, stage, enums.VoteContinue); err != nil {
			t.Fatalf("vote stage %d by 2: %v", stage, err)
		}
	}
}

func TestContactStageExposesCounterpartCard(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		Stage2Duration: 20 * time.Millisecond,
		DecisionTTL:    time.Minute,
		ContactWindow:  time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	advanceToContact(t, f, ctx, sess.ID)

	snap, err := f.svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Session.Stage != enums.StageContact {
		t.Fatalf("expected stage 3, got %d", snap.Session.Stage)
	}
	// Live media does not survive into stage 3.
	if len(f.provider.openBindings()) != 0 {
		t.Fatalf("stage 3 must close all bindings")
	}

	card, err := f.svc.ContactCard(ctx, sess.ID, 1)
	if err != nil {
		t.Fatalf("contact card: %v", err)
	}
	if card.UserID != 2 {
		t.Fatalf("user 1 must see user 2's card, got %d", card.UserID)
	}

	if _, err := f.svc.ContactCard(ctx, sess.ID, 99); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider must be rejected, got %v", err)
	}

	if err := f.svc.Acknowledge(ctx, sess.ID, 2); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	snap, err = f.svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("get after ack: %v", err)
	}
	if snap.Session.Status != enums.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Session.Status)
	}
	if got := f.recorder.count(model.EventSessionCompleted); got != 1 {
		t.Fatalf("expected completion event, got %d", got)
	}

	// The window closes with completion.
	if _, err := f.svc.ContactCard(ctx, sess.ID, 1); !errors.Is(err, ErrContactLocked) {
		t.Fatalf("card must lock after completion, got %v", err)
	}
}

func TestContactCardLockedBeforeStageThree(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.ContactCard(ctx, sess.ID, 1); !errors.Is(err, ErrContactLocked) {
		t.Fatalf("stage 1 must keep contacts locked, got %v", err)
	}
}

func TestExplicitEndMidStage(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.svc.End(ctx, sess.ID, 1); err != nil {
		t.Fatalf("end: %v", err)
	}
	snap, err := f.svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Session.Status != enums.SessionStatusTerminated {
		t.Fatalf("expected terminated, got %s", snap.Session.Status)
	}
	if snap.Session.EndReason != enums.EndReasonDeclinedBy(1) {
		t.Fatalf("wrong reason %q", snap.Session.EndReason)
	}
	// Repeat end is a no-op.
	if err := f.svc.End(ctx, sess.ID, 2); err != nil {
		t.Fatalf("repeat end: %v", err)
	}
	if got := f.recorder.count(model.EventSessionEnded); got != 1 {
		t.Fatalf("expected exactly one ended event, got %d", got)
	}
}

func TestDecisionForFutureStageRejected(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageVideo, enums.VoteContinue); !errors.Is(err, ErrStageMismatch) {
		t.Fatalf("expected stage mismatch, got %v", err)
	}
}

func TestRetriedDecisionAfterAdvanceIsNoOp(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		Stage2Duration: time.Minute,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("vote by 1: %v", err)
	}
	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 2, enums.StageAudio, enums.VoteContinue); err != nil {
		t.Fatalf("vote by 2: %v", err)
	}

	// A redelivered stage-1 vote after the advance must be acknowledged
	// with the current state, not rejected.
	snap, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue)
	if err != nil {
		t.Fatalf("retried vote: %v", err)
	}
	if snap.Session.Stage != enums.StageVideo {
		t.Fatalf("expected stage 2 in retry response, got %d", snap.Session.Stage)
	}
	if got := f.recorder.count(model.EventStageAdvanced); got != 1 {
		t.Fatalf("retry must not advance again, got %d events", got)
	}
}

func TestRetriedDecisionAfterTerminationIsNoOp(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 20 * time.Millisecond,
		DecisionTTL:    time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "decision to open", func() bool {
		return f.recorder.count(model.EventDecisionOpened) == 1
	})

	if _, err := f.svc.SubmitDecision(ctx, sess.ID, 2, enums.StageAudio, enums.VoteEnd); err != nil {
		t.Fatalf("end by 2: %v", err)
	}

	snap, err := f.svc.SubmitDecision(ctx, sess.ID, 1, enums.StageAudio, enums.VoteContinue)
	if err != nil {
		t.Fatalf("late vote: %v", err)
	}
	if snap.Session.Status != enums.SessionStatusTerminated {
		t.Fatalf("late vote must see the terminal state, got %s", snap.Session.Status)
	}
	if got := f.recorder.count(model.EventSessionEnded); got != 1 {
		t.Fatalf("expected one ended event, got %d", got)
	}
}

func TestSessionArchivedOnTermination(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.End(ctx, sess.ID, 2); err != nil {
		t.Fatalf("end: %v", err)
	}

	f.archive.mu.Lock()
	defer f.archive.mu.Unlock()
	if len(f.archive.sessions) != 1 {
		t.Fatalf("expected 1 archived session, got %d", len(f.archive.sessions))
	}
	got := f.archive.sessions[0]
	if got.ID != sess.ID || got.Status != enums.SessionStatusTerminated || got.EndedAt == nil {
		t.Fatalf("incomplete archive record %+v", got)
	}
}

// Polling must observe a consistent session while timers and votes
// drive transitions concurrently; run with -race.
func TestConcurrentPollDuringTransitions(t *testing.T) {
	f := newServiceForTest(t, Config{
		Stage1Duration: 10 * time.Millisecond,
		Stage2Duration: 10 * time.Millisecond,
		DecisionTTL:    time.Minute,
		ContactWindow:  time.Minute,
	})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap, err := f.svc.Get(sess.ID)
				if err != nil {
					continue
				}
				if !snap.Session.Stage.Valid() {
					t.Errorf("torn snapshot: stage %d", snap.Session.Stage)
					return
				}
				f.svc.ForUser(1)
				f.svc.SweepExpired()
			}
		}()
	}

	advanceToContact(t, f, ctx, sess.ID)
	if err := f.svc.Acknowledge(ctx, sess.ID, 1); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	close(done)
	wg.Wait()

	snap, err := f.svc.Get(sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Session.Status != enums.SessionStatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Session.Status)
	}
}

func TestForUserResolvesActiveSession(t *testing.T) {
	f := newServiceForTest(t, Config{Stage1Duration: time.Minute})
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, testMatch())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	snap, ok := f.svc.ForUser(2)
	if !ok || snap.Session.ID != sess.ID {
		t.Fatalf("user 2 should resolve to session %q", sess.ID)
	}

	if err := f.svc.End(ctx, sess.ID, 1); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, ok := f.svc.ForUser(2); ok {
		t.Fatalf("ended session must not resolve by user")
	}
}
