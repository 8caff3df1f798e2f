package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ivankudzin/sparkcall/backend/internal/domain/enums"
	"github.com/ivankudzin/sparkcall/backend/internal/domain/model"
)

type allowAllEligibility struct{}

func (allowAllEligibility) Check(context.Context, int64) (bool, string, error) {
	return true, "", nil
}

type denyEligibility struct{ reason string }

func (d denyEligibility) Check(context.Context, int64) (bool, string, error) {
	return false, d.reason, nil
}

func testPrefs() model.Preferences {
	return model.Preferences{
		Gender:       enums.GenderFemale,
		GenderFilter: enums.GenderFilterAny,
		Age:          25,
		AgeMin:       18,
		AgeMax:       40,
	}
}

func TestEnqueueRejectsDuplicates(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, 1, testPrefs()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := svc.Enqueue(ctx, 1, testPrefs()); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestEnqueueRejectsPairedAndInSessionUsers(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, 1, testPrefs()); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if _, err := svc.Enqueue(ctx, 2, testPrefs()); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	if _, _, ok := svc.TryClaimPair(1, 2); !ok {
		t.Fatalf("claim should succeed")
	}

	if _, err := svc.Enqueue(ctx, 1, testPrefs()); !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("matched user should get ErrAlreadyInSession, got %v", err)
	}

	svc.MarkInSession(1, 2)
	if _, err := svc.Enqueue(ctx, 2, testPrefs()); !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("in-session user should get ErrAlreadyInSession, got %v", err)
	}

	svc.Release(1, 2)
	if _, err := svc.Enqueue(ctx, 1, testPrefs()); err != nil {
		t.Fatalf("released user should enqueue cleanly: %v", err)
	}
}

func TestEnqueueHonorsEligibilityGate(t *testing.T) {
	svc := NewService(denyEligibility{reason: "contact info incomplete"})

	if _, err := svc.Enqueue(context.Background(), 1, testPrefs()); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if svc.Size() != 0 {
		t.Fatalf("ineligible user must not be queued")
	}
}

func TestDequeueIsIdempotent(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	svc.Dequeue(42)

	if _, err := svc.Enqueue(ctx, 42, testPrefs()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	svc.Dequeue(42)
	svc.Dequeue(42)

	if svc.Size() != 0 {
		t.Fatalf("queue should be empty, got %d", svc.Size())
	}
	if phase := svc.Membership(42); phase != PhaseNone {
		t.Fatalf("dequeued user should have no membership, got %s", phase)
	}
}

func TestTryClaimPairFailsWhenEitherIsGone(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	if _, err := svc.Enqueue(ctx, 1, testPrefs()); err != nil {
		t.Fatalf("enqueue 1: %v", err)
	}
	if _, err := svc.Enqueue(ctx, 2, testPrefs()); err != nil {
		t.Fatalf("enqueue 2: %v", err)
	}

	svc.Dequeue(2)
	if _, _, ok := svc.TryClaimPair(1, 2); ok {
		t.Fatalf("claim should fail when one side left")
	}
	if phase := svc.Membership(1); phase != PhaseQueued {
		t.Fatalf("failed claim must not disturb the remaining entry, got %s", phase)
	}
}

func TestTryClaimPairNeverClaimsSameUserTwice(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	for id := int64(1); id <= 3; id++ {
		if _, err := svc.Enqueue(ctx, id, testPrefs()); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
	}

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	// Two racing pairing passes both want user 1.
	go func() {
		defer wg.Done()
		if _, _, ok := svc.TryClaimPair(1, 2); ok {
			mu.Lock()
			wins++
			mu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		if _, _, ok := svc.TryClaimPair(1, 3); ok {
			mu.Lock()
			wins++
			mu.Unlock()
		}
	}()
	wg.Wait()

	if wins != 1 {
		t.Fatalf("exactly one racing claim should win, got %d", wins)
	}
}

func TestWaitingIsOrderedOldestFirst(t *testing.T) {
	svc := NewService(allowAllEligibility{})
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)
	current := base
	svc.SetNow(func() time.Time { return current })

	for _, id := range []int64{5, 3, 9} {
		if _, err := svc.Enqueue(ctx, id, testPrefs()); err != nil {
			t.Fatalf("enqueue %d: %v", id, err)
		}
		current = current.Add(time.Second)
	}

	waiting := svc.Waiting()
	if len(waiting) != 3 {
		t.Fatalf("unexpected waiting size: %d", len(waiting))
	}
	if waiting[0].UserID != 5 || waiting[1].UserID != 3 || waiting[2].UserID != 9 {
		t.Fatalf("unexpected order: %v", []int64{waiting[0].UserID, waiting[1].UserID, waiting[2].UserID})
	}
}
