package services_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/baharkarakas/point-ledger/internal/keylock"
	"github.com/baharkarakas/point-ledger/internal/models"
	"github.com/baharkarakas/point-ledger/internal/repository"
	"github.com/baharkarakas/point-ledger/internal/repository/memory"
	"github.com/baharkarakas/point-ledger/internal/services"
	"github.com/baharkarakas/point-ledger/internal/worker"
)

type serializerCase struct {
	name string
	new  func(t *testing.T) services.Serializer
}

var serializers = []serializerCase{
	{"lock", func(t *testing.T) services.Serializer { return keylock.New() }},
	{"fifo", func(t *testing.T) services.Serializer {
		q := worker.NewQueues(64)
		t.Cleanup(q.Stop)
		return q
	}},
}

func forEachSerializer(t *testing.T, fn func(t *testing.T, newSvc func(repository.Store) *services.PointService)) {
	for _, sc := range serializers {
		t.Run(sc.name, func(t *testing.T) {
			fn(t, func(st repository.Store) *services.PointService {
				return services.NewPointService(st, sc.new(t))
			})
		})
	}
}

// assertLedger checks balance >= 0 and balance == sum of history deltas.
func assertLedger(t *testing.T, svc *services.PointService, userID int64) (models.UserPoint, []models.PointHistory) {
	t.Helper()
	ctx := context.Background()
	p, err := svc.Point(ctx, userID)
	if err != nil {
		t.Fatalf("point: %v", err)
	}
	hs, err := svc.History(ctx, userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if p.Point < 0 {
		t.Fatalf("user %d: negative balance %d", userID, p.Point)
	}
	if sum := models.Sum(hs); sum != p.Point {
		t.Fatalf("user %d: balance %d but history sums to %d", userID, p.Point, sum)
	}
	return p, hs
}

func TestPointUnknownUser(t *testing.T) {
	svc := services.NewPointService(memory.New(), keylock.New())
	p, err := svc.Point(context.Background(), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != 1 || p.Point != 0 {
		t.Fatalf("expected zero balance, got %+v", p)
	}
	hs, _ := svc.History(context.Background(), 1)
	if len(hs) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(hs))
	}
}

func TestChargeThenUse(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		svc := newSvc(memory.New())
		ctx := context.Background()

		p, err := svc.Charge(ctx, 1, 200)
		if err != nil {
			t.Fatalf("charge: %v", err)
		}
		if p.UserID != 1 || p.Point != 200 {
			t.Fatalf("expected 200 after charge, got %+v", p)
		}

		p, err = svc.Use(ctx, 1, 100)
		if err != nil {
			t.Fatalf("use: %v", err)
		}
		if p.Point != 100 {
			t.Fatalf("expected 100 after use, got %d", p.Point)
		}

		_, hs := assertLedger(t, svc, 1)
		if len(hs) != 2 || hs[0].Type != models.TxnCharge || hs[1].Type != models.TxnUse {
			t.Fatalf("unexpected history: %+v", hs)
		}
	})
}

func TestInvalidAmountLeavesLedgerUntouched(t *testing.T) {
	svc := services.NewPointService(memory.New(), keylock.New())
	ctx := context.Background()
	if _, err := svc.Charge(ctx, 1, 500); err != nil {
		t.Fatalf("charge: %v", err)
	}

	ops := map[string]func(context.Context, int64, int64) (models.UserPoint, error){
		"charge": svc.Charge,
		"use":    svc.Use,
	}
	for name, op := range ops {
		for _, amount := range []int64{0, -1, -100, math.MinInt64} {
			_, err := op(ctx, 1, amount)
			if !errors.Is(err, services.ErrInvalidAmount) {
				t.Fatalf("%s(%d): expected ErrInvalidAmount, got %v", name, amount, err)
			}
		}
	}

	p, hs := assertLedger(t, svc, 1)
	if p.Point != 500 || len(hs) != 1 {
		t.Fatalf("expected balance 500 with 1 entry, got %d with %d", p.Point, len(hs))
	}
}

func TestUseInsufficientBalance(t *testing.T) {
	svc := services.NewPointService(memory.New(), keylock.New())
	ctx := context.Background()

	if _, err := svc.Use(ctx, 1, 1); !errors.Is(err, services.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance on empty balance, got %v", err)
	}
	_, _ = svc.Charge(ctx, 1, 100)
	if _, err := svc.Use(ctx, 1, 101); !errors.Is(err, services.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	p, hs := assertLedger(t, svc, 1)
	if p.Point != 100 || len(hs) != 1 {
		t.Fatalf("expected balance 100 with 1 entry, got %d with %d", p.Point, len(hs))
	}

	// using the exact balance is allowed
	if p, err := svc.Use(ctx, 1, 100); err != nil || p.Point != 0 {
		t.Fatalf("expected balance 0, got %+v (%v)", p, err)
	}
}

func TestChargeOverflow(t *testing.T) {
	svc := services.NewPointService(memory.New(), keylock.New())
	ctx := context.Background()
	_, _ = svc.Charge(ctx, 1, math.MaxInt64)

	if _, err := svc.Charge(ctx, 1, 1); !errors.Is(err, services.ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	p, hs := assertLedger(t, svc, 1)
	if p.Point != math.MaxInt64 || len(hs) != 1 {
		t.Fatalf("unexpected ledger after overflow: %d with %d entries", p.Point, len(hs))
	}
}

func TestConcurrentChargesNoLostUpdate(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		svc := newSvc(memory.New())

		for round := int64(1); round <= 20; round++ {
			var wg sync.WaitGroup
			for _, amount := range []int64{100, 200, 300} {
				wg.Add(1)
				go func(amount int64) {
					defer wg.Done()
					if _, err := svc.Charge(context.Background(), round, amount); err != nil {
						t.Errorf("charge %d: %v", amount, err)
					}
				}(amount)
			}
			wg.Wait()

			p, hs := assertLedger(t, svc, round)
			if p.Point != 600 || len(hs) != 3 {
				t.Fatalf("round %d: expected 600 with 3 entries, got %d with %d", round, p.Point, len(hs))
			}
		}
	})
}

func TestConcurrentUsesMutualExclusion(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		svc := newSvc(memory.New())

		for round := int64(1); round <= 20; round++ {
			if _, err := svc.Charge(context.Background(), round, 300); err != nil {
				t.Fatalf("charge: %v", err)
			}

			errs := make(chan error, 2)
			for i := 0; i < 2; i++ {
				go func() {
					_, err := svc.Use(context.Background(), round, 200)
					errs <- err
				}()
			}

			var ok, insufficient int
			for i := 0; i < 2; i++ {
				switch err := <-errs; {
				case err == nil:
					ok++
				case errors.Is(err, services.ErrInsufficientBalance):
					insufficient++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if ok != 1 || insufficient != 1 {
				t.Fatalf("round %d: expected one success and one rejection, got %d/%d", round, ok, insufficient)
			}

			p, hs := assertLedger(t, svc, round)
			if p.Point != 100 || len(hs) != 2 {
				t.Fatalf("round %d: expected 100 with 2 entries, got %d with %d", round, p.Point, len(hs))
			}
		}
	})
}

func TestLedgerConsistencyUnderRandomLoad(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		svc := newSvc(memory.New())
		users := []int64{1, 2, 3}

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(seed int64) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(seed))
				for i := 0; i < 100; i++ {
					uid := users[rng.Intn(len(users))]
					amount := int64(rng.Intn(50) + 1)
					var err error
					if rng.Intn(2) == 0 {
						_, err = svc.Charge(context.Background(), uid, amount)
					} else {
						_, err = svc.Use(context.Background(), uid, amount)
					}
					if err != nil && !errors.Is(err, services.ErrInsufficientBalance) {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}(int64(g))
		}
		wg.Wait()

		for _, uid := range users {
			assertLedger(t, svc, uid)
		}
	})
}

func TestHistoryMatchesLastOperation(t *testing.T) {
	svc := services.NewPointService(memory.New(), keylock.New())
	ctx := context.Background()

	ops := []struct {
		typ    models.TransactionType
		amount int64
	}{
		{models.TxnCharge, 1000},
		{models.TxnUse, 250},
		{models.TxnCharge, 5},
		{models.TxnUse, 755},
	}
	var prev int64
	for _, op := range ops {
		var err error
		if op.typ == models.TxnCharge {
			_, err = svc.Charge(ctx, 9, op.amount)
		} else {
			_, err = svc.Use(ctx, 9, op.amount)
		}
		if err != nil {
			t.Fatalf("%s %d: %v", op.typ, op.amount, err)
		}

		hs, _ := svc.History(ctx, 9)
		last := hs[len(hs)-1]
		if last.Type != op.typ || last.Amount != op.amount || last.UserID != 9 {
			t.Fatalf("last entry %+v does not match %s %d", last, op.typ, op.amount)
		}
		if last.TimeMillis < prev {
			t.Fatalf("timestamp went backwards: %d < %d", last.TimeMillis, prev)
		}
		prev = last.TimeMillis
	}
	assertLedger(t, svc, 9)
}

// gatedStore blocks the first balance read of one user inside the
// critical section until release is closed.
type gatedStore struct {
	repository.Store
	gated   int64
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(userID int64) *gatedStore {
	return &gatedStore{
		Store:   memory.New(),
		gated:   userID,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) WithTx(ctx context.Context, fn func(repository.Balances, repository.Histories) error) error {
	return g.Store.WithTx(ctx, func(b repository.Balances, h repository.Histories) error {
		return fn(gatedBalances{Balances: b, g: g}, h)
	})
}

type gatedBalances struct {
	repository.Balances
	g *gatedStore
}

func (b gatedBalances) Get(ctx context.Context, userID int64) (models.UserPoint, error) {
	if userID == b.g.gated {
		b.g.once.Do(func() { close(b.g.entered) })
		<-b.g.release
	}
	return b.Balances.Get(ctx, userID)
}

func TestUsersDoNotBlockEachOther(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		st := newGatedStore(1)
		svc := newSvc(st)

		slow := make(chan error, 1)
		go func() {
			_, err := svc.Charge(context.Background(), 1, 10)
			slow <- err
		}()
		<-st.entered

		done := make(chan error, 1)
		go func() {
			_, err := svc.Charge(context.Background(), 2, 10)
			done <- err
		}()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("charge user 2: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("user 2 waited on user 1's critical section")
		}

		// queries never wait on the serializer either
		if _, err := svc.Point(context.Background(), 1); err != nil {
			t.Fatalf("point: %v", err)
		}

		close(st.release)
		if err := <-slow; err != nil {
			t.Fatalf("charge user 1: %v", err)
		}
	})
}

func TestMutationCancelledWhileWaiting(t *testing.T) {
	forEachSerializer(t, func(t *testing.T, newSvc func(repository.Store) *services.PointService) {
		st := newGatedStore(1)
		svc := newSvc(st)

		first := make(chan error, 1)
		go func() {
			_, err := svc.Charge(context.Background(), 1, 100)
			first <- err
		}()
		<-st.entered

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if _, err := svc.Charge(ctx, 1, 50); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}

		close(st.release)
		if err := <-first; err != nil {
			t.Fatalf("first charge: %v", err)
		}
		// a fresh call queues behind anything still pending for the user
		if _, err := svc.Charge(context.Background(), 1, 1); err != nil {
			t.Fatalf("charge: %v", err)
		}

		p, hs := assertLedger(t, svc, 1)
		if p.Point != 101 || len(hs) != 2 {
			t.Fatalf("expected 101 with 2 entries, got %d with %d", p.Point, len(hs))
		}
	})
}

var errAppend = errors.New("append failed")

type failingAppendStore struct{ repository.Store }

func (f failingAppendStore) WithTx(ctx context.Context, fn func(repository.Balances, repository.Histories) error) error {
	return f.Store.WithTx(ctx, func(b repository.Balances, h repository.Histories) error {
		return fn(b, failingHistories{h})
	})
}

type failingHistories struct{ repository.Histories }

func (failingHistories) Append(context.Context, int64, int64, models.TransactionType, time.Time) (models.PointHistory, error) {
	return models.PointHistory{}, errAppend
}

func TestFailedAppendWritesNothing(t *testing.T) {
	svc := services.NewPointService(failingAppendStore{memory.New()}, keylock.New())

	_, err := svc.Charge(context.Background(), 1, 100)
	if !errors.Is(err, errAppend) {
		t.Fatalf("expected append error, got %v", err)
	}
	if services.Reason(err) != "internal" {
		t.Fatalf("expected internal reason, got %s", services.Reason(err))
	}
	p, hs := assertLedger(t, svc, 1)
	if p.Point != 0 || len(hs) != 0 {
		t.Fatalf("expected nothing written, got %d with %d entries", p.Point, len(hs))
	}
}
