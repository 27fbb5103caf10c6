package ledger_test

import (
	"errors"
	"sync"
	"testing"

	"crownfall/internal/ledger"
)

func TestCreditDebit(t *testing.T) {
	led := ledger.New("gold")

	if err := led.Credit(1, "food", 100); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if got := led.Balance(1, "food"); got != 100 {
		t.Fatalf("balance after credit: got %d, want 100", got)
	}

	if err := led.Debit(1, "food", 40); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if got := led.Balance(1, "food"); got != 60 {
		t.Fatalf("balance after debit: got %d, want 60", got)
	}
}

func TestDebitShortfallLeavesStateUnchanged(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "food", 10)

	err := led.Debit(1, "food", 11)
	if err == nil {
		t.Fatal("expected shortfall error")
	}
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	var short *ledger.ShortfallError
	if !errors.As(err, &short) {
		t.Fatalf("expected ShortfallError, got %T", err)
	}
	if short.Need != 11 || short.Have != 10 {
		t.Fatalf("shortfall detail: need=%d have=%d", short.Need, short.Have)
	}

	if got := led.Balance(1, "food"); got != 10 {
		t.Fatalf("failed debit must not change balance: got %d, want 10", got)
	}
}

func TestCurrencyShortfallIsInsufficientFunds(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "gold", 5)

	err := led.Debit(1, "gold", 6)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatal("currency shortfall must not be ErrInsufficientBalance")
	}
}

func TestNonPositiveAmountsRejected(t *testing.T) {
	led := ledger.New("gold")
	if err := led.Credit(1, "food", 0); err == nil {
		t.Error("credit of zero should fail")
	}
	if err := led.Debit(1, "food", -5); err == nil {
		t.Error("negative debit should fail")
	}
}

func TestTransferAtomic(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "iron", 50)

	// Failing debit leg: no credit may happen.
	if err := led.Transfer(1, 2, "iron", 51); err == nil {
		t.Fatal("expected transfer to fail")
	}
	if got := led.Balance(2, "iron"); got != 0 {
		t.Fatalf("failed transfer credited receiver: got %d", got)
	}
	if got := led.Balance(1, "iron"); got != 50 {
		t.Fatalf("failed transfer changed sender: got %d", got)
	}

	if err := led.Transfer(1, 2, "iron", 20); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := led.Balance(1, "iron"); got != 30 {
		t.Fatalf("sender after transfer: got %d, want 30", got)
	}
	if got := led.Balance(2, "iron"); got != 20 {
		t.Fatalf("receiver after transfer: got %d, want 20", got)
	}
}

func TestTransferToSelfRejected(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "iron", 10)
	if err := led.Transfer(1, 1, "iron", 5); err == nil {
		t.Fatal("self-transfer should fail")
	}
}

// TestConcurrentSameEntityDebits hammers one balance from many
// goroutines: exactly the funded number of debits may succeed and the
// balance can never go negative.
func TestConcurrentSameEntityDebits(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(7, "gold", 30)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := led.Debit(7, "gold", 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 30 {
		t.Fatalf("successful debits: got %d, want 30", succeeded)
	}
	if got := led.Balance(7, "gold"); got != 0 {
		t.Fatalf("final balance: got %d, want 0", got)
	}
	if err := led.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestConcurrentTransfersPreserveTotal(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "gold", 1000)
	led.Credit(2, "gold", 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			led.Transfer(1, 2, "gold", 3)
		}()
		go func() {
			defer wg.Done()
			led.Transfer(2, 1, "gold", 5)
		}()
	}
	wg.Wait()

	total := led.Balance(1, "gold") + led.Balance(2, "gold")
	if total != 2000 {
		t.Fatalf("total after transfers: got %d, want 2000", total)
	}
	if err := led.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestCheckInvariantsCatchesNegative(t *testing.T) {
	led := ledger.New("gold")
	led.Restore(3, "food", -5)

	err := led.CheckInvariants()
	if err == nil {
		t.Fatal("expected invariant violation")
	}
	var inv *ledger.InvariantError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvariantError, got %T", err)
	}
	if inv.CityID != 3 || inv.Resource != "food" || inv.Balance != -5 {
		t.Fatalf("unexpected detail: %+v", inv)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	led := ledger.New("gold")
	led.Credit(1, "wood", 9)

	snap := led.Snapshot()
	snap[1]["wood"] = 999

	if got := led.Balance(1, "wood"); got != 9 {
		t.Fatalf("snapshot mutation leaked into ledger: got %d", got)
	}
}
