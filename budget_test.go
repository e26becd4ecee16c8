package offlinecache

import (
	"errors"
	"slices"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func tracked(key string, at time.Duration) Entry {
	return Entry{Key: key, StoredAt: t0.Add(at)}
}

func TestBudget_OverflowOldestFirst(t *testing.T) {
	b := newBudgetIndex(Budget{MaxEntries: 2})
	b.track(tracked("c", 2*time.Minute), 10)
	b.track(tracked("a", 0), 10)
	b.track(tracked("b", time.Minute), 10)
	b.track(tracked("d", 3*time.Minute), 10)

	if got := b.overflow(); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("overflow = %v; want [a b]", got)
	}
}

func TestBudget_TiesBrokenByWriteOrder(t *testing.T) {
	b := newBudgetIndex(Budget{MaxEntries: 1})
	b.track(tracked("second", 0), 1)
	b.track(tracked("first", 0), 1)
	b.track(tracked("second", 0), 1) // rewrite moves it behind "first"

	if got := b.overflow(); !slices.Equal(got, []string{"first"}) {
		t.Errorf("overflow = %v; want [first]", got)
	}
}

func TestBudget_NeverEvictsNewest(t *testing.T) {
	b := newBudgetIndex(Budget{MaxBytes: 10})
	b.track(tracked("big", 0), 20)
	if got := b.overflow(); got != nil {
		t.Errorf("overflow with only the newest entry = %v; want none", got)
	}

	b.track(tracked("small", time.Minute), 5)
	if got := b.overflow(); !slices.Equal(got, []string{"big"}) {
		t.Errorf("overflow = %v; want [big]", got)
	}
}

func TestBudget_Admit(t *testing.T) {
	b := newBudgetIndex(Budget{MaxBytes: 1000, MaxEntryBytes: 100})
	if err := b.admit(100); err != nil {
		t.Errorf("admit(100) = %v", err)
	}
	if err := b.admit(101); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("admit(101) = %v; want ErrEntryTooLarge", err)
	}

	whole := newBudgetIndex(Budget{MaxBytes: 50})
	if err := whole.admit(51); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("admit over MaxBytes = %v; want ErrEntryTooLarge", err)
	}
	if err := newBudgetIndex(Budget{}).admit(1 << 30); err != nil {
		t.Errorf("unlimited budget rejected entry: %v", err)
	}
}

func TestBudget_Accounting(t *testing.T) {
	b := newBudgetIndex(Budget{})
	b.track(Entry{Key: "a", StoredAt: t0, OwnerID: "u1"}, 10)
	b.track(Entry{Key: "a", StoredAt: t0, OwnerID: "u1"}, 30)
	b.track(Entry{Key: "b", StoredAt: t0, OwnerID: "u2"}, 5)

	if n, bytes := b.usage(); n != 2 || bytes != 35 {
		t.Errorf("usage = %d, %d; want 2, 35", n, bytes)
	}
	if got := b.ownedBy("u1"); !slices.Equal(got, []string{"a"}) {
		t.Errorf("ownedBy(u1) = %v", got)
	}
	b.forget("a")
	b.forget("missing")
	if n, bytes := b.usage(); n != 1 || bytes != 5 {
		t.Errorf("usage after forget = %d, %d; want 1, 5", n, bytes)
	}
}

func TestBudget_OldestAndOlderThan(t *testing.T) {
	b := newBudgetIndex(Budget{})
	b.track(tracked("a", 0), 1)
	b.track(tracked("b", time.Hour), 1)
	b.track(tracked("c", 2*time.Hour), 1)

	if got := b.oldest(2, "a"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("oldest(2, skip a) = %v; want [b c]", got)
	}
	got := b.olderThan(t0.Add(90 * time.Minute))
	slices.Sort(got)
	if !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("olderThan = %v; want [a b]", got)
	}
}

func TestBudget_Replace(t *testing.T) {
	b := newBudgetIndex(Budget{MaxEntries: 1})
	b.track(tracked("stale", 0), 1)

	b.replace(
		[]Entry{tracked("late", time.Hour), tracked("early", 0)},
		[]int64{3, 4},
	)
	if n, bytes := b.usage(); n != 2 || bytes != 7 {
		t.Errorf("usage = %d, %d; want 2, 7", n, bytes)
	}
	if got := b.overflow(); !slices.Equal(got, []string{"early"}) {
		t.Errorf("overflow = %v; want [early]", got)
	}
	infos := b.list("")
	if len(infos) != 2 || infos[0].Key != "early" || infos[1].Size != 3 {
		t.Errorf("list = %+v", infos)
	}
}
