package vsphere

import "testing"

func TestInventoryStoreUpsertGetDelete(t *testing.T) {
	store := newInventoryStore("vc.example.com")

	store.Upsert(&Vm{ID: "vm-1", Name: "alpha#ws1"})
	got := store.Get("vm-1")
	if got == nil || got.Name != "alpha#ws1" {
		t.Fatalf("expected to retrieve the upserted vm, got %+v", got)
	}

	store.Delete("vm-1")
	if store.Get("vm-1") != nil {
		t.Fatal("expected the vm to be gone after Delete")
	}
}

func TestInventoryStoreGetReturnsAClone(t *testing.T) {
	store := newInventoryStore("vc.example.com")
	store.Upsert(&Vm{ID: "vm-1", Name: "alpha#ws1"})

	got := store.Get("vm-1")
	got.Name = "mutated"

	if again := store.Get("vm-1"); again.Name != "alpha#ws1" {
		t.Fatal("mutating a Get() result leaked into the stored entry")
	}
}

func TestInventoryStoreFind(t *testing.T) {
	store := newInventoryStore("vc.example.com")
	store.Upsert(&Vm{ID: "vm-1", Name: "alpha#ws1"})
	store.Upsert(&Vm{ID: "vm-2", Name: "beta#ws2"})

	all := store.Find("")
	if len(all) != 2 {
		t.Fatalf("empty term should return every vm, got %d", len(all))
	}

	matches := store.Find("alpha")
	if len(matches) != 1 || matches[0].ID != "vm-1" {
		t.Fatalf("expected one match for 'alpha', got %+v", matches)
	}

	byID := store.Find("vm-2")
	if len(byID) != 1 || byID[0].Name != "beta#ws2" {
		t.Fatalf("expected id-substring match to find vm-2, got %+v", byID)
	}

	none := store.Find("nonexistent")
	if len(none) != 0 {
		t.Fatalf("expected no matches, got %d", len(none))
	}
}

func TestPercentOf(t *testing.T) {
	if got := percentOf(50, 200); got != 25 {
		t.Fatalf("percentOf(50, 200) = %v, want 25", got)
	}
	if got := percentOf(10, 0); got != 0 {
		t.Fatalf("percentOf with a zero whole should report 0, got %v", got)
	}
	if got := percentOf(10, -5); got != 0 {
		t.Fatalf("percentOf with a negative whole should report 0, got %v", got)
	}
}
