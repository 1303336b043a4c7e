package vsphere

import "testing"

func TestManagedRefRoundTrip(t *testing.T) {
	ref := ManagedRef{Type: "VirtualMachine", Value: "vm-42"}
	parsed, err := ParseManagedRef(ref.String())
	if err != nil {
		t.Fatalf("ParseManagedRef: %v", err)
	}
	if parsed != ref {
		t.Fatalf("round trip mismatch: got %+v, want %+v", parsed, ref)
	}
}

func TestManagedRefIsEmpty(t *testing.T) {
	if !(ManagedRef{}).IsEmpty() {
		t.Fatal("zero-value ManagedRef should be empty")
	}
	if (ManagedRef{Type: "VirtualMachine"}).IsEmpty() {
		t.Fatal("a ref with a type should not be empty")
	}
}

func TestParseManagedRefRejectsMissingSeparator(t *testing.T) {
	if _, err := ParseManagedRef("novalue"); err == nil {
		t.Fatal("expected an error parsing a ref with no '|' separator")
	}
}

func TestTenantExtractsSuffixAfterHash(t *testing.T) {
	cases := map[string]string{
		"alpha#ws1": "ws1",
		"alpha":     "",
		"a#b#c":     "c",
	}
	for name, want := range cases {
		if got := Tenant(name); got != want {
			t.Errorf("Tenant(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestWorkspaceTagMatchesTenant(t *testing.T) {
	if WorkspaceTag("alpha#ws1") != Tenant("alpha#ws1") {
		t.Fatal("WorkspaceTag must extract the same suffix as Tenant")
	}
}

func TestSplitChangeValue(t *testing.T) {
	setting, label := SplitChangeValue("[ds1] isos/linux.iso:1")
	if setting != "[ds1] isos/linux.iso" || label != "1" {
		t.Fatalf("got setting=%q label=%q", setting, label)
	}

	setting, label = SplitChangeValue("novalue")
	if setting != "novalue" || label != "" {
		t.Fatalf("got setting=%q label=%q, want no label", setting, label)
	}
}

func TestParseDatastorePathFile(t *testing.T) {
	p, err := ParseDatastorePath("[ds1] ws1/sub/a.vmdk")
	if err != nil {
		t.Fatalf("ParseDatastorePath: %v", err)
	}
	if p.Datastore != "ds1" || p.TopLevelFolder != "ws1" || p.FolderPath != "ws1/sub" || p.File != "a.vmdk" {
		t.Fatalf("got %+v", p)
	}
	if got := p.String(); got != "[ds1] ws1/sub/a.vmdk" {
		t.Fatalf("String() round trip = %q", got)
	}
}

func TestParseDatastorePathFolderOnly(t *testing.T) {
	p, err := ParseDatastorePath("[ds1] ws1/sub")
	if err != nil {
		t.Fatalf("ParseDatastorePath: %v", err)
	}
	if p.TopLevelFolder != "ws1" || p.FolderPath != "ws1/sub" || p.File != "" {
		t.Fatalf("got %+v", p)
	}
}

func TestParseDatastorePathRequiresBrackets(t *testing.T) {
	if _, err := ParseDatastorePath("ws1/sub/a.vmdk"); err == nil {
		t.Fatal("expected an error for a path missing '[datastore]'")
	}
}

func TestVmCloneIsIndependent(t *testing.T) {
	original := &Vm{
		ID:       "vm-1",
		Question: &VmQuestion{ID: "q1"},
		Task:     &VmTask{Name: "Reconfigure", Progress: 50},
	}
	clone := original.Clone()

	clone.Question.ID = "q2"
	clone.Task.Progress = 100

	if original.Question.ID != "q1" {
		t.Fatal("mutating the clone's Question leaked into the original")
	}
	if original.Task.Progress != 50 {
		t.Fatal("mutating the clone's Task leaked into the original")
	}
}

func TestVmCloneNil(t *testing.T) {
	var v *Vm
	if v.Clone() != nil {
		t.Fatal("Clone of a nil Vm should be nil")
	}
}
