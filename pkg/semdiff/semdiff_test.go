package semdiff

import "testing"

func TestDiffIdenticalConfigsIsEmpty(t *testing.T) {
	c := "interface Gi0/1\n description uplink\n!\nip routing\n"
	if diffs := Diff(c, c); len(diffs) != 0 {
		t.Fatalf("expected no diffs for identical configs, got %+v", diffs)
	}
}

func TestDiffDetectsModifiedSection(t *testing.T) {
	before := "interface Gi0/1\n description old\n"
	after := "interface Gi0/1\n description new\n"

	diffs := Diff(before, after)
	if len(diffs) != 1 {
		t.Fatalf("expected 1 diff entry, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Section != "interface Gi0/1" || diffs[0].ChangeType != Modified {
		t.Fatalf("unexpected diff entry: %+v", diffs[0])
	}
}

func TestDiffDetectsAddedAndRemoved(t *testing.T) {
	before := "interface Gi0/1\n description old\n"
	after := "interface Gi0/2\n description new\n"

	diffs := Diff(before, after)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diff entries, got %d: %+v", len(diffs), diffs)
	}
	if diffs[0].Section != "interface Gi0/2" || diffs[0].ChangeType != Added {
		t.Fatalf("expected ADDED first (after-order), got %+v", diffs[0])
	}
	if diffs[1].Section != "interface Gi0/1" || diffs[1].ChangeType != Removed {
		t.Fatalf("expected REMOVED second, got %+v", diffs[1])
	}
}

func TestDiffIgnoresWithinSectionOrdering(t *testing.T) {
	before := "interface Gi0/1\n description uplink\n ip address 10.0.0.1 255.255.255.0\n"
	after := "interface Gi0/1\n ip address 10.0.0.1 255.255.255.0\n description uplink\n"

	if diffs := Diff(before, after); len(diffs) != 0 {
		t.Fatalf("expected no diffs when only within-section order changes, got %+v", diffs)
	}
}

func TestDiffIgnoresComments(t *testing.T) {
	before := "! this is a comment\ninterface Gi0/1\n description uplink\n"
	after := "! this is a different comment\ninterface Gi0/1\n description uplink\n"

	if diffs := Diff(before, after); len(diffs) != 0 {
		t.Fatalf("expected comments to be ignored, got %+v", diffs)
	}
}

func TestDiffSingleLineSections(t *testing.T) {
	before := "ip routing\n"
	after := "no ip routing\n"

	diffs := Diff(before, after)
	if len(diffs) != 2 {
		t.Fatalf("expected 2 diffs for single-line section swap, got %d: %+v", len(diffs), diffs)
	}
}

func TestDiffDeterministicOrdering(t *testing.T) {
	before := "router bgp 1\n neighbor 1.1.1.1 remote-as 2\ninterface Gi0/1\n description a\n"
	after := "interface Gi0/1\n description b\nrouter bgp 1\n neighbor 1.1.1.1 remote-as 3\n"

	d1 := Diff(before, after)
	d2 := Diff(before, after)
	if len(d1) != len(d2) {
		t.Fatalf("nondeterministic diff length")
	}
	for i := range d1 {
		if d1[i].Section != d2[i].Section || d1[i].ChangeType != d2[i].ChangeType {
			t.Fatalf("nondeterministic diff ordering at %d: %+v vs %+v", i, d1[i], d2[i])
		}
	}
	// after-order: interface Gi0/1 first, router bgp 1 second
	if d1[0].Section != "interface Gi0/1" || d1[1].Section != "router bgp 1" {
		t.Fatalf("unexpected ordering: %+v", d1)
	}
}
