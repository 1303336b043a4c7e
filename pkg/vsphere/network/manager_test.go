package network

import (
	"context"
	"testing"

	"github.com/vmware/govmomi/vim25/types"
)

func TestSelectOverlayByUplinkPrefix(t *testing.T) {
	mgr, err := Select(context.Background(), SelectInput{
		IsVCenter: true,
		Uplink:    "nsx.overlay-1",
		SDDC:      "sddc.example.com",
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := mgr.(*overlayManager); !ok {
		t.Fatalf("expected *overlayManager, got %T", mgr)
	}
}

func TestSelectOverlayByExplicitFlag(t *testing.T) {
	mgr, err := Select(context.Background(), SelectInput{
		IsVCenter:    true,
		IsNsxNetwork: true,
		Uplink:       "plain-uplink",
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := mgr.(*overlayManager); !ok {
		t.Fatalf("expected *overlayManager, got %T", mgr)
	}
}

func TestSelectDistributedRequiresDVSRef(t *testing.T) {
	if _, err := Select(context.Background(), SelectInput{IsVCenter: true, Uplink: "dvs-1"}); err == nil {
		t.Fatal("expected an error selecting the distributed manager with no resolved DVS reference")
	}

	mgr, err := Select(context.Background(), SelectInput{
		IsVCenter: true,
		Uplink:    "dvs-1",
		DVSRef:    types.ManagedObjectReference{Type: "VmwareDistributedVirtualSwitch", Value: "dvs-1"},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := mgr.(*distributedManager); !ok {
		t.Fatalf("expected *distributedManager, got %T", mgr)
	}
}

func TestSelectHostRequiresNetworkSystem(t *testing.T) {
	if _, err := Select(context.Background(), SelectInput{IsVCenter: false}); err == nil {
		t.Fatal("expected an error selecting the host manager with no resolved network system")
	}

	mgr, err := Select(context.Background(), SelectInput{
		IsVCenter:         false,
		HostNetworkSystem: types.ManagedObjectReference{Type: "HostNetworkSystem", Value: "networkSystem-1"},
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, ok := mgr.(*hostManager); !ok {
		t.Fatalf("expected *hostManager, got %T", mgr)
	}
}

func TestIsOverlayUplink(t *testing.T) {
	cases := map[string]bool{
		"nsx.segment-1": true,
		"dvs-uplink":    false,
		"nsx":           false,
		"":              false,
	}
	for in, want := range cases {
		if got := isOverlayUplink(in); got != want {
			t.Errorf("isOverlayUplink(%q) = %v, want %v", in, got, want)
		}
	}
}
