package vsphere

import (
	"context"
	"testing"
)

func TestSetAffinityReconfiguresClusterAndStarts(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, ids := tenantTaggedClientN(t, ctx, server, 2)
		defer client.Disconnect(ctx)

		if !client.cfg.IsVCenter {
			t.Fatal("vcsim's VPX model should report as a vCenter endpoint")
		}

		if err := client.SetAffinity(ctx, "rack-a", ids, true); err != nil {
			t.Fatalf("SetAffinity: %v", err)
		}

		for _, id := range ids {
			vm := client.inventory.Get(id)
			if vm.State != PowerOn {
				t.Fatalf("expected vm %s to be powered on after SetAffinity(start=true), got %v", id, vm.State)
			}
		}
	})
}

func TestSetAffinityUnknownVmErrors(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, ids := tenantTaggedClientN(t, ctx, server, 1)
		defer client.Disconnect(ctx)

		if err := client.SetAffinity(ctx, "rack-a", append(ids, "does-not-exist"), false); err == nil {
			t.Fatal("expected an error when one of the vm ids is unknown")
		}
	})
}
