package vsphere

import (
	"context"
	"testing"

	_ "github.com/vmware/govmomi/vapi/simulator" // registers the REST tagging endpoints vcsim needs for tags.Manager
)

func TestApplyHostAffinityTagNoopWithoutAffinityTag(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, id := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		vm := client.inventory.Get(id)
		obj, err := client.vmByRef(vm.Ref)
		if err != nil {
			t.Fatalf("vmByRef: %v", err)
		}

		if err := client.applyHostAffinityTag(ctx, "", obj); err != nil {
			t.Fatalf("applyHostAffinityTag with an empty tag should be a no-op, got: %v", err)
		}
	})
}

func TestApplyHostAffinityTagAttachesTag(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, id := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		if client.tagManager == nil {
			t.Skip("REST tag manager unavailable against this simulator build")
		}

		vm := client.inventory.Get(id)
		obj, err := client.vmByRef(vm.Ref)
		if err != nil {
			t.Fatalf("vmByRef: %v", err)
		}

		const affinityTag = "rack-a"
		if err := client.applyHostAffinityTag(ctx, affinityTag, obj); err != nil {
			t.Fatalf("applyHostAffinityTag: %v", err)
		}

		attached, err := client.tagManager.GetAttachedTags(ctx, obj)
		if err != nil {
			t.Fatalf("GetAttachedTags: %v", err)
		}
		found := false
		for _, tg := range attached {
			if tg.Name == affinityTag {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected tag %q to be attached, got %+v", affinityTag, attached)
		}

		// Calling again must reuse the existing category/tag rather than
		// erroring on a duplicate create.
		if err := client.applyHostAffinityTag(ctx, affinityTag, obj); err != nil {
			t.Fatalf("second applyHostAffinityTag: %v", err)
		}
	})
}
