package vsphere

import (
	"context"
	"testing"
)

func TestTenantFolderCreatesAndReuses(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, _ := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		folder, err := client.tenantFolder(ctx, "ws1")
		if err != nil {
			t.Fatalf("tenantFolder: %v", err)
		}

		again, err := client.tenantFolder(ctx, "ws1")
		if err != nil {
			t.Fatalf("second tenantFolder: %v", err)
		}
		if again.Reference() != folder.Reference() {
			t.Fatalf("expected the second call to reuse the existing folder, got a different reference")
		}
	})
}

func TestTenantFolderEmptyTenantReturnsRootVMFolder(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, _ := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		folder, err := client.tenantFolder(ctx, "")
		if err != nil {
			t.Fatalf("tenantFolder: %v", err)
		}
		if folder.Reference() != client.refs.vmFolder.Reference() {
			t.Fatal("expected an empty tenant to resolve to the datacenter's vm folder")
		}
	})
}

func TestDeleteVMFolderIfEmptyRemovesEmptyFolder(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, _ := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		folder, err := client.tenantFolder(ctx, "ws2")
		if err != nil {
			t.Fatalf("tenantFolder: %v", err)
		}

		if err := client.deleteVMFolderIfEmpty(ctx, folder); err != nil {
			t.Fatalf("deleteVMFolderIfEmpty: %v", err)
		}

		if _, err := client.finder.Folder(ctx, folder.InventoryPath); err == nil {
			t.Fatal("expected the empty folder to have been destroyed")
		}
	})
}
