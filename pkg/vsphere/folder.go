package vsphere

import (
	"context"
	"fmt"
	"path"

	"github.com/vmware/govmomi/object"
	"k8s.io/klog/v2"
)

// tenantFolder returns (creating if necessary) the VM subfolder used to
// group one tenant's deployed VMs under the resolved datacenter's vm
// folder. An empty tenant names no subfolder; the datacenter's vm folder
// itself is returned.
func (c *Client) tenantFolder(ctx context.Context, tenant string) (*object.Folder, error) {
	if tenant == "" {
		return c.refs.vmFolder, nil
	}

	logger := klog.FromContext(ctx)

	fullPath := path.Join(c.refs.vmFolder.InventoryPath, tenant)
	if existing, err := c.finder.Folder(ctx, fullPath); err == nil {
		return existing, nil
	}

	folder, err := c.refs.vmFolder.CreateFolder(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant VM folder %s: %w", tenant, err)
	}
	logger.V(2).Info("created tenant VM folder", "tenant", tenant, "path", fullPath)
	return folder, nil
}

// deleteVMFolderIfEmpty removes folder if it currently has no children,
// keeping tenant folders from accumulating once their last VM is
// deleted.
func (c *Client) deleteVMFolderIfEmpty(ctx context.Context, folder *object.Folder) error {
	items, err := folder.Children(ctx)
	if err != nil {
		return fmt.Errorf("failed to list folder children: %w", err)
	}
	if len(items) > 0 {
		return nil
	}

	task, err := folder.Destroy(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete empty VM folder: %w", err)
	}
	return task.Wait(ctx)
}
