package vsphere

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// Find reloads the cache and returns every Vm whose id or name contains
// term; an empty term returns the whole cache. Per spec §4.H.Find.
func (c *Client) Find(ctx context.Context, term string) ([]*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	if err := c.reloadVmCache(ctx); err != nil {
		return nil, err
	}
	return c.inventory.Find(term), nil
}

// Start powers a VM on (idempotently) and re-pushes guestinfo
// annotations, per spec §4.H.Start.
func (c *Client) Start(ctx context.Context, id string) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("vm %s not found in cache", id)
	}
	if vm.State == PowerOn {
		return vm, nil
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return nil, err
	}

	task, err := obj.PowerOn(ctx)
	if err != nil {
		return nil, NewTransportFaultError("PowerOn", err)
	}
	if _, err := awaitTask(ctx, task, "PowerOn"); err != nil {
		if !IsAlreadyInDesiredPowerState(err, true) {
			return nil, err
		}
	}

	vm.State = PowerOn
	c.inventory.Upsert(vm)

	if _, err := c.Reconfigure(ctx, id, "guest", "", ""); err != nil {
		klog.FromContext(ctx).V(2).Info("post-start guestinfo push failed", "vm", id, "error", err)
	}

	return c.inventory.Get(id), nil
}

// Stop powers a VM off (idempotently), per spec §4.H.Stop.
func (c *Client) Stop(ctx context.Context, id string) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("vm %s not found in cache", id)
	}
	if vm.State == PowerOff {
		return vm, nil
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return nil, err
	}

	task, err := obj.PowerOff(ctx)
	if err != nil {
		return nil, NewTransportFaultError("PowerOff", err)
	}
	if _, err := awaitTask(ctx, task, "PowerOff"); err != nil {
		if !IsAlreadyInDesiredPowerState(err, false) {
			return nil, err
		}
	}

	vm.State = PowerOff
	c.inventory.Upsert(vm)
	return c.inventory.Get(id), nil
}

// Save snapshots the VM's current disk state, per spec §4.H.Save. It
// refuses when the VM carries a non-empty workspace tag whose value
// does not appear in diskPath, protecting stock (shared template) disks
// from being overwritten by a tenant's snapshot chain.
func (c *Client) Save(ctx context.Context, id string) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("vm %s not found in cache", id)
	}

	tag := WorkspaceTag(vm.Name)
	if tag != "" && !strings.Contains(vm.DiskPath, tag) {
		return nil, NewInvalidArgumentError(fmt.Sprintf("disk path %q for vm %s does not carry workspace tag %q", vm.DiskPath, id, tag))
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return nil, err
	}

	priorSnapshot, findErr := obj.FindSnapshot(ctx, "")
	hadPrior := findErr == nil && priorSnapshot != nil

	desc := time.Now().UTC().Format(time.RFC3339)
	task, err := obj.CreateSnapshot(ctx, "Root Snap", desc, false, false)
	if err != nil {
		return nil, NewTransportFaultError("CreateSnapshot", err)
	}
	if _, err := awaitTask(ctx, task, "CreateSnapshot"); err != nil {
		return nil, err
	}

	if hadPrior {
		removeTask, err := obj.RemoveSnapshot(ctx, priorSnapshot.Value, false, types.NewBool(true))
		if err != nil {
			return nil, NewTransportFaultError("RemoveSnapshot", err)
		}

		time.Sleep(500 * time.Millisecond)

		var tm mo.Task
		if perr := property.DefaultCollector(c.vimClient).RetrieveOne(ctx, removeTask.Reference(), []string{"info"}, &tm); perr == nil {
			if tm.Info.State == types.TaskInfoStateQueued || tm.Info.State == types.TaskInfoStateRunning {
				c.tasks.register(id, "RemoveSnapshot", removeTask.Reference())
				return c.inventory.Get(id), nil
			}
		}

		if _, err := awaitTask(ctx, removeTask, "RemoveSnapshot"); err != nil {
			return nil, err
		}
	}

	return c.inventory.Get(id), nil
}

// Revert reverts the VM to its current snapshot, restarting it
// afterward if it was running, per spec §4.H.Revert.
func (c *Client) Revert(ctx context.Context, id string) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("vm %s not found in cache", id)
	}
	wasRunning := vm.State == PowerOn

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return nil, err
	}

	task, err := obj.RevertToCurrentSnapshot(ctx, false)
	if err != nil {
		return nil, NewTransportFaultError("RevertToCurrentSnapshot", err)
	}
	if _, err := awaitTask(ctx, task, "RevertToCurrentSnapshot"); err != nil {
		return nil, err
	}

	vm.State = PowerOff
	c.inventory.Upsert(vm)

	if wasRunning {
		return c.Start(ctx, id)
	}
	return c.inventory.Get(id), nil
}

// Delete stops, unprovisions networking, unregisters, and removes the
// VM's disk folder, per spec §4.H.Delete. Cache removal is retried once
// after 100 ms to dodge a race with a concurrent reconcile re-adding the
// entry mid-delete.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return fmt.Errorf("vm %s not found in cache", id)
	}

	if vm.State == PowerOn {
		if _, err := c.Stop(ctx, id); err != nil {
			return err
		}
	}

	vmRef := types.ManagedObjectReference{Type: vm.Ref.Type, Value: vm.Ref.Value}
	if err := c.networkManager.Unprovision(ctx, vmRef); err != nil {
		klog.FromContext(ctx).Error(err, "network unprovision failed during delete", "vm", id)
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return err
	}

	task, err := obj.Unregister(ctx)
	if err != nil {
		return NewTransportFaultError("Unregister", err)
	}
	if err := task.Wait(ctx); err != nil {
		return NewTransportFaultError("Unregister", err)
	}

	folder := vm.Path
	if idx := strings.LastIndex(folder, "/"); idx >= 0 {
		folder = folder[:idx]
	}
	if err := c.deleteDatastoreFolder(ctx, folder); err != nil {
		klog.FromContext(ctx).Error(err, "datastore folder cleanup failed during delete", "vm", id, "folder", folder)
	}

	if vmFolder, err := c.tenantFolder(ctx, WorkspaceTag(vm.Name)); err == nil {
		if err := c.deleteVMFolderIfEmpty(ctx, vmFolder); err != nil {
			klog.FromContext(ctx).V(2).Info("tenant VM folder cleanup skipped", "vm", id, "error", err)
		}
	}

	c.inventory.Delete(id)
	if c.inventory.Get(id) != nil {
		time.Sleep(100 * time.Millisecond)
		c.inventory.Delete(id)
		if c.inventory.Get(id) != nil {
			klog.FromContext(ctx).Error(NewRaceRetryError("vm reappeared in cache after delete", nil), "cache eviction race", "vm", id)
		}
	}

	return nil
}

func (c *Client) deleteDatastoreFolder(ctx context.Context, dsPath string) error {
	parsed, err := ParseDatastorePath(dsPath)
	if err != nil {
		return err
	}
	fm := object.NewFileManager(c.vimClient)
	task, err := fm.DeleteDatastoreFile(ctx, parsed.String(), c.refs.datacenter)
	if err != nil {
		return NewTransportFaultError("DeleteDatastoreFile", err)
	}
	return task.Wait(ctx)
}

func (c *Client) vmByRef(ref ManagedRef) (*object.VirtualMachine, error) {
	if ref.IsEmpty() {
		return nil, fmt.Errorf("vm has no managed reference")
	}
	moRef := types.ManagedObjectReference{Type: ref.Type, Value: ref.Value}
	return object.NewVirtualMachine(c.vimClient, moRef), nil
}
