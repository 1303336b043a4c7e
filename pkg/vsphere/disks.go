package vsphere

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"
)

var blankDiskPattern = regexp.MustCompile(`blank-(\d+)-([^.]+)\.vmdk$`)

// CloneDisk implements spec §4.H.CloneDisk: ensure dest's parent
// directories exist, then either create a thin disk from a recognized
// "blank-NN-adapter.vmdk" src pattern, or copy src to dest. The
// resulting task is registered under _taskMap[dest] after a 1 s delay,
// to dodge the empty-TaskInfo race some hypervisor builds exhibit right
// after a task is created.
func (c *Client) CloneDisk(ctx context.Context, src, dest string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	if err := c.makeDirectories(ctx, dest); err != nil {
		return err
	}

	dm := object.NewVirtualDiskManager(c.vimClient)

	var task *object.Task
	var err error

	if m := blankDiskPattern.FindStringSubmatch(src); m != nil {
		sizeGB, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return fmt.Errorf("invalid blank disk size in %q: %w", src, convErr)
		}
		controller := normalizeController(m[2])

		spec := &types.FileBackedVirtualDiskSpec{
			VirtualDiskSpec: types.VirtualDiskSpec{
				AdapterType: controller,
				DiskType:    string(types.VirtualDiskTypeThin),
			},
			CapacityKb: int64(sizeGB) * 1024 * 1024,
		}
		task, err = dm.CreateVirtualDisk(ctx, dest, c.refs.datacenter, spec)
	} else {
		task, err = dm.CopyVirtualDisk(ctx, src, c.refs.datacenter, dest, c.refs.datacenter, nil, false)
	}
	if err != nil {
		return NewTransportFaultError("CloneDisk", err)
	}

	time.Sleep(1 * time.Second)
	c.tasks.registerByID(dest, task.Reference())
	return nil
}

// CreateDisk is a straightforward RPC proxy to createVirtualDisk, per
// spec §4.H.CreateDisk.
func (c *Client) CreateDisk(ctx context.Context, path string, sizeGB int, controller string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	dm := object.NewVirtualDiskManager(c.vimClient)
	spec := &types.FileBackedVirtualDiskSpec{
		VirtualDiskSpec: types.VirtualDiskSpec{
			AdapterType: normalizeController(controller),
			DiskType:    string(types.VirtualDiskTypeThin),
		},
		CapacityKb: int64(sizeGB) * 1024 * 1024,
	}
	task, err := dm.CreateVirtualDisk(ctx, path, c.refs.datacenter, spec)
	if err != nil {
		return NewTransportFaultError("CreateVirtualDisk", err)
	}
	_, err = awaitTask(ctx, task, "CreateVirtualDisk")
	return err
}

// AttachDisk creates a new virtual disk file and attaches it to id's
// existing SCSI controller, reusing whichever controller the VM was
// deployed with and the lowest free unit number on it. Adapted from the
// teacher's FCD attach path (vm_relocate.go's controller/unit lookup),
// but against a plain datastore-file disk instead of a first-class disk.
func (c *Client) AttachDisk(ctx context.Context, id, path string, sizeGB int) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return fmt.Errorf("vm %s not found in cache", id)
	}
	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return err
	}

	controllerKey, err := scsiControllerKey(ctx, obj)
	if err != nil {
		return err
	}
	unitNumber, err := nextFreeUnitNumber(ctx, obj, controllerKey)
	if err != nil {
		return err
	}

	if err := c.CreateDisk(ctx, path, sizeGB, "lsiLogic"); err != nil {
		return err
	}

	spec := newDiskDeviceSpec(controllerKey, unitNumber, path, sizeGB, false)
	task, err := obj.Reconfigure(ctx, types.VirtualMachineConfigSpec{
		DeviceChange: []types.BaseVirtualDeviceConfigSpec{spec},
	})
	if err != nil {
		return NewTransportFaultError("Reconfigure", err)
	}
	_, err = awaitTask(ctx, task, "Reconfigure")
	return err
}

// DeleteDisk is a straightforward RPC proxy to deleteVirtualDisk, per
// spec §4.H.DeleteDisk.
func (c *Client) DeleteDisk(ctx context.Context, path string) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	dm := object.NewVirtualDiskManager(c.vimClient)
	task, err := dm.DeleteVirtualDisk(ctx, path, c.refs.datacenter)
	if err != nil {
		return NewTransportFaultError("DeleteVirtualDisk", err)
	}
	_, err = awaitTask(ctx, task, "DeleteVirtualDisk")
	return err
}

// TaskProgress exposes the async id-keyed progress view registered by
// CloneDisk, per spec §4.E.
func (c *Client) TaskProgress(id string) int32 {
	return c.tasks.taskProgress(id)
}

func (c *Client) makeDirectories(ctx context.Context, dsPath string) error {
	parsed, err := ParseDatastorePath(dsPath)
	if err != nil {
		return err
	}
	dirPath := fmt.Sprintf("[%s] %s", parsed.Datastore, parsed.FolderPath)
	fm := object.NewFileManager(c.vimClient)
	if err := fm.MakeDirectory(ctx, dirPath, c.refs.datacenter, true); err != nil {
		return NewTransportFaultError("MakeDirectory", err)
	}
	return nil
}

// GetFiles lists files under dsPath, per spec §4.C/§4.H.
func (c *Client) GetFiles(ctx context.Context, dsPath string, recursive bool) ([]string, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c.getFiles(ctx, dsPath, recursive)
}

// FolderExists reports whether dsPath's folder exists, per spec §4.C.
func (c *Client) FolderExists(ctx context.Context, dsPath string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	return c.folderExists(ctx, dsPath)
}

// FileExists reports whether dsPath names an existing file, per spec §4.C.
func (c *Client) FileExists(ctx context.Context, dsPath string) (bool, error) {
	if err := c.Connect(ctx); err != nil {
		return false, err
	}
	return c.fileExists(ctx, dsPath)
}
