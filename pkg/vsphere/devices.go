package vsphere

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// scsiControllerKey returns the key of vm's first SCSI controller,
// regardless of dialect (lsiLogic, lsiLogicSAS, busLogic, paravirtual).
func scsiControllerKey(ctx context.Context, vm *object.VirtualMachine) (int32, error) {
	var vmMo mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"config.hardware.device"}, &vmMo); err != nil {
		return 0, fmt.Errorf("failed to get VM hardware devices: %w", err)
	}

	for _, device := range vmMo.Config.Hardware.Device {
		switch d := device.(type) {
		case *types.ParaVirtualSCSIController:
			return d.Key, nil
		case *types.VirtualLsiLogicController:
			return d.Key, nil
		case *types.VirtualLsiLogicSASController:
			return d.Key, nil
		case *types.VirtualBusLogicController:
			return d.Key, nil
		}
	}
	return 0, fmt.Errorf("no SCSI controller found on VM")
}

// nextFreeUnitNumber finds the lowest unused unit number on the named
// SCSI controller, skipping unit 7 which is reserved for the controller
// itself.
func nextFreeUnitNumber(ctx context.Context, vm *object.VirtualMachine, controllerKey int32) (int32, error) {
	var vmMo mo.VirtualMachine
	if err := vm.Properties(ctx, vm.Reference(), []string{"config.hardware.device"}, &vmMo); err != nil {
		return 0, fmt.Errorf("failed to get VM hardware devices: %w", err)
	}

	used := make(map[int32]bool)
	for _, device := range vmMo.Config.Hardware.Device {
		if disk, ok := device.(*types.VirtualDisk); ok {
			if disk.ControllerKey == controllerKey && disk.UnitNumber != nil {
				used[*disk.UnitNumber] = true
			}
		}
	}

	for i := int32(0); i < 16; i++ {
		if i == 7 {
			continue
		}
		if !used[i] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no free unit numbers available on controller %d", controllerKey)
}

// newSCSIController builds a controller device spec for the given
// dialect, normalizing the input controller name.
func newSCSIController(controllerType string) (types.BaseVirtualDevice, error) {
	key := int32(-100)
	busNumber := int32(0)
	sharedBus := types.VirtualSCSISharing(types.VirtualSCSISharingNoSharing)

	base := types.VirtualSCSIController{
		VirtualController: types.VirtualController{
			VirtualDevice: types.VirtualDevice{Key: key},
			BusNumber:     busNumber,
		},
		SharedBus: sharedBus,
	}

	switch normalizeController(controllerType) {
	case "lsiLogic":
		return &types.VirtualLsiLogicController{VirtualSCSIController: base}, nil
	case "lsiLogicSAS":
		return &types.VirtualLsiLogicSASController{VirtualSCSIController: base}, nil
	case "busLogic":
		return &types.VirtualBusLogicController{VirtualSCSIController: base}, nil
	case "paravirtual":
		return &types.ParaVirtualSCSIController{VirtualSCSIController: base}, nil
	default:
		return nil, NewInvalidArgumentError("unknown disk controller type " + controllerType)
	}
}

// normalizeController maps the loose spellings accepted in VmDisk.Controller
// and CloneDisk's blank-NN pattern ("lsilogic", "buslogic") onto the
// canonical SDK dialect names.
func normalizeController(controller string) string {
	switch controller {
	case "lsilogic", "lsiLogic":
		return "lsiLogic"
	case "lsilogicsas", "lsiLogicSAS":
		return "lsiLogicSAS"
	case "buslogic", "busLogic":
		return "busLogic"
	case "paravirtual", "pvscsi":
		return "paravirtual"
	default:
		return controller
	}
}

// newDiskDeviceSpec builds an add-operation device spec for a new
// virtual disk backed by the given datastore path. Set createFile when
// the backing file doesn't exist yet and Reconfigure should create it;
// leave it false when attaching a disk file created separately (e.g.
// via CreateDisk), since FileOperationCreate against an already-present
// file fails.
func newDiskDeviceSpec(controllerKey, unitNumber int32, path string, sizeGB int, createFile bool) *types.VirtualDeviceConfigSpec {
	disk := &types.VirtualDisk{
		VirtualDevice: types.VirtualDevice{
			Key:           -200,
			ControllerKey: controllerKey,
			UnitNumber:    &unitNumber,
			Backing: &types.VirtualDiskFlatVer2BackingInfo{
				DiskMode:        string(types.VirtualDiskModePersistent),
				ThinProvisioned: types.NewBool(true),
				VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{
					FileName: path,
				},
			},
		},
		CapacityInKB: int64(sizeGB) * 1024 * 1024,
	}
	spec := &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    disk,
	}
	if createFile {
		spec.FileOperation = types.VirtualDeviceConfigSpecFileOperationCreate
	}
	return spec
}

// newEthernetCardSpec builds an add-operation device spec for a new
// vmxnet3 NIC; its Backing is filled in by the network manager.
func newEthernetCardSpec() *types.VirtualDeviceConfigSpec {
	nic := &types.VirtualVmxnet3{
		VirtualEthernetCard: types.VirtualEthernetCard{
			VirtualDevice: types.VirtualDevice{Key: -300},
		},
	}
	return &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    nic,
	}
}

func newCDRomSpec(iso string) *types.VirtualDeviceConfigSpec {
	cdrom := &types.VirtualCdrom{
		VirtualDevice: types.VirtualDevice{
			Key: -400,
			Backing: &types.VirtualCdromIsoBackingInfo{
				VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{
					FileName: iso,
				},
			},
			Connectable: &types.VirtualDeviceConnectInfo{
				StartConnected:    true,
				Connected:         true,
				AllowGuestControl: true,
			},
		},
	}
	return &types.VirtualDeviceConfigSpec{
		Operation: types.VirtualDeviceConfigSpecOperationAdd,
		Device:    cdrom,
	}
}
