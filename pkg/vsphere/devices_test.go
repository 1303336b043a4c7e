package vsphere

import (
	"testing"

	"github.com/vmware/govmomi/vim25/types"
)

func TestNormalizeController(t *testing.T) {
	cases := map[string]string{
		"lsilogic":    "lsiLogic",
		"lsiLogic":    "lsiLogic",
		"lsilogicsas": "lsiLogicSAS",
		"buslogic":    "busLogic",
		"pvscsi":      "paravirtual",
		"paravirtual": "paravirtual",
		"unknown":     "unknown",
	}
	for in, want := range cases {
		if got := normalizeController(in); got != want {
			t.Errorf("normalizeController(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewSCSIControllerDialects(t *testing.T) {
	for _, dialect := range []string{"lsilogic", "lsilogicsas", "buslogic", "pvscsi"} {
		dev, err := newSCSIController(dialect)
		if err != nil {
			t.Fatalf("newSCSIController(%q): %v", dialect, err)
		}
		if dev.GetVirtualDevice().Key != -100 {
			t.Fatalf("expected placeholder key -100 for %q, got %d", dialect, dev.GetVirtualDevice().Key)
		}
	}
}

func TestNewSCSIControllerUnknownDialect(t *testing.T) {
	if _, err := newSCSIController("nonsense"); err == nil {
		t.Fatal("expected an InvalidArgumentError for an unrecognized controller dialect")
	}
}

func TestNewDiskDeviceSpecIsThinProvisioned(t *testing.T) {
	spec := newDiskDeviceSpec(1000, 2, "[ds1] ws1/a.vmdk", 40, true)
	disk, ok := spec.Device.(*types.VirtualDisk)
	if !ok {
		t.Fatalf("expected *types.VirtualDisk, got %T", spec.Device)
	}
	if disk.CapacityInKB != 40*1024*1024 {
		t.Fatalf("got capacity %d KB, want %d KB", disk.CapacityInKB, 40*1024*1024)
	}
	if disk.UnitNumber == nil || *disk.UnitNumber != 2 {
		t.Fatal("unit number not set correctly")
	}
	backing, ok := disk.Backing.(*types.VirtualDiskFlatVer2BackingInfo)
	if !ok {
		t.Fatalf("expected flat ver2 backing, got %T", disk.Backing)
	}
	if backing.ThinProvisioned == nil || !*backing.ThinProvisioned {
		t.Fatal("expected a thin-provisioned disk")
	}
	if backing.FileName != "[ds1] ws1/a.vmdk" {
		t.Fatalf("unexpected backing file name %q", backing.FileName)
	}
	if spec.FileOperation != types.VirtualDeviceConfigSpecFileOperationCreate {
		t.Fatalf("expected createFile=true to request file creation, got %q", spec.FileOperation)
	}
}

func TestNewDiskDeviceSpecAttachExistingFileSetsNoFileOperation(t *testing.T) {
	spec := newDiskDeviceSpec(1000, 2, "[ds1] ws1/a.vmdk", 40, false)
	if spec.FileOperation != "" {
		t.Fatalf("expected createFile=false to leave FileOperation unset, got %q", spec.FileOperation)
	}
}

func TestNewCDRomSpecConnectsOnStart(t *testing.T) {
	spec := newCDRomSpec("[ds1] isos/linux.iso")
	cdrom, ok := spec.Device.(*types.VirtualCdrom)
	if !ok {
		t.Fatalf("expected *types.VirtualCdrom, got %T", spec.Device)
	}
	if !cdrom.Connectable.Connected || !cdrom.Connectable.StartConnected {
		t.Fatal("expected the CD-ROM to be connected and start-connected")
	}
	backing, ok := cdrom.Backing.(*types.VirtualCdromIsoBackingInfo)
	if !ok {
		t.Fatalf("expected ISO backing, got %T", cdrom.Backing)
	}
	if backing.FileName != "[ds1] isos/linux.iso" {
		t.Fatalf("unexpected ISO file name %q", backing.FileName)
	}
}
