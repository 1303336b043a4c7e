package vsphere

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"

	"github.com/openshift/vsphere-hypervisor-client/pkg/vsphere/network"
)

// Deploy provisions networking, builds a VirtualMachineConfigSpec from
// template, creates the VM in the resolved pool, loads it into the
// cache, snapshots it, and optionally starts it. Per spec §4.H.Deploy.
func (c *Client) Deploy(ctx context.Context, template VmTemplate) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	nics := make([]network.Nic, 0, len(template.Nics))
	for _, n := range template.Nics {
		nics = append(nics, network.Nic{Network: n.Network})
	}
	if err := c.networkManager.Provision(ctx, nics); err != nil {
		return nil, fmt.Errorf("network provisioning failed: %w", err)
	}

	spec, err := c.buildConfigSpec(ctx, template)
	if err != nil {
		return nil, err
	}

	folder, err := c.tenantFolder(ctx, c.cfg.Tenant)
	if err != nil {
		return nil, err
	}
	task, err := folder.CreateVM(ctx, *spec, c.refs.resourcePool, nil)
	if err != nil {
		return nil, NewTransportFaultError("CreateVM", err)
	}
	info, err := awaitTask(ctx, task, "CreateVM")
	if err != nil {
		return nil, err
	}

	vmRef, ok := info.Result.(types.ManagedObjectReference)
	if !ok {
		return nil, fmt.Errorf("CreateVM did not return a VM reference")
	}
	obj := object.NewVirtualMachine(c.vimClient, vmRef)
	for _, n := range nics {
		c.networkManager.MarkOwned(vmRef, n.Network)
	}

	var vmMo mo.VirtualMachine
	if err := obj.Properties(ctx, vmRef, []string{"summary", "runtime", "snapshot", "layoutEx", "config"}, &vmMo); err != nil {
		return nil, fmt.Errorf("failed to load newly created VM: %w", err)
	}
	vm := c.loadVm(vmMo)
	vm.Status = StatusInitialized
	c.inventory.Upsert(vm)

	if err := c.applyHostAffinityTag(ctx, template.HostAffinityTag, obj); err != nil {
		return nil, err
	}

	snapTask, err := obj.CreateSnapshot(ctx, "Root Snap", time.Now().UTC().Format(time.RFC3339), false, false)
	if err != nil {
		return nil, NewTransportFaultError("CreateSnapshot", err)
	}
	if _, err := awaitTask(ctx, snapTask, "CreateSnapshot"); err != nil {
		return nil, err
	}

	vm.Status = StatusDeployed
	c.inventory.Upsert(vm)

	if template.AutoStart {
		return c.Start(ctx, vm.ID)
	}
	return c.inventory.Get(vm.ID), nil
}

func (c *Client) buildConfigSpec(ctx context.Context, template VmTemplate) (*types.VirtualMachineConfigSpec, error) {
	vmStorePath := strings.ReplaceAll(c.cfg.VmStore, "{host}", c.cfg.HostLabel())

	spec := &types.VirtualMachineConfigSpec{
		Name:     template.Name,
		GuestId:  template.GuestID,
		NumCPUs:  template.NumCPUs,
		MemoryMB: template.MemoryMB,
		Files: &types.VirtualMachineFileInfo{
			VmPathName: vmStorePath,
		},
	}

	var devices []types.BaseVirtualDeviceConfigSpec

	if len(template.Disks) > 0 {
		controller, err := newSCSIController(template.Disks[0].Controller)
		if err != nil {
			return nil, err
		}
		devices = append(devices, &types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationAdd,
			Device:    controller,
		})
		controllerKey := controller.GetVirtualDevice().Key
		for i, d := range template.Disks {
			diskPath := strings.ReplaceAll(d.Path, "{host}", c.cfg.HostLabel())
			devices = append(devices, newDiskDeviceSpec(controllerKey, int32(i), diskPath, d.SizeGB, true))
		}
	}

	nicCards := make([]types.BaseVirtualEthernetCard, 0, len(template.Nics))
	for range template.Nics {
		nicSpec := newEthernetCardSpec()
		devices = append(devices, nicSpec)
		nicCards = append(nicCards, nicSpec.Device.(types.BaseVirtualEthernetCard))
	}

	if template.ISO != "" {
		devices = append(devices, newCDRomSpec(template.ISO))
	}

	var extraConfig []types.BaseOptionValue
	for k, v := range template.GuestInfo {
		extraConfig = append(extraConfig, &types.OptionValue{Key: "guestinfo." + k, Value: v})
	}
	spec.ExtraConfig = extraConfig

	for i, nic := range template.Nics {
		if err := c.networkManager.UpdateEthernetCardBacking(ctx, nicCards[i], nic.Network); err != nil {
			return nil, fmt.Errorf("failed to set NIC backing: %w", err)
		}
	}

	spec.DeviceChange = devices
	return spec, nil
}

// Change splits value on ':' into (setting, deviceLabel) and dispatches
// to Reconfigure, per spec §4.H.Change.
func (c *Client) Change(ctx context.Context, id string, kv VmKeyValue) (*Vm, error) {
	setting, label := SplitChangeValue(kv.Value)
	return c.Reconfigure(ctx, id, kv.Key, label, setting)
}

// Reconfigure mutates one device or VM-level setting and issues a
// reconfigure, per spec §4.H.Reconfigure.
func (c *Client) Reconfigure(ctx context.Context, id, feature, label, value string) (*Vm, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return nil, fmt.Errorf("vm %s not found in cache", id)
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return nil, err
	}

	var vmMo mo.VirtualMachine
	if err := obj.Properties(ctx, obj.Reference(), []string{"config.hardware.device", "config.annotation"}, &vmMo); err != nil {
		return nil, fmt.Errorf("failed to load VM devices: %w", err)
	}

	spec := types.VirtualMachineConfigSpec{}

	switch feature {
	case "iso":
		cdrom, err := findDeviceByFeature(vmMo.Config.Hardware.Device, "VirtualCdrom", label)
		if err != nil {
			return nil, err
		}
		card := cdrom.(*types.VirtualCdrom)
		card.Backing = &types.VirtualCdromIsoBackingInfo{
			VirtualDeviceFileBackingInfo: types.VirtualDeviceFileBackingInfo{FileName: value},
		}
		card.Connectable = &types.VirtualDeviceConnectInfo{Connected: true, StartConnected: true}
		spec.DeviceChange = []types.BaseVirtualDeviceConfigSpec{&types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationEdit,
			Device:    card,
		}}

	case "net", "eth":
		nicDev, err := findDeviceByFeature(vmMo.Config.Hardware.Device, "net", label)
		if err != nil {
			return nil, err
		}
		card := nicDev.(types.BaseVirtualEthernetCard).GetVirtualEthernetCard()
		if strings.HasPrefix(value, "_none_") {
			card.Connectable = &types.VirtualDeviceConnectInfo{Connected: false, StartConnected: false}
		} else {
			if err := c.networkManager.UpdateEthernetCardBacking(ctx, nicDev.(types.BaseVirtualEthernetCard), value); err != nil {
				return nil, err
			}
			c.networkManager.MarkOwned(vm.Ref, value)
			card.Connectable = &types.VirtualDeviceConnectInfo{Connected: true, StartConnected: true}
		}
		spec.DeviceChange = []types.BaseVirtualDeviceConfigSpec{(&types.VirtualDeviceConfigSpec{
			Operation: types.VirtualDeviceConfigSpecOperationEdit,
			Device:    nicDev,
		})}

	case "boot":
		delay, _ := strconv.ParseInt(value, 10, 64)
		spec.BootOptions = &types.VirtualMachineBootOptions{BootDelay: delay}

	case "guest":
		annotation := vmMo.Config.Annotation
		if value != "" {
			if !strings.HasSuffix(value, "\n") {
				value += "\n"
			}
			annotation += value
		}
		spec.Annotation = annotation

		if vm.State == PowerOn {
			var extra []types.BaseOptionValue
			for _, line := range splitAnyNewline(annotation) {
				if k, v, ok := strings.Cut(line, "="); ok {
					extra = append(extra, &types.OptionValue{Key: "guestinfo." + k, Value: v})
				}
			}
			spec.ExtraConfig = extra
		}

	default:
		return nil, NewInvalidArgumentError("unknown reconfigure feature " + feature)
	}

	task, err := obj.Reconfigure(ctx, spec)
	if err != nil {
		return nil, NewTransportFaultError("Reconfigure", err)
	}
	if _, err := awaitTask(ctx, task, "Reconfigure"); err != nil {
		return nil, err
	}

	var refreshed mo.VirtualMachine
	if err := obj.Properties(ctx, obj.Reference(), []string{"summary", "runtime", "snapshot", "layoutEx", "config"}, &refreshed); err != nil {
		return nil, fmt.Errorf("failed to reload VM after reconfigure: %w", err)
	}
	newVm := c.loadVm(refreshed)
	newVm.Status = vm.Status
	c.inventory.Upsert(newVm)
	return c.inventory.Get(newVm.ID), nil
}

func splitAnyNewline(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func findDeviceByFeature(devices []types.BaseVirtualDevice, kind, label string) (types.BaseVirtualDevice, error) {
	var matches []types.BaseVirtualDevice
	for _, d := range devices {
		switch kind {
		case "VirtualCdrom":
			if _, ok := d.(*types.VirtualCdrom); ok {
				matches = append(matches, d)
			}
		case "net":
			if _, ok := d.(types.BaseVirtualEthernetCard); ok {
				matches = append(matches, d)
			}
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no %s device found", kind)
	}
	if label == "" {
		return matches[0], nil
	}
	idx, err := strconv.Atoi(label)
	if err != nil || idx < 0 || idx >= len(matches) {
		for _, d := range matches {
			if d.GetVirtualDevice().DeviceInfo != nil && d.GetVirtualDevice().DeviceInfo.GetDescription().Label == label {
				return d, nil
			}
		}
		return nil, fmt.Errorf("device label %s not found among %s devices", label, kind)
	}
	return matches[idx], nil
}

// GetTicket acquires an MKS/webmks ticket and returns the wss:// URL the
// caller uses to open a console session, per spec §4.H.GetTicket.
func (c *Client) GetTicket(ctx context.Context, id string) (string, error) {
	if err := c.Connect(ctx); err != nil {
		return "", err
	}

	vm := c.inventory.Get(id)
	if vm == nil {
		return "", fmt.Errorf("vm %s not found in cache", id)
	}

	obj, err := c.vmByRef(vm.Ref)
	if err != nil {
		return "", err
	}

	ticket, err := obj.AcquireTicket(ctx, string(types.VirtualMachineTicketTypeWebmks))
	if err != nil {
		return "", NewTransportFaultError("AcquireTicket", err)
	}

	host := ticket.Host
	if host == "" {
		host = c.cfg.Host
	}
	if ticket.Port != 0 && ticket.Port != 443 {
		return fmt.Sprintf("wss://%s:%d/ticket/%s", host, ticket.Port, ticket.Ticket), nil
	}
	return fmt.Sprintf("wss://%s/ticket/%s", host, ticket.Ticket), nil
}

// AnswerVmQuestion submits answer to a pending VM question and clears
// it from the cache, per spec §4.H.AnswerVmQuestion.
func (c *Client) AnswerVmQuestion(ctx context.Context, id, questionID, answer string) error {
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

	if err := obj.Answer(ctx, questionID, answer); err != nil {
		return NewTransportFaultError("AnswerVM", err)
	}

	vm.Question = nil
	c.inventory.Upsert(vm)
	return nil
}
