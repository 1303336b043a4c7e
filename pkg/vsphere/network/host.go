package network

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// hostManager provisions host-local virtual switch port groups on a
// standalone host's HostNetworkSystem.
type hostManager struct {
	client       *vim25.Client
	netSystemRef types.ManagedObjectReference
	netSystem    *object.HostNetworkSystem

	excludeMask *regexp.Regexp

	mu      sync.Mutex
	created map[string]bool            // port groups this manager has created
	owned   map[string]map[string]bool // portgroup -> set of vm ref values currently using it
}

func newHostManager(in SelectInput) *hostManager {
	return &hostManager{
		client:       in.VimClient,
		netSystemRef: in.HostNetworkSystem,
		excludeMask:  compileExcludeMask(in.ExcludeNetworkMask),
		created:      make(map[string]bool),
		owned:        make(map[string]map[string]bool),
	}
}

func (m *hostManager) Initialize(ctx context.Context) error {
	m.netSystem = object.NewHostNetworkSystem(m.client, m.netSystemRef)
	return nil
}

func (m *hostManager) Provision(ctx context.Context, nics []Nic) error {
	for _, n := range nics {
		if err := m.ensurePortGroup(ctx, n.Network); err != nil {
			return err
		}
	}
	return nil
}

func (m *hostManager) ProvisionAll(ctx context.Context, nics []Nic, useUplinkSwitch bool) error {
	return m.Provision(ctx, nics)
}

func (m *hostManager) ensurePortGroup(ctx context.Context, name string) error {
	logger := klog.FromContext(ctx)

	var netSys mo.HostNetworkSystem
	pc := property.DefaultCollector(m.client)
	if err := pc.RetrieveOne(ctx, m.netSystemRef, []string{"networkInfo"}, &netSys); err != nil {
		return fmt.Errorf("failed to retrieve host network info: %w", err)
	}

	for _, pg := range netSys.NetworkInfo.Portgroup {
		if pg.Spec.Name == name {
			return nil
		}
	}

	vswitch := ""
	if len(netSys.NetworkInfo.Vswitch) > 0 {
		vswitch = netSys.NetworkInfo.Vswitch[0].Name
	}

	spec := types.HostPortGroupSpec{
		Name:        name,
		VswitchName: vswitch,
		Policy:      types.HostNetworkPolicy{},
	}
	if err := m.netSystem.AddPortGroup(ctx, spec); err != nil {
		return fmt.Errorf("failed to create host port group %s: %w", name, err)
	}

	m.mu.Lock()
	m.created[name] = true
	m.mu.Unlock()

	logger.V(2).Info("created host port group", "name", name, "vswitch", vswitch)
	return nil
}

// MarkOwned records that vmRef is now using portGroupName, so Unprovision
// can later release it and Clean won't sweep it out from under a live VM.
func (m *hostManager) MarkOwned(vmRef types.ManagedObjectReference, portGroupName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners, ok := m.owned[portGroupName]
	if !ok {
		owners = make(map[string]bool)
		m.owned[portGroupName] = owners
	}
	owners[vmRef.Value] = true
}

func (m *hostManager) Unprovision(ctx context.Context, vmRef types.ManagedObjectReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pg, owners := range m.owned {
		delete(owners, vmRef.Value)
		if len(owners) == 0 {
			delete(m.owned, pg)
		}
	}
	return nil
}

func (m *hostManager) UpdateEthernetCardBacking(ctx context.Context, card types.BaseVirtualEthernetCard, portGroupName string) error {
	if err := m.ensurePortGroup(ctx, portGroupName); err != nil {
		return err
	}
	nic := card.GetVirtualEthernetCard()
	nic.Backing = &types.VirtualEthernetCardNetworkBackingInfo{
		VirtualDeviceDeviceBackingInfo: types.VirtualDeviceDeviceBackingInfo{
			DeviceName: portGroupName,
		},
	}
	return nil
}

// Clean removes port groups this manager created that no VM currently
// owns, skipping anything matching excludeMask (operator-managed groups
// this manager never created are never in m.created, so they're safe by
// construction).
func (m *hostManager) Clean(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	m.mu.Lock()
	var orphaned []string
	for name := range m.created {
		if m.excludeMask != nil && m.excludeMask.MatchString(name) {
			continue
		}
		if len(m.owned[name]) > 0 {
			continue
		}
		orphaned = append(orphaned, name)
	}
	m.mu.Unlock()

	for _, name := range orphaned {
		if err := m.netSystem.RemovePortGroup(ctx, name); err != nil {
			logger.V(2).Info("failed to remove orphaned host port group", "name", name, "error", err)
			continue
		}
		m.mu.Lock()
		delete(m.created, name)
		m.mu.Unlock()
		logger.V(2).Info("removed orphaned host port group", "name", name)
	}
	return nil
}

func compileExcludeMask(mask string) *regexp.Regexp {
	if mask == "" {
		return nil
	}
	re, err := regexp.Compile(mask)
	if err != nil {
		return regexp.MustCompile(regexp.QuoteMeta(mask))
	}
	return re
}
