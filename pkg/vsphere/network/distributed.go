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

// distributedManager provisions port groups on a vCenter-managed
// distributed virtual switch, bound to the switch's uuid.
type distributedManager struct {
	client *vim25.Client
	dvsRef types.ManagedObjectReference
	uuid   string

	excludeMask *regexp.Regexp

	mu      sync.Mutex
	created map[string]bool            // port groups this manager has created
	owned   map[string]map[string]bool // portgroup -> set of vm ref values currently using it
}

func newDistributedManager(in SelectInput) *distributedManager {
	return &distributedManager{
		client:      in.VimClient,
		dvsRef:      in.DVSRef,
		excludeMask: compileExcludeMask(in.ExcludeNetworkMask),
		created:     make(map[string]bool),
		owned:       make(map[string]map[string]bool),
	}
}

func (m *distributedManager) Initialize(ctx context.Context) error {
	var dvs mo.DistributedVirtualSwitch
	pc := property.DefaultCollector(m.client)
	if err := pc.RetrieveOne(ctx, m.dvsRef, []string{"uuid", "name"}, &dvs); err != nil {
		return fmt.Errorf("failed to retrieve distributed switch properties: %w", err)
	}
	m.uuid = dvs.Uuid
	return nil
}

func (m *distributedManager) Provision(ctx context.Context, nics []Nic) error {
	for _, n := range nics {
		if err := m.ensurePortGroup(ctx, n.Network); err != nil {
			return err
		}
	}
	return nil
}

func (m *distributedManager) ProvisionAll(ctx context.Context, nics []Nic, useUplinkSwitch bool) error {
	return m.Provision(ctx, nics)
}

func (m *distributedManager) ensurePortGroup(ctx context.Context, name string) error {
	logger := klog.FromContext(ctx)

	dvs := object.NewDistributedVirtualSwitch(m.client, m.dvsRef)
	var dvsProps mo.DistributedVirtualSwitch
	pc := property.DefaultCollector(m.client)
	if err := pc.RetrieveOne(ctx, m.dvsRef, []string{"portgroup"}, &dvsProps); err != nil {
		return fmt.Errorf("failed to retrieve distributed switch port groups: %w", err)
	}

	for _, ref := range dvsProps.Portgroup {
		var pg mo.DistributedVirtualPortgroup
		if err := pc.RetrieveOne(ctx, ref, []string{"name"}, &pg); err != nil {
			continue
		}
		if pg.Name == name {
			return nil
		}
	}

	spec := types.DVPortgroupConfigSpec{
		Name:     name,
		Type:     string(types.DistributedVirtualPortgroupPortgroupTypeEarlyBinding),
		NumPorts: 8,
	}
	task, err := dvs.AddPortgroup(ctx, []types.DVPortgroupConfigSpec{spec})
	if err != nil {
		return fmt.Errorf("failed to add distributed port group %s: %w", name, err)
	}
	if err := task.Wait(ctx); err != nil {
		return fmt.Errorf("failed waiting for port group %s creation: %w", name, err)
	}

	m.mu.Lock()
	m.created[name] = true
	m.mu.Unlock()

	logger.V(2).Info("created distributed port group", "name", name, "switch", m.uuid)
	return nil
}

// MarkOwned records that vmRef is now using portGroupName, so Unprovision
// can later release it and Clean won't sweep it out from under a live VM.
func (m *distributedManager) MarkOwned(vmRef types.ManagedObjectReference, portGroupName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners, ok := m.owned[portGroupName]
	if !ok {
		owners = make(map[string]bool)
		m.owned[portGroupName] = owners
	}
	owners[vmRef.Value] = true
}

func (m *distributedManager) Unprovision(ctx context.Context, vmRef types.ManagedObjectReference) error {
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

func (m *distributedManager) UpdateEthernetCardBacking(ctx context.Context, card types.BaseVirtualEthernetCard, portGroupName string) error {
	if err := m.ensurePortGroup(ctx, portGroupName); err != nil {
		return err
	}

	pgRef, err := m.findPortgroupRef(ctx, portGroupName)
	if err != nil {
		return err
	}

	nic := card.GetVirtualEthernetCard()
	nic.Backing = &types.VirtualEthernetCardDistributedVirtualPortBackingInfo{
		Port: types.DistributedVirtualSwitchPortConnection{
			SwitchUuid:   m.uuid,
			PortgroupKey: pgRef.Value,
		},
	}
	return nil
}

func (m *distributedManager) findPortgroupRef(ctx context.Context, name string) (types.ManagedObjectReference, error) {
	var dvsProps mo.DistributedVirtualSwitch
	pc := property.DefaultCollector(m.client)
	if err := pc.RetrieveOne(ctx, m.dvsRef, []string{"portgroup"}, &dvsProps); err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to retrieve distributed switch port groups: %w", err)
	}
	for _, ref := range dvsProps.Portgroup {
		var pg mo.DistributedVirtualPortgroup
		if err := pc.RetrieveOne(ctx, ref, []string{"name"}, &pg); err != nil {
			continue
		}
		if pg.Name == name {
			return ref, nil
		}
	}
	return types.ManagedObjectReference{}, fmt.Errorf("distributed port group %s not found after provisioning", name)
}

// Clean destroys distributed port groups this manager created that no VM
// currently owns, skipping anything matching excludeMask.
func (m *distributedManager) Clean(ctx context.Context) error {
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
		pgRef, err := m.findPortgroupRef(ctx, name)
		if err != nil {
			logger.V(2).Info("orphaned distributed port group already gone", "name", name, "error", err)
			m.mu.Lock()
			delete(m.created, name)
			m.mu.Unlock()
			continue
		}

		pg := object.NewDistributedVirtualPortgroup(m.client, pgRef)
		task, err := pg.Destroy(ctx)
		if err != nil {
			logger.V(2).Info("failed to remove orphaned distributed port group", "name", name, "error", err)
			continue
		}
		if err := task.Wait(ctx); err != nil {
			logger.V(2).Info("failed waiting for orphaned distributed port group removal", "name", name, "error", err)
			continue
		}

		m.mu.Lock()
		delete(m.created, name)
		m.mu.Unlock()
		logger.V(2).Info("removed orphaned distributed port group", "name", name)
	}
	return nil
}
