package vsphere

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/vmware/govmomi/view"
	"github.com/vmware/govmomi/vim25/mo"
	"k8s.io/klog/v2"
)

// InventoryStore is the process-wide VM Inventory Cache of spec §4.F: a
// mapping id -> Vm, reconciled periodically by the session monitor and
// touched incrementally by the VM operations surface. Only entries
// whose Host matches this client's configured endpoint name are owned
// by it.
type InventoryStore struct {
	host string

	mu  sync.RWMutex
	vms map[string]*Vm
}

func newInventoryStore(host string) *InventoryStore {
	return &InventoryStore{
		host: host,
		vms:  make(map[string]*Vm),
	}
}

// Get returns a clone of the cached Vm with the given id, or nil.
func (s *InventoryStore) Get(id string) *Vm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vms[id].Clone()
}

// Find returns clones of every cached Vm whose id or name contains
// term; an empty term returns all.
func (s *InventoryStore) Find(term string) []*Vm {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Vm, 0, len(s.vms))
	for _, vm := range s.vms {
		if term == "" || strings.Contains(vm.ID, term) || strings.Contains(vm.Name, term) {
			out = append(out, vm.Clone())
		}
	}
	return out
}

// Upsert writes vm into the cache, keyed by vm.ID.
func (s *InventoryStore) Upsert(vm *Vm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vms[vm.ID] = vm
}

// Delete removes id from the cache.
func (s *InventoryStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vms, id)
}

// reloadVmCache implements spec §4.F.reloadVmCache: snapshot currently
// owned ids, rebuild from a fresh properties retrieval scoped to the
// resolved pool, upsert survivors, and evict anything no longer
// observed.
func (c *Client) reloadVmCache(ctx context.Context) error {
	logger := klog.FromContext(ctx)

	owned := make(map[string]bool)
	c.inventory.mu.RLock()
	for id, vm := range c.inventory.vms {
		if vm.Host == c.cfg.Host {
			owned[id] = true
		}
	}
	c.inventory.mu.RUnlock()

	viewMgr := view.NewManager(c.vimClient)
	cv, err := viewMgr.CreateContainerView(ctx, c.refs.resourcePool.Reference(), []string{"VirtualMachine"}, true)
	if err != nil {
		return fmt.Errorf("failed to create VM container view: %w", err)
	}
	defer cv.Destroy(ctx)

	var vms []mo.VirtualMachine
	if err := cv.Retrieve(ctx, []string{"VirtualMachine"}, []string{"summary", "runtime", "snapshot", "layoutEx", "config"}, &vms); err != nil {
		return fmt.Errorf("failed to retrieve VM inventory: %w", err)
	}

	seen := make(map[string]bool, len(vms))
	for _, vmMo := range vms {
		name := vmMo.Summary.Config.Name
		if !strings.Contains(name, "#") || Tenant(name) != c.cfg.Tenant {
			continue
		}

		vm := c.loadVm(vmMo)
		seen[vm.ID] = true
		c.inventory.Upsert(vm)
	}

	for id := range owned {
		if !seen[id] {
			c.inventory.Delete(id)
		}
	}

	logger.V(2).Info("reloaded VM inventory", "count", len(seen))
	return nil
}

// loadVm builds a Vm from a properties snapshot per spec §3/§4.F,
// including the "<status> | mem-N% cpu-N%" stats summary.
func (c *Client) loadVm(vmMo mo.VirtualMachine) *Vm {
	state := PowerOff
	if vmMo.Summary.Runtime.PowerState == "poweredOn" {
		state = PowerOn
	}

	id := vmMo.Summary.Config.InstanceUuid
	if id == "" {
		id = vmMo.Reference().Value
	}

	var diskPath string
	if vmMo.LayoutEx != nil {
		for _, f := range vmMo.LayoutEx.File {
			if f.Type == "diskDescriptor" {
				diskPath = f.Name
				break
			}
		}
	}

	vm := &Vm{
		ID:       id,
		Name:     vmMo.Summary.Config.Name,
		Host:     c.cfg.Host,
		Path:     vmMo.Summary.Config.VmPathName,
		DiskPath: diskPath,
		State:    state,
		Ref:      ManagedRef{Type: vmMo.Reference().Type, Value: vmMo.Reference().Value},
		Stats:    formatVmStats(vmMo),
		Status:   StatusDeployed,
	}

	return vm
}

func formatVmStats(vmMo mo.VirtualMachine) string {
	memPct := percentOf(float64(vmMo.Summary.QuickStats.GuestMemoryUsage), float64(vmMo.Summary.QuickStats.HostMemoryUsage)+1)
	if vmMo.Summary.Config.MemorySizeMB > 0 {
		memPct = percentOf(float64(vmMo.Summary.QuickStats.GuestMemoryUsage), float64(vmMo.Summary.Config.MemorySizeMB))
	}
	cpuPct := 0.0
	if vmMo.Summary.Runtime.MaxCpuUsage > 0 {
		cpuPct = percentOf(float64(vmMo.Summary.QuickStats.OverallCpuUsage), float64(vmMo.Summary.Runtime.MaxCpuUsage))
	}
	return fmt.Sprintf("%s | mem-%d%% cpu-%d%%", vmMo.Summary.OverallStatus, int(math.Round(memPct)), int(math.Round(cpuPct)))
}

func percentOf(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return (part / whole) * 100
}
