package vsphere

import (
	"context"
	"fmt"
	"strings"

	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
)

// refs holds the managed-object references resolved once per Connect,
// per spec §4.B. Everything downstream (datastore browser, network
// manager, deploy) is built against these rather than re-resolving by
// name on every call.
type refs struct {
	datacenter   *object.Datacenter
	cluster      *object.ComputeResource
	resourcePool *object.ResourcePool
	vmFolder     *object.Folder

	dvsRef            types.ManagedObjectReference
	hostNetworkSystem types.ManagedObjectReference
}

// resolveReferences implements the traversal of spec §4.B: from a
// configured "<datacenter>/<cluster>/<pool>" path, resolve the
// datacenter, compute resource, resource pool, VM folder, and either a
// distributed switch uuid or a standalone host's network system.
func resolveReferences(ctx context.Context, client *vim25.Client, finder *find.Finder, cfg Config) (refs, error) {
	parts := strings.SplitN(cfg.PoolPath, "/", 3)
	dcName, clusterName, poolName := "", "", ""
	if len(parts) > 0 {
		dcName = parts[0]
	}
	if len(parts) > 1 {
		clusterName = parts[1]
	}
	if len(parts) > 2 {
		poolName = parts[2]
	}

	dc, err := findDatacenter(ctx, finder, dcName)
	if err != nil {
		return refs{}, err
	}
	finder.SetDatacenter(dc)

	cluster, err := findComputeResource(ctx, finder, clusterName)
	if err != nil {
		return refs{}, err
	}

	pool, err := findResourcePool(ctx, finder, cluster, poolName, cfg.IsVCenter)
	if err != nil {
		return refs{}, err
	}

	folders, err := dc.Folders(ctx)
	if err != nil {
		return refs{}, fmt.Errorf("failed to retrieve datacenter folders: %w", err)
	}

	out := refs{
		datacenter:   dc,
		cluster:      cluster,
		resourcePool: pool,
		vmFolder:     folders.VmFolder,
	}

	if isOverlayUplink(cfg.Uplink) {
		return out, nil
	}

	if cfg.IsVCenter {
		dvsRef, err := findDistributedSwitch(ctx, client, finder, cfg.Uplink)
		if err != nil {
			return refs{}, err
		}
		out.dvsRef = dvsRef
		return out, nil
	}

	hostNetSystem, err := findHostNetworkSystem(ctx, client, finder)
	if err != nil {
		return refs{}, err
	}
	out.hostNetworkSystem = hostNetSystem
	return out, nil
}

func isOverlayUplink(uplink string) bool {
	return strings.HasPrefix(strings.ToLower(uplink), "nsx.")
}

func findDatacenter(ctx context.Context, finder *find.Finder, name string) (*object.Datacenter, error) {
	if name != "" {
		dcs, err := finder.DatacenterList(ctx, "*")
		if err == nil {
			for _, dc := range dcs {
				if strings.EqualFold(dc.Name(), name) {
					return dc, nil
				}
			}
		}
	}
	dcs, err := finder.DatacenterList(ctx, "*")
	if err != nil || len(dcs) == 0 {
		return nil, fmt.Errorf("reference resolution aborted: no datacenters observed")
	}
	return dcs[0], nil
}

func findComputeResource(ctx context.Context, finder *find.Finder, name string) (*object.ComputeResource, error) {
	crs, err := finder.ComputeResourceList(ctx, "*")
	if err != nil || len(crs) == 0 {
		return nil, fmt.Errorf("reference resolution aborted: no compute resources observed")
	}
	if name != "" {
		for _, cr := range crs {
			if strings.EqualFold(cr.Name(), name) {
				return cr, nil
			}
		}
	}
	return crs[0], nil
}

func findResourcePool(ctx context.Context, finder *find.Finder, cluster *object.ComputeResource, name string, isVCenter bool) (*object.ResourcePool, error) {
	if name != "" {
		pools, err := finder.ResourcePoolList(ctx, "*/"+name)
		if err == nil && len(pools) > 0 {
			return pools[0], nil
		}
		pools, err = finder.ResourcePoolList(ctx, name)
		if err == nil {
			for _, p := range pools {
				if strings.EqualFold(p.Name(), name) {
					return p, nil
				}
			}
		}
	}

	root, err := cluster.ResourcePool(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cluster root resource pool: %w", err)
	}

	if isVCenter {
		var rp mo.ResourcePool
		if err := property.DefaultCollector(cluster.Client()).RetrieveOne(ctx, root.Reference(), []string{"resourcePool"}, &rp); err == nil && len(rp.ResourcePool) > 0 {
			return object.NewResourcePool(cluster.Client(), rp.ResourcePool[0]), nil
		}
	}

	return root, nil
}

func findDistributedSwitch(ctx context.Context, client *vim25.Client, finder *find.Finder, uplink string) (types.ManagedObjectReference, error) {
	networks, err := finder.NetworkList(ctx, "*")
	if err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to list networks: %w", err)
	}

	var candidates []types.ManagedObjectReference
	for _, n := range networks {
		if n.Reference().Type != "VmwareDistributedVirtualSwitch" && n.Reference().Type != "DistributedVirtualSwitch" {
			continue
		}
		candidates = append(candidates, n.Reference())
	}
	if len(candidates) == 0 {
		return types.ManagedObjectReference{}, fmt.Errorf("reference resolution aborted: no distributed virtual switch observed")
	}

	pc := property.DefaultCollector(client)
	if uplink != "" {
		for _, ref := range candidates {
			var dvs mo.DistributedVirtualSwitch
			if err := pc.RetrieveOne(ctx, ref, []string{"name", "uuid"}, &dvs); err != nil {
				continue
			}
			if strings.EqualFold(dvs.Name, uplink) {
				return ref, nil
			}
		}
	}
	return candidates[0], nil
}

func findHostNetworkSystem(ctx context.Context, client *vim25.Client, finder *find.Finder) (types.ManagedObjectReference, error) {
	hosts, err := finder.HostSystemList(ctx, "*")
	if err != nil || len(hosts) == 0 {
		return types.ManagedObjectReference{}, fmt.Errorf("reference resolution aborted: no host systems observed")
	}

	var host mo.HostSystem
	pc := property.DefaultCollector(client)
	if err := pc.RetrieveOne(ctx, hosts[0].Reference(), []string{"configManager"}, &host); err != nil {
		return types.ManagedObjectReference{}, fmt.Errorf("failed to retrieve host config manager: %w", err)
	}
	if host.ConfigManager.NetworkSystem == nil {
		return types.ManagedObjectReference{}, fmt.Errorf("host %s has no network system", hosts[0].Name())
	}
	return *host.ConfigManager.NetworkSystem, nil
}
