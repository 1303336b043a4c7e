package vsphere

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25/types"
)

// SetAffinity adds a mandatory, enabled ClusterAffinityRule named
// "Affinity#<tag>" over the given VMs, then optionally starts them in
// parallel. Per spec §4.H.SetAffinity. On standalone-host endpoints, which
// have no cluster-level affinity concept, no rule is added; the VMs are
// still started when start is set.
func (c *Client) SetAffinity(ctx context.Context, tag string, vmIDs []string, start bool) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}

	if c.cfg.IsVCenter {
		refs := make([]types.ManagedObjectReference, 0, len(vmIDs))
		for _, id := range vmIDs {
			vm := c.inventory.Get(id)
			if vm == nil {
				return fmt.Errorf("vm %s not found in cache", id)
			}
			refs = append(refs, types.ManagedObjectReference{Type: vm.Ref.Type, Value: vm.Ref.Value})
		}

		cluster := object.NewClusterComputeResource(c.vimClient, c.refs.cluster.Reference())
		spec := types.ClusterConfigSpecEx{
			RulesSpec: []types.ClusterRuleSpec{{
				Operation: types.ArrayUpdateOperationAdd,
				Info: &types.ClusterAffinityRuleSpec{
					ClusterRuleInfo: types.ClusterRuleInfo{
						Name:      "Affinity#" + tag,
						Enabled:   types.NewBool(true),
						Mandatory: types.NewBool(true),
					},
					Vm: refs,
				},
			}},
		}

		task, err := cluster.Reconfigure(ctx, &spec, true)
		if err != nil {
			return NewTransportFaultError("ReconfigureCluster", err)
		}
		if _, err := awaitTask(ctx, task, "ReconfigureCluster"); err != nil {
			return err
		}
	}

	if !start {
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(vmIDs))
	for i, id := range vmIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if _, err := c.Start(ctx, id); err != nil {
				errs[i] = err
			}
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
