// Package network implements the pluggable network-management stratum:
// one of {HostNetworkManager, DistributedNetworkManager, OverlayNetworkManager},
// selected at connect time by endpoint kind and uplink configuration.
package network

import (
	"context"
	"fmt"

	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/types"
)

// Nic is a declared NIC of a deploy template, as needed by Provision.
type Nic struct {
	Network string
}

// Manager is the common contract every network manager variant
// implements, per spec §4.D.
type Manager interface {
	// Initialize primes internal state after the reference resolver runs.
	Initialize(ctx context.Context) error
	// Provision ensures every NIC port group a template declares exists.
	Provision(ctx context.Context, nics []Nic) error
	// ProvisionAll is the idempotent bulk form used ahead of deploy.
	ProvisionAll(ctx context.Context, nics []Nic, useUplinkSwitch bool) error
	// MarkOwned records vmRef as a user of portGroupName, so Unprovision
	// and Clean know it's in use.
	MarkOwned(vmRef types.ManagedObjectReference, portGroupName string)
	// Unprovision releases port groups owned only by vmRef.
	Unprovision(ctx context.Context, vmRef types.ManagedObjectReference) error
	// UpdateEthernetCardBacking mutates a NIC device spec in-place to
	// target a named port group on the manager's switch/host.
	UpdateEthernetCardBacking(ctx context.Context, card types.BaseVirtualEthernetCard, portGroupName string) error
	// Clean sweeps orphaned port groups; invoked every other session
	// monitor tick.
	Clean(ctx context.Context) error
}

// SelectInput carries everything Select needs to pick and construct the
// right variant without importing the parent vsphere package (which
// would create an import cycle).
type SelectInput struct {
	VimClient *vim25.Client

	IsVCenter          bool
	Uplink             string
	IsNsxNetwork       bool
	SDDC               string
	ExcludeNetworkMask string

	DVSRef            types.ManagedObjectReference
	HostNetworkSystem types.ManagedObjectReference
	Datacenter        *object.Datacenter
}

// Select picks the manager variant per spec §4.D:
//   - Host: standalone endpoint -> host-local port group manager.
//   - Distributed: cluster endpoint with a plain uplink name -> DVS manager.
//   - Overlay: cluster endpoint with an "nsx."-prefixed uplink, or
//     IsNsxNetwork explicitly set -> NSX overlay manager.
func Select(ctx context.Context, in SelectInput) (Manager, error) {
	switch {
	case in.IsVCenter && (in.IsNsxNetwork || isOverlayUplink(in.Uplink)):
		return newOverlayManager(in), nil
	case in.IsVCenter:
		if in.DVSRef.Value == "" {
			return nil, fmt.Errorf("distributed network manager selected but no distributed switch was resolved")
		}
		return newDistributedManager(in), nil
	default:
		if in.HostNetworkSystem.Value == "" {
			return nil, fmt.Errorf("host network manager selected but no host network system was resolved")
		}
		return newHostManager(in), nil
	}
}

func isOverlayUplink(uplink string) bool {
	return len(uplink) > 4 && uplink[:4] == "nsx."
}
