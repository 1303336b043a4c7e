package network

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// overlayManager talks to an NSX-style overlay control plane over a
// plain REST API, rather than to vCenter itself. No NSX Go SDK exists in
// this codebase's dependency set, so this is the one place a bare
// net/http client stands in for a generated binding.
type overlayManager struct {
	client *vim25.Client
	sddc   string

	httpClient *http.Client

	excludeMask *regexp.Regexp

	mu      sync.Mutex
	created map[string]bool            // segments this manager has created
	owned   map[string]map[string]bool // segment -> set of vm ref values currently using it
}

func newOverlayManager(in SelectInput) *overlayManager {
	return &overlayManager{
		client: in.VimClient,
		sddc:   in.SDDC,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		excludeMask: compileExcludeMask(in.ExcludeNetworkMask),
		created:     make(map[string]bool),
		owned:       make(map[string]map[string]bool),
	}
}

func (m *overlayManager) Initialize(ctx context.Context) error {
	klog.FromContext(ctx).V(2).Info("overlay network manager initialized", "sddc", m.sddc)
	return nil
}

type overlaySegmentRequest struct {
	DisplayName string `json:"display_name"`
	SDDC        string `json:"sddc_id"`
}

func (m *overlayManager) Provision(ctx context.Context, nics []Nic) error {
	for _, n := range nics {
		if err := m.ensureSegment(ctx, n.Network); err != nil {
			return err
		}
	}
	return nil
}

func (m *overlayManager) ProvisionAll(ctx context.Context, nics []Nic, useUplinkSwitch bool) error {
	return m.Provision(ctx, nics)
}

func (m *overlayManager) ensureSegment(ctx context.Context, name string) error {
	logger := klog.FromContext(ctx)

	body, err := json.Marshal(overlaySegmentRequest{DisplayName: name, SDDC: m.sddc})
	if err != nil {
		return fmt.Errorf("failed to encode overlay segment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.segmentURL(name), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build overlay segment request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("overlay control plane request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return fmt.Errorf("overlay control plane returned status %d provisioning segment %s", res.StatusCode, name)
	}

	m.mu.Lock()
	m.created[name] = true
	m.mu.Unlock()

	logger.V(2).Info("provisioned overlay segment", "name", name, "sddc", m.sddc)
	return nil
}

func (m *overlayManager) segmentURL(name string) string {
	return fmt.Sprintf("https://%s/policy/api/v1/infra/segments/%s", m.sddc, name)
}

// MarkOwned records that vmRef is now using portGroupName, so Unprovision
// can later release it and Clean won't sweep it out from under a live VM.
func (m *overlayManager) MarkOwned(vmRef types.ManagedObjectReference, portGroupName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owners, ok := m.owned[portGroupName]
	if !ok {
		owners = make(map[string]bool)
		m.owned[portGroupName] = owners
	}
	owners[vmRef.Value] = true
}

func (m *overlayManager) Unprovision(ctx context.Context, vmRef types.ManagedObjectReference) error {
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

func (m *overlayManager) UpdateEthernetCardBacking(ctx context.Context, card types.BaseVirtualEthernetCard, portGroupName string) error {
	if err := m.ensureSegment(ctx, portGroupName); err != nil {
		return err
	}
	nic := card.GetVirtualEthernetCard()
	nic.ExternalId = portGroupName
	nic.Backing = &types.VirtualEthernetCardNetworkBackingInfo{
		VirtualDeviceDeviceBackingInfo: types.VirtualDeviceDeviceBackingInfo{
			DeviceName: portGroupName,
		},
	}
	return nil
}

// Clean deletes overlay segments this manager created that no VM
// currently owns, skipping anything matching excludeMask.
func (m *overlayManager) Clean(ctx context.Context) error {
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
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, m.segmentURL(name), nil)
		if err != nil {
			logger.V(2).Info("failed to build overlay segment delete request", "name", name, "error", err)
			continue
		}

		res, err := m.httpClient.Do(req)
		if err != nil {
			logger.V(2).Info("failed to remove orphaned overlay segment", "name", name, "error", err)
			continue
		}
		res.Body.Close()
		if res.StatusCode >= 300 && res.StatusCode != http.StatusNotFound {
			logger.V(2).Info("overlay control plane refused segment removal", "name", name, "status", res.StatusCode)
			continue
		}

		m.mu.Lock()
		delete(m.created, name)
		m.mu.Unlock()
		logger.V(2).Info("removed orphaned overlay segment", "name", name)
	}
	return nil
}
