package vsphere

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vmware/govmomi"
	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/vapi/rest"
	"github.com/vmware/govmomi/vapi/tags"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	"k8s.io/klog/v2"

	"github.com/openshift/vsphere-hypervisor-client/pkg/vsphere/network"
)

// Client is a long-lived handle against a single hypervisor endpoint. It
// owns the SDK session, the resolved managed-object references, the
// network manager variant, the VM inventory cache, and the task tracker.
// Every public operation (operations.go, deploy.go, disks.go, affinity.go)
// begins with Connect.
type Client struct {
	cfg Config

	// connMu serializes Connect/Disconnect so concurrent callers never
	// race to establish two sessions for the same client.
	connMu sync.Mutex

	govmomiClient *govmomi.Client
	vimClient     *vim25.Client
	restClient    *rest.Client
	tagManager    *tags.Manager
	finder        *find.Finder
	collector     *property.Collector

	soapLogger *SOAPLogger
	restLogger *RESTLogger

	refs refs

	networkManager network.Manager

	inventory *InventoryStore
	tasks     *TaskTracker

	lastAction   time.Time
	lastActionMu sync.Mutex

	monitor *sessionMonitor
}

// NewClient constructs a Client bound to cfg. No network I/O happens
// until Connect is called.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Connect is idempotent and safe for concurrent callers: only one caller
// establishes the session, the rest observe it already open.
func (c *Client) Connect(ctx context.Context) error {
	c.touch()

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.vimClient != nil && c.vimClient.Valid() {
		return nil
	}

	logger := klog.FromContext(ctx)

	serverURL, err := parseEndpointURL(c.cfg.URL, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	serverURL.User = url.UserPassword(c.cfg.User, c.cfg.Password)

	soapLogger := NewSOAPLogger()
	soapClient := soap.NewClient(serverURL, c.cfg.IgnoreCertificateErrors)

	vimClient, err := vim25.NewClient(ctx, soapClient)
	if err != nil {
		return NewTransportFaultError("vim25.NewClient", err)
	}

	sessionManager := session.NewManager(vimClient)
	if err := sessionManager.Login(ctx, serverURL.User); err != nil {
		return NewTransportFaultError("session.Login", err)
	}

	logger.Info("connected to hypervisor endpoint", "host", c.cfg.Host)

	govmomiClient := &govmomi.Client{
		Client:         vimClient,
		SessionManager: sessionManager,
	}

	restLogger := NewRESTLogger()
	restClient := rest.NewClient(vimClient)
	if restClient.Transport != nil {
		restClient.Transport = restLogger.RoundTrip(restClient.Transport)
	}

	var tagManager *tags.Manager
	if err := restClient.Login(ctx, serverURL.User); err != nil {
		logger.V(2).Info("REST API login failed, tag support disabled", "error", err)
	} else {
		tagManager = tags.NewManager(restClient)
	}

	finder := find.NewFinder(vimClient)
	collector := property.DefaultCollector(vimClient)

	isVCenter := vimClient.ServiceContent.About.ApiType == "VirtualCenter"

	c.govmomiClient = govmomiClient
	c.vimClient = vimClient
	c.restClient = restClient
	c.tagManager = tagManager
	c.finder = finder
	c.collector = collector
	c.soapLogger = soapLogger
	c.restLogger = restLogger
	c.cfg.IsVCenter = isVCenter

	resolved, err := resolveReferences(ctx, vimClient, finder, c.cfg)
	if err != nil {
		return fmt.Errorf("reference resolution failed: %w", err)
	}
	c.refs = resolved

	netMgr, err := network.Select(ctx, network.SelectInput{
		VimClient:          vimClient,
		IsVCenter:          isVCenter,
		Uplink:             c.cfg.Uplink,
		IsNsxNetwork:       c.cfg.IsNsxNetwork,
		SDDC:               c.cfg.SDDC,
		ExcludeNetworkMask: c.cfg.ExcludeNetworkMask,
		DVSRef:             resolved.dvsRef,
		HostNetworkSystem:  resolved.hostNetworkSystem,
		Datacenter:         resolved.datacenter,
	})
	if err != nil {
		return fmt.Errorf("network manager selection failed: %w", err)
	}
	if err := netMgr.Initialize(ctx); err != nil {
		return fmt.Errorf("network manager initialization failed: %w", err)
	}
	c.networkManager = netMgr

	if c.inventory == nil {
		c.inventory = newInventoryStore(c.cfg.Host)
	}
	if c.tasks == nil {
		c.tasks = newTaskTracker()
	}

	if err := c.reloadVmCache(ctx); err != nil {
		logger.Error(err, "initial VM inventory reload failed")
	}

	if c.monitor == nil {
		c.monitor = startSessionMonitor(c)
	}

	return nil
}

// Disconnect tears the session down after a brief grace period so any
// RPC already in flight observes a consistent client, then nulls out the
// session and service content. The next Connect rebuilds everything.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.vimClient == nil {
		return nil
	}

	time.Sleep(500 * time.Millisecond)

	logger := klog.FromContext(ctx)

	if c.restClient != nil {
		if err := c.restClient.Logout(ctx); err != nil {
			logger.V(2).Info("REST logout failed", "error", err)
		}
	}
	if c.govmomiClient != nil {
		if err := c.govmomiClient.Logout(ctx); err != nil {
			logger.V(2).Info("SDK logout failed", "error", err)
		}
	}

	c.govmomiClient = nil
	c.vimClient = nil
	c.restClient = nil
	c.tagManager = nil
	c.finder = nil
	c.collector = nil
	c.refs = refs{}

	logger.Info("disconnected from hypervisor endpoint", "host", c.cfg.Host)
	return nil
}

// touch records activity for the keep-alive timeout. Called by Connect
// and by every public operation.
func (c *Client) touch() {
	c.lastActionMu.Lock()
	c.lastAction = time.Now()
	c.lastActionMu.Unlock()
}

func (c *Client) idleSince() time.Duration {
	c.lastActionMu.Lock()
	defer c.lastActionMu.Unlock()
	if c.lastAction.IsZero() {
		return 0
	}
	return time.Since(c.lastAction)
}

func (c *Client) isSessionOpen() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.vimClient != nil && c.vimClient.Valid()
}

// parseEndpointURL builds the SOAP endpoint URL: https://{host}/sdk when
// raw is empty; otherwise raw, with an https:// scheme added when it has
// none and /sdk appended when its path does not already end in it.
func parseEndpointURL(raw, host string) (*url.URL, error) {
	if raw == "" {
		raw = fmt.Sprintf("https://%s/sdk", host)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(u.Path, "/sdk") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/sdk"
	}
	return u, nil
}

// GetSOAPLogs returns the SOAPLogger's retained history. The logger is
// not attached to the SOAP transport and nothing calls LogSOAPCall, so no
// SOAP calls are recorded and the result is always empty.
func (c *Client) GetSOAPLogs() []SOAPLogEntry {
	if c.soapLogger == nil {
		return nil
	}
	return c.soapLogger.GetEntries()
}

// GetRESTLogs returns recent REST call history, for diagnostics.
func (c *Client) GetRESTLogs() []RESTLogEntry {
	if c.restLogger == nil {
		return nil
	}
	return c.restLogger.GetEntries()
}

// ClearLogs discards retained SOAP/REST call history.
func (c *Client) ClearLogs() {
	if c.soapLogger != nil {
		c.soapLogger.Clear()
	}
	if c.restLogger != nil {
		c.restLogger.Clear()
	}
}
