package vsphere

import (
	"context"
	"time"

	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// sessionMonitor owns the two background loops of spec §4.G: the
// session loop (keep-alive, reconnect, periodic cache reload + network
// clean) and the task loop (drives TaskTracker.tick). Both are started
// once, at the end of the first successful Connect, and run for the
// lifetime of the Client.
type sessionMonitor struct {
	stop chan struct{}
}

func startSessionMonitor(c *Client) *sessionMonitor {
	m := &sessionMonitor{stop: make(chan struct{})}
	ctx := klog.NewContext(context.Background(), klog.NewKlogr())

	go m.sessionLoop(ctx, c)
	go m.taskLoop(ctx, c)

	return m
}

func (m *sessionMonitor) sessionLoop(ctx context.Context, c *Client) {
	logger := klog.FromContext(ctx)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		tick++

		if c.cfg.KeepAliveMinutes > 0 && c.idleSince() > c.cfg.KeepAliveMinutes {
			if err := c.Disconnect(ctx); err != nil {
				logger.Error(err, "keep-alive disconnect failed")
			}
			continue
		}

		if !c.isSessionOpen() {
			if err := c.Connect(ctx); err != nil {
				logger.Error(err, "session monitor reconnect failed")
			}
			continue
		}

		if err := c.reloadVmCache(ctx); err != nil {
			if IsServerTooBusy(err) {
				logger.Info("server too busy, disconnecting session", "error", err)
				_ = c.Disconnect(ctx)
				continue
			}
			logger.Error(err, "periodic VM inventory reload failed")
		}

		if tick%2 == 0 && c.networkManager != nil {
			if err := c.networkManager.Clean(ctx); err != nil {
				logger.Error(err, "network clean failed")
			}
		}
	}
}

func (m *sessionMonitor) taskLoop(ctx context.Context, c *Client) {
	logger := klog.FromContext(ctx)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		if !c.isSessionOpen() || c.tasks == nil {
			continue
		}

		collector := property.DefaultCollector(c.vimClient)
		c.tasks.tick(ctx, collector, func(vmID string, vt *VimHostTask, info *types.TaskInfo) {
			vm := c.inventory.Get(vmID)
			if vm == nil {
				return
			}
			vm.Task = &VmTask{
				Name:        vt.Action,
				WhenCreated: vt.WhenCreated,
				Progress:    vt.Progress,
			}
			if vt.Progress == -1 {
				logger.Error(NewTaskError(vt.Action, taskErrorMessage(info)), "task failed", "vm", vmID)
			}
			c.inventory.Upsert(vm)
		})
	}
}
