package vsphere

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vmware/govmomi/property"
	"github.com/vmware/govmomi/task"
	"github.com/vmware/govmomi/vim25/mo"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// VimHostTask is the internal record of a long-running hypervisor task
// tracked asynchronously against a particular VM, per spec §3.
type VimHostTask struct {
	TaskRef     types.ManagedObjectReference
	Action      string
	WhenCreated time.Time
	Progress    int32
}

// TaskTracker implements both Task Tracker facilities of spec §4.E: a
// synchronous await, and an asynchronous per-VM/per-id progress monitor
// driven by a 3 s tick from the session monitor.
type TaskTracker struct {
	mu sync.Mutex

	// tasks maps VM id -> the VimHostTask registered against it. The
	// spec treats this map as single-threaded (touched only by
	// operation paths and the task loop tick); the mutex here is the
	// concession a truly parallel Go scheduler requires, per §5.
	tasks map[string]*VimHostTask

	// byID maps an arbitrary id (typically a disk clone destination
	// path) to the terminal/in-flight TaskInfo, for taskProgress.
	byID map[string]*types.TaskInfo
}

func newTaskTracker() *TaskTracker {
	return &TaskTracker{
		tasks: make(map[string]*VimHostTask),
		byID:  make(map[string]*types.TaskInfo),
	}
}

// waitForTask polls ref's TaskInfo every second until it leaves
// {queued, running} and returns the terminal TaskInfo.
func waitForTask(ctx context.Context, collector *property.Collector, ref types.ManagedObjectReference) (*types.TaskInfo, error) {
	for {
		var t mo.Task
		if err := collector.RetrieveOne(ctx, ref, []string{"info"}, &t); err != nil {
			return nil, fmt.Errorf("failed to poll task %s: %w", ref.Value, err)
		}

		switch t.Info.State {
		case types.TaskInfoStateQueued, types.TaskInfoStateRunning:
			time.Sleep(1 * time.Second)
			continue
		default:
			return &t.Info, nil
		}
	}
}

// awaitTask blocks for t's terminal TaskInfo, translating an error-state
// result into a TaskError carrying the hypervisor's localized message.
func awaitTask(ctx context.Context, t *task.Task, action string) (*types.TaskInfo, error) {
	info, err := t.WaitForResult(ctx)
	if err != nil {
		if info != nil && info.Error != nil {
			return info, NewTaskError(action, info.Error.LocalizedMessage)
		}
		return info, NewTransportFaultError(action, err)
	}
	return info, nil
}

// register adds a VimHostTask for vmID so the task loop can drive it to
// completion without the caller blocking. Used for fire-and-forget
// operations such as Save's background snapshot consolidation.
func (t *TaskTracker) register(vmID, action string, ref types.ManagedObjectReference) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[vmID] = &VimHostTask{
		TaskRef:     ref,
		Action:      action,
		WhenCreated: time.Now(),
	}
}

// registerByID adds an id-keyed task (e.g. a disk clone destination
// path) to the taskProgress-queryable map.
func (t *TaskTracker) registerByID(id string, ref types.ManagedObjectReference) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[id] = &types.TaskInfo{Reference: ref, State: types.TaskInfoStateQueued}
}

// taskProgress returns -1 when id is unknown, 0 when registered but not
// yet populated, a value in [0,99] while running, and 100 on both
// success and error terminal states.
func (t *TaskTracker) taskProgress(id string) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.byID[id]
	if !ok {
		return -1
	}
	switch info.State {
	case types.TaskInfoStateSuccess, types.TaskInfoStateError:
		return 100
	default:
		return int32(info.Progress)
	}
}

// tick refreshes every registered task's TaskInfo and invokes apply with
// the result. Called from the session monitor's 3 s loop.
func (t *TaskTracker) tick(ctx context.Context, collector *property.Collector, apply func(vmID string, vt *VimHostTask, info *types.TaskInfo)) {
	logger := klog.FromContext(ctx)

	t.mu.Lock()
	vmTasks := make(map[string]*VimHostTask, len(t.tasks))
	for id, vt := range t.tasks {
		vmTasks[id] = vt
	}
	idRefs := make(map[string]types.ManagedObjectReference, len(t.byID))
	for id, info := range t.byID {
		idRefs[id] = info.Reference
	}
	t.mu.Unlock()

	for vmID, vt := range vmTasks {
		var tm mo.Task
		if err := collector.RetrieveOne(ctx, vt.TaskRef, []string{"info"}, &tm); err != nil {
			logger.V(2).Info("task poll failed", "vm", vmID, "task", vt.TaskRef.Value, "error", err)
			continue
		}

		terminal := false
		switch tm.Info.State {
		case types.TaskInfoStateSuccess:
			vt.Progress = 100
			terminal = true
		case types.TaskInfoStateError:
			vt.Progress = -1
			terminal = true
		default:
			vt.Progress = int32(tm.Info.Progress)
		}

		if apply != nil {
			apply(vmID, vt, &tm.Info)
		}

		if terminal {
			t.mu.Lock()
			delete(t.tasks, vmID)
			t.mu.Unlock()
		}
	}

	for id, ref := range idRefs {
		var tm mo.Task
		if err := collector.RetrieveOne(ctx, ref, []string{"info"}, &tm); err != nil {
			continue
		}
		t.mu.Lock()
		t.byID[id] = &tm.Info
		t.mu.Unlock()
	}
}

// taskErrorMessage assembles the description + localized error text per
// spec §4.E/§7 for an error-state TaskInfo.
func taskErrorMessage(info *types.TaskInfo) string {
	desc := ""
	if info.Description != nil {
		desc = info.Description.Message
	}
	if info.Error != nil {
		return desc + " - " + info.Error.LocalizedMessage
	}
	return desc
}
