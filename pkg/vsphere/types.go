package vsphere

import (
	"fmt"
	"strings"
	"time"
)

// PowerState is a VM's simplified power state, per spec §3.
type PowerState string

const (
	PowerOff PowerState = "Off"
	PowerOn  PowerState = "Running"
)

// VmStatus tracks whether a Vm has ever been through Deploy.
type VmStatus string

const (
	StatusInitialized VmStatus = "initialized"
	StatusDeployed    VmStatus = "deployed"
)

// VmQuestion is a pending interactive prompt surfaced by the hypervisor,
// e.g. a disk-consolidation confirmation.
type VmQuestion struct {
	ID            string
	Prompt        string
	DefaultChoice string
	Choices       []string
}

// VmTask is the progress view of the single active long-running operation
// against a Vm. Progress of -1 encodes error, 100 encodes terminal success.
type VmTask struct {
	Name        string
	WhenCreated time.Time
	Progress    int32
}

// Vm is the cache's unit of record. Identity is ID.
type Vm struct {
	ID       string
	Name     string
	Host     string
	Path     string
	DiskPath string
	State    PowerState
	Ref      ManagedRef
	Stats    string
	Status   VmStatus
	Question *VmQuestion
	Task     *VmTask
}

// Clone returns a deep-enough copy for safe handoff to callers: the Vm
// itself and its optional Question/Task are copied; the Question's
// Choices slice is still shared with the original.
func (v *Vm) Clone() *Vm {
	if v == nil {
		return nil
	}
	out := *v
	if v.Question != nil {
		q := *v.Question
		out.Question = &q
	}
	if v.Task != nil {
		t := *v.Task
		out.Task = &t
	}
	return &out
}

// Tenant returns the substring after the final '#' in name, or "" if name
// carries no tenant tag at all.
func Tenant(name string) string {
	idx := strings.LastIndex(name, "#")
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}

// WorkspaceTag returns the tenant tag of a VM name as used by Save's stock
// disk protection. It is the same suffix Tenant() extracts; the spec gives
// it a distinct name ("workspace tag") because it guards a different
// invariant (disk path containment rather than cache ownership).
func WorkspaceTag(name string) string {
	return Tenant(name)
}

// VmDisk is one declared disk of a VmTemplate.
type VmDisk struct {
	Path       string
	SizeGB     int
	Controller string // lsiLogic, busLogic, ...
}

// VmNic is one declared NIC of a VmTemplate.
type VmNic struct {
	Network string
}

// VmTemplate is the declarative input to Deploy.
type VmTemplate struct {
	Name            string
	GuestID         string
	NumCPUs         int32
	MemoryMB        int64
	Disks           []VmDisk
	Nics            []VmNic
	ISO             string
	GuestInfo       map[string]string
	AutoStart       bool
	HostAffinityTag string
}

// VmKeyValue is the input to Change: a dialectal {key, value} pair
// dispatched to Reconfigure. See spec §4.H.Change.
type VmKeyValue struct {
	Key   string
	Value string
}

// SplitChangeValue splits a Change value on ':' into (setting, deviceLabel).
// deviceLabel is "" when no ':' is present.
func SplitChangeValue(value string) (setting, label string) {
	idx := strings.Index(value, ":")
	if idx < 0 {
		return value, ""
	}
	return value[:idx], value[idx+1:]
}

// ManagedRef is an opaque {type, value} handle the hypervisor SDK uses to
// identify a remote object. It stringifies as "type|value" per spec §3.
type ManagedRef struct {
	Type  string
	Value string
}

func (r ManagedRef) String() string {
	return r.Type + "|" + r.Value
}

// IsEmpty reports whether r carries no reference.
func (r ManagedRef) IsEmpty() bool {
	return r.Type == "" && r.Value == ""
}

// ParseManagedRef parses the "type|value" form produced by String.
func ParseManagedRef(s string) (ManagedRef, error) {
	idx := strings.Index(s, "|")
	if idx < 0 {
		return ManagedRef{}, fmt.Errorf("invalid managed reference %q: missing '|'", s)
	}
	return ManagedRef{Type: s[:idx], Value: s[idx+1:]}, nil
}

// DatastorePath is a parsed "[datastore] top/sub/dir/file" path.
type DatastorePath struct {
	Datastore      string
	TopLevelFolder string
	FolderPath     string
	File           string
}

// ParseDatastorePath parses a datastore path of the form
// "[datastore] top/sub/dir/file.ext". FolderPath is the full directory
// portion (including TopLevelFolder); File is the trailing path component
// if it looks like a filename or pattern (contains '.' or '*'), otherwise "".
func ParseDatastorePath(path string) (DatastorePath, error) {
	path = strings.TrimSpace(path)
	if !strings.HasPrefix(path, "[") {
		return DatastorePath{}, fmt.Errorf("invalid datastore path %q: missing '['", path)
	}
	close := strings.Index(path, "]")
	if close < 0 {
		return DatastorePath{}, fmt.Errorf("invalid datastore path %q: missing ']'", path)
	}
	ds := path[1:close]
	rest := strings.TrimSpace(path[close+1:])

	var folderPath, file, top string
	lastSlash := strings.LastIndex(rest, "/")
	candidate := rest
	if lastSlash >= 0 {
		candidate = rest[lastSlash+1:]
	}
	if strings.Contains(candidate, ".") || strings.Contains(candidate, "*") {
		file = candidate
		if lastSlash >= 0 {
			folderPath = rest[:lastSlash]
		}
	} else {
		folderPath = rest
	}
	if folderPath != "" {
		if idx := strings.Index(folderPath, "/"); idx >= 0 {
			top = folderPath[:idx]
		} else {
			top = folderPath
		}
	}

	return DatastorePath{
		Datastore:      ds,
		TopLevelFolder: top,
		FolderPath:     folderPath,
		File:           file,
	}, nil
}

// String renders the datastore path back to hypervisor wire form.
func (p DatastorePath) String() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(p.Datastore)
	b.WriteString("] ")
	b.WriteString(p.FolderPath)
	if p.File != "" {
		if p.FolderPath != "" {
			b.WriteString("/")
		}
		b.WriteString(p.File)
	}
	return b.String()
}
