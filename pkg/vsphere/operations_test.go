package vsphere

import (
	"context"
	"net/url"
	"testing"

	"github.com/vmware/govmomi/find"
	"github.com/vmware/govmomi/object"
	"github.com/vmware/govmomi/session"
	"github.com/vmware/govmomi/simulator"
	"github.com/vmware/govmomi/vim25"
	"github.com/vmware/govmomi/vim25/soap"
	"github.com/vmware/govmomi/vim25/types"
	"k8s.io/klog/v2"
)

// tenantTaggedClient renames one of vcsim's default inventory VMs to
// carry the "#tenant" suffix Find/Start/Stop key ownership on, then
// builds and Connects a Client scoped to that tenant.
func tenantTaggedClient(t *testing.T, ctx context.Context, server string) (*Client, string) {
	t.Helper()
	client, ids := tenantTaggedClientN(t, ctx, server, 1)
	return client, ids[0]
}

// tenantTaggedClientN is like tenantTaggedClient but renames the first n
// default inventory VMs to the shared tenant suffix, for operations that
// need more than one owned VM (e.g. SetAffinity).
func tenantTaggedClientN(t *testing.T, ctx context.Context, server string, n int) (*Client, []string) {
	t.Helper()

	serverURL, err := url.Parse(server)
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	password, _ := simulator.DefaultLogin.Password()
	serverURL.User = url.UserPassword(simulator.DefaultLogin.Username(), password)

	soapClient := soap.NewClient(serverURL, true)
	vimClient, err := vim25.NewClient(ctx, soapClient)
	if err != nil {
		t.Fatalf("vim25.NewClient: %v", err)
	}
	if err := session.NewManager(vimClient).Login(ctx, serverURL.User); err != nil {
		t.Fatalf("session login: %v", err)
	}

	finder := find.NewFinder(vimClient)
	dc, err := finder.DefaultDatacenter(ctx)
	if err != nil {
		t.Fatalf("DefaultDatacenter: %v", err)
	}
	finder.SetDatacenter(dc)

	vms, err := finder.VirtualMachineList(ctx, "*")
	if err != nil || len(vms) < n {
		t.Fatalf("VirtualMachineList: %v (found %d, need %d)", err, len(vms), n)
	}

	const tenant = "teststenant"
	for i := 0; i < n; i++ {
		task, err := vms[i].Rename(ctx, vms[i].Name()+"#"+tenant)
		if err != nil {
			t.Fatalf("Rename: %v", err)
		}
		if err := task.Wait(ctx); err != nil {
			t.Fatalf("Rename wait: %v", err)
		}
	}

	createTestDVS(t, ctx, dc)

	cfg := Config{
		Host:                    "vcsim.example.com",
		URL:                     server,
		User:                    simulator.DefaultLogin.Username(),
		Password:                password,
		PoolPath:                "DC0/DC0_C0/Resources",
		VmStore:                 "[LocalDS_0] {host}-vms",
		Tenant:                  tenant,
		IgnoreCertificateErrors: true,
	}
	client := NewClient(cfg)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	vms2 := client.inventory.Find("")
	if len(vms2) < n {
		t.Fatalf("expected %d renamed VMs to be picked up by reloadVmCache, got %d", n, len(vms2))
	}

	ids := make([]string, len(vms2))
	for i, vm := range vms2 {
		ids[i] = vm.ID
	}
	return client, ids
}

// createTestDVS adds a distributed virtual switch to dc's network
// folder. vcsim's default VPX model ships no DVS, but the distributed
// network manager variant requires one whenever the endpoint reports as
// a vCenter (see network.Select), so tests that Connect against a VPX
// model need one present first.
func createTestDVS(t *testing.T, ctx context.Context, dc *object.Datacenter) {
	t.Helper()

	folders, err := dc.Folders(ctx)
	if err != nil {
		t.Fatalf("Folders: %v", err)
	}

	task, err := folders.NetworkFolder.CreateDVS(ctx, types.DVSCreateSpec{
		ConfigSpec: &types.DVSConfigSpec{Name: "dvs-test"},
	})
	if err != nil {
		t.Fatalf("CreateDVS: %v", err)
	}
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("CreateDVS wait: %v", err)
	}
}

func withModel(t *testing.T, fn func(ctx context.Context, server string)) {
	t.Helper()

	model := simulator.VPX()
	defer model.Remove()

	if err := model.Create(); err != nil {
		t.Fatalf("failed to create simulator model: %v", err)
	}

	s := model.Service.NewServer()
	defer s.Close()

	ctx := klog.NewContext(context.Background(), klog.NewKlogr())
	fn(ctx, s.URL.String())
}

func TestStartStopIdempotent(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, id := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		vm, err := client.Start(ctx, id)
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		if vm.State != PowerOn {
			t.Fatalf("expected PowerOn after Start, got %v", vm.State)
		}

		// Idempotent: starting an already-running VM is a no-op, not an error.
		vm2, err := client.Start(ctx, id)
		if err != nil {
			t.Fatalf("second Start: %v", err)
		}
		if vm2.State != PowerOn {
			t.Fatalf("expected PowerOn after idempotent Start, got %v", vm2.State)
		}

		vm3, err := client.Stop(ctx, id)
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if vm3.State != PowerOff {
			t.Fatalf("expected PowerOff after Stop, got %v", vm3.State)
		}

		// Idempotent: stopping an already-off VM is a no-op, not an error.
		vm4, err := client.Stop(ctx, id)
		if err != nil {
			t.Fatalf("second Stop: %v", err)
		}
		if vm4.State != PowerOff {
			t.Fatalf("expected PowerOff after idempotent Stop, got %v", vm4.State)
		}
	})
}

func TestSaveRefusesDiskPathWithoutWorkspaceTag(t *testing.T) {
	withModel(t, func(ctx context.Context, server string) {
		client, id := tenantTaggedClient(t, ctx, server)
		defer client.Disconnect(ctx)

		vm := client.inventory.Get(id)
		vm.DiskPath = "[LocalDS_0] stock-template/stock.vmdk"
		client.inventory.Upsert(vm)

		if _, err := client.Save(ctx, id); err == nil {
			t.Fatal("expected Save to refuse a disk path missing the workspace tag")
		}
	})
}
