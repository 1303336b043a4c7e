package unit

import (
	"context"
	"testing"

	"github.com/vmware/govmomi/simulator"
	"k8s.io/klog/v2"

	"github.com/openshift/vsphere-hypervisor-client/pkg/vsphere"
)

func testConfig(server string) vsphere.Config {
	return vsphere.Config{
		Host:                    "vcsim.example.com",
		URL:                     server,
		User:                    simulator.DefaultLogin.Username(),
		Password:                func() string { pwd, _ := simulator.DefaultLogin.Password(); return pwd }(),
		PoolPath:                "DC0/DC0_C0/Resources",
		VmStore:                 "[LocalDS_0] {host}-vms",
		IgnoreCertificateErrors: true,
	}
}

func withSimulator(t *testing.T, fn func(ctx context.Context, server string)) {
	t.Helper()

	model := simulator.VPX()
	defer model.Remove()

	if err := model.Create(); err != nil {
		t.Fatalf("failed to create simulator model: %v", err)
	}

	server := model.Service.NewServer()
	defer server.Close()

	ctx := klog.NewContext(context.Background(), klog.NewKlogr())
	fn(ctx, server.URL.String())
}

func TestConnectDisconnect(t *testing.T) {
	withSimulator(t, func(ctx context.Context, server string) {
		client := vsphere.NewClient(testConfig(server))

		if err := client.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
		// Idempotent: a second Connect on an already-open session is a no-op.
		if err := client.Connect(ctx); err != nil {
			t.Fatalf("second Connect failed: %v", err)
		}

		if err := client.Disconnect(ctx); err != nil {
			t.Fatalf("Disconnect failed: %v", err)
		}
		// Idempotent: disconnecting an already-closed session is a no-op.
		if err := client.Disconnect(ctx); err != nil {
			t.Fatalf("second Disconnect failed: %v", err)
		}
	})
}

func TestFindEmptyInventory(t *testing.T) {
	withSimulator(t, func(ctx context.Context, server string) {
		client := vsphere.NewClient(testConfig(server))
		defer client.Disconnect(ctx)

		vms, err := client.Find(ctx, "")
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		// vcsim's default VPX model ships no pre-existing VMs carrying a
		// '#tenant' suffix, so cache-ownership filtering (spec §8 invariant 1)
		// should leave the cache empty.
		if len(vms) != 0 {
			t.Fatalf("expected no tenant-owned VMs in a fresh vcsim model, got %d", len(vms))
		}
	})
}

func TestSOAPAndRESTLogsEmptyAfterClearLogs(t *testing.T) {
	withSimulator(t, func(ctx context.Context, server string) {
		client := vsphere.NewClient(testConfig(server))
		defer client.Disconnect(ctx)

		if err := client.Connect(ctx); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}

		client.ClearLogs()
		if logs := client.GetSOAPLogs(); len(logs) != 0 {
			t.Fatalf("expected empty SOAP log after ClearLogs, got %d entries", len(logs))
		}
		if logs := client.GetRESTLogs(); len(logs) != 0 {
			t.Fatalf("expected empty REST log after ClearLogs, got %d entries", len(logs))
		}
	})
}

func TestStartUnknownVmErrors(t *testing.T) {
	withSimulator(t, func(ctx context.Context, server string) {
		client := vsphere.NewClient(testConfig(server))
		defer client.Disconnect(ctx)

		if _, err := client.Start(ctx, "does-not-exist"); err == nil {
			t.Fatal("expected an error starting an unknown vm id")
		}
	})
}

func TestGetTicketUnknownVmErrors(t *testing.T) {
	withSimulator(t, func(ctx context.Context, server string) {
		client := vsphere.NewClient(testConfig(server))
		defer client.Disconnect(ctx)

		if _, err := client.GetTicket(ctx, "does-not-exist"); err == nil {
			t.Fatal("expected an error acquiring a ticket for an unknown vm id")
		}
	})
}
