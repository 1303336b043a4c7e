package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/openshift/vsphere-hypervisor-client/pkg/vsphere"
)

var (
	host                    string
	endpointURL             string
	user                    string
	password                string
	poolPath                string
	vmStore                 string
	uplink                  string
	tenant                  string
	term                    string
	keepAliveMinutes        time.Duration
	ignoreCertificateErrors bool
)

func init() {
	flag.StringVar(&host, "host", "", "Hypervisor endpoint DNS/IP name")
	flag.StringVar(&endpointURL, "url", "", "SOAP endpoint URL, defaults to https://<host>/sdk")
	flag.StringVar(&user, "user", "", "Endpoint username")
	flag.StringVar(&password, "password", "", "Endpoint password")
	flag.StringVar(&poolPath, "pool-path", "", "\"<datacenter>/<cluster>/<pool>\"")
	flag.StringVar(&vmStore, "vm-store", "", "Datastore path pattern containing the literal \"{host}\"")
	flag.StringVar(&uplink, "uplink", "", "Distributed switch name, or \"nsx.<segment>\" for an overlay uplink")
	flag.StringVar(&tenant, "tenant", "", "Tenant tag matched against the suffix of VM names after '#'")
	flag.StringVar(&term, "find", "", "Substring to match against VM id/name; empty lists everything")
	flag.DurationVar(&keepAliveMinutes, "keep-alive", 30*time.Minute, "Idle timeout before the session monitor disconnects")
	flag.BoolVar(&ignoreCertificateErrors, "insecure", false, "Skip TLS chain/revocation checks")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		klog.Info("received shutdown signal")
		cancel()
	}()

	logger := klog.NewKlogr().WithName("vsphere-client").WithValues("run", uuid.NewString())
	ctx = klog.NewContext(ctx, logger)

	client := vsphere.NewClient(vsphere.Config{
		Host:                    host,
		URL:                     endpointURL,
		User:                    user,
		Password:                password,
		PoolPath:                poolPath,
		VmStore:                 vmStore,
		Uplink:                  uplink,
		Tenant:                  tenant,
		KeepAliveMinutes:        keepAliveMinutes,
		IgnoreCertificateErrors: ignoreCertificateErrors,
	})

	if err := client.Connect(ctx); err != nil {
		logger.Error(err, "failed to connect")
		os.Exit(1)
	}
	defer client.Disconnect(ctx)

	vms, err := client.Find(ctx, term)
	if err != nil {
		logger.Error(err, "failed to list VMs")
		os.Exit(1)
	}

	for _, vm := range vms {
		fmt.Printf("%s\t%s\t%s\t%s\n", vm.ID, vm.Name, vm.State, vm.Stats)
	}
	logger.Info("done", "count", len(vms))
}
