package vsphere

import "time"

// Config holds endpoint connection and policy configuration for a Client.
// There is no env/flag parsing at this layer (spec §6): callers construct
// Config however suits their own CLI/env story.
type Config struct {
	// Host is the endpoint's DNS/IP name, used to derive the first DNS
	// label substituted into VmStore and compared against Vm.Host for
	// cache ownership.
	Host string
	// URL is the SOAP endpoint, e.g. "https://vc.example.com/sdk".
	URL string
	User     string
	Password string

	// PoolPath is "<datacenter>/<cluster>/<pool>", matched case-insensitively.
	PoolPath string

	// Uplink names a distributed switch, or an NSX overlay uplink when
	// prefixed "nsx.". See §4.D.
	Uplink       string
	IsNsxNetwork bool
	SDDC         string

	// IsVCenter is set by Connect from ServiceContent.About.ApiType,
	// overwriting any value the caller supplied.
	IsVCenter bool

	// VmStore is a datastore path pattern containing the literal "{host}",
	// substituted with the first DNS label of Host.
	VmStore string

	// Tenant is matched against the suffix of a VM name after '#'.
	Tenant string

	// ExcludeNetworkMask is matched (as a substring, or a regexp if it
	// compiles as one) against port group names the network manager
	// should leave alone during Clean.
	ExcludeNetworkMask string

	// KeepAliveMinutes is the idle timeout before the session monitor
	// auto-disconnects.
	KeepAliveMinutes time.Duration

	// IgnoreCertificateErrors disables TLS chain/revocation checks.
	// Default is strict.
	IgnoreCertificateErrors bool
}

// HostLabel returns the first DNS label of Host, used to substitute
// "{host}" in VmStore.
func (c Config) HostLabel() string {
	for i, r := range c.Host {
		if r == '.' {
			return c.Host[:i]
		}
	}
	return c.Host
}
