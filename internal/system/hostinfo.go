package system

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	gnet "github.com/shirou/gopsutil/v3/net"
)

// HostFacts are static host properties read once at startup.
type HostFacts struct {
	Hostname      string
	OSType        string
	Platform      string
	KernelVersion string
	IPs           []string
}

func DetectHostFacts(ctx context.Context) (HostFacts, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return HostFacts{}, fmt.Errorf("host info: %w", err)
	}
	facts := HostFacts{
		Hostname:      info.Hostname,
		OSType:        osTag(info.OS),
		Platform:      strings.TrimSpace(info.Platform + " " + info.PlatformVersion),
		KernelVersion: info.KernelVersion,
	}

	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return facts, fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			prefix, err := netip.ParsePrefix(addr.Addr)
			if err != nil {
				continue
			}
			ip := prefix.Addr()
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			facts.IPs = append(facts.IPs, ip.String())
		}
	}
	return facts, nil
}

// osTag turns gopsutil's lowercase OS name into the tag the backend expects,
// e.g. "linux" becomes "Linux".
func osTag(os string) string {
	if os == "" {
		return "Linux"
	}
	return strings.ToUpper(os[:1]) + os[1:]
}
