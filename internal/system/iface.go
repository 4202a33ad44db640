package system

import (
	"context"
	"sort"
	"strings"
)

// DefaultInterface is used when no candidate interface qualifies.
const DefaultInterface = "eth0"

type InterfaceKind int

const (
	InterfaceOther InterfaceKind = iota
	InterfaceEthernet
	InterfaceWireless
)

type InterfaceInfo struct {
	Name        string
	Description string
	Up          bool
	Loopback    bool
	Virtual     bool
	Kind        InterfaceKind
	SpeedMbps   int64
}

type LinkLister interface {
	Interfaces(ctx context.Context) ([]InterfaceInfo, error)
}

// SelectInterface picks the active physical interface: up, not loopback, not
// virtual, ethernet or wireless. Ethernet wins over wireless, then higher link
// speed. Ties keep the listing order.
func SelectInterface(ifaces []InterfaceInfo) string {
	candidates := make([]InterfaceInfo, 0, len(ifaces))
	for _, i := range ifaces {
		if !i.Up || i.Loopback || i.Virtual {
			continue
		}
		if containsFold(i.Name, "virtual") || containsFold(i.Description, "virtual") {
			continue
		}
		if i.Kind != InterfaceEthernet && i.Kind != InterfaceWireless {
			continue
		}
		candidates = append(candidates, i)
	}
	if len(candidates) == 0 {
		return DefaultInterface
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ea := candidates[a].Kind == InterfaceEthernet
		eb := candidates[b].Kind == InterfaceEthernet
		if ea != eb {
			return ea
		}
		return candidates[a].SpeedMbps > candidates[b].SpeedMbps
	})
	return candidates[0].Name
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
