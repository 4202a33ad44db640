//go:build linux

package system

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
)

type netlinkLister struct {
	sysRoot string
}

func NewLinkLister(sysRoot string) LinkLister {
	return netlinkLister{sysRoot: sysRoot}
}

func (l netlinkLister) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("netlink link list: %w", err)
	}
	out := make([]InterfaceInfo, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil {
			continue
		}
		base := filepath.Join(l.sysRoot, "class", "net", attrs.Name)
		info := InterfaceInfo{
			Name:        attrs.Name,
			Description: attrs.Alias,
			Up:          attrs.OperState == netlink.OperUp || (attrs.OperState == netlink.OperUnknown && attrs.Flags&net.FlagUp != 0),
			Loopback:    attrs.Flags&net.FlagLoopback != 0,
			Virtual:     link.Type() != "device" || !exists(filepath.Join(base, "device")),
			SpeedMbps:   readSpeed(filepath.Join(base, "speed")),
		}
		switch {
		case exists(filepath.Join(base, "wireless")), exists(filepath.Join(base, "phy80211")):
			info.Kind = InterfaceWireless
		case attrs.EncapType == "ether":
			info.Kind = InterfaceEthernet
		}
		out = append(out, info)
	}
	return out, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func readSpeed(path string) int64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
