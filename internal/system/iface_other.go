//go:build !linux

package system

import (
	"context"
	"fmt"
	"net"
)

type netLister struct{}

func NewLinkLister(string) LinkLister {
	return netLister{}
}

func (netLister) Interfaces(context.Context) ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]InterfaceInfo, 0, len(ifaces))
	for _, i := range ifaces {
		out = append(out, InterfaceInfo{
			Name:     i.Name,
			Up:       i.Flags&net.FlagUp != 0,
			Loopback: i.Flags&net.FlagLoopback != 0,
			Kind:     InterfaceEthernet,
		})
	}
	return out, nil
}
