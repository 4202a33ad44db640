package version

import (
	"runtime"
	"time"

	"hostwatch-agent/internal/config"
)

// Version is overridden at build time with
// -ldflags "-X hostwatch-agent/internal/agent/version.Version=v1.2.3".
var Version = "dev"

type Info struct {
	HostIdentifier  string `json:"host_identifier"`
	AgentVersion    string `json:"agent_version"`
	GoVersion       string `json:"go_version"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}

func Get(cfg config.Config) Info {
	return Info{
		HostIdentifier:  cfg.HostIdentifier,
		AgentVersion:    Version,
		GoVersion:       runtime.Version(),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   time.Now().UTC().Unix(),
	}
}
