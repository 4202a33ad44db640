package stream

import (
	"context"
	"crypto/tls"
	"log/slog"

	"hostwatch-agent/internal/config"
	"hostwatch-agent/internal/metrics"
	"hostwatch-agent/internal/wire"
)

// NATSOptionsFromConfig builds broker options; suffix distinguishes the
// publisher and consumer connections in broker monitoring.
func NATSOptionsFromConfig(cfg config.Config, tlsCfg *tls.Config, suffix string) NATSOptions {
	return NATSOptions{
		URL:            cfg.BrokerURL,
		Name:           cfg.BrokerClientName + "-" + suffix,
		User:           cfg.BrokerUser,
		Password:       cfg.BrokerPassword,
		TLS:            tlsCfg,
		ConnectTimeout: cfg.BrokerConnectTimeout,
		ReconnectWait:  cfg.BrokerReconnectWait,
		MaxReconnects:  cfg.BrokerMaxReconnects,

		JetStreamPublish: cfg.JetStreamPublish,
	}
}

func NewPublisherFromConfig(ctx context.Context, cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger, m *metrics.Metrics) (*Publisher, *NATSClient, error) {
	client, err := ConnectNATS(ctx, NATSOptionsFromConfig(cfg, tlsCfg, "publisher"), logger)
	if err != nil {
		return nil, nil, err
	}
	pub := NewPublisher(logger, client, wire.SharedPool(), cfg.CommunicationKey, cfg.HostIdentifier, m)
	return pub, client, nil
}
