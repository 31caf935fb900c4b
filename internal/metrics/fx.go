package metrics

import (
	"github.com/smallbiznis/atrium/internal/config"
	"go.uber.org/fx"
)

func loadConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.AppName,
	}
}

// Module wires the meter provider and the domain instruments.
var Module = fx.Module("metrics",
	fx.Provide(
		loadConfig,
		NewProvider,
		New,
	),
)
