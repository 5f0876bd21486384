package daemon

import (
	"log/slog"

	"fabingest/internal/config"
	"fabingest/internal/logging"
	"fabingest/internal/services"
	"fabingest/internal/store"
)

// HostServices builds the locator every plugin scope inherits: settings and
// bulk insert backed by st, the synchronized clock, the equipment identity
// and the host logger.
func HostServices(cfg *config.Config, st *store.Store, clock services.Clock, logger *slog.Logger) *services.Registry {
	reg := services.NewRegistry()
	if st != nil {
		services.Provide[services.Settings](reg, st)
		services.Provide[services.Database](reg, st)
	}
	if clock != nil {
		services.Provide(reg, clock)
	}
	services.Provide(reg, services.Equipment{EQPID: cfg.Equipment.EQPID, Type: cfg.Equipment.Type})
	if logger == nil {
		logger = logging.NewNop()
	}
	services.Provide(reg, logger)
	services.Provide[services.Logger](reg, logging.NewEventLogger(logger))
	return reg
}
