package main

import (
	"go.uber.org/zap"

	"github.com/campusops/qrgate/internal/qrgate/service"
)

// accessPolicy builds the authorizer from the catalog's policy lists. With
// no lists every verified person may perform every action type, which prod
// reports at warn level on each start.
func accessPolicy(env string, policies map[string][]string, logger *zap.Logger) service.AccessPolicy {
	if len(policies) > 0 {
		restricted := make([]string, 0, len(policies))
		for actionType := range policies {
			restricted = append(restricted, actionType)
		}
		logger.Info("access policy loaded", zap.Strings("restricted_action_types", restricted))
		return service.NewAccessPolicy(policies)
	}
	if env == "prod" {
		logger.Warn("no access policy configured: every action type is open to every verified person",
			zap.String("catalog_section", "policies"))
	}
	return service.AccessPolicy{AllowAll: true}
}
