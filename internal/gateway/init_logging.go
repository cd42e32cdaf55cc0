package gateway

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/llm-gateway/internal/utils"
)

// logInit writes a one-line summary of the effective configuration.
func (g *Gateway) logInit() {
	cfg := g.cfg
	snap := g.router.Registry().Snapshot()

	ids := make([]string, 0, len(snap.Providers))
	for id := range snap.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	providers := zerolog.Arr()
	for _, id := range ids {
		p := snap.Providers[id]
		providers.Dict(zerolog.Dict().
			Str("id", id).
			Bool("enabled", p.Enabled).
			Str("model", p.Model).
			Str("credential_ref", utils.MaskKey(p.CredentialRef)))
	}

	log.Info().
		Int("port", cfg.Server.Port).
		Str("backend", cfg.Backend.URL).
		Str("default_provider", snap.DefaultProvider).
		Int("task_mappings", len(snap.TaskMapping)).
		Array("providers", providers).
		Bool("cache_enabled", cfg.Cache.IsEnabled()).
		Dur("cache_ttl", cfg.Cache.TTL).
		Dur("stream_grace", cfg.Stream.GracePeriod).
		Float64("daily_budget", cfg.Budget.Daily).
		Float64("monthly_budget", cfg.Budget.Monthly).
		Str("journal", cfg.Storage.SQLitePath).
		Msg("gateway_init")
}
