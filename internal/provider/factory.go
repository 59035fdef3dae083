package provider

import (
	"ubipay/internal/domain"
	"ubipay/pkg/config"
	"ubipay/pkg/logger"
)

// NewRegistryFromConfig builds a retrying REST adapter for every network with
// a configured base URL. The card network is additionally wrapped with
// payload encryption when a key is configured.
func NewRegistryFromConfig(cfg config.ProvidersConfig, card config.CardConfig, log logger.Logger) (*Registry, error) {
	policy := RetryPolicy{
		Attempts:       cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}

	registry := NewRegistry()
	for name, ep := range cfg.Endpoints {
		p := domain.Provider(name)
		if !p.IsValid() || ep.BaseURL == "" {
			log.Warn("Skipping provider endpoint", map[string]interface{}{"provider": name})
			continue
		}

		var adapter Adapter = WithRetry(NewRESTAdapter(RESTConfigFromEndpoint(p, ep, cfg.RequestTimeout), log), policy, log)
		if p == domain.ProviderCard && card.EncryptionKey != "" {
			enc, err := NewCardEncryptor(card.EncryptionKey, card.KeyContext)
			if err != nil {
				return nil, err
			}
			adapter = NewCardAdapter(adapter, enc)
		}
		registry.Register(adapter)
	}
	return registry, nil
}
