package provider

import (
	"fmt"
	"time"

	"z-video-ai-api/internal/config"
	"z-video-ai-api/internal/domain/entity"
)

// 各供应商的官方 API 基地址，配置未覆盖时使用
var defaultBaseURLs = map[string]string{
	"runway": "https://api.dev.runwayml.com",
	"kling":  "https://api.klingai.com",
	"luma":   "https://api.lumalabs.ai",
	"kie":    "https://api.kie.ai",
}

// Registry 供应商描述符注册表与档位链查找
type Registry struct {
	descriptors map[string]Descriptor
	credentials map[string]config.ProviderConfig
	chains      map[entity.Tier][]string
}

// NewRegistry 根据配置装配内置描述符并校验档位链
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]Descriptor),
		credentials: make(map[string]config.ProviderConfig),
		chains:      make(map[entity.Tier][]string),
	}

	for _, d := range []Descriptor{
		newRunwayDescriptor(cfg.Providers.Credentials["runway"].Model),
		newKlingDescriptor(cfg.Providers.Credentials["kling"].Model),
		newLumaDescriptor(cfg.Providers.Credentials["luma"].Model),
		newKieDescriptor(cfg.Providers.Credentials["kie"].Model),
	} {
		r.descriptors[d.Key()] = d
	}

	for key, pc := range cfg.Providers.Credentials {
		if _, ok := r.descriptors[key]; !ok {
			return nil, fmt.Errorf("unknown provider %q in credentials config", key)
		}
		if pc.BaseURL == "" {
			pc.BaseURL = defaultBaseURLs[key]
		}
		if pc.Timeout <= 0 {
			pc.Timeout = 30 * time.Second
		}
		r.credentials[key] = pc
	}

	for tierName, chain := range cfg.Providers.Chains {
		tier := entity.Tier(tierName)
		if !tier.Valid() {
			return nil, fmt.Errorf("unknown tier %q in provider chains config", tierName)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("empty provider chain for tier %q", tierName)
		}
		for _, key := range chain {
			if _, ok := r.descriptors[key]; !ok {
				return nil, fmt.Errorf("unknown provider %q in chain for tier %q", key, tierName)
			}
		}
		r.chains[tier] = chain
	}

	return r, nil
}

// Get 按键查找描述符
func (r *Registry) Get(key string) (Descriptor, bool) {
	d, ok := r.descriptors[key]
	return d, ok
}

// Credentials 按键查找已配置凭证，未配置的供应商返回 false
func (r *Registry) Credentials(key string) (config.ProviderConfig, bool) {
	pc, ok := r.credentials[key]
	if !ok || pc.APIKey == "" {
		return config.ProviderConfig{}, false
	}
	return pc, true
}

// ChainFor 返回档位对应的有序描述符链，过滤不支持该档位的供应商
func (r *Registry) ChainFor(tier entity.Tier) []Descriptor {
	keys, ok := r.chains[tier]
	if !ok {
		return nil
	}
	chain := make([]Descriptor, 0, len(keys))
	for _, key := range keys {
		d := r.descriptors[key]
		if !d.SupportsTier(tier) {
			continue
		}
		chain = append(chain, d)
	}
	return chain
}
