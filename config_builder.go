package secrules

import "time"

// ConfigBuilder assembles a Config fluently, mostly for tooling and
// tests that generate configuration programmatically.
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:      1,
			DefaultRealm: SystemRealm,
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) DefaultRealm(realm string) *ConfigBuilder {
	b.cfg.DefaultRealm = realm
	return b
}

func (b *ConfigBuilder) CaseSensitive(v bool) *ConfigBuilder {
	b.cfg.CaseSensitive = v
	return b
}

func (b *ConfigBuilder) EnableIndex() *ConfigBuilder {
	b.cfg.IndexEnabled = true
	return b
}

func (b *ConfigBuilder) ScriptTimeout(d time.Duration) *ConfigBuilder {
	b.cfg.ScriptTimeoutMS = d.Milliseconds()
	return b
}

func (b *ConfigBuilder) DecisionCache(numCounters, maxCost, bufferItems int64) *ConfigBuilder {
	b.cfg.Engine = EngineConfig{
		RistrettoNumCounter: numCounters,
		RistrettoMaxCost:    maxCost,
		RistrettoBuffer:     bufferItems,
	}
	return b
}

func (b *ConfigBuilder) SystemIdentity(sys SystemConfig) *ConfigBuilder {
	b.cfg.System = sys
	return b
}

func (b *ConfigBuilder) AddPolicy(p Policy) *ConfigBuilder {
	b.cfg.Policies = append(b.cfg.Policies, p)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
