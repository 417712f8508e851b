package secrules

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/end2endlogic-com/quantum-framework-sub001/utils"
)

// Config is the declarative engine configuration: matching and indexing
// knobs, decision-cache sizing, system identity overrides, and optional
// inline seed policies for environments without a backing store.
type Config struct {
	Version         uint16       `json:"version" yaml:"version"`
	DefaultRealm    string       `json:"default_realm" yaml:"default_realm"`
	CaseSensitive   bool         `json:"case_sensitive" yaml:"case_sensitive"`
	IndexEnabled    bool         `json:"index_enabled" yaml:"index_enabled"`
	ScriptTimeoutMS int64        `json:"script_timeout_ms" yaml:"script_timeout_ms"`
	Engine          EngineConfig `json:"engine" yaml:"engine"`
	System          SystemConfig `json:"system" yaml:"system"`
	Policies        []Policy     `json:"policies,omitempty" yaml:"policies,omitempty"`
}

// EngineConfig sizes the ristretto decision cache. All zero disables it.
type EngineConfig struct {
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// SystemConfig overrides the platform identity constants per engine.
// Empty fields keep the defaults.
type SystemConfig struct {
	UserID        string `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Realm         string `json:"realm,omitempty" yaml:"realm,omitempty"`
	OrgRefName    string `json:"org_ref_name,omitempty" yaml:"org_ref_name,omitempty"`
	AccountNumber string `json:"account_number,omitempty" yaml:"account_number,omitempty"`
	TenantID      string `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	AnonymousID   string `json:"anonymous_id,omitempty" yaml:"anonymous_id,omitempty"`
}

// ConfigLoader loads configuration from the supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToYAML exports the config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports the config to indented JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks the knobs and every inline policy rule.
func (c *Config) Validate() error {
	if c.ScriptTimeoutMS < 0 {
		return fmt.Errorf("script_timeout_ms must not be negative")
	}
	for _, p := range c.Policies {
		for _, r := range p.Rules {
			if r.URI.Header.Identity == "" && p.PrincipalID == "" {
				return fmt.Errorf("policy rule %q has no identity and its policy has no principal", r.Name)
			}
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyConfig applies the configuration to the engine: matching mode,
// index, script timeout, system identities, decision cache, and any
// inline policies (installed as the policy source when none is wired),
// finishing with a reload of the configured realm.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.CaseSensitive {
		e.caseMode = utils.CaseSensitive
	} else {
		e.caseMode = utils.CaseInsensitive
	}
	e.indexEnabled = cfg.IndexEnabled
	if cfg.ScriptTimeoutMS > 0 {
		e.scriptTimeout = time.Duration(cfg.ScriptTimeoutMS) * time.Millisecond
	}
	if cfg.DefaultRealm != "" {
		e.defaultRealm = strings.ToLower(cfg.DefaultRealm)
	}

	applySystemOverride(&e.ids.userID, cfg.System.UserID)
	applySystemOverride(&e.ids.realm, cfg.System.Realm)
	applySystemOverride(&e.ids.orgRefName, cfg.System.OrgRefName)
	applySystemOverride(&e.ids.accountNumber, cfg.System.AccountNumber)
	applySystemOverride(&e.ids.tenantID, cfg.System.TenantID)
	applySystemOverride(&e.ids.anonymousID, cfg.System.AnonymousID)

	if cfg.Engine.RistrettoNumCounter > 0 {
		if err := e.ConfigureDecisionCache(cfg.Engine.RistrettoNumCounter,
			cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer); err != nil {
			return err
		}
	}

	if len(cfg.Policies) > 0 && e.source == nil {
		policies := cfg.Policies
		e.source = PolicySourceFunc(func(ctx context.Context, realm string) ([]Policy, error) {
			out := make([]Policy, 0, len(policies))
			for _, p := range policies {
				if p.Realm == "" || strings.EqualFold(p.Realm, realm) {
					out = append(out, p)
				}
			}
			return out, nil
		})
	}

	return e.ReloadFromSource(ctx, e.defaultRealm)
}

func applySystemOverride(dst *string, v string) {
	if v != "" {
		*dst = strings.ToLower(v)
	}
}
