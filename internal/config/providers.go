package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/voxgate/voxgate/internal/provider/health"
	"github.com/voxgate/voxgate/internal/provider/orchestrator"
)

// ProviderFile is the YAML document naming the speech providers.
//
//	strategy: best_performance
//	providers:
//	  - id: deepgram
//	    type: stt
//	    priority: 1
//	    capabilities: [streaming, diarization]
//	    health_check:
//	      url: https://api.deepgram.com/v1/projects
//	      headers:
//	        Authorization: Token ${DEEPGRAM_API_KEY}
type ProviderFile struct {
	Strategy  string          `yaml:"strategy"`
	Providers []ProviderEntry `yaml:"providers"`
}

// ProviderEntry is one provider definition. Enabled defaults to true and
// Weight to 1 when omitted.
type ProviderEntry struct {
	ID           string      `yaml:"id"`
	Type         string      `yaml:"type"`
	Priority     int         `yaml:"priority"`
	Weight       *float64    `yaml:"weight"`
	Enabled      *bool       `yaml:"enabled"`
	Capabilities []string    `yaml:"capabilities"`
	HealthCheck  HealthCheck `yaml:"health_check"`
}

// HealthCheck describes the HTTP endpoint probed for a provider.
type HealthCheck struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
}

// IsEnabled reports the effective enabled flag.
func (e ProviderEntry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// EffectiveWeight reports the effective random-strategy weight.
func (e ProviderEntry) EffectiveWeight() float64 {
	if e.Weight == nil {
		return 1
	}
	return *e.Weight
}

// LoadProviderFile reads and decodes path. ${VAR} references are expanded
// from the environment before decoding so credentials stay out of the file.
func LoadProviderFile(path string) (ProviderFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ProviderFile{}, fmt.Errorf("%w: read providers file: %v", ErrInvalidConfig, err)
	}
	return ParseProviderFile(raw)
}

// ParseProviderFile decodes a provider document. Unknown keys are rejected.
func ParseProviderFile(raw []byte) (ProviderFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)

	var file ProviderFile
	if err := dec.Decode(&file); err != nil {
		return ProviderFile{}, fmt.Errorf("%w: decode providers file: %v", ErrInvalidConfig, err)
	}
	if len(file.Providers) == 0 {
		return ProviderFile{}, fmt.Errorf("%w: providers file lists no providers", ErrInvalidConfig)
	}
	for i, p := range file.Providers {
		if p.ID == "" {
			return ProviderFile{}, fmt.Errorf("%w: provider %d has no id", ErrInvalidConfig, i)
		}
	}
	return file, nil
}

// Preferences converts the entries, in file order, into orchestrator
// preferences.
func (f ProviderFile) Preferences() []orchestrator.ProviderPreference {
	prefs := make([]orchestrator.ProviderPreference, 0, len(f.Providers))
	for _, p := range f.Providers {
		prefs = append(prefs, orchestrator.ProviderPreference{
			ProviderID:   p.ID,
			ProviderType: p.Type,
			Priority:     p.Priority,
			Weight:       p.EffectiveWeight(),
			Enabled:      p.IsEnabled(),
			Capabilities: p.Capabilities,
		})
	}
	return prefs
}

// Targets builds health targets for every entry with a health check URL.
// The ids of entries without one are returned in skipped.
func Targets(entries []ProviderEntry, opts ...health.HTTPProberOption) (targets []health.Target, skipped []string) {
	for _, e := range entries {
		if e.HealthCheck.URL == "" {
			skipped = append(skipped, e.ID)
			continue
		}

		proberOpts := append([]health.HTTPProberOption(nil), opts...)
		if e.HealthCheck.Method != "" {
			proberOpts = append(proberOpts, health.WithMethod(e.HealthCheck.Method))
		}
		for k, v := range e.HealthCheck.Headers {
			proberOpts = append(proberOpts, health.WithHeader(k, v))
		}

		targets = append(targets, health.Target{
			ProviderID:   e.ID,
			ProviderType: e.Type,
			Enabled:      e.IsEnabled(),
			Prober:       health.NewHTTPProber(e.HealthCheck.URL, proberOpts...),
		})
	}
	return targets, skipped
}
