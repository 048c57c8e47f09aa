package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML profiles can spell durations the
// way Go does ("10m", "1h30m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PracticeProfile carries jurisdiction-specific defaults: the timezone
// time windows are interpreted in, how long plan commitments stay valid,
// and audit retention expectations.
type PracticeProfile struct {
	Name         string   `yaml:"name" json:"name"`
	Code         string   `yaml:"code" json:"code"`
	Timezone     string   `yaml:"timezone" json:"timezone"`
	PlanValidity Duration `yaml:"plan_validity" json:"plan_validity"`

	// StrictAttestation blocks every unattested intent, overriding the
	// per-action attestation list.
	StrictAttestation bool `yaml:"strict_attestation" json:"strict_attestation"`

	Retention RetentionConfig `yaml:"retention" json:"retention"`
}

// RetentionConfig defines how long audit records are kept.
type RetentionConfig struct {
	AuditLogDays int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile reads a practice profile YAML by jurisdiction code from
// dir, expecting profile_<code>.yaml.
func LoadProfile(dir, code string) (*PracticeProfile, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("config: empty jurisdiction code")
	}

	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", code))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read profile %s: %w", path, err)
	}

	var p PracticeProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("config: profile %s: %w", path, err)
	}
	return &p, nil
}

func (p *PracticeProfile) validate() error {
	if p.Code == "" {
		return fmt.Errorf("missing code")
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			return fmt.Errorf("unknown timezone %q", p.Timezone)
		}
	}
	if p.PlanValidity < 0 {
		return fmt.Errorf("negative plan_validity")
	}
	return nil
}
