// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	AuthAPI AuthAPI `yaml:"authAPI"`
	ValKey  ValKey  `yaml:"valkey"`
	Session Session `yaml:"session"`
}

type AuthAPI struct {
	BaseURL string        `yaml:"baseURL" default:"http://localhost:8000"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
}

type ValKey struct {
	Host     commoncfg.SourceRef `yaml:"host"`
	User     commoncfg.SourceRef `yaml:"user"`
	Password commoncfg.SourceRef `yaml:"password"`
	Prefix   string              `yaml:"prefix" default:"fwh-session"`
}

type Session struct {
	// RefreshWindow is how close to expiry a token may get before the
	// agent refreshes it proactively.
	RefreshWindow time.Duration `yaml:"refreshWindow" default:"30s"`
	// CheckInterval is the cadence of the background expiry check.
	CheckInterval time.Duration `yaml:"checkInterval" default:"10s"`
	// ClaimsCacheTTL bounds the decoded-claims memoization.
	ClaimsCacheTTL time.Duration `yaml:"claimsCacheTTL" default:"1m"`
}
