// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
type Config struct {
	Inputs  []InputConfig `mapstructure:"inputs"`
	Output  OutputConfig  `mapstructure:"output"`
	Queues  QueuesConfig  `mapstructure:"queues"`
	Budget  BudgetConfig  `mapstructure:"budget"`
	Replay  ReplayConfig  `mapstructure:"replay"`
	Offsets OffsetsConfig `mapstructure:"offsets"`
	AWS     AWSConfig     `mapstructure:"aws"`
	Azure   AzureConfig   `mapstructure:"azure"`
}

// InputConfig describes one configured event source.
type InputConfig struct {
	// Type is one of object_store, queue, stream, subscription.
	Type string `mapstructure:"type"`
	// Encoding forces plain or gzip; empty means sniff.
	Encoding  string          `mapstructure:"encoding"`
	Tags      []string        `mapstructure:"tags"`
	Dataset   string          `mapstructure:"dataset"`
	Namespace string          `mapstructure:"namespace"`
	Multiline MultilineConfig `mapstructure:"multiline"`
}

// MultilineConfig mirrors the decoder's aggregation rule.
type MultilineConfig struct {
	// Type is pattern, count, or while_pattern. Empty disables aggregation.
	Type         string `mapstructure:"type"`
	Pattern      string `mapstructure:"pattern"`
	Negate       bool   `mapstructure:"negate"`
	Match        string `mapstructure:"match"`
	FlushPattern string `mapstructure:"flush_pattern"`
	CountLines   int    `mapstructure:"count_lines"`
	MaxLines     int    `mapstructure:"max_lines"`
	MaxBytes     int    `mapstructure:"max_bytes"`
	SkipNewline  bool   `mapstructure:"skip_newline"`
}

// OutputConfig points at the bulk ingestion endpoint.
type OutputConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	APIKey     string `mapstructure:"api_key"`
	MaxActions int    `mapstructure:"max_actions"`
	MaxBytes   int64  `mapstructure:"max_bytes"`
}

// QueuesConfig names the three work queues.
type QueuesConfig struct {
	// Backend is aws or azure.
	Backend      string `mapstructure:"backend"`
	Notification string `mapstructure:"notification"`
	Continuing   string `mapstructure:"continuing"`
	Replay       string `mapstructure:"replay"`
	// StorageAccount is required for the azure backend.
	StorageAccount string        `mapstructure:"storage_account"`
	Visibility     time.Duration `mapstructure:"visibility"`
}

// BudgetConfig bounds each processing pass.
type BudgetConfig struct {
	PassTimeout time.Duration `mapstructure:"pass_timeout"`
	Grace       time.Duration `mapstructure:"grace"`
}

// ReplayConfig bounds the retry path.
type ReplayConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	// ReplayPermanent sends permanently rejected records through replay
	// instead of dropping them on first rejection.
	ReplayPermanent bool `mapstructure:"replay_permanent"`
}

// OffsetsConfig selects the progress store. An empty DSN keeps offsets in
// memory, which only suits single-process runs.
type OffsetsConfig struct {
	DSN          string        `mapstructure:"dsn"`
	CompletedTTL time.Duration `mapstructure:"completed_ttl"`
}

// AWSConfig covers the AWS-backed clients.
type AWSConfig struct {
	Region      string `mapstructure:"region"`
	RoleARN     string `mapstructure:"role_arn"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	SessionName string `mapstructure:"session_name"`
}

// AzureConfig covers the Azure-backed clients.
type AzureConfig struct {
	StorageAccount string `mapstructure:"storage_account"`
	BlobEndpoint   string `mapstructure:"blob_endpoint"`
}

func defaults() *Config {
	return &Config{
		Output: OutputConfig{
			MaxActions: 500,
			MaxBytes:   10 * 1024 * 1024,
		},
		Queues: QueuesConfig{
			Backend:    "aws",
			Visibility: 5 * time.Minute,
		},
		Budget: BudgetConfig{
			PassTimeout: 14 * time.Minute,
			Grace:       time.Minute,
		},
		Replay: ReplayConfig{
			MaxAttempts: 3,
		},
		Offsets: OffsetsConfig{
			CompletedTTL: time.Hour,
		},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "LOGRUNNER" and the dot character
// in keys is replaced by an underscore. For example, "output.endpoint"
// becomes "LOGRUNNER_OUTPUT_ENDPOINT".
func Load() (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("LOGRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Output.Endpoint == "" {
		return fmt.Errorf("output.endpoint is required")
	}
	if c.Output.MaxActions <= 0 {
		return fmt.Errorf("output.max_actions must be positive")
	}
	if c.Output.MaxBytes <= 0 {
		return fmt.Errorf("output.max_bytes must be positive")
	}
	switch c.Queues.Backend {
	case "aws":
	case "azure":
		if c.Queues.StorageAccount == "" {
			return fmt.Errorf("queues.storage_account is required for the azure backend")
		}
	default:
		return fmt.Errorf("unknown queues.backend %q", c.Queues.Backend)
	}
	if c.Budget.Grace >= c.Budget.PassTimeout {
		return fmt.Errorf("budget.grace must be shorter than budget.pass_timeout")
	}
	if c.Replay.MaxAttempts <= 0 {
		return fmt.Errorf("replay.max_attempts must be positive")
	}
	return nil
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
