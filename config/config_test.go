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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/logrunner/internal/decoder"
)

func validConfig() *Config {
	cfg := defaults()
	cfg.Output.Endpoint = "https://es.example.com:9200"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, 500, cfg.Output.MaxActions)
	assert.Equal(t, int64(10*1024*1024), cfg.Output.MaxBytes)
	assert.Equal(t, 3, cfg.Replay.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Budget.Grace)
	assert.Equal(t, "aws", cfg.Queues.Backend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LOGRUNNER_OUTPUT_ENDPOINT", "https://es.example.com:9200")
	t.Setenv("LOGRUNNER_OUTPUT_MAX_ACTIONS", "250")
	t.Setenv("LOGRUNNER_REPLAY_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://es.example.com:9200", cfg.Output.Endpoint)
	assert.Equal(t, 250, cfg.Output.MaxActions)
	assert.Equal(t, 5, cfg.Replay.MaxAttempts)
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Output.Endpoint = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Output.MaxActions = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Queues.Backend = "gcp"
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Queues.Backend = "azure"
	assert.Error(t, cfg.Validate(), "azure backend needs a storage account")
	cfg.Queues.StorageAccount = "acct"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Budget.Grace = cfg.Budget.PassTimeout
	assert.Error(t, cfg.Validate())
}

func TestInputSettings(t *testing.T) {
	in := InputConfig{
		Encoding: "gzip",
		Tags:     []string{"prod"},
		Dataset:  "nginx.access",
		Multiline: MultilineConfig{
			Type:    "pattern",
			Pattern: `^\s`,
			Match:   "after",
		},
	}
	settings, err := in.Settings()
	require.NoError(t, err)
	assert.Equal(t, decoder.EncodingGzip, settings.Encoding)
	assert.Equal(t, "nginx.access", settings.Dataset)
	require.NotNil(t, settings.Multiline)
	assert.Equal(t, "pattern", settings.Multiline.Type)
}

func TestInputSettings_InvalidMultiline(t *testing.T) {
	in := InputConfig{Multiline: MultilineConfig{Type: "pattern"}}
	_, err := in.Settings()
	assert.Error(t, err)
}

func TestInputSettings_DefaultEncoding(t *testing.T) {
	settings, err := InputConfig{}.Settings()
	require.NoError(t, err)
	assert.Equal(t, decoder.EncodingAuto, settings.Encoding)
}
