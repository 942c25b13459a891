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

	"github.com/cardinalhq/logrunner/internal/decoder"
	"github.com/cardinalhq/logrunner/internal/sources"
)

// Settings converts the input block into decode settings for the source
// layer.
func (c InputConfig) Settings() (sources.Settings, error) {
	settings := sources.Settings{
		Encoding:  decoder.Encoding(c.Encoding),
		Tags:      c.Tags,
		Dataset:   c.Dataset,
		Namespace: c.Namespace,
	}
	if c.Encoding == "" {
		settings.Encoding = decoder.EncodingAuto
	}

	if c.Multiline.Type != "" {
		rule := &decoder.Rule{
			Type:         c.Multiline.Type,
			Pattern:      c.Multiline.Pattern,
			Negate:       c.Multiline.Negate,
			Match:        c.Multiline.Match,
			FlushPattern: c.Multiline.FlushPattern,
			CountLines:   c.Multiline.CountLines,
			MaxLines:     c.Multiline.MaxLines,
			MaxBytes:     c.Multiline.MaxBytes,
			SkipNewline:  c.Multiline.SkipNewline,
		}
		if err := rule.Validate(); err != nil {
			return sources.Settings{}, fmt.Errorf("input multiline: %w", err)
		}
		settings.Multiline = rule
	}
	return settings, nil
}
