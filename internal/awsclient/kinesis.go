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

package awsclient

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"go.opentelemetry.io/otel/trace"
)

type KinesisClient struct {
	Client *kinesis.Client
	Tracer trace.Tracer
}

type kinesisConfig struct {
	RoleARN string
	Region  string
}

// KinesisOption is a functional option for GetKinesis.
type KinesisOption func(*kinesisConfig)

// WithKinesisRole sets the IAM Role ARN to assume (empty = no assume).
func WithKinesisRole(roleARN string) KinesisOption {
	return func(c *kinesisConfig) {
		c.RoleARN = roleARN
	}
}

// WithKinesisRegion overrides the AWS region for this call (empty = keep
// the base config's region).
func WithKinesisRegion(region string) KinesisOption {
	return func(c *kinesisConfig) {
		if region != "" {
			c.Region = region
		}
	}
}

func (m *Manager) GetKinesis(ctx context.Context, opts ...KinesisOption) (*KinesisClient, error) {
	kc := kinesisConfig{
		Region: m.baseCfg.Region,
	}
	for _, o := range opts {
		o(&kc)
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = kc.Region
	cfg.Credentials = m.credentialsFor(kc.Region, kc.RoleARN)

	return &KinesisClient{Client: kinesis.NewFromConfig(cfg), Tracer: m.tracer}, nil
}
