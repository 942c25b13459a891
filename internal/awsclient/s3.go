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

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"
)

type S3Client struct {
	Client *s3.Client
	Tracer trace.Tracer
}

type s3Config struct {
	RoleARN   string
	Region    string
	Endpoint  string
	PathStyle bool
}

// S3Option is a functional option for GetS3.
type S3Option func(*s3Config)

// WithS3Role sets the IAM Role ARN to assume (empty = no assume).
func WithS3Role(roleARN string) S3Option {
	return func(c *s3Config) {
		c.RoleARN = roleARN
	}
}

// WithS3Region overrides the AWS region for this call (empty = keep the
// base config's region).
func WithS3Region(region string) S3Option {
	return func(c *s3Config) {
		if region != "" {
			c.Region = region
		}
	}
}

// WithS3Endpoint points the client at an S3-compatible endpoint (GCS
// interop, MinIO). Implies path-style addressing.
func WithS3Endpoint(endpoint string) S3Option {
	return func(c *s3Config) {
		c.Endpoint = endpoint
		c.PathStyle = true
	}
}

func (m *Manager) GetS3(ctx context.Context, opts ...S3Option) (*S3Client, error) {
	sc := s3Config{
		Region: m.baseCfg.Region,
	}
	for _, o := range opts {
		o(&sc)
	}

	cfg := m.baseCfg.Copy()
	cfg.Region = sc.Region
	cfg.Credentials = m.credentialsFor(sc.Region, sc.RoleARN)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.PathStyle
	})

	return &S3Client{Client: client, Tracer: m.tracer}, nil
}
