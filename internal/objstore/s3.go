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

package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/logrunner/internal/awsclient"
)

// S3Client reads objects from S3 and S3-compatible stores.
type S3Client struct {
	client *awsclient.S3Client
}

var _ Client = (*S3Client)(nil)

func NewS3Client(client *awsclient.S3Client) *S3Client {
	return &S3Client{client: client}
}

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	var notFoundErr *types.NotFound
	return errors.As(err, &noKeyErr) || errors.As(err, &notFoundErr)
}

func (c *S3Client) OpenRange(ctx context.Context, bucket, key string, start int64) (io.ReadCloser, error) {
	ctx, span := c.client.Tracer.Start(ctx, "objstore.S3Client.OpenRange",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
			attribute.Int64("start", start),
		),
	)
	defer span.End()

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if start > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", start))
	}

	fetchCount.Add(ctx, 1)
	out, err := c.client.Client.GetObject(ctx, input)
	if err != nil {
		fetchErrors.Add(ctx, 1)
		if s3ErrorIs404(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}

	return &countingReader{ReadCloser: out.Body, ctx: context.WithoutCancel(ctx)}, nil
}

func (c *S3Client) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	out, err := c.client.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return ObjectInfo{}, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}

	info := ObjectInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		ETag:        aws.ToString(out.ETag),
	}
	if out.LastModified != nil {
		info.LastModified = out.LastModified.Unix()
	}
	return info, nil
}
