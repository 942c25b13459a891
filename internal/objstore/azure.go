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
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/logrunner/internal/azureclient"
)

// AzureClient reads blobs from Azure Blob Storage. The bucket argument of
// the Client interface maps to the container name.
type AzureClient struct {
	client *azureclient.BlobClient
}

var _ Client = (*AzureClient)(nil)

func NewAzureClient(client *azureclient.BlobClient) *AzureClient {
	return &AzureClient{client: client}
}

func azureErrorIs404(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func (c *AzureClient) OpenRange(ctx context.Context, container, key string, start int64) (io.ReadCloser, error) {
	ctx, span := c.client.Tracer.Start(ctx, "objstore.AzureClient.OpenRange",
		trace.WithAttributes(
			attribute.String("container", container),
			attribute.String("key", key),
			attribute.Int64("start", start),
		),
	)
	defer span.End()

	opts := &azblob.DownloadStreamOptions{}
	if start > 0 {
		opts.Range = blob.HTTPRange{Offset: start}
	}

	fetchCount.Add(ctx, 1)
	resp, err := c.client.Client.DownloadStream(ctx, container, key, opts)
	if err != nil {
		fetchErrors.Add(ctx, 1)
		if azureErrorIs404(err) {
			return nil, fmt.Errorf("azure://%s/%s: %w", container, key, ErrNotFound)
		}
		return nil, fmt.Errorf("download azure://%s/%s: %w", container, key, err)
	}

	return &countingReader{ReadCloser: resp.Body, ctx: context.WithoutCancel(ctx)}, nil
}

func (c *AzureClient) Head(ctx context.Context, container, key string) (ObjectInfo, error) {
	blobClient := c.client.Client.ServiceClient().NewContainerClient(container).NewBlobClient(key)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if azureErrorIs404(err) {
			return ObjectInfo{}, fmt.Errorf("azure://%s/%s: %w", container, key, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("head azure://%s/%s: %w", container, key, err)
	}

	info := ObjectInfo{}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		info.ContentType = *props.ContentType
	}
	if props.ETag != nil {
		info.ETag = string(*props.ETag)
	}
	if props.LastModified != nil {
		info.LastModified = props.LastModified.Unix()
	}
	return info, nil
}
