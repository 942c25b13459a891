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

package azureclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type blobClientKey struct {
	StorageAccount string
}

type queueClientKey struct {
	StorageAccount string
	QueueName      string
}

// Manager hands out Azure storage clients, caching them per account.
type Manager struct {
	baseCred *azidentity.DefaultAzureCredential

	sync.RWMutex
	blobClients  map[blobClientKey]*BlobClient
	queueClients map[queueClientKey]*QueueClient
	tracer       trace.Tracer
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// NewManager initializes Azure credential management.
func NewManager(ctx context.Context, opts ...ManagerOption) (*Manager, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("loading Azure credentials: %w", err)
	}

	tracer := otel.Tracer("github.com/cardinalhq/logrunner/internal/azureclient")
	mgr := &Manager{
		baseCred:     cred,
		blobClients:  make(map[blobClientKey]*BlobClient),
		queueClients: make(map[queueClientKey]*QueueClient),
		tracer:       tracer,
	}
	for _, opt := range opts {
		opt(mgr)
	}

	return mgr, nil
}
