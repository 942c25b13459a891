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

package sources

import (
	"fmt"

	"github.com/cardinalhq/logrunner/internal/awsclient"
	"github.com/cardinalhq/logrunner/internal/objstore"
)

// Factory rebuilds sources from envelopes, both for fresh deliveries and
// for continuation state persisted by an earlier pass.
type Factory struct {
	store    objstore.Client
	kin      *awsclient.KinesisClient
	settings Settings
}

func NewFactory(store objstore.Client, kin *awsclient.KinesisClient, settings Settings) *Factory {
	return &Factory{store: store, kin: kin, settings: settings}
}

// FromEnvelope builds the source named by the envelope's type.
func (f *Factory) FromEnvelope(env Envelope) (Source, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeObjectStore:
		return NewObjectStoreSource(*env.ObjectStore, f.store, f.settings), nil
	case TypeQueue:
		return NewQueueSource(*env.Queue, f.settings), nil
	case TypeStream:
		return NewStreamSource(*env.Stream, f.kin, f.settings), nil
	case TypeSubscription:
		return NewSubscriptionSource(*env.Subscription, f.settings), nil
	default:
		return nil, fmt.Errorf("unknown envelope type %q", env.Type)
	}
}
