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
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Envelope is the typed inbound event payload, one variant per source
// type. It round-trips through JSON so continuation state can rebuild the
// source in a later invocation.
type Envelope struct {
	Type         string             `json:"type"`
	ObjectStore  *ObjectStoreEvent  `json:"object_store,omitempty"`
	Queue        *QueueEvent        `json:"queue,omitempty"`
	Stream       *StreamEvent       `json:"stream,omitempty"`
	Subscription *SubscriptionEvent `json:"subscription,omitempty"`
}

// ObjectStoreEvent locates one object in cloud storage.
type ObjectStoreEvent struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// QueueEvent is a direct queue message whose body is the log payload.
type QueueEvent struct {
	Queue     string `json:"queue"`
	MessageID string `json:"message_id"`
	Body      []byte `json:"body"`
}

// StreamRecord is one record of a stream-shard delivery.
type StreamRecord struct {
	Sequence string `json:"sequence"`
	Data     []byte `json:"data"`
}

// StreamEvent is a batch of records delivered from one stream shard.
type StreamEvent struct {
	Stream  string         `json:"stream"`
	Shard   string         `json:"shard"`
	Records []StreamRecord `json:"records"`
}

// SubscriptionEntry is one pre-decoded log entry of a subscription batch.
type SubscriptionEntry struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// SubscriptionEvent is a pre-decoded batch from a log-subscription
// delivery (CloudWatch Logs style), already unwrapped by the trigger layer.
type SubscriptionEvent struct {
	Group   string              `json:"group"`
	Stream  string              `json:"stream"`
	Entries []SubscriptionEntry `json:"entries"`
}

// Validate checks that exactly the variant named by Type is populated.
func (e Envelope) Validate() error {
	switch e.Type {
	case TypeObjectStore:
		if e.ObjectStore == nil {
			return fmt.Errorf("envelope type %s missing payload", e.Type)
		}
	case TypeQueue:
		if e.Queue == nil {
			return fmt.Errorf("envelope type %s missing payload", e.Type)
		}
	case TypeStream:
		if e.Stream == nil {
			return fmt.Errorf("envelope type %s missing payload", e.Type)
		}
	case TypeSubscription:
		if e.Subscription == nil {
			return fmt.Errorf("envelope type %s missing payload", e.Type)
		}
	default:
		return fmt.Errorf("unknown envelope type %q", e.Type)
	}
	return nil
}

// ParseObjectNotifications extracts object-store events from a storage
// notification body. Both the S3 Records format and the GCS storage#object
// format are recognized.
func ParseObjectNotifications(raw []byte) ([]ObjectStoreEvent, error) {
	var gcsEvent struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(raw, &gcsEvent); err == nil && gcsEvent.Kind == "storage#object" {
		idParts := strings.Split(gcsEvent.ID, "/")
		if len(idParts) < 2 {
			return nil, fmt.Errorf("invalid GCS storage event ID format: %s", gcsEvent.ID)
		}
		return []ObjectStoreEvent{{Bucket: idParts[0], Key: gcsEvent.Name}}, nil
	}

	var evt struct {
		Records []struct {
			S3 struct {
				Bucket struct {
					Name string `json:"name"`
				} `json:"bucket"`
				Object struct {
					Key  string `json:"key"`
					Size int64  `json:"size"`
				} `json:"object"`
			} `json:"s3"`
		} `json:"Records"`
	}
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse storage notification: %w", err)
	}
	if len(evt.Records) == 0 {
		return nil, fmt.Errorf("storage notification contains no records")
	}

	out := make([]ObjectStoreEvent, 0, len(evt.Records))
	for _, rec := range evt.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to unescape object key %q: %w", rec.S3.Object.Key, err)
		}
		if strings.HasSuffix(key, "/") {
			// Directory marker, nothing to read.
			continue
		}
		out = append(out, ObjectStoreEvent{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
			Size:   rec.S3.Object.Size,
		})
	}
	return out, nil
}
