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

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/cardinalhq/logrunner/internal/azureclient"
)

// AzureQueue implements Queue over an Azure Storage queue. Storage queues
// have no native message attributes, so body and attributes travel in a
// JSON wrapper, base64 encoded per queue convention.
type AzureQueue struct {
	client *azureclient.QueueClient
	name   string
}

var _ Queue = (*AzureQueue)(nil)

func NewAzureQueue(client *azureclient.QueueClient, name string) *AzureQueue {
	return &AzureQueue{client: client, name: name}
}

type azureWrapper struct {
	Body       []byte            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (q *AzureQueue) Send(ctx context.Context, body []byte, attrs map[string]string) error {
	wrapped, err := json.Marshal(azureWrapper{Body: body, Attributes: attrs})
	if err != nil {
		return fmt.Errorf("wrap message for %s: %w", q.name, err)
	}
	encoded := base64.StdEncoding.EncodeToString(wrapped)

	if _, err := q.client.QueueClient.EnqueueMessage(ctx, encoded, nil); err != nil {
		return fmt.Errorf("enqueue to %s: %w", q.name, err)
	}
	return nil
}

func (q *AzureQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	if max > 32 {
		max = 32 // storage queue per-call ceiling
	}
	n := int32(max)
	vis := int32(visibility / time.Second)
	out, err := q.client.QueueClient.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &n,
		VisibilityTimeout: &vis,
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		if m.MessageText == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(*m.MessageText)
		if err != nil {
			return nil, fmt.Errorf("decode message %s from %s: %w", *m.MessageID, q.name, err)
		}
		var w azureWrapper
		if err := json.Unmarshal(decoded, &w); err != nil {
			return nil, fmt.Errorf("unwrap message %s from %s: %w", *m.MessageID, q.name, err)
		}
		msgs = append(msgs, Message{
			ID:         *m.MessageID,
			Receipt:    *m.MessageID + "|" + *m.PopReceipt,
			Body:       w.Body,
			Attributes: w.Attributes,
		})
	}
	return msgs, nil
}

func (q *AzureQueue) Delete(ctx context.Context, receipt string) error {
	id, pop, ok := strings.Cut(receipt, "|")
	if !ok {
		return fmt.Errorf("malformed receipt %q for %s", receipt, q.name)
	}
	if _, err := q.client.QueueClient.DeleteMessage(ctx, id, pop, nil); err != nil {
		return fmt.Errorf("delete from %s: %w", q.name, err)
	}
	return nil
}
