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
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"

	"github.com/cardinalhq/logrunner/internal/awsclient"
)

// StreamSource streams records delivered from one stream shard. Each stream
// record is its own unit so a cursor can land between records or partway
// through one. When the delivery carried no inline records, the batch is
// refetched from the shard starting at the cursor's sequence token.
type StreamSource struct {
	event    StreamEvent
	kin      *awsclient.KinesisClient
	settings Settings
}

var _ Source = (*StreamSource)(nil)

func NewStreamSource(event StreamEvent, kin *awsclient.KinesisClient, settings Settings) *StreamSource {
	return &StreamSource{event: event, kin: kin, settings: settings}
}

func (s *StreamSource) Identity() Identity {
	id := s.event.Stream + "/" + s.event.Shard
	if len(s.event.Records) > 0 {
		id += "/" + s.event.Records[0].Sequence
	}
	return Identity{Type: TypeStream, ID: id}
}

func (s *StreamSource) Envelope() Envelope {
	ev := s.event
	return Envelope{Type: TypeStream, Stream: &ev}
}

func (s *StreamSource) Open(ctx context.Context, from Cursor) (Iterator, error) {
	records := s.event.Records
	if len(records) == 0 {
		fetched, err := s.fetch(ctx, from.Token)
		if err != nil {
			return nil, err
		}
		records = fetched
	}

	path := s.event.Stream + "/" + s.event.Shard
	units := make([]unit, 0, len(records))
	for _, rec := range records {
		units = append(units, unit{
			payload: rec.Data,
			token:   rec.Sequence,
			path:    path,
		})
	}
	return newUnitIterator(s.Identity(), s.settings, units, from)
}

// fetch pulls one batch from the shard. An empty token starts at the oldest
// retained record.
func (s *StreamSource) fetch(ctx context.Context, token string) ([]StreamRecord, error) {
	if s.kin == nil {
		return nil, fmt.Errorf("stream %s/%s: no inline records and no stream client", s.event.Stream, s.event.Shard)
	}

	input := &kinesis.GetShardIteratorInput{
		StreamName: aws.String(s.event.Stream),
		ShardId:    aws.String(s.event.Shard),
	}
	if token != "" {
		input.ShardIteratorType = types.ShardIteratorTypeAtSequenceNumber
		input.StartingSequenceNumber = aws.String(token)
	} else {
		input.ShardIteratorType = types.ShardIteratorTypeTrimHorizon
	}

	iterOut, err := s.kin.Client.GetShardIterator(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get shard iterator for %s/%s: %w", s.event.Stream, s.event.Shard, err)
	}

	recOut, err := s.kin.Client.GetRecords(ctx, &kinesis.GetRecordsInput{
		ShardIterator: iterOut.ShardIterator,
	})
	if err != nil {
		return nil, fmt.Errorf("get records for %s/%s: %w", s.event.Stream, s.event.Shard, err)
	}

	records := make([]StreamRecord, 0, len(recOut.Records))
	for _, rec := range recOut.Records {
		records = append(records, StreamRecord{
			Sequence: aws.ToString(rec.SequenceNumber),
			Data:     rec.Data,
		})
	}
	return records, nil
}
