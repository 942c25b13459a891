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
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/logrunner/internal/objstore"
)

type fakeStore struct {
	objects map[string][]byte
}

var _ objstore.Client = (*fakeStore)(nil)

func (f *fakeStore) OpenRange(ctx context.Context, bucket, key string, start int64) (io.ReadCloser, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, objstore.ErrNotFound
	}
	if start > int64(len(data)) {
		start = int64(len(data))
	}
	return io.NopCloser(bytes.NewReader(data[start:])), nil
}

func (f *fakeStore) Head(ctx context.Context, bucket, key string) (objstore.ObjectInfo, error) {
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return objstore.ObjectInfo{}, objstore.ErrNotFound
	}
	return objstore.ObjectInfo{Size: int64(len(data))}, nil
}

func drain(t *testing.T, it Iterator) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestObjectStoreSource_PlainLines(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"logs/app.log": []byte("one\ntwo\nthree\n"),
	}}
	src := NewObjectStoreSource(ObjectStoreEvent{Bucket: "logs", Key: "app.log"}, store, Settings{Dataset: "generic"})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	recs := drain(t, it)
	require.Len(t, recs, 3)
	assert.Equal(t, "one", string(recs[0].Body))
	assert.Equal(t, int64(4), recs[0].Cursor.Offset)
	assert.Equal(t, "logs/app.log", recs[0].Path)
	assert.Equal(t, "generic", recs[0].Dataset)
	assert.Equal(t, int64(14), recs[2].Cursor.Offset)
}

func TestObjectStoreSource_ResumeMatchesFullRead(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"logs/app.log": []byte("alpha\nbeta\ngamma\ndelta\n"),
	}}
	src := NewObjectStoreSource(ObjectStoreEvent{Bucket: "logs", Key: "app.log"}, store, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	full := drain(t, it)
	require.Len(t, full, 4)

	// Resume after the second record and expect the identical tail.
	it2, err := src.Open(context.Background(), full[1].Cursor)
	require.NoError(t, err)
	tail := drain(t, it2)
	require.Len(t, tail, 2)
	assert.Equal(t, full[2].Body, tail[0].Body)
	assert.Equal(t, full[2].Cursor, tail[0].Cursor)
	assert.Equal(t, full[3].Cursor, tail[1].Cursor)
}

func TestObjectStoreSource_ResumeGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("alpha\nbeta\ngamma\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	store := &fakeStore{objects: map[string][]byte{
		"logs/app.log.gz": buf.Bytes(),
	}}
	src := NewObjectStoreSource(ObjectStoreEvent{Bucket: "logs", Key: "app.log.gz"}, store, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	full := drain(t, it)
	require.Len(t, full, 3)

	it2, err := src.Open(context.Background(), full[0].Cursor)
	require.NoError(t, err)
	tail := drain(t, it2)
	require.Len(t, tail, 2)
	assert.Equal(t, "beta", string(tail[0].Body))
	assert.Equal(t, full[1].Cursor, tail[0].Cursor)
}

func TestObjectStoreSource_FullyConsumed(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{
		"logs/app.log": []byte("one\n"),
	}}
	src := NewObjectStoreSource(ObjectStoreEvent{Bucket: "logs", Key: "app.log"}, store, Settings{})

	it, err := src.Open(context.Background(), Cursor{Offset: 4})
	require.NoError(t, err)
	assert.Empty(t, drain(t, it))
}

func TestObjectStoreSource_MissingObject(t *testing.T) {
	store := &fakeStore{objects: map[string][]byte{}}
	src := NewObjectStoreSource(ObjectStoreEvent{Bucket: "logs", Key: "gone.log"}, store, Settings{})

	_, err := src.Open(context.Background(), Cursor{})
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestQueueSource_Base64Body(t *testing.T) {
	body := base64.StdEncoding.EncodeToString([]byte("hello\nworld\n"))
	src := NewQueueSource(QueueEvent{Queue: "ingest", MessageID: "m-1", Body: []byte(body)}, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	recs := drain(t, it)
	require.Len(t, recs, 2)
	assert.Equal(t, "hello", string(recs[0].Body))
	assert.Equal(t, "world", string(recs[1].Body))
}

func TestQueueSource_PlainBody(t *testing.T) {
	src := NewQueueSource(QueueEvent{Queue: "ingest", MessageID: "m-2", Body: []byte("just one line")}, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	recs := drain(t, it)
	require.Len(t, recs, 1)
	assert.Equal(t, "just one line", string(recs[0].Body))
	assert.True(t, recs[0].Cursor.Offset > 0)
}

func TestStreamSource_UnitsAndResume(t *testing.T) {
	ev := StreamEvent{
		Stream: "events",
		Shard:  "shard-0001",
		Records: []StreamRecord{
			{Sequence: "100", Data: []byte("a1\na2\n")},
			{Sequence: "101", Data: []byte("b1\n")},
		},
	}
	src := NewStreamSource(ev, nil, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	full := drain(t, it)
	require.Len(t, full, 3)
	assert.Equal(t, int64(0), full[0].Cursor.Unit)
	assert.Equal(t, "100", full[0].Cursor.Token)
	assert.Equal(t, int64(1), full[2].Cursor.Unit)
	assert.Equal(t, "101", full[2].Cursor.Token)

	// Resume mid-first-unit.
	it2, err := src.Open(context.Background(), full[0].Cursor)
	require.NoError(t, err)
	tail := drain(t, it2)
	require.Len(t, tail, 2)
	assert.Equal(t, "a2", string(tail[0].Body))
	assert.Equal(t, "b1", string(tail[1].Body))

	// Resume at a fully consumed unit boundary.
	it3, err := src.Open(context.Background(), full[1].Cursor)
	require.NoError(t, err)
	tail2 := drain(t, it3)
	require.Len(t, tail2, 1)
	assert.Equal(t, "b1", string(tail2[0].Body))
}

func TestStreamSource_GzippedRecord(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("packed\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	ev := StreamEvent{
		Stream:  "events",
		Shard:   "shard-0001",
		Records: []StreamRecord{{Sequence: "7", Data: buf.Bytes()}},
	}
	src := NewStreamSource(ev, nil, Settings{})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	recs := drain(t, it)
	require.Len(t, recs, 1)
	assert.Equal(t, "packed", string(recs[0].Body))
}

func TestSubscriptionSource_EntriesCarryFields(t *testing.T) {
	ev := SubscriptionEvent{
		Group:  "/app/prod",
		Stream: "instance-1",
		Entries: []SubscriptionEntry{
			{ID: "e1", Message: "first"},
			{ID: "e2", Message: "second"},
		},
	}
	src := NewSubscriptionSource(ev, Settings{Tags: []string{"prod"}})

	it, err := src.Open(context.Background(), Cursor{})
	require.NoError(t, err)
	recs := drain(t, it)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", string(recs[0].Body))
	assert.Equal(t, "/app/prod", recs[0].Fields["cloud.log.group"])
	assert.Equal(t, "e1", recs[0].Fields["event.id"])
	assert.Equal(t, []string{"prod"}, recs[0].Tags)
	assert.Equal(t, int64(1), recs[1].Cursor.Unit)
	assert.Equal(t, "e2", recs[1].Cursor.Token)
}

func TestParseObjectNotifications_S3(t *testing.T) {
	raw := []byte(`{"Records":[{"s3":{"bucket":{"name":"logs"},"object":{"key":"app%2Fserver.log","size":42}}}]}`)
	events, err := ParseObjectNotifications(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "logs", events[0].Bucket)
	assert.Equal(t, "app/server.log", events[0].Key)
	assert.Equal(t, int64(42), events[0].Size)
}

func TestParseObjectNotifications_GCS(t *testing.T) {
	raw := []byte(`{"kind":"storage#object","id":"logs/app.log/1700000000","name":"app.log"}`)
	events, err := ParseObjectNotifications(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "logs", events[0].Bucket)
	assert.Equal(t, "app.log", events[0].Key)
}

func TestFactory_FromEnvelope(t *testing.T) {
	f := NewFactory(&fakeStore{}, nil, Settings{})

	src, err := f.FromEnvelope(Envelope{Type: TypeQueue, Queue: &QueueEvent{Queue: "q", MessageID: "m"}})
	require.NoError(t, err)
	assert.Equal(t, TypeQueue, src.Identity().Type)

	_, err = f.FromEnvelope(Envelope{Type: TypeStream})
	assert.Error(t, err)

	_, err = f.FromEnvelope(Envelope{Type: "bogus"})
	assert.Error(t, err)
}
