package archive

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// --- Mock Implementations for Testing ---

type mockGCSWriter struct {
	buf      bytes.Buffer
	metadata map[string]string
	closeErr error
}

func (m *mockGCSWriter) Write(p []byte) (int, error)      { return m.buf.Write(p) }
func (m *mockGCSWriter) Close() error                     { return m.closeErr }
func (m *mockGCSWriter) SetMetadata(md map[string]string) { m.metadata = md }

type mockGCSObjectHandle struct{ mock.Mock }

func (m *mockGCSObjectHandle) NewWriter(ctx context.Context) GCSWriter {
	args := m.Called(ctx)
	return args.Get(0).(GCSWriter)
}

type mockGCSBucketHandle struct{ mock.Mock }

func (m *mockGCSBucketHandle) Object(name string) GCSObjectHandle {
	args := m.Called(name)
	return args.Get(0).(GCSObjectHandle)
}

func (m *mockGCSBucketHandle) Objects(ctx context.Context, q *storage.Query) ObjectIterator {
	args := m.Called(ctx, q)
	return args.Get(0).(ObjectIterator)
}

type mockGCSClient struct{ mock.Mock }

func (m *mockGCSClient) Bucket(name string) GCSBucketHandle {
	args := m.Called(name)
	return args.Get(0).(GCSBucketHandle)
}

type sliceIterator struct {
	attrs []*storage.ObjectAttrs
	pos   int
}

func (s *sliceIterator) Next() (*storage.ObjectAttrs, error) {
	if s.pos >= len(s.attrs) {
		return nil, iterator.Done
	}
	a := s.attrs[s.pos]
	s.pos++
	return a, nil
}

// --- Tests ---

func newTestArchiver(t *testing.T, client GCSClient) *GCSArchiver {
	t.Helper()
	a, err := newGCSArchiver(client, GCSArchiverConfig{BucketName: "telemetry-archive", ObjectPrefix: "sensor-pipeline"}, zerolog.Nop())
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2025, 7, 14, 12, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveSkipped_WritesPayloadWithReason(t *testing.T) {
	writer := &mockGCSWriter{}
	object := &mockGCSObjectHandle{}
	bucket := &mockGCSBucketHandle{}
	client := &mockGCSClient{}

	client.On("Bucket", "telemetry-archive").Return(bucket)
	bucket.On("Object", "sensor-pipeline/skipped/2025/07/14/msg-1.json").Return(object)
	object.On("NewWriter", mock.Anything).Return(writer)

	archiver := newTestArchiver(t, client)
	ev := telemetry.WrapMessage("msg-1", []byte("{broken json"))

	err := archiver.ArchiveSkipped(context.Background(), ev, "payload could not be decoded")
	require.NoError(t, err)
	assert.Equal(t, []byte("{broken json"), writer.buf.Bytes(), "the object must hold the decoded payload, not the base64 envelope")
	assert.Equal(t, "payload could not be decoded", writer.metadata["skip_reason"])
	client.AssertExpectations(t)
	bucket.AssertExpectations(t)
	object.AssertExpectations(t)
}

func TestArchiveSkipped_UndecodableEnvelopeStoredVerbatim(t *testing.T) {
	writer := &mockGCSWriter{}
	object := &mockGCSObjectHandle{}
	bucket := &mockGCSBucketHandle{}
	client := &mockGCSClient{}

	client.On("Bucket", mock.Anything).Return(bucket)
	bucket.On("Object", mock.Anything).Return(object)
	object.On("NewWriter", mock.Anything).Return(writer)

	archiver := newTestArchiver(t, client)
	ev := telemetry.InboundEvent{ID: "msg-3", Data: []byte("!!not base64!!")}

	err := archiver.ArchiveSkipped(context.Background(), ev, "payload could not be decoded")
	require.NoError(t, err)
	assert.Equal(t, []byte("!!not base64!!"), writer.buf.Bytes())
}

func TestArchiveSkipped_CloseErrorIsReturned(t *testing.T) {
	writer := &mockGCSWriter{closeErr: errors.New("upload interrupted")}
	object := &mockGCSObjectHandle{}
	bucket := &mockGCSBucketHandle{}
	client := &mockGCSClient{}

	client.On("Bucket", mock.Anything).Return(bucket)
	bucket.On("Object", mock.Anything).Return(object)
	object.On("NewWriter", mock.Anything).Return(writer)

	archiver := newTestArchiver(t, client)

	err := archiver.ArchiveSkipped(context.Background(), telemetry.WrapMessage("msg-2", []byte("x")), "reason")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload interrupted")
}

func TestList_ReturnsObjectNames(t *testing.T) {
	bucket := &mockGCSBucketHandle{}
	client := &mockGCSClient{}

	it := &sliceIterator{attrs: []*storage.ObjectAttrs{
		{Name: "sensor-pipeline/skipped/2025/07/14/msg-1.json"},
		{Name: "sensor-pipeline/skipped/2025/07/14/msg-2.json"},
	}}
	client.On("Bucket", "telemetry-archive").Return(bucket)
	bucket.On("Objects", mock.Anything, mock.Anything).Return(it)

	archiver := newTestArchiver(t, client)

	names, err := archiver.List(context.Background(), "sensor-pipeline/skipped")
	require.NoError(t, err)
	assert.Len(t, names, 2)
	assert.Contains(t, names[0], "msg-1.json")
}

func TestNewGCSArchiver_RequiresBucket(t *testing.T) {
	_, err := newGCSArchiver(&mockGCSClient{}, GCSArchiverConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
