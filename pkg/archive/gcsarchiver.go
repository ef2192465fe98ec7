package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/verdantiq/sensor-pipeline/pkg/telemetry"
)

// GCSArchiverConfig holds configuration for the skipped-payload archive.
type GCSArchiverConfig struct {
	BucketName   string
	ObjectPrefix string // e.g. "sensor-pipeline"
}

// --- GCS Client Abstraction Interfaces ---

// GCSClient abstracts the storage client so the archiver can be unit
// tested without network access.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
	Objects(ctx context.Context, q *storage.Query) ObjectIterator
}
type GCSObjectHandle interface {
	NewWriter(ctx context.Context) GCSWriter
}
type GCSWriter interface {
	io.WriteCloser
	SetMetadata(md map[string]string)
}
type ObjectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// --- Adapters for the Google Cloud Storage Client ---

type gcsClientAdapter struct{ client *storage.Client }

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &bucketHandleAdapter{bucket: a.client.Bucket(name)}
}

type bucketHandleAdapter struct{ bucket *storage.BucketHandle }

func (a *bucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &objectHandleAdapter{object: a.bucket.Object(name)}
}

func (a *bucketHandleAdapter) Objects(ctx context.Context, q *storage.Query) ObjectIterator {
	return a.bucket.Objects(ctx, q)
}

type objectHandleAdapter struct{ object *storage.ObjectHandle }

func (a *objectHandleAdapter) NewWriter(ctx context.Context) GCSWriter {
	return &writerAdapter{Writer: a.object.NewWriter(ctx)}
}

type writerAdapter struct{ *storage.Writer }

func (w *writerAdapter) SetMetadata(md map[string]string) { w.ObjectAttrs.Metadata = md }

var (
	_ GCSClient       = &gcsClientAdapter{}
	_ GCSBucketHandle = &bucketHandleAdapter{}
	_ GCSObjectHandle = &objectHandleAdapter{}
	_ GCSWriter       = &writerAdapter{}
)

// GCSArchiver stores the raw payloads of skipped events in a GCS bucket
// so malformed messages can be inspected after the fact. It implements
// pipeline.Archiver.
type GCSArchiver struct {
	client GCSClient
	config GCSArchiverConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewGCSArchiver creates an archiver over an injected, externally managed
// storage client.
func NewGCSArchiver(gcsClient *storage.Client, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	return newGCSArchiver(&gcsClientAdapter{client: gcsClient}, config, logger)
}

func newGCSArchiver(client GCSClient, config GCSArchiverConfig, logger zerolog.Logger) (*GCSArchiver, error) {
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSArchiver{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSArchiver").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// ArchiveSkipped writes one event's raw payload to
// <prefix>/skipped/<yyyy/mm/dd>/<msgID>.json with the skip reason stored
// as object metadata. The base64 envelope is stripped so the object holds
// the payload text itself; an envelope that fails to decode is stored
// verbatim rather than lost.
func (a *GCSArchiver) ArchiveSkipped(ctx context.Context, ev telemetry.InboundEvent, reason string) error {
	name := ev.ID
	if name == "" {
		name = uuid.NewString()
	}
	objectName := path.Join(a.config.ObjectPrefix, "skipped", a.now().Format("2006/01/02"), name+".json")

	payload, err := ev.Payload()
	if err != nil {
		payload = ev.Data
	}

	w := a.client.Bucket(a.config.BucketName).Object(objectName).NewWriter(ctx)
	w.SetMetadata(map[string]string{"skip_reason": reason})

	if _, err := w.Write(payload); err != nil {
		w.Close()
		return fmt.Errorf("failed to write archive object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive object %s: %w", objectName, err)
	}

	a.logger.Debug().Str("object", objectName).Str("reason", reason).Msg("Archived skipped payload.")
	return nil
}

// List returns the names of archived objects under the given prefix.
func (a *GCSArchiver) List(ctx context.Context, prefix string) ([]string, error) {
	it := a.client.Bucket(a.config.BucketName).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list archive objects: %w", err)
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}
