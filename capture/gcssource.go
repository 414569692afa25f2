package capture

import (
	"context"
	"errors"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/googleapis/google-cloud-go-testing/storage/stiface"
	"google.golang.org/api/option"
)

var errNotGCSPath = errors.New("not a gs:// path")

// GetStorageClient provides a storage reader client, following
// storage.GetStorageClient's scope/options pattern.
func GetStorageClient(ctx context.Context) (stiface.Client, error) {
	client, err := gcs.NewClient(ctx, option.WithScopes(gcs.ScopeReadOnly))
	if err != nil {
		return nil, err
	}
	return stiface.AdaptClient(client), nil
}

// OpenGCSObject opens a single gs://bucket/object path for reading, the
// single-object analogue of storage.getReader (no tar/gzip framing: a
// capture file is read as-is).
func OpenGCSObject(ctx context.Context, client stiface.Client, path string) (io.ReadCloser, error) {
	bucket, object, err := splitGCSPath(path)
	if err != nil {
		return nil, err
	}
	return client.Bucket(bucket).Object(object).NewReader(ctx)
}

func splitGCSPath(path string) (bucket, object string, err error) {
	if !strings.HasPrefix(path, "gs://") {
		return "", "", errNotGCSPath
	}
	rest := strings.TrimPrefix(path, "gs://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("malformed gs:// path: " + path)
	}
	return parts[0], parts[1], nil
}

// OpenCapture opens path for reading, dispatching to the GCS source for
// gs:// paths and a plain local open otherwise.
func OpenCapture(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, "gs://") {
		client, err := GetStorageClient(ctx)
		if err != nil {
			return nil, err
		}
		return OpenGCSObject(ctx, client, path)
	}
	return openLocal(path)
}
