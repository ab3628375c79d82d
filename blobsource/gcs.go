package blobsource

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSContainer is a Container backed by Google Cloud Storage, grounded
// on azcopy's cmd/zc_traverser_gcp.go bucket/object resolution
// (gcpClient.Bucket(bucketName).Object(key)), extended with the
// standard storage.ObjectHandle.NewRangeReader for the ranged GET this
// package needs (azcopy's own GCS traverser only lists objects; it does
// not read ranges of them, since azcopy always downloads whole objects).
type GCSContainer struct {
	bucket *storage.BucketHandle
}

// NewGCSContainer wraps bucket as a blobsource.Container. Parts map 1:1
// onto object names within the bucket.
func NewGCSContainer(bucket *storage.BucketHandle) *GCSContainer {
	return &GCSContainer{bucket: bucket}
}

func (g *GCSContainer) OpenRange(ctx context.Context, partName string, offset, length int64) (io.ReadCloser, error) {
	r, err := g.bucket.Object(partName).NewRangeReader(ctx, offset, length)
	if err != nil {
		return nil, errors.Wrapf(err, "blobsource: download %q [%d,%d)", partName, offset, offset+length)
	}
	return r, nil
}

var _ Container = (*GCSContainer)(nil)
