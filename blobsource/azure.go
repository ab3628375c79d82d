package blobsource

import (
	"context"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/pkg/errors"
)

// AzureContainerClient is the subset of *container.Client this package
// needs, narrowed for testability.
type AzureContainerClient interface {
	NewBlobClient(blobName string) *blob.Client
}

// AzureContainer is a Container backed by Azure Blob Storage, grounded
// on azcopy's azcopy/transferRedirection.go download path:
// serviceClient.NewContainerClient(...).NewBlobClient(...).DownloadStream(ctx, &blob.DownloadStreamOptions{...}),
// reading the returned body with a RetryReader the way azcopy pipes
// blob bodies to stdout.
type AzureContainer struct {
	client      AzureContainerClient
	maxRetries  int32
	cpkInfo     *blob.CPKInfo
	cpkScope    *blob.CPKScopeInfo
}

// NewAzureContainer wraps client, an azblob container client, as a
// blobsource.Container. Parts map 1:1 onto blob names within the
// container.
func NewAzureContainer(client AzureContainerClient) *AzureContainer {
	return &AzureContainer{client: client, maxRetries: 3}
}

func (a *AzureContainer) OpenRange(ctx context.Context, partName string, offset, length int64) (io.ReadCloser, error) {
	bc := a.client.NewBlobClient(partName)
	resp, err := bc.DownloadStream(ctx, &blob.DownloadStreamOptions{
		Range:        blob.HTTPRange{Offset: offset, Count: length},
		CPKInfo:      a.cpkInfo,
		CPKScopeInfo: a.cpkScope,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "blobsource: download %q [%d,%d)", partName, offset, offset+length)
	}
	return resp.NewRetryReader(ctx, &blob.RetryReaderOptions{MaxRetries: a.maxRetries}), nil
}

var _ Container = (*AzureContainer)(nil)
