package gcsbs

import (
	"context"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type gcsClientOption func(*[]option.ClientOption)

func withCredentialsFile(path string) gcsClientOption {
	return func(opts *[]option.ClientOption) {
		*opts = append(*opts, option.WithCredentialsFile(path))
	}
}

// newGCSClient constructs a storage.Client under Application Default
// Credentials, optionally overridden by a service-account JSON file.
func newGCSClient(ctx context.Context, opts ...gcsClientOption) (*gcs.Client, error) {
	var clientOpts []option.ClientOption
	for _, o := range opts {
		o(&clientOpts)
	}
	return gcs.NewClient(ctx, clientOpts...)
}
