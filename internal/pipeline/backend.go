package pipeline

import "context"

// Backend is the capability a source exposes for enumerating and reading
// the files of a dataset version. Implementations must be safe for
// concurrent use; every method is a suspension point and must honour ctx.
type Backend interface {
	// ListFiles enumerates the files of a version. Fetch-only backends
	// return an error wrapping source.ErrListingUnsupported.
	ListFiles(ctx context.Context, version string) ([]FileContext, error)
	ReadFile(ctx context.Context, file FileContext) (string, error)
	GetMetadata(ctx context.Context, file FileContext) (Metadata, error)
}
