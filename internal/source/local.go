package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/safefs"
)

// Local serves files from a directory holding one sub-directory per
// version. Every access goes through safefs.
type Local struct {
	fs *safefs.FS
}

// NewLocal creates a backend rooted at root.
func NewLocal(root string) (*Local, error) {
	fsys, err := safefs.New(root)
	if err != nil {
		return nil, fmt.Errorf("source: open local root: %w", err)
	}
	return &Local{fs: fsys}, nil
}

func (l *Local) ListFiles(ctx context.Context, version string) ([]pipeline.FileContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := l.fs.ListDir(version, true)
	if err != nil {
		return nil, mapLocalErr(err, version)
	}
	files := make([]pipeline.FileContext, 0, len(entries))
	for _, e := range entries {
		files = append(files, pipeline.NewFileContext(version, e.Path))
	}
	return files, nil
}

func (l *Local) ReadFile(ctx context.Context, file pipeline.FileContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := l.fs.Read(file.String())
	if err != nil {
		return "", mapLocalErr(err, file.String())
	}
	return string(data), nil
}

func (l *Local) GetMetadata(ctx context.Context, file pipeline.FileContext) (pipeline.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Metadata{}, err
	}
	info, err := l.fs.Stat(file.String())
	if err != nil {
		return pipeline.Metadata{}, mapLocalErr(err, file.String())
	}
	modified := info.ModTime()
	return pipeline.Metadata{Size: info.Size(), LastModified: &modified}, nil
}

// mapLocalErr keeps path rejections intact and maps missing files to
// ErrNotFound.
func mapLocalErr(err error, p string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return err
}
