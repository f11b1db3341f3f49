// Package local serves byte ranges of a file on the local filesystem. It
// lets the caches run against local media without an object store.
package local

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// Transport reads ranges of one file. Every Fetch opens its own file
// descriptor so an abandoned stream never blocks the next one.
type Transport struct {
	path string
}

// NewTransport creates a transport for the file at path.
func NewTransport(path string) (*Transport, error) {
	if path == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "file path cannot be empty").
			WithComponent("local-transport")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "cannot resolve file path", err).
			WithComponent("local-transport").
			WithContext("path", path)
	}
	return &Transport{path: abs}, nil
}

// Open stats the file.
func (t *Transport) Open(ctx context.Context) (types.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return types.ObjectInfo{}, err
	}
	info, err := os.Stat(t.path)
	if err != nil {
		return types.ObjectInfo{}, t.translateError("open", err)
	}
	if !info.Mode().IsRegular() {
		return types.ObjectInfo{}, errors.NewError(errors.ErrCodeInvalidConfig, "not a regular file").
			WithComponent("local-transport").
			WithOperation("open").
			WithContext("path", t.path)
	}
	return types.ObjectInfo{
		Key:          t.path,
		Size:         info.Size(),
		LastModified: info.ModTime(),
	}, nil
}

// Fetch returns a stream over [offset, offset+length). The stream ends
// early with io.ErrUnexpectedEOF if the file shrinks underneath it.
func (t *Transport) Fetch(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if offset < 0 || length <= 0 {
		return nil, errors.NewError(errors.ErrCodeInvalidRange, "invalid fetch range").
			WithComponent("local-transport").
			WithOperation("fetch").
			WithDetail("offset", offset).
			WithDetail("length", length)
	}
	f, err := os.Open(t.path)
	if err != nil {
		return nil, t.translateError("fetch", err)
	}
	return &stream{
		ctx:    ctx,
		file:   f,
		reader: io.NewSectionReader(f, offset, length),
		want:   length,
	}, nil
}

func (t *Transport) translateError(op string, err error) error {
	code := errors.ErrCodeStorageRead
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		code = errors.ErrCodeObjectNotFound
	case stderrors.Is(err, fs.ErrPermission):
		code = errors.ErrCodeAccessDenied
	}
	return errors.Wrap(code, "local file "+op+" failed", err).
		WithComponent("local-transport").
		WithOperation(op).
		WithContext("path", t.path)
}

type stream struct {
	ctx    context.Context
	file   *os.File
	reader *io.SectionReader
	want   int64
	read   int64
}

func (s *stream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := s.reader.Read(p)
	s.read += int64(n)
	if err == io.EOF && s.read < s.want {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func (s *stream) Close() error {
	return s.file.Close()
}

var _ types.Transport = (*Transport)(nil)
