package fuse

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/objectfs/streamcache/pkg/errors"
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 safely converts int to uint32, preventing overflow
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// Source is a readable object of known size. A *cache.FileCache satisfies it
// once it has been opened.
type Source interface {
	io.ReaderAt
	Size() (int64, error)
}

// FileSystem exposes a single Source as a read-only file in the root of the
// mount.
type FileSystem struct {
	source  Source
	name    string
	modTime time.Time
	uid     uint32
	gid     uint32
	logger  *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats tracks filesystem operation statistics
type Stats struct {
	Lookups     int64         `json:"lookups"`
	Opens       int64         `json:"opens"`
	Reads       int64         `json:"reads"`
	BytesRead   int64         `json:"bytes_read"`
	Errors      int64         `json:"errors"`
	AvgReadTime time.Duration `json:"avg_read_time"`
}

// NewFileSystem creates a filesystem that serves source under name.
func NewFileSystem(source Source, name string, modTime time.Time, logger *slog.Logger) *FileSystem {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSystem{
		source:  source,
		name:    name,
		modTime: modTime,
		uid:     safeIntToUint32(os.Getuid()),
		gid:     safeIntToUint32(os.Getgid()),
		logger:  logger.With("component", "fuse"),
	}
}

// Root returns the root inode
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fs: f}
}

// GetStats returns a snapshot of the operation counters.
func (f *FileSystem) GetStats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *FileSystem) count(fn func(s *Stats)) {
	f.mu.Lock()
	fn(&f.stats)
	f.mu.Unlock()
}

func (f *FileSystem) recordRead(n int, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stats.Reads++
	f.stats.BytesRead += int64(n)
	if f.stats.Reads == 1 {
		f.stats.AvgReadTime = duration
	} else {
		f.stats.AvgReadTime = time.Duration(
			(int64(f.stats.AvgReadTime)*9 + int64(duration)) / 10,
		)
	}
}

var (
	_ = (fs.NodeLookuper)((*DirectoryNode)(nil))
	_ = (fs.NodeReaddirer)((*DirectoryNode)(nil))
	_ = (fs.NodeGetattrer)((*DirectoryNode)(nil))
	_ = (fs.NodeOpener)((*FileNode)(nil))
	_ = (fs.NodeGetattrer)((*FileNode)(nil))
	_ = (fs.FileReader)((*FileHandle)(nil))
)

// DirectoryNode is the mount root.
type DirectoryNode struct {
	fs.Inode
	fs *FileSystem
}

// Lookup resolves the single file name.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fs.count(func(s *Stats) { s.Lookups++ })

	if name != n.fs.name {
		return nil, syscall.ENOENT
	}

	file := &FileNode{fs: n.fs}
	if errno := file.fillAttr(&out.Attr); errno != 0 {
		return nil, errno
	}
	return n.NewInode(ctx, file, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

// Readdir lists the single file.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return fs.NewListDirStream([]fuse.DirEntry{{
		Name: n.fs.name,
		Mode: fuse.S_IFREG,
	}}), 0
}

// Getattr reports a read-only directory.
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = fuse.S_IFDIR | 0555
	out.Uid = n.fs.uid
	out.Gid = n.fs.gid
	ts := safeInt64ToUint64(n.fs.modTime.Unix())
	out.Mtime, out.Atime, out.Ctime = ts, ts, ts
	return 0
}

// FileNode is the file backed by the Source.
type FileNode struct {
	fs.Inode
	fs *FileSystem
}

// Open rejects any access mode that could modify the file.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f.fs.count(func(s *Stats) { s.Opens++ })

	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC|syscall.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	return &FileHandle{fs: f.fs}, fuse.FOPEN_KEEP_CACHE, 0
}

// Getattr gets file attributes
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return f.fillAttr(&out.Attr)
}

func (f *FileNode) fillAttr(out *fuse.Attr) syscall.Errno {
	size, err := f.fs.source.Size()
	if err != nil {
		f.fs.count(func(s *Stats) { s.Errors++ })
		f.fs.logger.Error("Failed to get size", "error", err)
		return toErrno(err)
	}

	out.Mode = fuse.S_IFREG | 0444
	out.Size = safeInt64ToUint64(size)
	out.Uid = f.fs.uid
	out.Gid = f.fs.gid

	ts := safeInt64ToUint64(f.fs.modTime.Unix())
	out.Mtime, out.Atime, out.Ctime = ts, ts, ts
	return 0
}

// FileHandle serves reads for one open of the file.
type FileHandle struct {
	fs *FileSystem
}

// Read fills dest from the Source. A short read at the end of the object is
// not an error.
func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	start := time.Now()

	n, err := fh.fs.source.ReadAt(dest, off)
	if err != nil && !stderrors.Is(err, io.EOF) {
		fh.fs.count(func(s *Stats) { s.Errors++ })
		fh.fs.logger.Error("Read failed", "offset", off, "length", len(dest), "error", err)
		return nil, toErrno(err)
	}

	fh.fs.recordRead(n, time.Since(start))
	return fuse.ReadResultData(dest[:n]), 0
}

// toErrno maps cache errors onto the errno the kernel reports to readers.
func toErrno(err error) syscall.Errno {
	switch {
	case stderrors.Is(err, errors.ErrInvalidRange):
		return syscall.EINVAL
	case stderrors.Is(err, context.Canceled):
		return syscall.EINTR
	case stderrors.Is(err, context.DeadlineExceeded):
		return syscall.ETIMEDOUT
	}

	var cacheErr *errors.CacheError
	if stderrors.As(err, &cacheErr) {
		switch cacheErr.Code {
		case errors.ErrCodeObjectNotFound, errors.ErrCodeBucketNotFound:
			return syscall.ENOENT
		case errors.ErrCodeAccessDenied:
			return syscall.EACCES
		}
	}
	return syscall.EIO
}
