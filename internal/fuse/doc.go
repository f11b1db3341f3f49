/*
Package fuse mounts a streaming file cache as a read-only filesystem.

The mount holds one directory containing one regular file. Every read of that
file is served by a Source, normally a *cache.FileCache, so applications that
only understand local files (players, decoders, grep) can read a remote object
while the cache downloads just the ranges they touch.

# Architecture Overview

	┌─────────────────────────────────────┐
	│          User Applications          │
	└─────────────────────────────────────┘
	                  │ read(2)
	┌─────────────────────────────────────┐
	│      Kernel VFS / FUSE driver       │
	└─────────────────────────────────────┘
	                  │
	┌─────────────────────────────────────┐
	│ DirectoryNode → FileNode → Handle   │  ← This Package
	└─────────────────────────────────────┘
	                  │ ReadAt
	┌─────────────────────────────────────┐
	│           cache.FileCache           │
	└─────────────────────────────────────┘

# Usage

	size, err := fileCache.Open(ctx)
	if err != nil {
		return err
	}
	filesystem := fuse.NewFileSystem(fileCache, "movie.mkv", time.Now(), logger)
	manager := fuse.NewMountManager(filesystem, fuse.Config{
		MountPoint:   "/mnt/stream",
		AttrTimeout:  time.Minute,
		EntryTimeout: time.Minute,
	}, logger)
	if err := manager.Mount(); err != nil {
		return err
	}
	defer manager.Unmount()
	manager.Wait()

# Semantics

Opening the file for writing fails with EROFS and the mount itself carries
the "ro" option. Reads past the end of the object return zero bytes. Cache
errors are reported as errno values:

	invalid range           → EINVAL
	object/bucket not found → ENOENT
	access denied           → EACCES
	anything else           → EIO
*/
package fuse
