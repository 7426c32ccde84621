package bsclient

import "errors"

// ErrNotFound is returned by Info, Get, Unlink, and Ln (for a missing
// source) when the requested path does not exist in the backing store.
var ErrNotFound = errors.New("bsclient: path not found")

// ErrNotEmpty is returned by Rmdir when the directory to remove is not
// empty.
var ErrNotEmpty = errors.New("bsclient: directory not empty")

// ErrIsDirectory is returned when a file-only operation (Get, Unlink, or
// Ln's source) targets a path that is a directory.
var ErrIsDirectory = errors.New("bsclient: path is a directory")

// ErrReservedName is returned by Put and Ln when path collides with a
// naming convention the backend reserves for its own bookkeeping (for
// example bsclient/local's per-object ".<name>.bsmeta" sidecar files).
// Not every backend has reserved names; those that don't never return it.
var ErrReservedName = errors.New("bsclient: path collides with a reserved backend name")
