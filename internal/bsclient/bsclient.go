// Package bsclient defines the contract between the gateway's translation
// engine and the hierarchical filesystem-like backing store (BS) it
// targets. The gateway holds no persistent state of its own; every durable
// fact about a bucket or object lives behind this interface, in whichever
// concrete implementation is configured (internal/bsclient/local,
// internal/bsclient/awsbs, internal/bsclient/gcsbs, internal/bsclient/azurebs).
package bsclient

import (
	"context"
	"io"
)

// Info describes a single BS node (file or directory), as returned by
// Client.Info and as embedded in each Entry produced by Client.Ls.
type Info struct {
	Path         string
	IsDir        bool
	Size         int64
	Durability   int
	ContentType  string
	UserMetadata map[string]string
	ContentMD5   string
	LastModified int64 // unix seconds
}

// EntryKind discriminates the variants of an Entry read off a Ls stream.
type EntryKind int

const (
	// EntryFile is a regular file encountered during a listing walk.
	EntryFile EntryKind = iota
	// EntryDir is a directory encountered during a listing walk.
	EntryDir
	// EntryEnd marks the clean end of a listing stream. No further entries
	// follow. Callers must stop reading the channel on receipt.
	EntryEnd
	// EntryError carries a terminal error encountered mid-stream. No further
	// entries follow.
	EntryError
)

// Entry is one event in the channel-based listing stream produced by
// Client.Ls, matching spec.md §9's "typed channel" guidance: a listing is
// consumed as an ordered sequence of file/dir entries terminated by either
// an End or an Error event, never both.
type Entry struct {
	Kind EntryKind
	Info Info
	Err  error
}

// PutOptions carries the header bag (durability, content-type, user
// metadata) a Put call should attach to the written object, already
// projected into BS-namespace keys by internal/metacodec.
type PutOptions struct {
	ContentType  string
	Durability   int
	UserMetadata map[string]string
}

// Client is the hierarchical BS contract the gateway's BucketOps/ObjectOps
// translate S3 requests into. Implementations must be safe for concurrent
// use and must propagate ctx cancellation into any blocking I/O so that a
// client disconnect on the HTTP side unwinds the BS-side call as well.
type Client interface {
	// Info stats a single path, returning its metadata without reading its
	// contents. Returns ErrNotFound if path does not exist.
	Info(ctx context.Context, path string) (Info, error)

	// Mkdir creates a single directory node. The parent must already exist;
	// returns ErrNotFound otherwise. Mkdir on an existing directory is a
	// no-op success (idempotent), matching spec.md's CreateBucket semantics.
	Mkdir(ctx context.Context, path string) error

	// Mkdirp creates path and any missing ancestor directories, matching the
	// BS's implicit-parent-creation guarantee that ObjectOps relies on for
	// PutObject.
	Mkdirp(ctx context.Context, path string) error

	// Put streams r into path, creating any missing ancestor directories
	// first. The write must not buffer the entire body in memory: r is
	// copied directly into the backend's own streaming write path. Returns
	// the backend-computed content-MD5 (hex, no quoting) of the bytes
	// actually written. May return ErrReservedName on a backend that
	// reserves part of its key or filename space for its own bookkeeping.
	Put(ctx context.Context, path string, r io.Reader, opts PutOptions) (contentMD5 string, err error)

	// Get opens path for streaming read. The caller must Close the returned
	// ReadCloser. Returns ErrNotFound if path does not exist, ErrIsDirectory
	// if it is a directory.
	Get(ctx context.Context, path string) (io.ReadCloser, Info, error)

	// Unlink removes a single file node. Returns ErrNotFound if path does
	// not exist. Unlink never removes directories.
	Unlink(ctx context.Context, path string) error

	// Rmdir removes a single empty directory node. Returns ErrNotFound if
	// path does not exist, ErrNotEmpty if it has children.
	Rmdir(ctx context.Context, path string) error

	// Ln creates dst as a copy of the file at src, with opts as dst's header
	// bag; src's content-type, durability and user metadata are not carried
	// over. Returns ErrNotFound if src does not exist, ErrReservedName if dst
	// collides with a backend-reserved name.
	Ln(ctx context.Context, src, dst string, opts PutOptions) error

	// Ls streams the direct children of dir (not recursive) as Entry values
	// over the returned channel, terminated by an EntryEnd or EntryError
	// event. The backend goroutine producing it exits once ctx is done; a
	// caller that stops reading before the terminating event cancels ctx to
	// release it.
	Ls(ctx context.Context, dir string) (<-chan Entry, error)

	// User returns the identity the backend is authenticating as, for
	// diagnostics.
	User(ctx context.Context) (string, error)
}
