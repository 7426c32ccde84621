// Package pathcodec translates between S3 object keys and backing-store
// filesystem paths. Every function here is pure: no I/O, no dependency on
// backend state, only string validation and splitting.
package pathcodec

import (
	"errors"
	"strings"
)

// ErrInvalidKey is returned by Sanitize when a key cannot be translated into
// a backing-store path: embedded NUL, a path segment longer than the
// filesystem limit, or a total length over maxLen.
var ErrInvalidKey = errors.New("invalid object key")

// maxSegmentLength is the maximum length of a single path segment most
// POSIX filesystems (and the backing store) will accept.
const maxSegmentLength = 255

// Sanitize trims a single leading slash from key, rejects embedded NUL
// bytes, rejects any "/"-delimited segment longer than the filesystem
// segment limit, and rejects a total length greater than maxLen. It does
// not normalize "." or ".." segments -- those are rejected outright so that
// callers never need to worry about path traversal out of a bucket.
func Sanitize(key string, maxLen int) (string, error) {
	trimmed := strings.TrimPrefix(key, "/")

	if trimmed == "" {
		return "", ErrInvalidKey
	}
	if strings.IndexByte(trimmed, 0) >= 0 {
		return "", ErrInvalidKey
	}
	if len(trimmed) > maxLen {
		return "", ErrInvalidKey
	}
	if strings.Contains(trimmed, "//") {
		return "", ErrInvalidKey
	}

	for _, seg := range strings.Split(trimmed, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidKey
		}
		if len(seg) > maxSegmentLength {
			return "", ErrInvalidKey
		}
	}

	return trimmed, nil
}

// JoinObject concatenates root, bucket, and a sanitized key into a single
// backing-store path, using exactly one "/" between parts. Callers must
// have already run key through Sanitize.
func JoinObject(root, bucket, key string) string {
	root = strings.TrimSuffix(root, "/")
	bucket = strings.Trim(bucket, "/")
	if key == "" {
		return root + "/" + bucket
	}
	return root + "/" + bucket + "/" + key
}

// SplitPrefix partitions an S3 listing prefix into the deepest ancestor
// subdirectory to start listing from and the remaining tail to filter
// entries by. An empty prefix yields ("", ""). A prefix with no "/" yields
// ("", prefix). A prefix ending in "/" yields (prefix-without-trailing-
// slash, "").
func SplitPrefix(prefix string) (subdir, searchPrefix string) {
	if prefix == "" {
		return "", ""
	}
	idx := strings.LastIndexByte(prefix, '/')
	if idx < 0 {
		return "", prefix
	}
	return prefix[:idx], prefix[idx+1:]
}

// Relativize turns a backing-store entry (identified by its parent
// directory path and its own name) back into the S3 key it represents,
// relative to the bucket root. parentPath is expected to be
// "<root>/<bucket>[/<sub>...]"; bucket is located by its last occurrence in
// parentPath so that a bucket name that happens to also appear in an
// ancestor directory name does not confuse the split.
func Relativize(bucket, parentPath, name string) string {
	marker := "/" + bucket
	idx := strings.LastIndex(parentPath, marker)
	if idx < 0 {
		return name
	}
	rest := parentPath[idx+len(marker):]
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return name
	}
	return rest + "/" + name
}
