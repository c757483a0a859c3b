// Package storage is the object-storage boundary: where uploaded sources,
// staged inputs and finished reels live.
//
// References are URIs. The local backend issues "local://<key>", the S3
// backend "s3://<bucket>/<key>". Anything else handed to Fetch is treated
// as a go-getter address (http(s) URLs, absolute or relative paths,
// "s3::https://..." forced getters).
package storage

import (
	"context"
	"net/url"
	"strings"

	"github.com/teranos/reel/am"

	"github.com/teranos/reel/errors"
)

// Store persists files and resolves references back to bytes.
type Store interface {
	// Put uploads the file at localPath under key and returns its reference.
	Put(ctx context.Context, localPath, key string) (string, error)
	// Fetch copies the object behind ref into dst.
	Fetch(ctx context.Context, ref, dst string) error
	// Locate tells a caller how to hand ref to a client.
	Locate(ctx context.Context, ref string) (Location, error)
	// Owns reports whether ref was issued by this store.
	Owns(ref string) bool
}

// Location is either a local file path or a URL (possibly presigned).
type Location struct {
	Path string
	URL  string
}

// Scheme prefixes issued by the backends.
const (
	LocalScheme = "local"
	S3Scheme    = "s3"
)

// ErrUnknownReference is returned for references a store cannot resolve
var ErrUnknownReference = errors.New("unknown storage reference")

// splitRef returns scheme and the remainder of a "scheme://rest" reference.
func splitRef(ref string) (string, string, bool) {
	i := strings.Index(ref, "://")
	if i <= 0 {
		return "", "", false
	}
	return ref[:i], ref[i+3:], true
}

// CleanKey normalises a caller supplied key: no leading slash, no "..".
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", errors.NewInvalidRequestError("empty storage key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", errors.NewInvalidRequestError("storage key %q escapes its root", key)
		}
	}
	return key, nil
}

// IsRemoteURL reports whether ref is an http(s) URL a provider could read.
func IsRemoteURL(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg am.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", am.StorageLocal:
		return NewLocalStore(expandHome(cfg.LocalDir))
	case am.StorageS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, errors.NewInvalidRequestError("unknown storage backend %q (valid: local, s3)", cfg.Backend)
	}
}
