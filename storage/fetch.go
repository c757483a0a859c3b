package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
)

// fetchTimeout bounds one remote source download. Sources are full
// recordings, so this is generous; cancellation comes from ctx.
const fetchTimeout = 30 * time.Minute

// Resolver stages a source reference into a local file. References
// issued by the configured store go through it. http(s) URLs are
// downloaded with go-getter over an SSRF-guarded client. Plain paths are
// copied only from the store's own directory or an allowed source dir.
// Every other scheme is refused.
type Resolver struct {
	store  Store
	logger *zap.SugaredLogger
	pwd    string
	roots  []string
	http   *httpclient.SaferClient
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithSourceDirs allows plain-path sources under dirs.
func WithSourceDirs(dirs ...string) ResolverOption {
	return func(r *Resolver) {
		for _, d := range dirs {
			if d = strings.TrimSpace(d); d != "" {
				r.roots = append(r.roots, r.abs(expandHome(d)))
			}
		}
	}
}

// WithHTTPClient replaces the client remote sources are downloaded with.
func WithHTTPClient(c *httpclient.SaferClient) ResolverOption {
	return func(r *Resolver) { r.http = c }
}

// NewResolver wraps store. Relative source paths resolve against the
// process working directory. A local store's root is always an allowed
// source dir.
func NewResolver(store Store, logger *zap.SugaredLogger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	pwd, err := os.Getwd()
	if err != nil {
		pwd = "."
	}
	r := &Resolver{
		store:  store,
		logger: logger,
		pwd:    pwd,
		http:   httpclient.NewSaferClient(fetchTimeout),
	}
	if local, ok := store.(*LocalStore); ok {
		r.roots = append(r.roots, local.Root())
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the backing store
func (r *Resolver) Store() Store { return r.store }

// Check reports whether ref is a source this resolver would fetch,
// without touching the network. Refused references wrap ErrInvalidRequest.
func (r *Resolver) Check(ref string) error {
	_, err := r.classify(ref)
	return err
}

// Fetch copies the object behind ref to dst.
func (r *Resolver) Fetch(ctx context.Context, ref, dst string) error {
	src, err := r.classify(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrap(err, "failed to create staging directory")
	}

	switch {
	case src.owned:
		return r.store.Fetch(ctx, ref, dst)
	case src.remote != nil:
		return r.download(ctx, src.remote, dst)
	default:
		path, err := r.allowedPath(src.path)
		if err != nil {
			return err
		}
		return CopyFile(ctx, path, dst)
	}
}

func (r *Resolver) download(ctx context.Context, u *url.URL, dst string) error {
	// One getter per call: go-getter binds each getter to its client.
	hg := &getter.HttpGetter{Client: r.http.Client, XTerraformGetDisabled: true}
	client := &getter.Client{
		Ctx:             ctx,
		Src:             u.String(),
		Dst:             dst,
		Pwd:             r.pwd,
		Mode:            getter.ClientModeFile,
		Detectors:       []getter.Detector{},
		Decompressors:   map[string]getter.Decompressor{},
		Getters:         map[string]getter.Getter{"http": hg, "https": hg},
		DisableSymlinks: true,
	}

	r.logger.Debugw("Downloading source",
		"source", u.Redacted(),
		"destination", dst,
	)
	if err := client.Get(); err != nil {
		return errors.Wrapf(err, "failed to fetch %s", u.Redacted())
	}
	return nil
}

// Locate resolves ref to something a client can read: a store location,
// the URL itself, or an absolute local path.
func (r *Resolver) Locate(ctx context.Context, ref string) (Location, error) {
	src, err := r.classify(ref)
	if err != nil {
		return Location{}, err
	}
	switch {
	case src.owned:
		return r.store.Locate(ctx, ref)
	case src.remote != nil:
		return Location{URL: ref}, nil
	}
	path, err := r.allowedPath(src.path)
	if err != nil {
		return Location{}, err
	}
	return Location{Path: path}, nil
}

// source is a classified reference: exactly one field is set.
type source struct {
	owned  bool
	remote *url.URL
	path   string
}

func (r *Resolver) classify(ref string) (source, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return source{}, errors.NewInvalidRequestError("empty source reference")
	}
	if r.store != nil && r.store.Owns(ref) {
		return source{owned: true}, nil
	}
	// go-getter forcing syntax, e.g. git::https://...
	if strings.Contains(ref, "::") {
		return source{}, errors.NewInvalidRequestError("unsupported source %q: forced getters are not allowed", ref)
	}

	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return source{path: ref}, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if _, sub := getter.SourceDirSubdir(ref); sub != "" {
			return source{}, errors.NewInvalidRequestError("unsupported source %q: subdirectory selectors are not allowed", ref)
		}
		if err := r.http.CheckURL(u); err != nil {
			return source{}, errors.Wrapf(errors.ErrInvalidRequest, "source %s refused: %v", u.Redacted(), err)
		}
		return source{remote: u}, nil
	case "file":
		return source{path: u.Path}, nil
	default:
		return source{}, errors.NewInvalidRequestError("unsupported source scheme %q", u.Scheme)
	}
}

// allowedPath resolves p, following symlinks, and requires the result to
// be a regular file under one of the allowed roots.
func (r *Resolver) allowedPath(p string) (string, error) {
	abs := r.abs(expandHome(p))
	resolved, err := filepath.EvalSymlinks(abs)
	missing := err != nil
	if missing {
		resolved = abs
	}
	// Roots first, so a refusal never reveals whether a path exists.
	if !r.inRoots(resolved) {
		return "", errors.WithHint(
			errors.NewInvalidRequestError("source %s is outside the allowed source directories", p),
			"upload the file first or add its directory to storage.source_dirs")
	}
	if missing {
		return "", errors.Wrapf(errors.ErrNotFound, "source %s", p)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", errors.Wrapf(errors.ErrNotFound, "source %s", p)
	}
	if !info.Mode().IsRegular() {
		return "", errors.NewInvalidRequestError("source %s is not a regular file", p)
	}
	return resolved, nil
}

func (r *Resolver) inRoots(path string) bool {
	for _, root := range r.roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func (r *Resolver) abs(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.pwd, p)
	}
	return filepath.Clean(p)
}

func within(root, path string) bool {
	if r, err := filepath.EvalSymlinks(root); err == nil {
		root = r
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
