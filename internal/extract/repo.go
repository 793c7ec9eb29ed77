package extract

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/PentesterFlow/apiforge/internal/errors"
	"github.com/PentesterFlow/apiforge/internal/httpclient"
	"github.com/PentesterFlow/apiforge/internal/parser"
)

// DefaultArchiveBase serves repository tarballs.
const DefaultArchiveBase = "https://codeload.github.com"

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true, ".pytest_cache": true,
	"target": true, "build": true, "dist": true, "vendor": true,
}

// apiDirs hold route code often enough that their files are read first.
var apiDirs = map[string]bool{
	"api": true, "routes": true, "controllers": true, "handlers": true,
	"endpoints": true, "views": true, "server": true, "graphql": true, "resolvers": true,
}

// dataExtensions are always scanned, whatever the language registry says.
var dataExtensions = []string{".json", ".yaml", ".yml", ".md", ".graphql", ".gql"}

// RepoScanner reads a source tree from a local directory or a GitHub
// archive and emits one file unit per candidate file.
type RepoScanner struct {
	base
	extensions  map[string]bool
	archiveBase string
	archive     *httpclient.Client
}

// RepoOption configures a RepoScanner beyond the shared options.
type RepoOption func(*RepoScanner)

// WithArchiveBase points GitHub downloads at another tarball host.
func WithArchiveBase(u string) RepoOption {
	return func(r *RepoScanner) { r.archiveBase = strings.TrimRight(u, "/") }
}

// NewRepoScanner creates a scanner that emits files with the registry's
// extensions plus specification and documentation files.
func NewRepoScanner(cfg Config, registry *parser.Registry, opts []Option, ropts ...RepoOption) *RepoScanner {
	if registry == nil {
		registry = parser.DefaultRegistry()
	}
	r := &RepoScanner{
		base:        newBase(cfg, "repository", opts),
		extensions:  make(map[string]bool),
		archiveBase: DefaultArchiveBase,
	}
	for _, ext := range registry.Extensions() {
		r.extensions[strings.ToLower(ext)] = true
	}
	for _, ext := range dataExtensions {
		r.extensions[ext] = true
	}
	for _, opt := range ropts {
		opt(r)
	}

	hc := httpclient.DefaultConfig()
	hc.Timeout = 2 * time.Minute
	hc.MaxBodySize = r.cfg.MaxArchiveSize
	if r.cfg.UserAgent != "" {
		hc.UserAgent = r.cfg.UserAgent
	}
	r.archive = httpclient.New(hc)
	return r
}

// repoFile is one candidate file. data is set for archive entries.
type repoFile struct {
	rel  string
	abs  string
	size int64
	data []byte
}

// Extract scans ref, a directory path or a github.com repository URL.
func (r *RepoScanner) Extract(ctx context.Context, ref string, emit Emit, sink ErrorSink) error {
	var (
		files []repoFile
		err   error
	)
	if owner, repo, branch, ok := parseGitHubURL(ref); ok {
		files, err = r.fromArchive(ctx, owner, repo, branch, sink)
	} else {
		files, err = r.fromDir(ref, sink)
	}
	if err != nil {
		return err
	}

	orderFiles(files)
	if len(files) > r.cfg.MaxFiles {
		r.log.Warnf("%s has %d candidate files, reading the first %d", ref, len(files), r.cfg.MaxFiles)
		files = files[:r.cfg.MaxFiles]
	}
	r.log.Infof("scanning %d files in %s", len(files), ref)

	// Files are read in chunks on the pool and emitted in order, so the
	// same tree always yields the same unit sequence.
	chunk := r.cfg.Workers * 4
	for start := 0; start < len(files) && ctx.Err() == nil; start += chunk {
		end := min(start+chunk, len(files))
		units := make([]*parser.Unit, end-start)
		took := make([]time.Duration, end-start)

		pool := NewPool(ctx, r.cfg.Workers, r.cfg.TaskTimeout, r.metrics)
		for i := start; i < end; i++ {
			i := i
			pool.Submit(func(ctx context.Context) {
				t := time.Now()
				u, err := r.read(files[i])
				if err != nil {
					r.fail(sink, files[i].rel, err)
					return
				}
				units[i-start] = u
				took[i-start] = time.Since(t)
			})
		}
		pool.Wait()

		for i, u := range units {
			if u != nil {
				r.unit(emit, *u, took[i])
			}
		}
	}

	if err := ctx.Err(); err != nil {
		r.fail(sink, ref, errors.Categorize(err, ref))
	}
	return nil
}

func (r *RepoScanner) read(f repoFile) (*parser.Unit, error) {
	data := f.data
	if data == nil {
		var err error
		if data, err = os.ReadFile(f.abs); err != nil {
			return nil, errors.New(errors.SourceUnavailable, "read", f.rel, err.Error(), err)
		}
	}
	return &parser.Unit{
		Kind:    parser.UnitFile,
		Source:  parser.SourceRepository,
		Locator: f.rel,
		Body:    data,
		Depth:   strings.Count(f.rel, "/"),
	}, nil
}

// wanted reports whether a file with this name and size should be read.
func (r *RepoScanner) wanted(name string, size int64) bool {
	if size > r.cfg.MaxFileSize {
		r.metrics.RecordSkipped()
		return false
	}
	return r.extensions[strings.ToLower(filepath.Ext(name))]
}

func (r *RepoScanner) fromDir(root string, sink ErrorSink) ([]repoFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.New(errors.SourceUnavailable, "open", root, err.Error(), err)
	}
	if !info.IsDir() {
		return nil, errors.Unsupported(root, "repository reference is neither a directory nor a GitHub URL")
	}

	var files []repoFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			r.fail(sink, p, errors.New(errors.SourceUnavailable, "walk", p, err.Error(), err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if !r.wanted(d.Name(), fi.Size()) {
			return nil
		}
		rel, _ := filepath.Rel(root, p)
		files = append(files, repoFile{rel: filepath.ToSlash(rel), abs: p, size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.New(errors.SourceUnavailable, "walk", root, err.Error(), err)
	}
	return files, nil
}

func (r *RepoScanner) fromArchive(ctx context.Context, owner, repo, branch string, sink ErrorSink) ([]repoFile, error) {
	ref := "HEAD"
	if branch != "" {
		ref = "refs/heads/" + branch
	}
	target := fmt.Sprintf("%s/%s/%s/tar.gz/%s", r.archiveBase, owner, repo, ref)
	locator := fmt.Sprintf("github.com/%s/%s", owner, repo)

	resp, err := r.archive.GetWithRetry(ctx, target)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		return nil, errors.New(errors.SourceUnavailable, "download", locator, "archive exceeds size limit", nil)
	}

	gz, err := gzip.NewReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, errors.Unavailable(errors.Encoding, "gunzip", locator, err)
	}
	defer gz.Close()

	var files []repoFile
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.fail(sink, locator, errors.Unavailable(errors.Encoding, "untar", locator, err))
			break
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		rel := stripTopDir(hdr.Name)
		if rel == "" || inSkippedDir(rel) || !r.wanted(path.Base(rel), hdr.Size) {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(tr, r.cfg.MaxFileSize))
		if err != nil {
			r.fail(sink, rel, errors.Unavailable(errors.Encoding, "untar", rel, err))
			continue
		}
		files = append(files, repoFile{rel: rel, size: hdr.Size, data: data})
	}
	return files, nil
}

// parseGitHubURL accepts https://github.com/owner/repo[.git][/tree/branch].
func parseGitHubURL(ref string) (owner, repo, branch string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return "", "", "", false
	}
	if host := strings.ToLower(u.Host); host != "github.com" && host != "www.github.com" {
		return "", "", "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	owner, repo = parts[0], strings.TrimSuffix(parts[1], ".git")
	if len(parts) >= 4 && parts[2] == "tree" {
		branch = strings.Join(parts[3:], "/")
	}
	return owner, repo, branch, true
}

// stripTopDir drops the "repo-sha/" prefix codeload puts on every entry.
func stripTopDir(name string) string {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if i := strings.Index(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return ""
}

func inSkippedDir(rel string) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts[:len(parts)-1] {
		if skipDirs[p] {
			return true
		}
	}
	return false
}

func inAPIDir(rel string) bool {
	parts := strings.Split(strings.ToLower(rel), "/")
	for _, p := range parts[:len(parts)-1] {
		if apiDirs[p] {
			return true
		}
	}
	return false
}

// orderFiles puts files under API-like directories first, then sorts by path.
func orderFiles(files []repoFile) {
	sort.SliceStable(files, func(i, j int) bool {
		ai, aj := inAPIDir(files[i].rel), inAPIDir(files[j].rel)
		if ai != aj {
			return ai
		}
		return files[i].rel < files[j].rel
	})
}
