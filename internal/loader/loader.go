package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/pipeline"
	"github.com/vk/pipegrid/internal/registry"
	"github.com/vk/pipegrid/internal/safefs"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultGitHubBaseURL = "https://raw.githubusercontent.com"
	DefaultGitLabBaseURL = "https://gitlab.com"
	DefaultMaxModules    = 256
	DefaultMaxModuleSize = 1 << 20
	DefaultConcurrency   = 8
	DefaultCacheSize     = 512
)

// Config configures a Loader. Zero values select the defaults.
type Config struct {
	// Root is the directory local modules are confined to. It defaults to
	// the working directory.
	Root          string
	HTTPClient    *http.Client
	GitHubToken   string
	GitLabToken   string
	GitHubBaseURL string
	GitLabBaseURL string
	MaxModules    int
	MaxModuleSize int64
	// Concurrency bounds the number of modules fetched at once.
	Concurrency int
	// CacheSize is the number of remote module sources kept between loads.
	CacheSize int
}

// Loader loads pipeline definitions. It is safe for concurrent use.
type Loader struct {
	cfg     Config
	reg     *registry.Registry
	fs      *safefs.FS
	cache   *lru.Cache[string, []byte]
	fetcher Fetcher
}

// LoadedPipeline is a pipeline exported by the entry module.
type LoadedPipeline struct {
	Definition *pipeline.Definition
	// File is the module the pipeline was declared in.
	File string
	// Range is the source span of the pipeline block.
	Range hcl.Range
	// Source is the declaration text covered by Range.
	Source []byte
}

// Result is the outcome of a load. Pipelines holds every pipeline that
// evaluated without errors, even when other modules failed.
type Result struct {
	Entry     string
	Pipelines []*LoadedPipeline
	// Modules lists the loaded modules with imports before importers.
	Modules []string
	Errors  []*FileError
}

// Err joins all file errors.
func (r *Result) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Pipeline returns the loaded pipeline with the given id.
func (r *Result) Pipeline(id string) (*LoadedPipeline, bool) {
	for _, p := range r.Pipelines {
		if p.Definition.ID == id {
			return p, true
		}
	}
	return nil, false
}

// New creates a loader that builds handlers from reg.
func New(cfg Config, reg *registry.Registry) (*Loader, error) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.GitHubBaseURL == "" {
		cfg.GitHubBaseURL = DefaultGitHubBaseURL
	}
	if cfg.GitLabBaseURL == "" {
		cfg.GitLabBaseURL = DefaultGitLabBaseURL
	}
	if cfg.MaxModules <= 0 {
		cfg.MaxModules = DefaultMaxModules
	}
	if cfg.MaxModuleSize <= 0 {
		cfg.MaxModuleSize = DefaultMaxModuleSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}

	fsys, err := safefs.New(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open loader root: %w", err)
	}
	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolution cache: %w", err)
	}

	l := &Loader{cfg: cfg, reg: reg, fs: fsys, cache: cache}
	l.fetcher = &routingFetcher{
		local: &localFetcher{fs: fsys, maxSize: cfg.MaxModuleSize},
		remote: &httpFetcher{
			client:        cfg.HTTPClient,
			githubBaseURL: cfg.GitHubBaseURL,
			gitlabBaseURL: cfg.GitLabBaseURL,
			githubToken:   cfg.GitHubToken,
			gitlabToken:   cfg.GitLabToken,
			maxSize:       cfg.MaxModuleSize,
		},
		cache: cache,
	}
	return l, nil
}

// Refresh drops every memoised remote module source, so the next load
// fetches them again.
func (l *Loader) Refresh() {
	l.cache.Purge()
}

// Load discovers, evaluates and exports the pipelines of the module at
// entry. Per-file failures are reported in the result; the returned error
// is non-nil only when ctx ends.
func (l *Loader) Load(ctx context.Context, entry string) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("entry", entry)
	logger.Debug("Loader started.")

	res := &Result{Entry: entry}
	cands, err := l.entryCandidates(entry)
	if err != nil {
		res.Errors = append(res.Errors, &FileError{File: entry, Kind: KindResolution, Specifier: entry, Err: err})
		return res, nil
	}

	d := &discovery{
		loader:  l,
		claimed: make(map[string]bool),
		alias:   make(map[string]string),
		modules: make(map[string]*Module),
		edges:   make(map[string][]string),
	}
	if err := d.run(ctx, pendingImport{importer: entry, specifier: entry, candidates: cands}); err != nil {
		return nil, err
	}
	res.Errors = append(res.Errors, d.errors...)

	entryKey, ok := d.alias[cands[0].String()]
	if !ok || d.modules[entryKey] == nil {
		logger.Debug("Entry module could not be loaded.", "errors", len(res.Errors))
		return res, nil
	}
	ordered := d.postOrder(cands[0].String())
	for _, m := range ordered {
		res.Modules = append(res.Modules, m.Location.String())
	}
	res.Entry = entryKey

	pipelines, evalErrs := l.evaluate(ctx, d.modules[entryKey], ordered)
	res.Pipelines = pipelines
	res.Errors = append(res.Errors, evalErrs...)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Debug("Loader finished.", "modules", len(res.Modules), "pipelines", len(res.Pipelines), "errors", len(res.Errors))
	return res, nil
}

// entryCandidates resolves the entry argument. Local paths may be
// absolute or relative to the loader root.
func (l *Loader) entryCandidates(entry string) ([]Location, error) {
	if IsRemote(entry) || isURL(entry) {
		return Resolve(Location{}, entry)
	}
	p := entry
	if filepath.IsAbs(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			p = resolved
		}
		rel, err := filepath.Rel(l.fs.Root(), p)
		if err != nil {
			return nil, err
		}
		p = rel
	}
	p = escapePath(filepath.ToSlash(p))
	if !strings.HasPrefix(p, "./") && !strings.HasPrefix(p, "../") {
		p = "./" + p
	}
	return Resolve(Location{Kind: LocalLocation}, p)
}

type pendingImport struct {
	importer   string
	specifier  string
	candidates []Location
}

// discovery holds the state of one load's discovery phase.
type discovery struct {
	loader *Loader

	mu sync.Mutex
	// claimed is keyed by the first candidate of an import.
	claimed map[string]bool
	// alias maps a claim key to the key of the module it resolved to.
	alias   map[string]string
	modules map[string]*Module
	// edges maps a module key to the claim keys of its imports.
	edges  map[string][]string
	errors []*FileError
}

func (d *discovery) fail(e *FileError) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errors = append(d.errors, e)
}

// run processes imports wave by wave. The modules of one wave are fetched
// concurrently; their imports form the next wave.
func (d *discovery) run(ctx context.Context, first pendingImport) error {
	wave := []pendingImport{first}
	for len(wave) > 0 {
		var next []pendingImport
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.loader.cfg.Concurrency)
		for _, p := range wave {
			g.Go(func() error {
				imports := d.visit(gctx, p)
				d.mu.Lock()
				next = append(next, imports...)
				d.mu.Unlock()
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		wave = next
	}
	return nil
}

// visit fetches and compiles one import and returns the imports it
// declares.
func (d *discovery) visit(ctx context.Context, p pendingImport) []pendingImport {
	claim := p.candidates[0].String()
	d.mu.Lock()
	if d.claimed[claim] {
		d.mu.Unlock()
		return nil
	}
	d.claimed[claim] = true
	d.mu.Unlock()

	loc, src, err := d.fetchFirst(ctx, p.candidates)
	if err != nil {
		kind := KindResolution
		if errors.Is(err, ErrModuleTooLarge) {
			kind = KindLimit
		}
		d.fail(&FileError{File: p.importer, Kind: kind, Specifier: p.specifier, Err: err})
		return nil
	}
	key := loc.String()

	d.mu.Lock()
	if _, loaded := d.modules[key]; loaded {
		d.alias[claim] = key
		d.mu.Unlock()
		return nil
	}
	if len(d.modules) >= d.loader.cfg.MaxModules {
		d.mu.Unlock()
		d.fail(&FileError{File: p.importer, Kind: KindLimit, Specifier: p.specifier,
			Err: fmt.Errorf("more than %d modules", d.loader.cfg.MaxModules)})
		return nil
	}
	// Reserve the slot so concurrent visits of the same file stop above.
	d.modules[key] = nil
	d.mu.Unlock()

	m, diags := compile(loc, src)
	if diags.HasErrors() {
		// The nil slot stays as a tombstone: visits of the same file under
		// another specifier may already alias it.
		d.fail(&FileError{File: key, Kind: KindCompile, Err: diags})
		return nil
	}

	var (
		next  []pendingImport
		edges []string
	)
	for _, imp := range m.Imports {
		cands, err := Resolve(loc, imp.Specifier)
		if err != nil {
			d.fail(&FileError{File: key, Kind: KindResolution, Specifier: imp.Specifier, Err: err})
			continue
		}
		edges = append(edges, cands[0].String())
		next = append(next, pendingImport{importer: key, specifier: imp.Specifier, candidates: cands})
	}

	d.mu.Lock()
	d.modules[key] = m
	d.alias[claim] = key
	d.edges[key] = edges
	d.mu.Unlock()
	ctxlog.FromContext(ctx).Debug("Discovered module.", "module", key, "imports", len(m.Imports))
	return next
}

// fetchFirst returns the first candidate that exists.
func (d *discovery) fetchFirst(ctx context.Context, cands []Location) (Location, []byte, error) {
	tried := make([]string, 0, len(cands))
	var notFound error
	for _, c := range cands {
		src, err := d.loader.fetcher.Fetch(ctx, c)
		if err == nil {
			return c, src, nil
		}
		if !isNotFound(err) {
			return Location{}, nil, err
		}
		if notFound == nil {
			notFound = err
		}
		tried = append(tried, c.String())
	}
	sentinel := ErrModuleNotFound
	if errors.Is(notFound, ErrRemoteNotFound) {
		sentinel = ErrRemoteNotFound
	}
	return Location{}, nil, fmt.Errorf("%w: tried %s", sentinel, strings.Join(tried, ", "))
}

// postOrder lists the modules reachable from the entry claim with every
// module after the modules it imports.
func (d *discovery) postOrder(entryClaim string) []*Module {
	var (
		out     []*Module
		visited = make(map[string]bool)
		visit   func(claim string)
	)
	visit = func(claim string) {
		key, ok := d.alias[claim]
		if !ok || visited[key] || d.modules[key] == nil {
			return
		}
		visited[key] = true
		for _, child := range d.edges[key] {
			visit(child)
		}
		out = append(out, d.modules[key])
	}
	visit(entryClaim)
	return out
}
