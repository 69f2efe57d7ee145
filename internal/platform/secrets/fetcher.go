// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local file fallback for
// development environments without cloud credentials.
package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
	metricNamespace     = "github.com/saunamo/configurator-api/internal/platform/secrets"
)

const (
	sourceRemote   = "remote"
	sourceCache    = "cache"
	sourceFallback = "fallback"
	sourceError    = "error"
)

// secretManagerClientFactory is swapped out in tests.
var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Values are cached per reference and
// version until Invalidate is called.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	defaultProj string
	projectMap  map[string]string
	versionPins map[string]string

	fallback fallbackFile

	mu       sync.RWMutex
	cache    map[string]cachedValue
	watchers map[string][]chan struct{}

	metrics instruments
}

type cachedValue struct {
	value     string
	canonical string
	version   string
	fetchedAt time.Time
	source    string
}

type fetcherOptions struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
	versionPins  map[string]string
}

// Option customises Fetcher construction.
type Option func(*fetcherOptions)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(o *fetcherOptions) { o.logger = logger }
}

// WithEnvironment selects which entry of the project map applies.
func WithEnvironment(env string) Option {
	return func(o *fetcherOptions) { o.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when the project map has no entry
// for the current environment.
func WithDefaultProject(projectID string) Option {
	return func(o *fetcherOptions) { o.defaultProj = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(o *fetcherOptions) { o.projectMap = cloneMap(m) }
}

// WithFallbackFile points at the local key=value file consulted when Secret
// Manager is unreachable or unauthenticated.
func WithFallbackFile(path string) Option {
	return func(o *fetcherOptions) { o.fallbackPath = strings.TrimSpace(path) }
}

// WithMeter injects an OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(o *fetcherOptions) { o.meter = m }
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(o *fetcherOptions) { o.client = client }
}

// WithClientOptions forwards Cloud client options to the Secret Manager
// client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(o *fetcherOptions) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithVersionPins fixes secret versions keyed by canonical reference, or by
// "env:reference" for environment-specific pins.
func WithVersionPins(pins map[string]string) Option {
	return func(o *fetcherOptions) { o.versionPins = cloneMap(pins) }
}

// NewFetcher builds a Fetcher. When no Secret Manager client can be
// constructed the fetcher still works, serving only the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	options := fetcherOptions{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))),
		fallbackPath: defaultFallbackPath,
	}
	if options.env == "" {
		options.env = defaultEnvironment
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = zap.NewNop()
	}

	meter := options.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	f := &Fetcher{
		logger:      options.logger,
		env:         options.env,
		defaultProj: options.defaultProj,
		projectMap:  cloneMap(options.projectMap),
		versionPins: cloneMap(options.versionPins),
		fallback:    fallbackFile{path: options.fallbackPath},
		cache:       make(map[string]cachedValue),
		watchers:    make(map[string][]chan struct{}),
		metrics:     newInstruments(meter, options.logger),
	}

	if options.client != nil {
		f.client = options.client
		return f, nil
	}

	client, err := secretManagerClientFactory(ctx, options.clientOpts...)
	if err != nil {
		options.logger.Warn("secrets: secret manager client unavailable, fallback file only", zap.Error(err))
		return f, nil
	}
	f.client = client
	f.ownsClient = true
	return f, nil
}

// Close releases the underlying client and closes all watcher channels.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	for canonical, watchers := range f.watchers {
		delete(f.watchers, canonical)
		for _, ch := range watchers {
			closeQuietly(ch)
		}
	}
	f.mu.Unlock()

	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret://name reference. Optional
// query parameters: version (pins a version) and project (overrides the
// resolved project ID).
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	start := time.Now()

	ref, err := parseSecretRef(raw)
	if err != nil {
		return "", err
	}
	version := f.pinnedVersion(ref)
	key := versionedKey(ref.canonical, version)

	if value, ok := f.cached(key); ok {
		f.metrics.cacheHit(ctx, ref.canonical)
		f.metrics.latencySample(ctx, time.Since(start), sourceCache, nil)
		return value, nil
	}

	projectID := f.resolveProject(ref)
	if projectID != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, projectID, ref.name, version)
		if err == nil {
			f.remember(key, value, ref.canonical, version, sourceRemote)
			f.metrics.latencySample(ctx, time.Since(start), sourceRemote, nil)
			return value, nil
		}
		if !fallbackEligible(err) {
			f.metrics.latencySample(ctx, time.Since(start), sourceError, err)
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		}
		f.logger.Debug("secrets: remote fetch failed, consulting fallback file",
			zap.String("ref", ref.canonical), zap.Error(err))
	}

	value, ok := f.fallback.lookup(f.logger, ref.canonical, version)
	if !ok {
		err := fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
		f.metrics.latencySample(ctx, time.Since(start), sourceError, err)
		return "", err
	}
	f.remember(key, value, ref.canonical, version, sourceFallback)
	f.metrics.latencySample(ctx, time.Since(start), sourceFallback, nil)
	return value, nil
}

// Invalidate drops cached values for the reference and notifies subscribers.
func (f *Fetcher) Invalidate(raw string) {
	ref, err := parseSecretRef(raw)
	if err != nil {
		return
	}

	f.mu.Lock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
	watchers := f.watchers[ref.canonical]
	f.mu.Unlock()

	for _, ch := range watchers {
		notifyQuietly(ch)
	}
}

// Subscribe returns a channel that fires when the reference is invalidated,
// plus a cancel function that removes the subscription.
func (f *Fetcher) Subscribe(raw string) (<-chan struct{}, func()) {
	ref, err := parseSecretRef(raw)
	if err != nil {
		closed := make(chan struct{})
		close(closed)
		return closed, func() {}
	}

	ch := make(chan struct{}, 1)
	f.mu.Lock()
	f.watchers[ref.canonical] = append(f.watchers[ref.canonical], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		remaining := f.watchers[ref.canonical]
		for i, watcher := range remaining {
			if watcher == ch {
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
		if len(remaining) == 0 {
			delete(f.watchers, ref.canonical)
		} else {
			f.watchers[ref.canonical] = remaining
		}
	}
	return ch, cancel
}

// Notify handles an external rotation event for the reference.
func (f *Fetcher) Notify(raw string) {
	f.Invalidate(raw)
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key, value, canonical, version, source string) {
	f.mu.Lock()
	f.cache[key] = cachedValue{
		value:     value,
		canonical: canonical,
		version:   version,
		fetchedAt: time.Now(),
		source:    source,
	}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) resolveProject(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectMap[f.env]); id != "" {
		return id
	}
	return strings.TrimSpace(f.defaultProj)
}

func (f *Fetcher) pinnedVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return defaultVersion
}

// fallbackFile lazily loads a key=value file. Keys may be plain names,
// secret:// references, or sm:// references.
type fallbackFile struct {
	path   string
	once   sync.Once
	values map[string]string
	err    error
}

func (ff *fallbackFile) lookup(logger *zap.Logger, canonical, version string) (string, bool) {
	ff.once.Do(func() { ff.load() })

	if ff.err != nil {
		logger.Debug("secrets: fallback file unreadable", zap.Error(ff.err))
		return "", false
	}
	if value, ok := ff.values[versionedKey(canonical, version)]; ok {
		return value, true
	}
	value, ok := ff.values[canonical]
	return value, ok
}

func (ff *fallbackFile) load() {
	ff.values = map[string]string{}

	path := strings.TrimSpace(ff.path)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			ff.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key := normalizeFallbackKey(rawKey)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		ref, err := parseSecretRef(key)
		if err != nil {
			ff.values[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = defaultVersion
		}
		ff.values[ref.canonical] = value
		ff.values[versionedKey(ref.canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		ff.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}

func normalizeFallbackKey(key string) string {
	key = strings.TrimSpace(key)
	if rest, ok := strings.CutPrefix(key, "sm://"); ok {
		return "secret://" + rest
	}
	return key
}

type instruments struct {
	latency   metric.Float64Histogram
	latencyOK bool
	hits      metric.Int64Counter
	hitsOK    bool
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	var inst instruments
	var err error

	inst.latency, err = meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	inst.latencyOK = err == nil
	if err != nil {
		logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}

	inst.hits, err = meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	)
	inst.hitsOK = err == nil
	if err != nil {
		logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}
	return inst
}

func (i instruments) latencySample(ctx context.Context, d time.Duration, source string, err error) {
	if !i.latencyOK {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("source", source)}
	if err != nil {
		attrs = append(attrs, attribute.String("error", err.Error()))
	}
	i.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}

func (i instruments) cacheHit(ctx context.Context, canonical string) {
	if !i.hitsOK {
		return
	}
	// Hash the reference so metric labels never leak secret names.
	digest := sha256.Sum256([]byte(canonical))
	i.hits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("secret", hex.EncodeToString(digest[:8])),
	))
}

type secretRef struct {
	raw       string
	canonical string
	name      string
	version   string
	project   string
}

func parseSecretRef(raw string) (secretRef, error) {
	if strings.TrimSpace(raw) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return secretRef{
		raw:       raw,
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return map[string]string{}
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func notifyQuietly(ch chan struct{}) {
	if ch == nil {
		return
	}
	defer func() { _ = recover() }()
	select {
	case ch <- struct{}{}:
	default:
	}
}

func closeQuietly(ch chan struct{}) {
	defer func() { _ = recover() }()
	close(ch)
}

// fallbackEligible reports whether a remote failure should be served from the
// local file instead. NotFound is deliberately excluded: a missing secret in
// a reachable project is a configuration error, not an availability problem.
func fallbackEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
