package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Cache backends selectable with PIPEGRID_CACHE.
const (
	CacheNone     = "none"
	CacheMemory   = "memory"
	CacheFS       = "fs"
	CacheS3       = "s3"
	CachePostgres = "postgres"
)

// Env is the environment configuration.
type Env struct {
	Cache      string
	CacheDir   string
	CacheCodec string
	CacheSize  int
	CacheTTL   time.Duration

	S3          S3
	PostgresDSN string

	SocketIOURL       string
	SocketIONamespace string
	EventsFile        string
	OTel              bool

	GitHubToken string
	GitLabToken string
}

// S3 holds the object store settings shared by the s3 cache store and the
// s3 source type.
type S3 struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Load seeds the process environment from the given dotenv files (".env"
// when none are given) and reads the configuration. Missing dotenv files
// are ignored.
func Load(files ...string) (*Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup reads the configuration through lookup.
func FromLookup(lookup func(string) (string, bool)) (*Env, error) {
	r := reader{lookup: lookup}
	env := &Env{
		Cache:      strings.ToLower(r.str("PIPEGRID_CACHE", CacheMemory)),
		CacheDir:   r.str("PIPEGRID_CACHE_DIR", ".pipegrid/cache"),
		CacheCodec: strings.ToLower(r.str("PIPEGRID_CACHE_CODEC", "json")),
		CacheSize:  r.int("PIPEGRID_CACHE_SIZE", 0),
		CacheTTL:   r.duration("PIPEGRID_CACHE_TTL", 0),
		S3: S3{
			Endpoint:  r.str("PIPEGRID_S3_ENDPOINT", ""),
			Region:    r.str("PIPEGRID_S3_REGION", "us-east-1"),
			AccessKey: r.str("PIPEGRID_S3_ACCESS_KEY", ""),
			SecretKey: r.str("PIPEGRID_S3_SECRET_KEY", ""),
			Bucket:    r.str("PIPEGRID_S3_BUCKET", ""),
			UseSSL:    r.bool("PIPEGRID_S3_USE_SSL", true),
		},
		PostgresDSN:       r.str("PIPEGRID_POSTGRES_DSN", ""),
		SocketIOURL:       r.str("PIPEGRID_SOCKETIO_URL", ""),
		SocketIONamespace: r.str("PIPEGRID_SOCKETIO_NAMESPACE", "/"),
		EventsFile:        r.str("PIPEGRID_EVENTS_FILE", ""),
		OTel:              r.bool("PIPEGRID_OTEL", false),
		GitHubToken:       r.str("PIPEGRID_GITHUB_TOKEN", ""),
		GitLabToken:       r.str("PIPEGRID_GITLAB_TOKEN", ""),
	}
	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate checks that the selected cache backend is configured.
func (e *Env) Validate() error {
	switch e.Cache {
	case CacheNone, CacheMemory:
	case CacheFS:
		if e.CacheDir == "" {
			return errors.New("PIPEGRID_CACHE=fs requires PIPEGRID_CACHE_DIR")
		}
	case CacheS3:
		if e.S3.Endpoint == "" || e.S3.Bucket == "" {
			return errors.New("PIPEGRID_CACHE=s3 requires PIPEGRID_S3_ENDPOINT and PIPEGRID_S3_BUCKET")
		}
	case CachePostgres:
		if e.PostgresDSN == "" {
			return errors.New("PIPEGRID_CACHE=postgres requires PIPEGRID_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("invalid PIPEGRID_CACHE '%s': must be one of none, memory, fs, s3, postgres", e.Cache)
	}
	switch e.CacheCodec {
	case "json", "msgpack":
	default:
		return fmt.Errorf("invalid PIPEGRID_CACHE_CODEC '%s': must be 'json' or 'msgpack'", e.CacheCodec)
	}
	return nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) bool(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return v
}
