package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
	getter "github.com/hashicorp/go-getter"
	homedir "github.com/mitchellh/go-homedir"
	"golang.org/x/sync/singleflight"
)

// DefaultParamCacheDir is where downloaded parameter files are kept.
const DefaultParamCacheDir = "~/.chain-params"

// ParamSource says where a named parameter file comes from and, optionally, the
// hex SHA-256 digest it must have.
type ParamSource struct {
	URL    string `toml:"url" mapstructure:"url"`
	SHA256 string `toml:"sha256" mapstructure:"sha256"`
}

// CachedLoader serves opaque parameter blobs, such as proof-verification keys,
// from a cache directory and downloads missing ones with go-getter. Concurrent
// loads of the same name share one download.
type CachedLoader struct {
	dir     string
	timeout time.Duration
	mu      sync.RWMutex
	sources map[string]ParamSource
	group   singleflight.Group
}

// NewCachedLoader creates a loader caching into dir. A leading ~ is expanded.
func NewCachedLoader(dir string, sources map[string]ParamSource) (*CachedLoader, error) {
	if dir == "" {
		dir = DefaultParamCacheDir
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return nil, fmt.Errorf("expand parameter cache dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("create parameter cache dir %s: %w", expanded, err)
	}
	l := &CachedLoader{dir: expanded, timeout: 5 * time.Minute, sources: make(map[string]ParamSource, len(sources))}
	for name, src := range sources {
		l.sources[name] = src
	}
	return l, nil
}

// Dir returns the expanded cache directory.
func (l *CachedLoader) Dir() string { return l.dir }

// AddSource registers or replaces where name is downloaded from.
func (l *CachedLoader) AddSource(name string, src ParamSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources[name] = src
}

// Load returns the parameter file name, downloading it on first use.
func (l *CachedLoader) Load(ctx context.Context, name string) ([]byte, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, models.NewError(models.KindVerification, fmt.Sprintf("invalid parameter name %q", name))
	}
	l.mu.RLock()
	src, hasSource := l.sources[name]
	l.mu.RUnlock()

	v, err, _ := l.group.Do(name, func() (any, error) {
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			if !hasSource {
				return nil, models.NewError(models.KindVerification, fmt.Sprintf("parameter %s is not cached and has no source", name))
			}
			if err := l.download(ctx, src, path); err != nil {
				return nil, err
			}
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read parameter %s: %w", name, err)
		}
		if err := checkDigest(name, data, src.SHA256); err != nil {
			_ = os.Remove(path)
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (l *CachedLoader) download(ctx context.Context, src ParamSource, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	httpGetter := &getter.HttpGetter{}
	client := getter.Client{
		Ctx:  ctx,
		Src:  src.URL,
		Dst:  dst,
		Pwd:  l.dir,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"file":  &getter.FileGetter{Copy: true},
			"http":  httpGetter,
			"https": httpGetter,
		},
	}
	log.Info().Str("src", src.URL).Str("dst", dst).Msg("Downloading parameter file")
	if err := client.Get(); err != nil {
		_ = os.Remove(dst)
		return models.WrapError(models.KindNetwork, fmt.Sprintf("download %s", src.URL), err)
	}
	return nil
}

func checkDigest(name string, data []byte, want string) error {
	if want == "" {
		return nil
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, want) {
		return models.NewError(models.KindVerification, fmt.Sprintf("parameter %s has digest %s, want %s", name, got, want))
	}
	return nil
}
