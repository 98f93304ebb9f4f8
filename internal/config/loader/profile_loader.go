package loader

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/dvirmail/cryptonew-sub011/internal/logger"
)

// ProfileDefinition describes one watch profile: the symbols it tracks and
// its regime overrides.
type ProfileDefinition struct {
	Name                  string   `mapstructure:"-"`
	Symbols               []string `mapstructure:"symbols"`
	Interval              string   `mapstructure:"interval"`
	ConfirmationThreshold int      `mapstructure:"confirmation_threshold"`
	CacheValidityHours    float64  `mapstructure:"cache_validity_hours"`
	Default               bool     `mapstructure:"default"`

	symbolsUpper []string
}

// FileConfig is the full profile file shape.
type FileConfig struct {
	Profiles map[string]ProfileDefinition `mapstructure:"profiles"`
}

// ProfileSnapshot is the read-only view handed to consumers.
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Default returns the profile marked default, or the zero value.
func (s ProfileSnapshot) DefaultProfile() (ProfileDefinition, bool) {
	for _, def := range s.Profiles {
		if def.Default {
			return def, true
		}
	}
	return ProfileDefinition{}, false
}

// ChangeListener is invoked on every successful reload.
type ChangeListener func(ProfileSnapshot)

// ProfileLoader reads watch profiles from a YAML file and hot-reloads them
// on filesystem changes.
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader reads the file and starts watching for FS events.
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot returns a copy of the current snapshot.
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener; it immediately receives the current
// snapshot once.
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition)
	for name, def := range fileCfg.Profiles {
		normalized[name] = normalizeProfileDefinition(name, def)
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func normalizeProfileDefinition(name string, def ProfileDefinition) ProfileDefinition {
	def.Name = name
	def.Interval = strings.ToLower(strings.TrimSpace(def.Interval))
	if def.Interval == "" {
		def.Interval = "1h"
	}
	if def.ConfirmationThreshold <= 0 {
		def.ConfirmationThreshold = 3
	}
	if def.CacheValidityHours <= 0 {
		def.CacheValidityHours = 1
	}
	def.symbolsUpper = normalizeSymbols(def.Symbols)
	return def
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(sym), "/", ""))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SymbolsUpper returns the normalized symbol list.
func (p ProfileDefinition) SymbolsUpper() []string {
	out := make([]string, len(p.symbolsUpper))
	copy(out, p.symbolsUpper)
	return out
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
