// Package config loads olttrap configuration from YAML or JSON files and
// validates it against a CUE schema.
//
// The schema supplies defaults for every field, so the merged configuration
// is always complete once loading succeeds. Values are read with dot paths:
//
//	manager, err := config.NewManager(config.Options{
//		ConfigPath:            "olttrap.yaml",
//		EnableConfigHotReload: true,
//	})
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	format, _ := manager.GetString("publish.format")
//	size, _ := manager.GetInt("processor.worker_pool.size")
//
// String values in configuration files may reference environment variables
// as $VAR, ${VAR} or ${VAR:-default}.
package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/encoding/yaml"
)

// DefaultSchema is the schema used when Options names none.
//
//go:embed schema.cue
var DefaultSchema string

// maxFileSize bounds configuration and schema files.
const maxFileSize = 10 * 1024 * 1024

// Provider gives read access to configuration values by dot path.
type Provider interface {
	// GetString returns the string at path, or the first default when the
	// path is missing.
	GetString(path string, defaultValue ...string) (string, error)
	GetInt(path string, defaultValue ...int) (int, error)
	GetFloat(path string, defaultValue ...float64) (float64, error)
	GetBool(path string, defaultValue ...bool) (bool, error)
	// GetDuration parses a string value such as "30s".
	GetDuration(path string, defaultValue ...time.Duration) (time.Duration, error)
	GetStringSlice(path string, defaultValue ...[]string) ([]string, error)
	// GetMap returns a copy of the section at path.
	GetMap(path string) (map[string]any, error)
	Exists(path string) bool
	// Validate checks the current values against the schema again.
	Validate() error
}

// Manager adds reloading to Provider.
type Manager interface {
	Provider

	// StartHotReload watches the configuration file until ctx is done or
	// StopHotReload is called.
	StartHotReload(ctx context.Context) error
	StopHotReload()
	// OnConfigChange registers a callback run after every reload attempt.
	// The callback receives nil on success and the reload error otherwise.
	// Values from a failed reload are never applied.
	OnConfigChange(callback func(error))
	Reload() error
	Close() error
}

// Options configures NewManager.
type Options struct {
	// SchemaPath is a CUE file or a directory holding a CUE package.
	SchemaPath string
	// SchemaContent is inline CUE. It wins over SchemaPath. DefaultSchema is
	// used when both are empty.
	SchemaContent string
	// ConfigPath is a .yaml, .yml or .json file. Empty means schema defaults
	// only.
	ConfigPath string

	EnableConfigHotReload bool
	// HotReloadContext bounds the watcher started by EnableConfigHotReload.
	// Defaults to context.Background.
	HotReloadContext context.Context
	// ReloadDelay is how long to wait after a change event before reading
	// the file. Defaults to 100ms.
	ReloadDelay time.Duration
}

type configManager struct {
	cue     *cue.Context
	schema  cue.Value
	options Options

	mu     sync.RWMutex
	values map[string]any

	notifier *changeNotifier
	reloader *hotReloader
}

// NewManager compiles the schema, loads the configuration file and, when
// asked to, starts watching it.
func NewManager(options Options) (Manager, error) {
	ctx := cuecontext.New()

	schema, err := loadSchema(ctx, options)
	if err != nil {
		return nil, err
	}

	m := &configManager{
		cue:      ctx,
		schema:   schema,
		options:  options,
		notifier: newChangeNotifier(),
	}

	values, err := m.load()
	if err != nil {
		return nil, err
	}
	m.values = values

	if options.EnableConfigHotReload {
		if options.ConfigPath == "" {
			return nil, errors.New("config hot reload requires a config path")
		}
		hctx := options.HotReloadContext
		if hctx == nil {
			hctx = context.Background()
		}
		if err := m.StartHotReload(hctx); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// loadSchema compiles the schema named by options.
func loadSchema(ctx *cue.Context, options Options) (cue.Value, error) {
	var schema cue.Value

	switch {
	case options.SchemaContent != "":
		schema = ctx.CompileString(options.SchemaContent, cue.Filename("schema.cue"))
	case options.SchemaPath != "":
		info, err := os.Stat(options.SchemaPath)
		if err != nil {
			return cue.Value{}, fmt.Errorf("schema path %s: %w", options.SchemaPath, err)
		}
		if info.IsDir() {
			instances := load.Instances([]string{"."}, &load.Config{Dir: options.SchemaPath})
			if len(instances) == 0 {
				return cue.Value{}, fmt.Errorf("no CUE package found in %s", options.SchemaPath)
			}
			if err := instances[0].Err; err != nil {
				return cue.Value{}, fmt.Errorf("failed to load schema package %s: %w", options.SchemaPath, err)
			}
			schema = ctx.BuildInstance(instances[0])
		} else {
			content, err := safeReadFile(options.SchemaPath)
			if err != nil {
				return cue.Value{}, fmt.Errorf("failed to read schema %s: %w", options.SchemaPath, err)
			}
			schema = ctx.CompileBytes(content, cue.Filename(options.SchemaPath))
		}
	default:
		schema = ctx.CompileString(DefaultSchema, cue.Filename("schema.cue"))
	}

	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile schema: %w", err)
	}
	return schema, nil
}

// load reads the configuration file, unifies it with the schema and decodes
// the complete result.
func (m *configManager) load() (map[string]any, error) {
	value := m.schema
	if m.options.ConfigPath != "" {
		user, err := m.readConfigFile(m.options.ConfigPath)
		if err != nil {
			return nil, err
		}
		value = value.Unify(user)
	}
	return m.decode(value)
}

func (m *configManager) decode(value cue.Value) (map[string]any, error) {
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, validationError(err)
	}
	var values map[string]any
	if err := value.Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// readConfigFile compiles a YAML or JSON file after environment expansion.
func (m *configManager) readConfigFile(path string) (cue.Value, error) {
	content, err := safeReadFile(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if !hasContent(content) {
		return cue.Value{}, fmt.Errorf("config file %s is empty", path)
	}
	content = []byte(expandEnv(string(content)))

	var value cue.Value
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		file, err := yaml.Extract(path, content)
		if err != nil {
			return cue.Value{}, fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
		value = m.cue.BuildFile(file)
	case ".json":
		value = m.cue.CompileBytes(content, cue.Filename(path))
	default:
		return cue.Value{}, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return value, nil
}

// hasContent reports whether content holds anything besides blank lines and
// # comments.
func hasContent(content []byte) bool {
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			return true
		}
	}
	return false
}

// expandEnv replaces $VAR, ${VAR} and ${VAR:-default}. Unset variables
// without a default expand to the empty string.
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if key, def, ok := strings.Cut(name, ":-"); ok {
			if v := os.Getenv(key); v != "" {
				return v
			}
			return def
		}
		return os.Getenv(name)
	})
}

// validationError flattens CUE errors into one line per failing path.
func validationError(err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)
		if path := strings.Join(e.Path(), "."); path != "" {
			msg = path + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
}

// lookup walks a dot path through nested sections.
func (m *configManager) lookup(path string) (any, error) {
	if path == "" {
		return nil, errors.New("empty configuration path")
	}

	var current any = m.values
	for _, key := range strings.Split(path, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %s not found", path)
		}
		if current, ok = section[key]; !ok {
			return nil, fmt.Errorf("path %s not found", path)
		}
	}
	return current, nil
}

func (m *configManager) GetString(path string, defaultValue ...string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0], nil
		}
		return "", err
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("value at path %s is not a string: %T", path, value)
}

func (m *configManager) GetInt(path string, defaultValue ...int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0], nil
		}
		return 0, err
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	}
	return 0, fmt.Errorf("value at path %s is not an integer: %T", path, value)
}

func (m *configManager) GetFloat(path string, defaultValue ...float64) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0], nil
		}
		return 0, err
	}
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("value at path %s is not a float: %T", path, value)
}

func (m *configManager) GetBool(path string, defaultValue ...bool) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0], nil
		}
		return false, err
	}
	if b, ok := value.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("value at path %s is not a boolean: %T", path, value)
}

func (m *configManager) GetDuration(path string, defaultValue ...time.Duration) (time.Duration, error) {
	s, err := m.GetString(path)
	if err != nil {
		if len(defaultValue) > 0 && !m.Exists(path) {
			return defaultValue[0], nil
		}
		return 0, err
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration at path %s: %w", path, err)
	}
	return d, nil
}

func (m *configManager) GetStringSlice(path string, defaultValue ...[]string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0], nil
		}
		return nil, err
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("value at path %s is not a list: %T", path, value)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("item %d at path %s is not a string: %T", i, path, item)
		}
		out[i] = s
	}
	return out, nil
}

func (m *configManager) GetMap(path string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, err := m.lookup(path)
	if err != nil {
		return nil, err
	}
	section, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value at path %s is not a map: %T", path, value)
	}
	return copyMap(section), nil
}

func (m *configManager) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := m.lookup(path)
	return err == nil
}

func (m *configManager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, err := m.decode(m.schema.Unify(m.cue.Encode(m.values)))
	return err
}

// Reload reads the configuration file again. The previous values stay in
// place when the new file does not validate.
func (m *configManager) Reload() error {
	m.mu.Lock()
	values, err := m.load()
	if err == nil {
		m.values = values
	}
	m.mu.Unlock()

	m.notifier.notify(err)
	return err
}

func (m *configManager) StartHotReload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reloader != nil {
		return errors.New("hot reload already started")
	}
	if m.options.ConfigPath == "" {
		return errors.New("no config file to watch")
	}

	delay := m.options.ReloadDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	reloader, err := startHotReloader(ctx, m.options.ConfigPath, delay, func() { _ = m.Reload() }, m.notifier)
	if err != nil {
		return err
	}
	m.reloader = reloader
	return nil
}

func (m *configManager) StopHotReload() {
	m.mu.Lock()
	reloader := m.reloader
	m.reloader = nil
	m.mu.Unlock()

	if reloader != nil {
		reloader.stop()
	}
}

func (m *configManager) OnConfigChange(callback func(error)) {
	m.notifier.add(callback)
}

func (m *configManager) Close() error {
	m.StopHotReload()
	return nil
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		switch vv := v.(type) {
		case map[string]any:
			dst[k] = copyMap(vv)
		case []any:
			dst[k] = append([]any(nil), vv...)
		default:
			dst[k] = v
		}
	}
	return dst
}

// safeReadFile reads a regular file of bounded size. System paths are
// refused.
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("file path cannot be empty")
	}

	clean := filepath.Clean(path)
	for _, prefix := range []string{"/etc/shadow", "/proc/", "/sys/"} {
		if strings.HasPrefix(clean, prefix) {
			return nil, fmt.Errorf("access to %s not allowed", prefix)
		}
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", clean)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	return os.ReadFile(clean)
}
