package preset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"quantbt/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Preset 一组预定义的标的集合。
type Preset struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Market      string   `json:"market" yaml:"market"`
	Symbols     []string `json:"symbols" yaml:"symbols"`
}

// FileConfig 映射 presets 文件。
type FileConfig struct {
	Presets         map[string]Preset         `yaml:"presets"`
	StrategySchemas map[string]map[string]any `yaml:"strategy_schemas"`
}

// Snapshot 公开的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Presets  map[string]Preset
	schemas  map[string]*jsonschema.Schema
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理标的预设与策略参数 schema，文件变更时自动重载。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewStatic 仅包含内置预设，不监听文件。
func NewStatic() *Registry {
	r := &Registry{}
	r.apply(FileConfig{}, nil)
	return r
}

// NewRegistry 读取 presets 文件并监听更新；文件中的预设覆盖同名内置预设。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("preset registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read preset config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("preset reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前快照。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Preset 按名称查找，大小写不敏感。
func (r *Registry) Preset(name string) (Preset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	p, ok := r.snapshot.Presets[key]
	r.mu.RUnlock()
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q, available: %s", name, strings.Join(r.Names(), ", "))
	}
	p.Symbols = append([]string(nil), p.Symbols...)
	return p, nil
}

// Names 返回排序后的预设名。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.snapshot.Presets))
	for name := range r.snapshot.Presets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List 按名称顺序返回全部预设。
func (r *Registry) List() []Preset {
	names := r.Names()
	out := make([]Preset, 0, len(names))
	for _, name := range names {
		if p, err := r.Preset(name); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// Resolve 返回预设的市场与标的，供回测任务展开 preset 字段。
func (r *Registry) Resolve(name string) (string, []string, error) {
	p, err := r.Preset(name)
	if err != nil {
		return "", nil, err
	}
	return p.Market, p.Symbols, nil
}

// ValidateParams 用文件中声明的 schema 校验策略参数；未声明 schema 的策略直接放行。
func (r *Registry) ValidateParams(strategy string, params map[string]any) error {
	key := strings.ToLower(strings.TrimSpace(strategy))
	r.mu.RLock()
	schema := r.snapshot.schemas[key]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := schema.Validate(sanitizeParams(params)); err != nil {
		return fmt.Errorf("%s 参数不符合 schema: %w", key, err)
	}
	return nil
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	snap := cloneSnapshot(r.snapshot)
	r.mu.Unlock()
	go func() {
		defer safeRecover("preset listener")
		fn(snap)
	}()
}

func (r *Registry) reload() error {
	cfg, err := readPresetFile(r.path)
	if err != nil {
		return err
	}
	schemas := make(map[string]*jsonschema.Schema, len(cfg.StrategySchemas))
	for name, raw := range cfg.StrategySchemas {
		compiled, err := compileSchema(raw)
		if err != nil {
			return fmt.Errorf("compile schema %s failed: %w", name, err)
		}
		schemas[strings.ToLower(strings.TrimSpace(name))] = compiled
	}
	n := r.apply(cfg, schemas)
	logger.Infof("预设已加载 %d 个 (%s)", n, filepath.Base(r.path))
	return nil
}

func (r *Registry) apply(cfg FileConfig, schemas map[string]*jsonschema.Schema) int {
	presets := make(map[string]Preset, len(builtin)+len(cfg.Presets))
	for name, p := range builtin {
		presets[name] = normalizePreset(name, p)
	}
	for name, p := range cfg.Presets {
		norm := normalizePreset(name, p)
		if len(norm.Symbols) == 0 || norm.Market == "" {
			logger.Warnf("忽略无效预设 %s: 缺少 market 或 symbols", name)
			continue
		}
		presets[norm.Name] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Presets:  presets,
		schemas:  schemas,
	}
	r.mu.Unlock()
	return len(presets)
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer safeRecover("preset listener")
			cb(snap)
		}(fn)
	}
}

func normalizePreset(name string, p Preset) Preset {
	p.Name = strings.ToLower(strings.TrimSpace(p.Name))
	if p.Name == "" {
		p.Name = strings.ToLower(strings.TrimSpace(name))
	}
	p.Description = strings.TrimSpace(p.Description)
	p.Market = strings.ToUpper(strings.TrimSpace(p.Market))
	seen := make(map[string]bool, len(p.Symbols))
	symbols := make([]string, 0, len(p.Symbols))
	for _, s := range p.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	p.Symbols = symbols
	return p
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Presets:  make(map[string]Preset, len(src.Presets)),
		schemas:  src.schemas,
	}
	for name, p := range src.Presets {
		p.Symbols = append([]string(nil), p.Symbols...)
		dst.Presets[name] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readPresetFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read preset config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse preset config failed: %w", err)
	}
	return cfg, nil
}

// sanitizeParams 将字符串数字与整数统一为 float64，表单和查询串提交的参数常是字符串。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
