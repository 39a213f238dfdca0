// Package writer 以 YAML 形式读写 exhub 配置文件，写入前备份旧文件并原子替换。
package writer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"exhub/internal/config"

	"gopkg.in/yaml.v3"
)

const keepBackups = 10

// Writer 负责单个配置文件的读写。
type Writer struct {
	path string
	mu   sync.RWMutex
	now  func() time.Time
}

func New(path string) *Writer {
	return &Writer{path: path, now: time.Now}
}

// Path 返回目标文件路径。
func (w *Writer) Path() string { return w.path }

// Read 读取并解析当前文件；不补默认值，保持文件原貌。
func (w *Writer) Read() (*config.Config, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", w.path, err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", w.path, err)
	}
	return &cfg, nil
}

// Write 备份旧文件后写入临时文件再 rename。
func (w *Writer) Write(cfg *config.Config) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.backup(); err != nil {
		return fmt.Errorf("备份失败: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := w.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("替换配置文件失败: %w", err)
	}
	return nil
}

// Update 读取、修改并写回。
func (w *Writer) Update(fn func(*config.Config) error) error {
	cfg, err := w.Read()
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return w.Write(cfg)
}

func (w *Writer) backupPrefix() string {
	base := filepath.Base(w.path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_"
}

func (w *Writer) backup() error {
	src, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer src.Close()

	dir := filepath.Join(filepath.Dir(w.path), "backups")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s%s%s", w.backupPrefix(), w.now().Format("20060102_150405.000"), filepath.Ext(w.path))
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return err
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	w.cleanOldBackups(dir, keepBackups)
	return nil
}

// Backups 返回备份文件列表，从旧到新。
func (w *Writer) Backups() []string {
	dir := filepath.Join(filepath.Dir(w.path), "backups")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	prefix := w.backupPrefix()
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func (w *Writer) cleanOldBackups(dir string, keep int) {
	backups := w.Backups()
	if len(backups) <= keep {
		return
	}
	for _, p := range backups[:len(backups)-keep] {
		_ = os.Remove(p)
	}
}
