package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"

	ilog "tracktap/internal/log"
	"tracktap/pkg/policyspec"
)

// 策略文件变更的去抖间隔，编辑器多次写入合并为一次重载
const reloadDebounce = 300 * time.Millisecond

// PolicyWatcher 监视策略文件，变更时重载并回调。
// 回调携带新策略，差异计算由策略引擎自己完成
type PolicyWatcher struct {
	file     *PolicyFile
	onChange func(*policyspec.Config)
	log      ilog.Logger
}

// NewPolicyWatcher 创建策略文件监视器
func NewPolicyWatcher(file *PolicyFile, onChange func(*policyspec.Config), l ilog.Logger) *PolicyWatcher {
	if l == nil {
		l = ilog.NewNoop()
	}
	return &PolicyWatcher{file: file, onChange: onChange, log: l}
}

// Run 开始监视，阻塞直到 ctx 取消。监视文件所在目录
// 以兼容编辑器的原子替换写入（rename + create）
func (w *PolicyWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir := filepath.Dir(w.file.Path())
	if err := watcher.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(w.file.Path())
	debounced := debounce.New(reloadDebounce)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(w.reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Err(err, "策略文件监视错误")
		}
	}
}

// reload 重载策略文件并通知。加载失败保留旧策略
func (w *PolicyWatcher) reload() {
	cfg, err := w.file.Load()
	if err != nil {
		w.log.Err(err, "策略文件重载失败，保留当前策略", "path", w.file.Path())
		return
	}
	w.log.Info("策略文件已重载", "path", w.file.Path(),
		"allowlist", len(cfg.Allowlist), "denylist", len(cfg.Denylist), "maxEvents", cfg.MaxEvents)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
