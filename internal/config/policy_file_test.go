package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tracktap/pkg/policyspec"
)

func TestPolicyFileLoadMissing(t *testing.T) {
	pf := NewPolicyFile(filepath.Join(t.TempDir(), "policy.yaml"), nil)
	cfg, err := pf.Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Allowlist)
	assert.Equal(t, policyspec.DefaultMaxEvents, cfg.MaxEvents)
}

func TestPolicyFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `version: "1.0"
allowlist:
  - domain: Shop.Example.COM
  - domain: example.org
    allowSubdomains: true
denylist:
  - bad.example.org
maxEvents: 300
autoAllow: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pf := NewPolicyFile(path, nil)
	cfg, err := pf.Load()
	require.NoError(t, err)
	require.Len(t, cfg.Allowlist, 2)
	// 加载时规整为小写
	assert.Equal(t, "shop.example.com", cfg.Allowlist[0].Domain)
	assert.True(t, cfg.Allowlist[1].AllowSubdomains)
	assert.Equal(t, []string{"bad.example.org"}, cfg.Denylist)
	assert.Equal(t, 300, cfg.MaxEvents)
	assert.True(t, cfg.AutoAllow)
}

func TestPolicyFileLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowlist: {not: a list}"), 0o644))
	pf := NewPolicyFile(path, nil)
	_, err := pf.Load()
	assert.Error(t, err)
}

func TestPolicyFileSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	pf := NewPolicyFile(path, nil)

	cfg := policyspec.NewConfig()
	cfg.Allowlist = []policyspec.Entry{{Domain: "shop.example.com"}}
	cfg.MaxEvents = 42
	require.NoError(t, pf.Save(cfg))

	loaded, err := NewPolicyFile(path, nil).Load()
	require.NoError(t, err)
	require.Len(t, loaded.Allowlist, 1)
	assert.Equal(t, "shop.example.com", loaded.Allowlist[0].Domain)
	assert.Equal(t, 42, loaded.MaxEvents)
}

func TestAutoAllowAppendsAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	pf := NewPolicyFile(path, nil)

	require.NoError(t, pf.AutoAllow("newsite.com"))
	cur := pf.Current()
	require.Len(t, cur.Allowlist, 1)
	assert.Equal(t, "newsite.com", cur.Allowlist[0].Domain)
	assert.False(t, cur.Allowlist[0].AllowSubdomains)

	// 重复放行与被现有条目覆盖的域名都不再追加
	require.NoError(t, pf.AutoAllow("newsite.com"))
	assert.Len(t, pf.Current().Allowlist, 1)

	// 落盘可被重新加载
	loaded, err := NewPolicyFile(path, nil).Load()
	require.NoError(t, err)
	assert.Len(t, loaded.Allowlist, 1)
}

func TestAutoAllowRejectsInvalidDomain(t *testing.T) {
	pf := NewPolicyFile(filepath.Join(t.TempDir(), "policy.yaml"), nil)
	assert.Error(t, pf.AutoAllow(""))
	assert.Error(t, pf.AutoAllow("not a domain"))
}

func TestPolicyWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxEvents: 100\n"), 0o644))

	pf := NewPolicyFile(path, nil)
	_, err := pf.Load()
	require.NoError(t, err)

	ch := make(chan *policyspec.Config, 4)
	w := NewPolicyWatcher(pf, func(cfg *policyspec.Config) { ch <- cfg }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// 给监视器一点启动时间，再覆盖写入触发重载
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("maxEvents: 250\n"), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, 250, cfg.MaxEvents)
	case <-time.After(5 * time.Second):
		t.Fatal("策略重载回调未触发")
	}

	cancel()
	<-done
}
