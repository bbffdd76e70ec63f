package policyspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntryMatches(t *testing.T) {
	exact := Entry{Domain: "example.com"}
	assert.True(t, exact.Matches("example.com"))
	assert.False(t, exact.Matches("app.example.com"))
	assert.False(t, exact.Matches("notexample.com"))

	sub := Entry{Domain: "example.com", AllowSubdomains: true}
	assert.True(t, sub.Matches("example.com"))
	assert.True(t, sub.Matches("app.example.com"))
	assert.True(t, sub.Matches("a.b.example.com"))
	// 后缀必须落在标签边界上
	assert.False(t, sub.Matches("notexample.com"))
}

func TestNormalize(t *testing.T) {
	cfg := &Config{
		Allowlist: []Entry{{Domain: "  Shop.Example.COM "}},
		Denylist:  []string{"BAD.example.org"},
	}
	cfg.Normalize()
	assert.Equal(t, "shop.example.com", cfg.Allowlist[0].Domain)
	assert.Equal(t, "bad.example.org", cfg.Denylist[0])
	assert.Equal(t, DefaultMaxEvents, cfg.MaxEvents)
	assert.Equal(t, DefaultConfigVersion, cfg.Version)

	cfg.MaxEvents = MaxMaxEvents + 1
	cfg.Normalize()
	assert.Equal(t, MaxMaxEvents, cfg.MaxEvents)
}

func TestValidate(t *testing.T) {
	cfg := NewConfig()
	cfg.Allowlist = []Entry{{Domain: "shop.example.com"}}
	cfg.Denylist = []string{"bad.example.org"}
	require.NoError(t, cfg.Validate())

	cfg.Allowlist = append(cfg.Allowlist, Entry{Domain: "no_underscores.com"})
	assert.Error(t, cfg.Validate())
}

func TestValidateDomain(t *testing.T) {
	assert.NoError(t, ValidateDomain("example.com"))
	assert.NoError(t, ValidateDomain("a-b.example.co.uk"))
	assert.Error(t, ValidateDomain(""))
	assert.Error(t, ValidateDomain("nodot"))
	assert.Error(t, ValidateDomain("-leading.com"))
	assert.Error(t, ValidateDomain("http://example.com"))
}

func TestEntriesEqual(t *testing.T) {
	a := NewConfig()
	a.Allowlist = []Entry{{Domain: "x.com"}}
	b := a.Clone()
	assert.True(t, EntriesEqual(a, b))

	// MaxEvents 变化不算条目变化
	b.MaxEvents = 42
	assert.True(t, EntriesEqual(a, b))

	b.Allowlist[0].AllowSubdomains = true
	assert.False(t, EntriesEqual(a, b))

	b = a.Clone()
	b.Denylist = []string{"y.com"}
	assert.False(t, EntriesEqual(a, b))
}

func TestCloneIsDeep(t *testing.T) {
	a := NewConfig()
	a.Allowlist = []Entry{{Domain: "x.com"}}
	b := a.Clone()
	b.Allowlist[0].Domain = "changed.com"
	assert.Equal(t, "x.com", a.Allowlist[0].Domain)
}
