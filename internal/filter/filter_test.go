package filter

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/fsu/internal/domain"
)

func file(size int64) domain.Stat { return domain.Stat{Mode: 0o644, Size: size} }

var dirStat = domain.Stat{Mode: os.ModeDir | 0o755}

func TestNilChainExcludesNothing(t *testing.T) {
	var c *Chain
	assert.True(t, c.Empty())
	assert.False(t, c.Excludes("any/file.txt", file(10)))
}

func TestEmptyChainKeepsAll(t *testing.T) {
	c := NewChain()
	assert.False(t, c.Excludes("any/file.txt", file(1024)))
	assert.False(t, c.Excludes("any/dir", dirStat))
	assert.True(t, c.Empty())
}

func TestExcludePattern(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("*.log"))

	assert.True(t, c.Excludes("app.log", file(100)))
	assert.True(t, c.Excludes("sub/debug.log", file(100)))
	assert.False(t, c.Excludes("app.txt", file(100)))
}

func TestFirstMatchWins(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddInclude("important.log"))
	require.NoError(t, c.AddExclude("*.log"))

	assert.False(t, c.Excludes("important.log", file(100)))
	assert.True(t, c.Excludes("debug.log", file(100)))

	c = NewChain()
	require.NoError(t, c.AddExclude("*.log"))
	require.NoError(t, c.AddInclude("important.log"))
	assert.True(t, c.Excludes("important.log", file(100)))
}

func TestDirOnlyRule(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("build/"))

	assert.True(t, c.Excludes("build", dirStat))
	assert.False(t, c.Excludes("build", file(100)))
}

func TestAnchoredRule(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("/root.txt"))

	assert.True(t, c.Excludes("root.txt", file(100)))
	assert.False(t, c.Excludes("sub/root.txt", file(100)))
}

func TestIncludeThenExcludeEverything(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddInclude("**/*.conf"))
	require.NoError(t, c.AddExclude("*"))

	assert.False(t, c.Excludes("fstab.conf", file(100)))
	assert.False(t, c.Excludes("etc/ssh/sshd.conf", file(100)))
	assert.True(t, c.Excludes("passwd", file(100)))
}

func TestSizeBoundsApplyToRegularFilesOnly(t *testing.T) {
	c := NewChain()
	c.SetMinSize(100)
	c.SetMaxSize(10000)

	assert.True(t, c.Excludes("tiny", file(50)))
	assert.False(t, c.Excludes("medium", file(500)))
	assert.True(t, c.Excludes("huge", file(50000)))

	assert.False(t, c.Excludes("somedir", dirStat))
	link := domain.Stat{Mode: os.ModeSymlink | 0o777, Size: 3}
	assert.False(t, c.Excludes("link", link))
	dev := domain.Stat{Mode: os.ModeDevice | os.ModeCharDevice | 0o666}
	assert.False(t, c.Excludes("null", dev))
}

func TestAddRule(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddRule("+ keep.tmp"))
	require.NoError(t, c.AddRule("- *.tmp"))
	require.NoError(t, c.AddRule("*.bak"))

	require.Len(t, c.rules, 3)
	assert.True(t, c.rules[0].include)
	assert.False(t, c.rules[1].include)
	assert.False(t, c.rules[2].include)

	assert.False(t, c.Excludes("keep.tmp", file(1)))
	assert.True(t, c.Excludes("x.tmp", file(1)))
	assert.True(t, c.Excludes("x.bak", file(1)))
}

func TestAddRuleInvalid(t *testing.T) {
	c := NewChain()
	assert.Error(t, c.AddExclude(""))
	assert.Error(t, c.AddExclude(`foo\`))
}
