package retrieval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_Empty(t *testing.T) {
	assert.Nil(t, Chunk("   ", 10, 2))
}

func TestChunk_ShorterThanSize(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Chunk("hello", 10, 2))
}

func TestChunk_Overlap(t *testing.T) {
	got := Chunk("abcdefghij", 4, 1)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, got)
}

func TestChunk_CountsRunesNotBytes(t *testing.T) {
	got := Chunk("ééééé", 2, 0)
	assert.Equal(t, []string{"éé", "éé", "é"}, got)
}

func TestChunk_InvalidOverlapIgnored(t *testing.T) {
	got := Chunk("abcdef", 3, 5)
	assert.Equal(t, []string{"abc", "def"}, got)
}

func TestChunk_DefaultSize(t *testing.T) {
	text := strings.Repeat("a", 2500)
	got := Chunk(text, 0, 200)
	require.Len(t, got, 3)
	assert.Len(t, got[0], 1000)
}

func TestLoadReferences(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "job_description.txt"), []byte("Backend engineer"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "case_study.md"), []byte("# Brief"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte{0x89, 0x50}, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	refs, err := LoadReferences(dir)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "case_study.md", refs[0].Source)
	assert.Equal(t, "job_description.txt", refs[1].Source)
	assert.Equal(t, []string{"case_study.md", "job_description.txt"}, sources(refs))
}

func TestLoadReferences_Empty(t *testing.T) {
	_, err := LoadReferences(t.TempDir())
	assert.Error(t, err)
}

func TestLockKey_StablePerCollection(t *testing.T) {
	assert.Equal(t, lockKey("ground_truth"), lockKey("ground_truth"))
	assert.NotEqual(t, lockKey("ground_truth"), lockKey("other"))
}
