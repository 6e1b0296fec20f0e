package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemLanguageSelection(t *testing.T) {
	assert.NotEmpty(t, System("en"))
	assert.NotEmpty(t, System("cn"))
	assert.NotEqual(t, System("en"), System("cn"))

	assert.Equal(t, System("EN"), System("en"))
	// Anything unrecognized falls back to Chinese.
	assert.Equal(t, System("cn"), System("fr"))
	assert.Equal(t, System("cn"), System(""))
}

func TestMessages(t *testing.T) {
	en := Messages("en")
	assert.Equal(t, "Thinking", en.Thinking)
	assert.Equal(t, "Task completed", en.TaskCompleted)

	cn := Messages("cn")
	assert.Equal(t, "思考过程", cn.Thinking)
	assert.Equal(t, "执行动作", cn.Action)
	assert.Equal(t, "任务完成", cn.TaskCompleted)
}

func TestBuildPlain(t *testing.T) {
	prompt := Build("en", "", false, 3)
	assert.Equal(t, System("en"), prompt)
	assert.NotContains(t, prompt, "[Batch Action Mode]")
	assert.NotContains(t, prompt, "[Persistent Memory]")
}

func TestBuildBatchAppendix(t *testing.T) {
	prompt := Build("en", "", true, 5)
	assert.Contains(t, prompt, "[Batch Action Mode]")
	assert.Contains(t, prompt, "output up to 5 actions")

	clamped := Build("en", "", true, 0)
	assert.Contains(t, clamped, "output up to 1 actions")
}

func TestBuildMemoryText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.txt")
	require.NoError(t, os.WriteFile(path, []byte("prefers dark mode\n"), 0o644))

	prompt := Build("en", path, false, 1)
	assert.Contains(t, prompt, "[Persistent Memory]")
	assert.Contains(t, prompt, "prefers dark mode")
}

func TestBuildMemoryJSONPrettyPrinted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"home":"Beijing","vip":true}`), 0o644))

	prompt := Build("cn", path, false, 1)
	assert.Contains(t, prompt, "\"home\": \"Beijing\"")
}

func TestBuildIgnoresBrokenMemory(t *testing.T) {
	missing := Build("en", "/nonexistent/memory.txt", false, 1)
	assert.Equal(t, System("en"), missing)

	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))
	invalid := Build("en", path, false, 1)
	assert.Equal(t, System("en"), invalid)

	empty := filepath.Join(t.TempDir(), "memory.txt")
	require.NoError(t, os.WriteFile(empty, []byte("   \n"), 0o644))
	assert.Equal(t, System("en"), Build("en", empty, false, 1))
}
