package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chainYAML = `
nodes:
  popup: {}
  background: {}
  contentScript: {}
edges:
  popup:
    background: {strategy: runtime}
  background:
    popup: {strategy: runtime}
    contentScript: {strategy: runtime}
  contentScript:
    background: {strategy: runtime}
commands:
  contentScript:
    scrape: {origins: [popup], args: object, response: object}
  background:
    flush: {origins: [popup, contentScript], args: void, response: void}
`

// run 执行根命令并返回输出
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xroute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateCmd(t *testing.T) {
	t.Run("有效配置", func(t *testing.T) {
		out, err := run(t, "validate", writeConfig(t, chainYAML))
		require.NoError(t, err)
		assert.Equal(t, "ok: 3 nodes, 4 edges, 2 commands\n", out)
	})

	t.Run("命令表引用未知节点", func(t *testing.T) {
		bad := strings.Replace(chainYAML, "origins: [popup]", "origins: [sidebar]", 1)
		_, err := run(t, "validate", writeConfig(t, bad))
		assert.Error(t, err)
	})

	t.Run("未知预设", func(t *testing.T) {
		_, err := run(t, "validate", "--preset", "turbo", writeConfig(t, chainYAML))
		assert.Error(t, err)
	})

	t.Run("缺少参数", func(t *testing.T) {
		_, err := run(t, "validate")
		assert.Error(t, err)
	})
}

func TestRoutesCmd(t *testing.T) {
	path := writeConfig(t, chainYAML)

	t.Run("全部路径", func(t *testing.T) {
		out, err := run(t, "routes", path)
		require.NoError(t, err)
		assert.Contains(t, out, "popup -> background -> contentScript")
		// 3 个节点两两之间 6 条路径加表头
		assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 7)
	})

	t.Run("指定来源", func(t *testing.T) {
		out, err := run(t, "routes", "--from", "contentScript", path)
		require.NoError(t, err)
		assert.Contains(t, out, "contentScript -> background -> popup")
		assert.NotContains(t, out, "popup -> background")
	})

	t.Run("未知来源", func(t *testing.T) {
		_, err := run(t, "routes", "--from", "sidebar", path)
		assert.Error(t, err)
	})

	t.Run("不可达", func(t *testing.T) {
		withIsland := strings.Replace(chainYAML, "nodes:\n", "nodes:\n  island: {}\n", 1)
		out, err := run(t, "routes", "--from", "popup", writeConfig(t, withIsland))
		require.NoError(t, err)
		assert.Contains(t, out, "unreachable")
	})
}

// okRows 统计结果列为 ok 的行
func okRows(out string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) > 3 && fields[3] == "ok" {
			n++
		}
	}
	return n
}

func TestSimulateCmd(t *testing.T) {
	out, err := run(t, "simulate", "--timeout", "1s", writeConfig(t, chainYAML))
	require.NoError(t, err, out)
	assert.Contains(t, out, "popup -> background -> contentScript")
	assert.NotContains(t, out, "failed")
	// 三个探测：popup->scrape, contentScript->flush, popup->flush
	assert.Equal(t, 3, okRows(out))
}

func TestSimulateCmd_EnvPreset(t *testing.T) {
	t.Setenv("XROUTE_PRESET", "strict")
	out, err := run(t, "simulate", writeConfig(t, chainYAML))
	require.NoError(t, err, out)
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "xroute "))
}
