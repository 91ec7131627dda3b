package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadCheckConfigs(t *testing.T) {
	dir := t.TempDir()
	writeCheckConfig(t, dir, "httpcheck.yaml", `
init_config:
  default_timeout: 5
instances:
  - url: https://example.com
    tags: [env:prod]
  - url: https://example.org
    min_collection_interval: 120
`)
	writeCheckConfig(t, dir, "broken.yaml", `{{{not yaml`)
	writeCheckConfig(t, dir, "README.md", "not a config")

	configs, errs := LoadCheckConfigs(dir)
	require.Len(t, configs, 1)
	require.Len(t, errs, 1)

	cc := configs[0]
	assert.Equal(t, "httpcheck", cc.Name)
	assert.Equal(t, 5, cc.InitConfig["default_timeout"])
	require.Len(t, cc.Instances, 2)
	assert.Equal(t, "https://example.com", cc.Instances[0].String("url"))
	assert.Equal(t, []string{"env:prod"}, cc.Instances[0].Tags())
	assert.Equal(t, time.Duration(0), cc.Instances[0].MinCollectionInterval())
	assert.Equal(t, 2*time.Minute, cc.Instances[1].MinCollectionInterval())
}

func TestLoadCheckConfigRejectsEmptyInstances(t *testing.T) {
	dir := t.TempDir()
	writeCheckConfig(t, dir, "empty.yaml", `
init_config:
instances:
`)
	_, err := LoadCheckConfig(filepath.Join(dir, "empty.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no instances")
}

func TestLoadAutoConfTemplates(t *testing.T) {
	dir := t.TempDir()
	autoDir := filepath.Join(dir, AutoConfDir)
	require.NoError(t, os.Mkdir(autoDir, 0o755))
	writeCheckConfig(t, autoDir, "redis.yaml", `
init_config:
instances:
  - host: "%%host%%"
    port: "%%port%%"
`)

	templates, err := LoadAutoConfTemplates(dir)
	require.NoError(t, err)
	require.Contains(t, templates, "redis")
	assert.Equal(t, "%%host%%", templates["redis"].Instances[0].String("host"))
}

func TestLoadAutoConfTemplatesMissingDir(t *testing.T) {
	templates, err := LoadAutoConfTemplates(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, templates)
}

func TestInstanceBoolCoercions(t *testing.T) {
	inst := Instance{"a": true, "b": "yes", "c": "true", "d": 1, "e": "no", "f": false}
	assert.True(t, inst.Bool("a"))
	assert.True(t, inst.Bool("b"))
	assert.True(t, inst.Bool("c"))
	assert.True(t, inst.Bool("d"))
	assert.False(t, inst.Bool("e"))
	assert.False(t, inst.Bool("f"))
	assert.False(t, inst.Bool("missing"))
}
