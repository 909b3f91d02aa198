package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"processline/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 15*24*time.Hour, cfg.Retention())
	assert.Equal(t, []string{"ADMIN"}, cfg.Engine.PrivilegedRoles)
	assert.Equal(t, []string{"MANAGER"}, cfg.Engine.ManagerRoles)
	assert.Len(t, cfg.Directory.Departments, 3)
	assert.Equal(t, 5*time.Second, cfg.NotifyTimeout())
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("directory:\n  departments:\n    - id: d1\n"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultRetentionDays, cfg.Engine.RetentionDays)
	assert.Equal(t, config.DefaultSweepSchedule, cfg.Sweeper.Schedule)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"negative retention": "engine:\n  retention_days: -1\n",
		"duplicate dept":     "directory:\n  departments:\n    - id: a\n    - id: a\n",
		"user without role":  "directory:\n  users:\n    - id: u1\n",
		"unknown user dept":  "directory:\n  users:\n    - id: u1\n      role: USER\n      department_id: nope\n",
		"webhook no url":     "notifications:\n  webhooks:\n    - secret: x\n",
		"kafka no topic":     "notifications:\n  kafka:\n    brokers: [localhost:9092]\n",
		"bad schedule":       "sweeper:\n  schedule: \"every tuesday\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOrDefault(dir)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("engine:\n  retention_days: 3\n"), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3*24*time.Hour, cfg.Retention())
}
