package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"processline/internal/config"
	"processline/internal/notify"
)

func TestOpenSeedsDirectoryFromDefaults(t *testing.T) {
	ws := t.TempDir()
	a, err := Open(context.Background(), ws, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	defer a.Close()

	d, err := a.Engine.Repo.GetDepartment(context.Background(), "finance")
	require.NoError(t, err)
	assert.Equal(t, []string{"Invoice"}, d.RequiredDocuments)
	u, err := a.Engine.Repo.GetUser(context.Background(), "admin")
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", u.Role)
	assert.NotNil(t, a.Metrics)
}

func TestOpenRequiresConfig(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), Options{Logger: zap.NewNop(), RequireConfig: true})
	assert.Error(t, err)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	yml := "directory:\n  departments:\n    - id: ops\n      name: Operations\n"
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(yml), 0o644))
	a, err := Open(context.Background(), ws, Options{Logger: zap.NewNop(), RequireConfig: true})
	require.NoError(t, err)
	defer a.Close()

	depts, err := a.Engine.Repo.ListDepartments(context.Background())
	require.NoError(t, err)
	require.Len(t, depts, 1)
	assert.Equal(t, "Operations", depts[0].Name)
}

func TestBuildNotifier(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Log = false
	n, closers := BuildNotifier(cfg, zap.NewNop())
	assert.IsType(t, notify.Nop{}, n)
	assert.Empty(t, closers)

	disabled := false
	cfg.Notifications.Log = true
	cfg.Notifications.Webhooks = []config.WebhookConfig{
		{URL: "http://example.invalid/hook"},
		{URL: "http://example.invalid/off", Enabled: &disabled},
	}
	cfg.Notifications.Kafka = config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "processline"}
	n, closers = BuildNotifier(cfg, zap.NewNop())
	multi, ok := n.(notify.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 3)
	assert.Len(t, closers, 1)
	for _, c := range closers {
		assert.NoError(t, c.Close())
	}
}
