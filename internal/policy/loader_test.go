package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/authguard/go-core/pkg/types"
)

const samplePolicies = `
policies:
  - name: deny-after-hours
    resource: orders
    action: "*"
    effect: deny
    condition: hour >= 18
    priority: 100
  - name: allow-orders
    resource: orders
    action: "*"
    effect: allow
    priority: 50
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "orders.yaml", samplePolicies)

	loader := NewLoader(zap.NewNop())
	policies, err := loader.LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, policies, 2)

	assert.Equal(t, "deny-after-hours", policies[0].Name)
	assert.Equal(t, types.EffectDeny, policies[0].Effect)
	assert.Equal(t, 100, policies[0].Priority)
	assert.Equal(t, "hour >= 18", policies[0].Condition)
	assert.True(t, policies[0].Active, "active defaults to true")

	assert.Equal(t, types.EffectAllow, policies[1].Effect)
	assert.Empty(t, policies[1].Condition)
}

func TestLoader_Validation(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zap.NewNop())

	path := writeFile(t, dir, "bad-effect.yaml", `
policies:
  - name: p
    resource: orders
    action: read
    effect: maybe
`)
	_, err := loader.LoadFromFile(path)
	require.Error(t, err)

	path = writeFile(t, dir, "no-name.yaml", `
policies:
  - resource: orders
    action: read
    effect: allow
`)
	_, err = loader.LoadFromFile(path)
	require.Error(t, err)

	path = writeFile(t, dir, "bad-id.yaml", `
policies:
  - name: p
    id: not-a-uuid
    resource: orders
    action: read
    effect: allow
`)
	_, err = loader.LoadFromFile(path)
	require.Error(t, err)
}

func TestLoader_ExplicitInactive(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "inactive.yaml", `
policies:
  - name: p
    resource: orders
    action: read
    effect: allow
    active: false
`)

	loader := NewLoader(zap.NewNop())
	policies, err := loader.LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, policies, 1)
	assert.False(t, policies[0].Active)
}

func TestLoader_LoadFromDirectory_SkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.yaml", samplePolicies)
	writeFile(t, dir, "broken.yaml", "policies: [not: valid: yaml")
	writeFile(t, dir, "ignored.txt", "not a policy")

	loader := NewLoader(zap.NewNop())
	policies, err := loader.LoadFromDirectory(dir)
	require.NoError(t, err)
	assert.Len(t, policies, 2, "bad and non-yaml files are skipped")
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "initial.yaml", samplePolicies)

	done := make(chan []types.Policy, 1)
	target := replacerFunc(func(_ context.Context, policies []types.Policy) error {
		select {
		case done <- policies:
		default:
		}
		return nil
	})

	loader := NewLoader(zap.NewNop())
	w, err := NewWatcher(dir, target, loader, zap.NewNop())
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	require.NoError(t, w.Start())
	defer w.Stop()

	writeFile(t, dir, "extra.yaml", `
policies:
  - name: extra
    resource: "*"
    action: "*"
    effect: allow
`)

	select {
	case policies := <-done:
		assert.Len(t, policies, 3)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not trigger a reload")
	}
}

type replacerFunc func(ctx context.Context, policies []types.Policy) error

func (f replacerFunc) ReplacePolicies(ctx context.Context, policies []types.Policy) error {
	return f(ctx, policies)
}
