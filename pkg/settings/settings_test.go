package settings

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("null means unavailable", func(t *testing.T) {
		s, err := Decode(Default(), []byte("null"))
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("overlays base", func(t *testing.T) {
		s, err := Decode(Default(), []byte(`{"run":"onSave","packageManager":"yarn"}`))
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.True(t, s.Enable)
		assert.Equal(t, RunOnSave, s.Run)
		assert.Equal(t, Yarn, s.PackageManager)
		assert.Equal(t, RelativeToWorkspaceRoot, s.PathMode())
	})

	t.Run("unknown enums fall back", func(t *testing.T) {
		s, err := Decode(Default(), []byte(`{"run":"sometimes","packageManager":"pnpm","trace":"loud"}`))
		require.NoError(t, err)
		assert.Equal(t, RunOnType, s.Run)
		assert.Equal(t, NPM, s.PackageManager)
		assert.Equal(t, TraceOff, s.Trace)
	})

	t.Run("relative paths resolved against folder", func(t *testing.T) {
		folder := filepath.FromSlash("/work/site")
		raw := []byte(`{"configFile":"lint/.sass-lint.yml","nodePath":"tools","resolvePathsRelativeToConfig":true,"workspaceFolderPath":` + quote(folder) + `}`)
		s, err := Decode(Default(), raw)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(folder, "lint", ".sass-lint.yml"), s.ConfigFile)
		assert.Equal(t, filepath.Join(folder, "tools"), s.NodePath)
		assert.Equal(t, RelativeToConfig, s.PathMode())
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := Decode(Default(), []byte(`{"enable":`))
		assert.Error(t, err)
	})
}

func quote(s string) string {
	return `"` + filepath.ToSlash(s) + `"`
}

func TestTraceLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, TraceVerbose.Level())
	assert.Equal(t, slog.LevelInfo, TraceMessages.Level())
	assert.Equal(t, slog.LevelWarn, TraceOff.Level())
}

func TestInstallCommand(t *testing.T) {
	assert.Equal(t, "npm install sass-lint", NPM.InstallCommand())
	assert.Equal(t, "yarn add sass-lint", Yarn.InstallCommand())
}

func TestResolverPushModeIgnoresScope(t *testing.T) {
	global := Default()
	r := NewResolver(func(context.Context, string) (*Settings, error) {
		t.Fatal("push mode must not fetch")
		return nil, nil
	}, &global)

	s, err := r.Resolve(context.Background(), "file:///a.scss")
	require.NoError(t, err)
	assert.Same(t, &global, s)

	next := Default()
	next.Enable = false
	r.SetGlobal(&next)
	s, err = r.Resolve(context.Background(), "file:///b.scss")
	require.NoError(t, err)
	assert.False(t, s.Enable)
}

func TestResolverPushModePlacesSnapshotInFolder(t *testing.T) {
	root := t.TempDir()
	global := Default()
	global.ConfigFile = filepath.Join("lint", ".sass-lint.yml")
	global.NodePath = "tools"
	r := NewResolver(nil, &global)
	r.SetFolders(func(scopeURI string) string {
		if scopeURI == "file:///elsewhere.scss" {
			return ""
		}
		return root
	})

	s, err := r.Resolve(context.Background(), "file:///project/a.scss")
	require.NoError(t, err)
	assert.Equal(t, root, s.WorkspaceFolderPath)
	assert.Equal(t, filepath.Join(root, "lint", ".sass-lint.yml"), s.ConfigFile)
	assert.Equal(t, filepath.Join(root, "tools"), s.NodePath)
	assert.Equal(t, filepath.Join("lint", ".sass-lint.yml"), global.ConfigFile, "the snapshot is not modified")

	s, err = r.Resolve(context.Background(), "file:///elsewhere.scss")
	require.NoError(t, err)
	assert.Same(t, &global, s)

	global.WorkspaceFolderPath = "/explicit"
	s, err = r.Resolve(context.Background(), "file:///project/a.scss")
	require.NoError(t, err)
	assert.Same(t, &global, s, "a folder sent by the client wins")
}

func TestResolverPullModeFetchesEachScopeOnce(t *testing.T) {
	var calls atomic.Int32
	r := NewResolver(func(_ context.Context, scope string) (*Settings, error) {
		calls.Add(1)
		s := Default()
		s.ConfigFile = scope
		return &s, nil
	}, nil)
	r.SetPull(true)
	ctx := context.Background()

	s, err := r.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.ConfigFile)
	_, _ = r.Resolve(ctx, "a")
	assert.Equal(t, int32(1), calls.Load())

	_, _ = r.Resolve(ctx, "b")
	assert.Equal(t, int32(2), calls.Load())
	s, err = r.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", s.ConfigFile)
	assert.Equal(t, int32(2), calls.Load())

	r.Flush()
	_, _ = r.Resolve(ctx, "b")
	assert.Equal(t, int32(3), calls.Load())
}

func TestResolverCoalescesInFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	r := NewResolver(func(context.Context, string) (*Settings, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		s := Default()
		return &s, nil
	}, nil)
	r.SetPull(true)

	var wg sync.WaitGroup
	results := make([]*Settings, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = r.Resolve(context.Background(), "scope")
	}()
	<-started
	for i := 1; i < len(results); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.Resolve(context.Background(), "scope")
		}()
	}
	// Give the followers time to join the pending request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}
}

func TestResolverFailureIsNotCached(t *testing.T) {
	fail := errors.New("client went away")
	var calls atomic.Int32
	r := NewResolver(func(context.Context, string) (*Settings, error) {
		if calls.Add(1) == 1 {
			return nil, fail
		}
		s := Default()
		return &s, nil
	}, nil)
	r.SetPull(true)

	_, err := r.Resolve(context.Background(), "scope")
	require.ErrorIs(t, err, fail)

	s, err := r.Resolve(context.Background(), "scope")
	require.NoError(t, err)
	assert.NotNil(t, s)
	assert.Equal(t, int32(2), calls.Load())
}
