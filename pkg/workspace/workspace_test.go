package workspace

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, fs afero.Fs) *Manager {
	return NewManager(&Params{
		Fs:      fs,
		BaseDir: t.TempDir(),
	})
}

func TestAcquireRelease(t *testing.T) {

	manager := newTestManager(t, afero.NewOsFs())

	ws, err := manager.Acquire()
	require.Nil(t, err)
	assert.True(t, manager.Exists(ws))
	assert.NotEmpty(t, ws.ID)

	assert.Nil(t, ws.WriteFile("device.key", []byte("secret")))
	data, err := ws.ReadFile("device.key")
	assert.Nil(t, err)
	assert.Equal(t, []byte("secret"), data)

	assert.Nil(t, manager.Release(ws))
	assert.False(t, manager.Exists(ws))

	// Idempotent
	assert.Nil(t, manager.Release(ws))
	assert.Nil(t, manager.Release(nil))

	_, err = ws.ReadFile("device.key")
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseExternallyRemoved(t *testing.T) {

	fs := afero.NewMemMapFs()
	manager := newTestManager(t, fs)

	ws, err := manager.Acquire()
	require.Nil(t, err)
	require.Nil(t, fs.RemoveAll(ws.Dir))

	assert.Nil(t, manager.Release(ws))
}

func TestUniqueWorkspaces(t *testing.T) {

	manager := newTestManager(t, afero.NewMemMapFs())

	var mu sync.Mutex
	dirs := make(map[string]bool)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, err := manager.Acquire()
			assert.Nil(t, err)
			mu.Lock()
			assert.False(t, dirs[ws.Dir])
			dirs[ws.Dir] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, dirs, 32)
}

func TestRejectsNestedNames(t *testing.T) {

	manager := newTestManager(t, afero.NewMemMapFs())
	ws, err := manager.Acquire()
	require.Nil(t, err)
	defer manager.Release(ws)

	for _, name := range []string{"", ".", "..", "../escape", "a/b"} {
		err := ws.WriteFile(name, []byte("x"))
		assert.ErrorIs(t, err, ErrInvalidFileName, name)
	}

	assert.Nil(t, ws.Remove("missing.der"))
}
