package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/laniot/laniot-signer/pkg/logging"
)

const (
	namePrefix = "sign-"
	filePerm   = 0600
)

var (
	ErrWorkspace       = errors.New("workspace: scratch area failure")
	ErrReleased        = errors.New("workspace: already released")
	ErrInvalidFileName = errors.New("workspace: invalid file name")
)

// Manager allocates and releases per-operation scratch areas below a base
// directory. The base defaults to the operating system temp directory.
type Manager struct {
	logger  *logging.Logger
	fs      afero.Fs
	baseDir string
}

type Params struct {
	Logger  *logging.Logger
	Fs      afero.Fs
	BaseDir string
}

// Workspace is a uniquely named directory owned by exactly one signing
// operation. Files are addressed by bare names; nested paths are rejected.
type Workspace struct {
	ID  string
	Dir string

	fs       afero.Fs
	mu       sync.Mutex
	released bool
}

func NewManager(params *Params) *Manager {
	fs := params.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	baseDir := params.BaseDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	logger := params.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	return &Manager{
		logger:  logger,
		fs:      fs,
		baseDir: baseDir,
	}
}

// Creates a fresh, collision resistant scratch directory
func (m *Manager) Acquire() (*Workspace, error) {
	if err := m.fs.MkdirAll(m.baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	id := uuid.NewString()
	dir, err := afero.TempDir(m.fs, m.baseDir, fmt.Sprintf("%s%s-", namePrefix, id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	m.logger.Debug("workspace acquired", "workspace", id, "dir", dir)
	return &Workspace{
		ID:  id,
		Dir: dir,
		fs:  m.fs,
	}, nil
}

// Removes the workspace and everything in it. Releasing a nil, previously
// released or externally removed workspace is not an error.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if err := m.fs.RemoveAll(ws.Dir); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	if !ws.released {
		m.logger.Debug("workspace released", "workspace", ws.ID)
	}
	ws.released = true
	return nil
}

// Returns true if the workspace directory still exists
func (m *Manager) Exists(ws *Workspace) bool {
	ok, err := afero.DirExists(m.fs, ws.Dir)
	return err == nil && ok
}

// Returns the absolute path of a file inside the workspace
func (ws *Workspace) Path(name string) string {
	return filepath.Join(ws.Dir, name)
}

func (ws *Workspace) WriteFile(name string, data []byte) error {
	path, err := ws.resolve(name)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(ws.fs, path, data, filePerm); err != nil {
		return fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	return nil
}

func (ws *Workspace) ReadFile(name string) ([]byte, error) {
	path, err := ws.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(ws.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	return data, nil
}

// Removes a single file. Removing a missing file is not an error.
func (ws *Workspace) Remove(name string) error {
	path, err := ws.resolve(name)
	if err != nil {
		return err
	}
	if err := ws.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrWorkspace, err)
	}
	return nil
}

func (ws *Workspace) resolve(name string) (string, error) {
	ws.mu.Lock()
	released := ws.released
	ws.mu.Unlock()
	if released {
		return "", fmt.Errorf("%w: %w", ErrWorkspace, ErrReleased)
	}
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %w: %q", ErrWorkspace, ErrInvalidFileName, name)
	}
	return ws.Path(name), nil
}
