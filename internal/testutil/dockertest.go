package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ory/dockertest/v3"
)

type Cleanup func() error

const maxUpwardTraversal = 10

var (
	dockerDir string

	// ErrDockerUnavailable is returned when no Docker daemon answers. Callers
	// use it to skip container-backed tests.
	ErrDockerUnavailable = errors.New("docker is unavailable")
	// ErrFixtureMissing is returned when docker/ or schema.sql cannot be found
	// from the working directory. Container-backed tests skip on it too.
	ErrFixtureMissing = errors.New("test fixture is missing")
)

// NewPool connects to the local Docker daemon.
func NewPool() (*dockertest.Pool, error) {
	return initDockertest(nil)
}

func initDockertest(pool *dockertest.Pool) (*dockertest.Pool, error) {
	if pool == nil {
		var err error
		pool, err = dockertest.NewPool("")
		if err != nil {
			return nil, fmt.Errorf("%w: could not construct pool: %w", ErrDockerUnavailable, err)
		}
	}

	if err := pool.Client.Ping(); err != nil {
		return nil, fmt.Errorf("%w: could not connect to Docker: %w", ErrDockerUnavailable, err)
	}

	if err := initDockerDir(); err != nil {
		return nil, fmt.Errorf("could not initialize docker directory: %w", err)
	}

	return pool, nil
}

func initDockerDir() error {
	if dockerDir != "" {
		return nil
	}

	var err error
	dockerDir, err = fixture("docker")
	return err
}

// moduleRoot is the nearest directory above the working directory that holds
// go.mod. Fixtures are looked up relative to it.
var moduleRoot = sync.OnceValues(func() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("could not get working directory: %w", err)
	}

	for i := 0; i < maxUpwardTraversal; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%w: no go.mod above the working directory", ErrFixtureMissing)
})

// fixture returns the path of name under the module root.
func fixture(name string) (string, error) {
	root, err := moduleRoot()
	if err != nil {
		return "", err
	}

	path := filepath.Join(root, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFixtureMissing, name)
		}
		return "", fmt.Errorf("could not stat %s: %w", path, err)
	}
	return path, nil
}
