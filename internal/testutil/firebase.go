package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"github.com/jaevor/go-nanoid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"go.uber.org/multierr"
)

const firebaseExpireSeconds = 120

const (
	containerNameCharacters   = "abcdefghijklmnopqrstuvwxyz"
	containerNameNanoIDLength = 16
)

type FirebaseEmulator struct {
	ctx           context.Context
	firestoreHost string
	projectID     string
}

func readProjectID(firebasercPath string) (_ string, err error) {
	f, err := os.Open(firebasercPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", firebasercPath, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", firebasercPath, err)
	}
	var firebaserc struct {
		Projects struct {
			Default string `json:"default"`
		} `json:"projects"`
	}
	if err = json.Unmarshal(b, &firebaserc); err != nil {
		return "", fmt.Errorf("could not parse .firebaserc: %w", err)
	}
	return firebaserc.Projects.Default, nil
}

// TestWithFirebase builds the emulator image under docker/firebase and waits
// until the emulator hub answers.
func TestWithFirebase(pool *dockertest.Pool) (_ *FirebaseEmulator, _ Cleanup, err error) {
	pool, err = initDockertest(pool)
	if err != nil {
		return nil, nil, err
	}

	firebaseDockerPath := filepath.Join(dockerDir, "firebase")
	firebasercPath := filepath.Join(firebaseDockerPath, ".firebaserc")

	projectID, err := readProjectID(firebasercPath)
	if err != nil {
		return nil, nil, err
	}

	generateID, err := nanoid.CustomASCII(containerNameCharacters, containerNameNanoIDLength)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate container name: %w", err)
	}

	resource, err := pool.BuildAndRunWithOptions(
		filepath.Join(firebaseDockerPath, "Dockerfile"),
		&dockertest.RunOptions{
			Name: fmt.Sprintf("firechat-firebase_%s", generateID()),
			Cmd:  []string{"firebase", "emulators:start", "--only", "firestore"},
			Tty:  true,
			Mounts: []string{
				fmt.Sprintf("%s:/opt/.firebaserc", firebasercPath),
				fmt.Sprintf("%s:/opt/firebase.json", filepath.Join(firebaseDockerPath, "firebase.json")),
				fmt.Sprintf("%s:/opt/firestore.rules", filepath.Join(firebaseDockerPath, "firestore.rules")),
			},
			ExposedPorts: []string{"4400/tcp", "8000/tcp"},
		},
		func(config *docker.HostConfig) {
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not start firebase emulator: %w", err)
	}

	cleanup := func() error {
		if purgeErr := pool.Purge(resource); purgeErr != nil {
			return fmt.Errorf("could not purge firebase emulator: %w", purgeErr)
		}
		return nil
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, cleanup())
		}
	}()

	if err = resource.Expire(firebaseExpireSeconds); err != nil {
		return nil, nil, fmt.Errorf("could not set expiration time for firebase emulator: %w", err)
	}

	healthcheck, err := url.JoinPath("http://", resource.GetHostPort("4400/tcp"), "emulators")
	if err != nil {
		return nil, nil, fmt.Errorf("could not create firebase emulator healthcheck url: %w", err)
	}

	ctx := context.Background()
	err = pool.Retry(func() error {
		req, retryErr := http.NewRequestWithContext(ctx, http.MethodGet, healthcheck, http.NoBody)
		if retryErr != nil {
			return retryErr
		}
		resp, retryErr := http.DefaultClient.Do(req)
		if retryErr != nil {
			return retryErr
		}
		// Drain the body so the connection can be reused.
		_, retryErr = io.Copy(io.Discard, resp.Body)
		return multierr.Append(retryErr, resp.Body.Close())
	})
	if err != nil {
		return nil, nil, fmt.Errorf("could not connect to firebase emulator: %w", err)
	}

	emulator := &FirebaseEmulator{
		ctx:           ctx,
		firestoreHost: resource.GetHostPort("8000/tcp"),
		projectID:     projectID,
	}
	return emulator, cleanup, nil
}

// SetupFirestore returns a client bound to the emulator. Each test gets its
// own collection name so tests never see each other's documents.
func (e *FirebaseEmulator) SetupFirestore(t *testing.T) (*firestore.Client, string) {
	t.Helper()
	// The Firestore client dials the emulator whenever this is set.
	t.Setenv("FIRESTORE_EMULATOR_HOST", e.firestoreHost)

	app, err := firebase.NewApp(e.ctx, &firebase.Config{ProjectID: e.projectID})
	if err != nil {
		t.Fatalf("could not create firebase app: %v", err)
	}
	client, err := app.Firestore(e.ctx)
	if err != nil {
		t.Fatalf("could not create firestore client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("could not close firestore client: %v", err)
		}
	})

	generateID, err := nanoid.CustomASCII(containerNameCharacters, containerNameNanoIDLength)
	if err != nil {
		t.Fatalf("could not create collection name: %v", err)
	}
	return client, "Messages_" + generateID()
}
