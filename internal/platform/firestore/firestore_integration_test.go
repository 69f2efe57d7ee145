//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	pconfig "github.com/saunamo/configurator-api/internal/platform/config"
	pfirestore "github.com/saunamo/configurator-api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

type counterDoc struct {
	Scope string `firestore:"scope"`
	Value int64  `firestore:"value"`
}

// Exercises provider, typed repository and transactions against the Firestore
// emulator running in docker. Skipped when docker is unavailable.
func TestProviderAndRepositoryAgainstEmulator(t *testing.T) {
	endpoint := startEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if client, err := provider.Client(ctx); err != nil || client == nil {
		t.Fatalf("Client() = %v, %v", client, err)
	}

	repo := pfirestore.NewBaseRepository[counterDoc](provider, "quoteCounters", nil, nil)

	if _, err := repo.Create(ctx, "2025", counterDoc{Scope: "2025", Value: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := repo.Create(ctx, "2025", counterDoc{Scope: "2025", Value: 9})
	if err == nil {
		t.Fatal("duplicate Create must conflict")
	}
	var conflictErr interface{ IsConflict() bool }
	if !errors.As(err, &conflictErr) || !conflictErr.IsConflict() {
		t.Fatalf("duplicate Create classified wrong: %v", err)
	}

	doc, err := repo.Get(ctx, "2025")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.ID != "2025" || doc.Data.Value != 1 {
		t.Fatalf("Get returned %s value %d", doc.ID, doc.Data.Value)
	}
	if doc.UpdateTime.IsZero() {
		t.Fatal("Get returned zero update time")
	}

	if _, err := repo.Update(ctx, "2025", []firestore.Update{{Path: "value", Value: 2}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if doc, err = repo.Get(ctx, "2025"); err != nil || doc.Data.Value != 2 {
		t.Fatalf("after Update: value = %d, err = %v", doc.Data.Value, err)
	}

	docs, err := repo.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Query returned %d documents, want 1", len(docs))
	}

	_, err = repo.Get(ctx, "missing")
	var notFoundErr interface{ IsNotFound() bool }
	if !errors.As(err, &notFoundErr) || !notFoundErr.IsNotFound() {
		t.Fatalf("missing Get classified wrong: %v", err)
	}

	err = provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := repo.DocumentRef(ctx, "2025")
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var counter counterDoc
		if err := snap.DataTo(&counter); err != nil {
			return err
		}
		counter.Value++
		return tx.Set(ref, counter)
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if doc, err = repo.Get(ctx, "2025"); err != nil || doc.Data.Value != 3 {
		t.Fatalf("after transaction: value = %d, err = %v", doc.Data.Value, err)
	}

	if err := repo.Delete(ctx, "2025"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "2025"); err == nil {
		t.Fatal("Get after Delete must fail")
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err = provider.RunTransaction(cancelled, func(context.Context, *firestore.Transaction) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled transaction error = %v, want context.Canceled", err)
	}
}

// startEmulator launches the Firestore emulator in docker and returns its
// host:port. The container is stopped when the test finishes.
func startEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	daemonCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(daemonCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	port := reservePort(t)
	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start emulator: %v - %s", err, out)
	}

	containerID := strings.TrimSpace(string(out))
	if containerID == "" {
		t.Fatal("docker returned empty container id")
	}
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	awaitEndpoint(t, endpoint, 30*time.Second)
	return endpoint
}

func reservePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

func awaitEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator never became ready: %v", lastErr)
}
