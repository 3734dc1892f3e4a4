// Package app wires a workspace directory into a ready-to-use engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"goalline/internal/claims"
	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/events"
	"goalline/internal/migrate"
	"goalline/internal/projection"
)

const (
	eventsDirName    = "events"
	claimsFileName   = "claims.json"
	workerIDFileName = "worker-id"
)

// Workspace holds the open resources of one workspace.
type Workspace struct {
	Root   string
	Engine *engine.Engine
	Log    *events.FileLog
	Bus    *events.Bus
	close  func() error
}

// Close releases the database handle.
func (w *Workspace) Close() error {
	if w == nil || w.close == nil {
		return nil
	}
	return w.close()
}

// EventsDir returns the event log directory of a workspace.
func EventsDir(root string) string {
	return filepath.Join(db.Dir(root), eventsDirName)
}

// ClaimsPath returns the claim store file of a workspace.
func ClaimsPath(root string) string {
	return filepath.Join(db.Dir(root), claimsFileName)
}

// Open prepares the state directory, migrates the read model and wires the
// engine with the projection subscribed to the bus.
func Open(ctx context.Context, root string, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		root = "."
	}
	conn, err := db.Open(db.Config{Workspace: root})
	if err != nil {
		return nil, fmt.Errorf("open read model: %w", err)
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate read model: %w", err)
	}
	log := events.NewFileLog(EventsDir(root))
	bus := events.NewBus()
	proj := projection.New(conn, logger.Named("projection"))
	proj.Source = log
	proj.Subscribe(bus)

	eng := engine.New(log, bus, proj, claims.NewFileStore(ClaimsPath(root)), config.Reader{Workspace: root})
	eng.Log = logger.Named("engine")
	return &Workspace{
		Root:   root,
		Engine: eng,
		Log:    log,
		Bus:    bus,
		close:  conn.Close,
	}, nil
}

// ResolveWorkerID returns override when set, otherwise the worker id stored
// in the workspace, generating and persisting one on first use.
func ResolveWorkerID(root, override string) (domain.WorkerID, error) {
	if strings.TrimSpace(override) != "" {
		return domain.ParseWorkerID(override)
	}
	path := filepath.Join(db.Dir(root), workerIDFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if id, perr := domain.ParseWorkerID(string(data)); perr == nil {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", domain.StorageFailure("read worker id", err)
	}
	if _, err := db.EnsureWorkspace(root); err != nil {
		return "", domain.StorageFailure("write worker id", err)
	}
	id := domain.NewWorkerID()
	if err := os.WriteFile(path, []byte(string(id)+"\n"), 0o644); err != nil {
		return "", domain.StorageFailure("write worker id", err)
	}
	return id, nil
}
