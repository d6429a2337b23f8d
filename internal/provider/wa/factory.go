// Package wa implements the provider contract on top of whatsmeow. Each
// client owns one whatsmeow session keyed by the engine session id, which
// doubles as the durable-credential key: a client minted for the same id
// reuses the previously paired device.
package wa

import (
	"context"
	"fmt"
	"os"

	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zapdeskhq/zapdesk/internal/config"
	"github.com/zapdeskhq/zapdesk/internal/provider"
)

// Factory mints whatsmeow-backed clients with credential stores under the
// configured provider directory.
type Factory struct {
	cfg *config.Config
	log *zap.Logger
}

func NewFactory(cfg *config.Config, log *zap.Logger) *Factory {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Zapdesk", [3]uint32{0, 1, 0})
	return &Factory{cfg: cfg, log: log.Named("wa")}
}

func (f *Factory) NewClient(ctx context.Context, sessionID string) (provider.Client, error) {
	dbPath := f.cfg.ProviderDBPath(sessionID)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath), nil)
	if err != nil {
		return nil, fmt.Errorf("create credential store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return newClient(sessionID, container, device, f.log.With(zap.String("session_id", sessionID))), nil
}

// DeleteCredentials removes a session's credential store files. Missing
// files are fine; a session that never authenticated has nothing on disk.
func (f *Factory) DeleteCredentials(sessionID string) error {
	base := f.cfg.ProviderDBPath(sessionID)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	}
	return nil
}
