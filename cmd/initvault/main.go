// Command initvault prepares a vault directory: it opens the configured
// backend, which creates the directory and applies database migrations,
// then verifies the audit hash chain.
package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/Hussein-Mazeh/vaultcore/internal/audit"
	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
)

func main() {
	var configPath, dir, backend string
	pflag.StringVar(&configPath, "config", "", "config file (default $PM_CONFIG)")
	pflag.StringVar(&dir, "dir", "", "vault directory")
	pflag.StringVar(&backend, "backend", "", "storage backend: sqlite or file")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if dir != "" {
		cfg.Vault.Dir = dir
	}
	if backend != "" {
		cfg.Vault.Backend = config.Backend(backend)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	st, err := service.OpenBackend(cfg)
	if err != nil {
		log.Fatalf("open vault store: %v", err)
	}
	defer st.Close()

	events, err := st.ListAudit(context.Background(), "")
	if err != nil {
		log.Fatalf("read audit log: %v", err)
	}
	if err := audit.Verify(events); err != nil {
		st.Close()
		log.Fatalf("audit log: %v", err)
	}
	logger.Info("vault store ready", "dir", cfg.Vault.Dir, "backend", cfg.Vault.Backend, "audit_events", len(events))
}
