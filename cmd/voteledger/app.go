package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"voter-ledger/anonymizer"
	"voter-ledger/audit"
	"voter-ledger/config"
	"voter-ledger/encryption"
	ledgererrors "voter-ledger/errors"
	"voter-ledger/ledger"
	"voter-ledger/logger"
	"voter-ledger/registry"
	"voter-ledger/service"
	"voter-ledger/storage"
)

// app holds the wired components for one command invocation
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	store   storage.KVStore
	auditDB *gorm.DB
	service *service.VerificationService
}

func openStore(cfg *config.Config) (storage.KVStore, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		return storage.NewMemStore(), nil
	case config.BackendLevelDB:
		return storage.NewLevelStore("ledger", cfg.DataDir)
	case config.BackendJSON:
		return storage.NewJSONStore(cfg.DataDir, "ledger.json")
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

type appOptions struct {
	session bool // attach a polling session of the configured length
	signer  bool // load or create the operator signing key
}

// newApp opens storage, the audit log and the directory and builds the service
func newApp(cfg *config.Config, logOut io.Writer, opts appOptions) (*app, error) {
	log := logger.NewWithWriter(logOut, cfg.LogLevel, cfg.LogFormat, cfg.LogSampler)

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger storage: %w", err)
	}
	a := &app{cfg: cfg, logger: log, store: store}

	l, err := ledger.New(store,
		ledger.WithHashAlgorithm(cfg.Algorithm()),
		ledger.WithLockStripes(cfg.LockStripes),
		ledger.WithLogger(log),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.auditDB, err = audit.Open(cfg.AuditDSN)
	if err != nil {
		a.Close()
		return nil, err
	}

	dir, err := registry.NewDirectory(registry.DirectoryConfig{
		FilePath:  cfg.RegistryFile,
		AutoSave:  true,
		IDPattern: registry.EPICPattern,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	snapshots, err := storage.NewSnapshotStore(filepath.Join(cfg.DataDir, "snapshots"), cfg.SnapshotKeep, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	svcCfg := service.Config{
		Ledger:     l,
		Directory:  dir,
		Audit:      audit.NewStore(a.auditDB, log),
		Metrics:    service.NewMetrics(),
		Snapshots:  snapshots,
		Anonymizer: anonymizer.New(cfg.PseudonymSalt),
		Retry: &ledgererrors.RetryConfig{
			MaxAttempts:  cfg.MaxRetries,
			InitialDelay: cfg.RetryBackoff(),
			MaxDelay:     cfg.RetryMaxDelay(),
			Multiplier:   2,
		},
		Logger: log,
	}
	if opts.session {
		svcCfg.Session = service.NewVotingSession(cfg.SessionDuration())
	}
	if opts.signer {
		key, _, err := encryption.LoadOrGenerateKey(cfg.DataDir)
		if err != nil {
			a.Close()
			return nil, err
		}
		svcCfg.Signer = encryption.NewSigner(key)
	}

	a.service, err = service.NewVerificationService(svcCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.auditDB != nil {
		if err := audit.Close(a.auditDB); err != nil {
			a.logger.Error().Err(err).Msg("failed to close audit database")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error().Err(err).Msg("failed to close ledger storage")
		}
	}
}
