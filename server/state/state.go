package state

import (
	"fmt"
	"io"
	"log"

	"github.com/indieinfra/mediavault/cleanup"
	"github.com/indieinfra/mediavault/config"
	"github.com/indieinfra/mediavault/lock"
	"github.com/indieinfra/mediavault/metrics"
	"github.com/indieinfra/mediavault/orphans"
	"github.com/indieinfra/mediavault/references"
	"github.com/indieinfra/mediavault/storage/objectstore"
	objectfactory "github.com/indieinfra/mediavault/storage/objectstore/factory"
	"github.com/indieinfra/mediavault/storage/records"
	recordsfactory "github.com/indieinfra/mediavault/storage/records/factory"
	"github.com/indieinfra/mediavault/storage/scan"
	scanfactory "github.com/indieinfra/mediavault/storage/scan/factory"
	"github.com/indieinfra/mediavault/upload"
)

// MediaVaultState holds the wired stores and services shared by the HTTP
// server, the scheduler and the CLI.
type MediaVaultState struct {
	Cfg          *config.Config
	Records      records.Store
	Objects      objectstore.Store
	Scanner      scan.Scanner
	Locker       lock.Locker
	Metrics      metrics.Metrics
	Orchestrator *upload.Orchestrator
	Tracker      *references.Tracker
	Detector     *orphans.Detector
	Engine       *cleanup.Engine
}

// Initialize builds every store from configuration. Whatever was opened
// before a failure is closed again.
func Initialize(cfg *config.Config) (_ *MediaVaultState, err error) {
	st := &MediaVaultState{Cfg: cfg}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	if st.Records, err = recordsfactory.Create(&cfg.Records); err != nil {
		return nil, fmt.Errorf("initialize record store: %w", err)
	}
	if st.Objects, err = objectfactory.Create(&cfg.Media); err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	if st.Scanner, err = scanfactory.Create(&cfg.Scan); err != nil {
		return nil, fmt.Errorf("initialize content scanner: %w", err)
	}
	if st.Locker, err = lock.New(&cfg.Lock); err != nil {
		return nil, fmt.Errorf("initialize lock: %w", err)
	}

	st.Metrics = metrics.New(cfg.Metrics)
	st.wire()
	return st, nil
}

// New wires services over already constructed stores.
func New(cfg *config.Config, store records.Store, objects objectstore.Store, scanner scan.Scanner, locker lock.Locker, m metrics.Metrics) *MediaVaultState {
	if m == nil {
		m = metrics.Noop{}
	}
	st := &MediaVaultState{Cfg: cfg, Records: store, Objects: objects, Scanner: scanner, Locker: locker, Metrics: m}
	st.wire()
	return st
}

func (st *MediaVaultState) wire() {
	cfg := st.Cfg
	st.Orchestrator = upload.New(cfg.Upload, st.Objects, st.Records, upload.WithMetrics(st.Metrics))
	st.Tracker = references.New(st.Records, st.Objects, st.Locker, references.WithMetrics(st.Metrics))
	st.Detector = orphans.New(st.Records, cfg.Cleanup.GracePeriod, nil)
	st.Engine = cleanup.New(st.Records, st.Objects, st.Scanner, st.Detector, cfg.Cleanup, cleanup.WithMetrics(st.Metrics))
}

// Close releases every store that holds a connection.
func (st *MediaVaultState) Close() {
	closeQuietly("content scanner", st.Scanner)
	closeQuietly("record store", st.Records)
	if c, ok := st.Locker.(io.Closer); ok {
		closeQuietly("lock", c)
	}
}

func closeQuietly(name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("failed to close %s: %v", name, err)
	}
}
