package main

import (
	"fmt"
	"sync"

	"github.com/rigranger/rigrangerd/pkg/config"
	"github.com/rigranger/rigrangerd/pkg/journal"
	"github.com/rigranger/rigrangerd/pkg/logging"
	"github.com/rigranger/rigrangerd/pkg/rigctl"
)

// RigRangerDaemon wires the session manager, the event journal, and the
// optional configuration watcher into one long-running process.
type RigRangerDaemon struct {
	configPath  string
	watchConfig bool

	mutex   sync.Mutex
	cfg     *config.Config
	manager *rigctl.Manager
	journal *journal.Journal
	watcher *config.Watcher
	logSub  *rigctl.Subscription
	done    chan struct{}
}

// NewRigRangerDaemon creates the daemon from configuration.
func NewRigRangerDaemon(cfg *config.Config, configPath string, watchConfig bool) (*RigRangerDaemon, error) {
	d := &RigRangerDaemon{
		configPath:  configPath,
		watchConfig: watchConfig,
		cfg:         cfg,
		done:        make(chan struct{}),
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEvents)
		if err != nil {
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		d.journal = j
	}

	return d, nil
}

// Start builds and starts a manager for the current configuration.
func (d *RigRangerDaemon) Start() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.startManagerLocked(d.cfg); err != nil {
		return err
	}

	if d.watchConfig {
		watcher, err := config.NewWatcher(d.configPath)
		if err != nil {
			return fmt.Errorf("failed to watch configuration: %w", err)
		}
		d.watcher = watcher
		go d.reloadLoop()
	}

	return nil
}

// startManagerLocked constructs, wires, and starts a manager. Callers hold
// d.mutex.
func (d *RigRangerDaemon) startManagerLocked(cfg *config.Config) error {
	manager := rigctl.NewManager(cfg.RigctlConfig())

	// Forward session events into the daemon log.
	logSub := manager.Bus().SubscribeAll(func(ev rigctl.Event) {
		switch ev.Kind {
		case rigctl.EventConnection:
			logging.Infof("session", "connection %s %s", ev.State, ev.Reason)
		case rigctl.EventDaemonOutput:
			logging.Debugf("session", "rigctld: %s", ev.Message)
		case rigctl.EventError:
			logging.Warnf("session", "%s", ev.Message)
		case rigctl.EventRadio:
			logging.Infof("session", "radio %s", ev.Op)
		}
	})

	if d.journal != nil {
		d.journal.Attach(manager)
	}

	if err := manager.Start(); err != nil {
		manager.Stop()
		return err
	}

	d.cfg = cfg
	d.manager = manager
	d.logSub = logSub
	return nil
}

// reloadLoop restarts the manager whenever the configuration file changes.
func (d *RigRangerDaemon) reloadLoop() {
	for {
		select {
		case cfg, ok := <-d.watcher.Changes():
			if !ok {
				return
			}
			d.applyConfig(cfg)
		case <-d.done:
			return
		}
	}
}

// applyConfig tears the running manager down and starts a new one with the
// reloaded configuration.
func (d *RigRangerDaemon) applyConfig(cfg *config.Config) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	select {
	case <-d.done:
		return
	default:
	}

	logging.Info("daemon", "applying reloaded configuration")
	if d.manager != nil {
		d.manager.Stop()
		d.manager = nil
	}

	if err := d.startManagerLocked(cfg); err != nil {
		logging.Errorf("daemon", "failed to restart manager after reload: %v", err)
	}
}

// Stop shuts the daemon down gracefully.
func (d *RigRangerDaemon) Stop() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	select {
	case <-d.done:
		return nil
	default:
		close(d.done)
	}

	if d.watcher != nil {
		d.watcher.Close()
	}
	if d.manager != nil {
		d.manager.Stop()
		d.manager = nil
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			logging.Warnf("daemon", "failed to close journal: %v", err)
		}
	}

	return nil
}
