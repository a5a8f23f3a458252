package cachestore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const namePrefix = "edgecache-"

// Names holds the three versioned partition names of one gateway version.
type Names struct {
	Static    string
	Dynamic   string
	Ephemeral string
}

func PartitionNames(version string) Names {
	return Names{
		Static:    namePrefix + "static-" + version,
		Dynamic:   namePrefix + "dynamic-" + version,
		Ephemeral: namePrefix + "ai-" + version,
	}
}

func (n Names) contains(name string) bool {
	return name == n.Static || name == n.Dynamic || name == n.Ephemeral
}

var nopLogger = zap.NewNop()

// Manager owns the lifecycle of the three live partitions: it opens them on
// startup and drops every partition left behind by a previous version.
type Manager struct {
	store   Store
	version string
	names   Names
	logger  *zap.Logger

	static    Partition
	dynamic   Partition
	ephemeral Partition
}

func NewManager(store Store, version string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = nopLogger
	}
	m := &Manager{
		store:   store,
		version: version,
		names:   PartitionNames(version),
		logger:  logger,
	}

	var err error
	if m.static, err = store.OpenPartition(m.names.Static); err != nil {
		return nil, fmt.Errorf("open static partition: %w", err)
	}
	if m.dynamic, err = store.OpenPartition(m.names.Dynamic); err != nil {
		return nil, fmt.Errorf("open dynamic partition: %w", err)
	}
	if m.ephemeral, err = store.OpenPartition(m.names.Ephemeral); err != nil {
		return nil, fmt.Errorf("open ephemeral partition: %w", err)
	}
	return m, nil
}

func (m *Manager) Version() string      { return m.version }
func (m *Manager) Names() Names         { return m.names }
func (m *Manager) Static() Partition    { return m.static }
func (m *Manager) Dynamic() Partition   { return m.dynamic }
func (m *Manager) Ephemeral() Partition { return m.ephemeral }

// PurgeStale drops every partition whose name does not belong to the
// current version. Partitions of the current version are left untouched.
func (m *Manager) PurgeStale(ctx context.Context) error {
	names, err := m.store.Partitions(ctx)
	if err != nil {
		return fmt.Errorf("list partitions: %w", err)
	}

	for _, name := range names {
		if m.names.contains(name) {
			continue
		}
		if err := m.store.DropPartition(ctx, name); err != nil {
			return fmt.Errorf("drop partition %s: %w", name, err)
		}
		m.logger.Info("dropped stale partition", zap.String("name", name))
	}
	return nil
}
