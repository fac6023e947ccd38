package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const defaultConnectRetries = 3

// Manager handles connectors and peers for data pipeline operations.
type Manager struct {
	peers         map[string]Peer
	subscriptions map[string][]*Processor
	mu            sync.RWMutex
	logger        *zap.Logger
	// newBackOff returns the retry schedule for connecting a peer
	newBackOff func() backoff.BackOff
}

// NewManager returns a new Manager instance using the registered connectors.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		peers:         map[string]Peer{},
		subscriptions: map[string][]*Processor{},
		logger:        logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 5 * time.Second
			return backoff.WithMaxRetries(b, defaultConnectRetries)
		},
	}
}

// AddPeer registers a peer using the named connector.
func (m *Manager) AddPeer(connector string, name string) (*Peer, error) {
	if _, exists := LookupConnector(connector); !exists {
		return nil, fmt.Errorf("connector %s not found", connector)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.peers[name]; exists {
		return nil, fmt.Errorf("peer %s already exists", name)
	}

	peer := Peer{ConnectorName: connector, Name: name}
	m.peers[name] = peer
	return &peer, nil
}

func (m *Manager) Peers() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	return peers
}

func (m *Manager) GetPeer(name string) (*Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if peer, exists := m.peers[name]; exists {
		return &peer, nil
	}
	return nil, fmt.Errorf("peer %s not found", name)
}

// AddSubscription subscribes a pipeline processor to the transactions of a source
func (m *Manager) AddSubscription(sourceName string, p *Processor) {
	m.mu.Lock()
	m.subscriptions[sourceName] = append(m.subscriptions[sourceName], p)
	m.mu.Unlock()
}

// GetSubscriptions returns all subscriptions for a source
func (m *Manager) GetSubscriptions(sourceName string) []*Processor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriptions[sourceName]
}

// IsFirstSubscription checks if this is the first subscription for a source
func (m *Manager) IsFirstSubscription(sourceName string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions[sourceName]) == 0
}

// Init initializes all peers from configuration. Failing connections are
// retried with exponential backoff until ctx is canceled or the retries are
// exhausted.
func (m *Manager) Init(ctx context.Context, config *Config) error {
	m.logger.Info("Initializing pipeline manager", zap.Int("peerCount", len(config.Peers)))
	for _, p := range config.Peers {
		m.logger.Debug("Adding peer",
			zap.String("name", p.Name),
			zap.String("connector", p.ConnectorName))

		if _, err := m.AddPeer(p.ConnectorName, p.Name); err != nil {
			m.logger.Error("Failed to add peer",
				zap.String("name", p.Name),
				zap.String("connector", p.ConnectorName),
				zap.Error(err))
			return fmt.Errorf("failed to add peer %s: %w", p.Name, err)
		}

		// Store the config and args in the peer
		m.mu.Lock()
		m.peers[p.Name] = p
		m.mu.Unlock()

		configJSON, err := json.Marshal(p.Config)
		if err != nil {
			m.logger.Error("Failed to marshal config for peer",
				zap.String("name", p.Name),
				zap.Error(err))
			return fmt.Errorf("failed to marshal config for peer %s: %w", p.Name, err)
		}

		connector := p.Connector()
		m.logger.Debug("Connecting peer",
			zap.String("name", p.Name),
			zap.String("connector", p.ConnectorName))

		connect := func() error {
			return connector.Connect(json.RawMessage(configJSON), p.Args...)
		}
		notify := func(err error, delay time.Duration) {
			m.logger.Warn("Retrying connection",
				zap.String("name", p.Name),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
		if err := backoff.RetryNotify(connect, backoff.WithContext(m.newBackOff(), ctx), notify); err != nil {
			m.logger.Error("Failed to initialize connector after retries",
				zap.String("name", p.Name),
				zap.Error(err))
			return fmt.Errorf("failed to initialize connector %s: %w", p.Name, err)
		}

		m.logger.Info("Successfully connected peer",
			zap.String("name", p.Name),
			zap.String("connector", p.ConnectorName))
	}

	m.logger.Info("Successfully initialized all peers", zap.Int("totalPeers", len(m.peers)))
	return nil
}

// Close disconnects every peer.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, p := range m.peers {
		connector := p.Connector()
		if connector == nil {
			continue
		}
		if err := connector.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
