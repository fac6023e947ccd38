package debug

import (
	"encoding/json"
	"fmt"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

// Config selects the zap preset used for the console output.
type Config struct {
	Development bool `json:"development"`
}

// PeerDebug is a debug peer that logs results and dead letters to the console
type PeerDebug struct {
	logger *zap.Logger
}

func (p *PeerDebug) Pub(result action.Result, _ ...any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	p.log().Info(pipeline.ConnectorDebug,
		zap.String("tx", result.TxID),
		zap.String("action", result.Action),
		zap.String("kind", string(result.Kind)),
		zap.ByteString("record", data))
	return nil
}

func (p *PeerDebug) PubDeadLetter(letter pipeline.DeadLetter) error {
	p.log().Warn(pipeline.ConnectorDebug+" dead letter",
		zap.String("pipeline", letter.Pipeline),
		zap.String("reason", letter.Reason),
		zap.String("error", letter.Error),
		zap.Stringer("transaction", letter.Transaction))
	return nil
}

func (p *PeerDebug) Connect(config json.RawMessage, _ ...any) error {
	var cfg Config
	if len(config) > 0 && string(config) != "null" {
		if err := json.Unmarshal(config, &cfg); err != nil {
			return fmt.Errorf("failed to parse debug config: %w", err)
		}
	}

	var err error
	if cfg.Development {
		p.logger, err = zap.NewDevelopment()
	} else {
		p.logger, err = zap.NewProduction()
	}
	return err
}

func (p *PeerDebug) log() *zap.Logger {
	if p.logger == nil {
		return zap.NewNop()
	}
	return p.logger
}

func (p *PeerDebug) Sub(_ ...any) (<-chan cdc.Event, error) {
	return nil, pipeline.ErrConnectorTypeMismatch
}

func (p *PeerDebug) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePub
}

func (p *PeerDebug) Disconnect() error {
	if p.logger != nil {
		_ = p.logger.Sync()
	}
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorDebug, &PeerDebug{})
}
