package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/edgeflare/txaction/pkg/pipeline/transform"
)

// Policy decides what happens to a transaction that produced no result.
type Policy string

const (
	// PolicySkip logs the transaction and moves on.
	PolicySkip Policy = "skip"
	// PolicyDeadLetter hands the transaction to the pipeline's dead letter peer.
	PolicyDeadLetter Policy = "deadletter"
	// PolicyHalt stops the pipeline with the error.
	PolicyHalt Policy = "halt"
)

// Source is a pipeline input with its transformations.
type Source struct {
	// Name must match one of configured peers
	Name string `mapstructure:"name"`
	// Source transformations are applied (in the order specified) to every transaction assembled from this source before any processing.
	Transformations []transform.Transformation `mapstructure:"transformations"`
	// IdleFlush completes a partially assembled transaction after this long without new events.
	IdleFlush time.Duration `mapstructure:"idleFlush"`
}

// Sink is a pipeline output.
type Sink struct {
	// Name must match one of configured peers
	Name string `mapstructure:"name"`
	// Actions restricts the sink to results of these actions; empty means all.
	Actions []string `mapstructure:"actions"`
}

// Pipeline configures a complete data processing pipeline.
type Pipeline struct {
	Name    string   `mapstructure:"name"`
	Sources []Source `mapstructure:"sources"`
	// Pipeline transformations are applied after source transformations and before matching.
	// These are applied to all transactions flowing through a pipeline from its all sources
	Transformations []transform.Transformation `mapstructure:"transformations"`
	Sinks           []Sink                     `mapstructure:"sinks"`
	// OnNoMatch applies to transactions no action recognizes: skip (default) or deadletter.
	OnNoMatch Policy `mapstructure:"onNoMatch"`
	// OnError applies to ambiguous matches and failed transformations: skip (default), deadletter or halt.
	OnError Policy `mapstructure:"onError"`
	// DeadLetter names the peer receiving dead letters.
	DeadLetter string `mapstructure:"deadLetter"`
}

func (pl *Pipeline) noMatchPolicy() Policy {
	if pl.OnNoMatch == "" {
		return PolicySkip
	}
	return pl.OnNoMatch
}

func (pl *Pipeline) errorPolicy() Policy {
	if pl.OnError == "" {
		return PolicySkip
	}
	return pl.OnError
}

// Validate checks the policies and that every referenced peer is configured.
func (pl *Pipeline) Validate(c *Config) error {
	if pl.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(pl.Sources) == 0 {
		return fmt.Errorf("pipeline %s: at least one source is required", pl.Name)
	}

	switch pl.noMatchPolicy() {
	case PolicySkip, PolicyDeadLetter:
	default:
		return fmt.Errorf("pipeline %s: invalid onNoMatch policy %q", pl.Name, pl.OnNoMatch)
	}
	switch pl.errorPolicy() {
	case PolicySkip, PolicyDeadLetter, PolicyHalt:
	default:
		return fmt.Errorf("pipeline %s: invalid onError policy %q", pl.Name, pl.OnError)
	}

	needsDeadLetter := pl.noMatchPolicy() == PolicyDeadLetter || pl.errorPolicy() == PolicyDeadLetter
	if needsDeadLetter && pl.DeadLetter == "" {
		return fmt.Errorf("pipeline %s: deadletter policy requires a deadLetter peer", pl.Name)
	}

	names := make([]string, 0, len(pl.Sources)+len(pl.Sinks)+1)
	for _, s := range pl.Sources {
		names = append(names, s.Name)
	}
	for _, s := range pl.Sinks {
		names = append(names, s.Name)
	}
	if pl.DeadLetter != "" {
		names = append(names, pl.DeadLetter)
	}
	for _, name := range names {
		if c.GetPeer(name) == nil {
			return fmt.Errorf("pipeline %s: peer %s not found", pl.Name, name)
		}
	}
	return nil
}

type Config struct {
	Peers     []Peer     `mapstructure:"peers"`
	Pipelines []Pipeline `mapstructure:"pipelines"`
}

func (c *Config) GetPeer(peerName string) *Peer {
	for _, peer := range c.Peers {
		if peer.Name == peerName {
			return &peer
		}
	}
	return nil
}

func (c *Config) GetPipeline(pipelineName string) *Pipeline {
	for _, pipeline := range c.Pipelines {
		if pipeline.Name == pipelineName {
			return &pipeline
		}
	}
	return nil
}

// Validate checks peer names are unique and every pipeline is valid.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Peers))
	for _, p := range c.Peers {
		if p.Name == "" {
			return errors.New("peer name is required")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate peer %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	for i := range c.Pipelines {
		if err := c.Pipelines[i].Validate(c); err != nil {
			return err
		}
	}
	return nil
}
