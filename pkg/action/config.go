package action

import (
	"fmt"

	"github.com/edgeflare/txaction/pkg/entry"
	"github.com/mitchellh/mapstructure"
)

// Config declares an action in configuration:
//
//	actions:
//	  - name: create-community
//	    rules:
//	      communities_community: insert
//	    entry: mapping
//	    entryConfig:
//	      entity: community
//	      fields: {id: id, slug: id_user}
//	    stamp: [created, updated]
type Config struct {
	Name        string            `mapstructure:"name"`
	Rules       map[string]string `mapstructure:"rules"`
	Entry       string            `mapstructure:"entry"`
	EntryConfig map[string]any    `mapstructure:"entryConfig"`
	Stamp       []string          `mapstructure:"stamp"`
}

// DecodeConfigs decodes a raw "actions" list, as read by viper.
func DecodeConfigs(raw any) ([]Config, error) {
	var cfgs []Config
	if err := mapstructure.Decode(raw, &cfgs); err != nil {
		return nil, fmt.Errorf("error decoding action configs: %w", err)
	}
	return cfgs, nil
}

// Build resolves the config into an Action using the given entry transformers.
func (c Config) Build(entries *entry.Registry) (Action, error) {
	rules, err := ParseRules(c.Rules)
	if err != nil {
		return Action{}, fmt.Errorf("action %s: %w", c.Name, err)
	}

	transformer, err := entries.Get(c.Entry, c.EntryConfig)
	if err != nil {
		return Action{}, fmt.Errorf("action %s: %w", c.Name, err)
	}

	return Action{
		Name:  c.Name,
		Rules: rules,
		Entry: transformer,
		Stamp: c.Stamp,
	}, nil
}

// RegisterConfig builds and registers config-declared actions, in order,
// after whatever is already registered.
func (r *Registry) RegisterConfig(cfgs []Config, entries *entry.Registry) error {
	if entries == nil {
		entries = entry.NewRegistry()
	}
	for _, c := range cfgs {
		a, err := c.Build(entries)
		if err != nil {
			return err
		}
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}
