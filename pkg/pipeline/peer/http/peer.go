package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/edgeflare/txaction/pkg/action"
	"github.com/edgeflare/txaction/pkg/pipeline"
	"github.com/edgeflare/txaction/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

// AuthType represents supported authentication methods
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type AuthType `json:"type"`
	// API Key settings
	APIKey     string `json:"apiKey,omitempty"`
	APIKeyName string `json:"apiKeyName,omitempty"` // Header name for API key
	// Basic auth settings
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// Bearer settings
	Token     string `json:"token,omitempty"`
	TokenFile string `json:"tokenFile,omitempty"` // Path to token file
}

// EndpointConfig represents configuration for a single endpoint
type EndpointConfig struct {
	Headers map[string]string `json:"headers,omitempty"`
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	// Actions limits the endpoint to these actions; empty means all
	Actions []string `json:"actions,omitempty"`
}

func (e EndpointConfig) accepts(name string) bool {
	return len(e.Actions) == 0 || slices.Contains(e.Actions, name)
}

// Config is the webhook peer configuration
type Config struct {
	Auth       AuthConfig       `json:"auth"`
	Timeout    string           `json:"timeout"`
	Endpoints  []EndpointConfig `json:"endpoints"`
	DeadLetter *EndpointConfig  `json:"deadLetter,omitempty"`
	Retry      RetryConfig      `json:"retry"`
}

// PeerHTTP delivers results as webhooks
type PeerHTTP struct {
	client *http.Client
	logger *zap.Logger
	cfg    Config
	auth   http.Header
}

// Connect initializes the HTTP client with the provided configuration
func (p *PeerHTTP) Connect(config json.RawMessage, _ ...any) error {
	var cfg Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return fmt.Errorf("failed to unmarshal HTTP config: %w", err)
	}

	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("no endpoints configured")
	}

	timeout := 30 * time.Second
	if cfg.Timeout != "" {
		parsedTimeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout duration: %w", err)
		}
		timeout = parsedTimeout
	}

	setDefaultConfig(&cfg)
	if _, err := cfg.Retry.backOff(); err != nil {
		return err
	}
	auth, err := authHeaders(cfg.Auth)
	if err != nil {
		return err
	}

	p.cfg = cfg
	p.auth = auth
	p.client = &http.Client{Timeout: timeout}
	p.logger = zap.L().Named(pipeline.ConnectorHTTP)

	p.logger.Info("HTTP peer initialized",
		zap.Int("num_endpoints", len(cfg.Endpoints)),
		zap.String("auth_type", string(cfg.Auth.Type)),
		zap.Duration("timeout", timeout))

	return nil
}

func setDefaultConfig(cfg *Config) {
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = 3
	}

	for i := range cfg.Endpoints {
		if cfg.Endpoints[i].Method == "" {
			cfg.Endpoints[i].Method = http.MethodPost
		}
	}
	if cfg.DeadLetter != nil && cfg.DeadLetter.Method == "" {
		cfg.DeadLetter.Method = http.MethodPost
	}

	if cfg.Auth.Type == "" {
		cfg.Auth.Type = AuthTypeNone
	}
}

// authHeaders validates the auth settings and renders them as headers.
func authHeaders(auth AuthConfig) (http.Header, error) {
	headers := make(http.Header)

	switch auth.Type {
	case AuthTypeNone:
	case AuthTypeAPIKey:
		if auth.APIKey == "" {
			return nil, fmt.Errorf("API key authentication requires an API key")
		}
		name := auth.APIKeyName
		if name == "" {
			name = "X-API-Key"
		}
		headers.Set(name, auth.APIKey)
	case AuthTypeBasic:
		if auth.Username == "" || auth.Password == "" {
			return nil, fmt.Errorf("basic authentication requires both username and password")
		}
		headers.Set("Authorization", "Basic "+basicAuth(auth.Username, auth.Password))
	case AuthTypeBearer:
		token := auth.Token
		if token == "" && auth.TokenFile != "" {
			data, err := os.ReadFile(auth.TokenFile)
			if err != nil {
				return nil, fmt.Errorf("read token file: %w", err)
			}
			token = strings.TrimSpace(string(data))
		}
		if token == "" {
			return nil, fmt.Errorf("bearer authentication requires either token or token file")
		}
		headers.Set("Authorization", "Bearer "+token)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", auth.Type)
	}
	return headers, nil
}

func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func (p *PeerHTTP) headers(endpoint EndpointConfig) http.Header {
	headers := p.auth.Clone()
	for key, value := range endpoint.Headers {
		headers.Set(key, value)
	}
	return headers
}

// Pub posts the result to every endpoint accepting its action. The
// Idempotency-Key header lets receivers drop redeliveries.
func (p *PeerHTTP) Pub(result action.Result, _ ...any) error {
	if p.client == nil {
		return errors.New("HTTP peer not connected")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var errs []error
	for _, endpoint := range p.cfg.Endpoints {
		if !endpoint.accepts(result.Action) {
			continue
		}
		headers := p.headers(endpoint)
		headers.Set("Idempotency-Key", result.TxID+"."+result.Action)
		headers.Set("X-Txaction-Action", result.Action)
		headers.Set("X-Txaction-Kind", string(result.Kind))

		if err := p.deliver(endpoint, headers, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.URL, err))
		}
	}
	return errors.Join(errs...)
}

// PubDeadLetter posts the letter to the deadLetter endpoint.
func (p *PeerHTTP) PubDeadLetter(letter pipeline.DeadLetter) error {
	if p.cfg.DeadLetter == nil {
		return pipeline.ErrDeadLetterUnsupported
	}
	if p.client == nil {
		return errors.New("HTTP peer not connected")
	}

	payload, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	headers := p.headers(*p.cfg.DeadLetter)
	headers.Set("X-Txaction-Reason", letter.Reason)
	return p.deliver(*p.cfg.DeadLetter, headers, payload)
}

func (p *PeerHTTP) deliver(endpoint EndpointConfig, headers http.Header, payload []byte) error {
	b, err := p.cfg.Retry.backOff()
	if err != nil {
		return err
	}
	if err := send(context.Background(), p.client, b, p.logger, endpoint, headers, payload); err != nil {
		p.logger.Error("failed to send webhook",
			zap.String("endpoint", endpoint.URL),
			zap.Error(err))
		return err
	}
	return nil
}

func (p *PeerHTTP) Type() pipeline.ConnectorType {
	return pipeline.ConnectorTypePub
}

func (p *PeerHTTP) Sub(_ ...any) (<-chan cdc.Event, error) {
	return nil, pipeline.ErrConnectorTypeMismatch
}

func (p *PeerHTTP) Disconnect() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	pipeline.RegisterConnector(pipeline.ConnectorHTTP, &PeerHTTP{})
}
