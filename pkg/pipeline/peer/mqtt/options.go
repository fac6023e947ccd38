package mqtt

import (
	"cmp"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// TLSOptions holds TLS configuration that can be marshaled from JSON/YAML
type TLSOptions struct {
	InsecureSkipVerify bool   `json:"insecureSkipVerify" yaml:"insecureSkipVerify"`
	ServerName         string `json:"serverName,omitempty" yaml:"serverName,omitempty"`
	CAFile             string `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	CertFile           string `json:"certFile,omitempty" yaml:"certFile,omitempty"`
	KeyFile            string `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	CACert             string `json:"caCert,omitempty" yaml:"caCert,omitempty"`
	ClientCert         string `json:"clientCert,omitempty" yaml:"clientCert,omitempty"`
	ClientKey          string `json:"clientKey,omitempty" yaml:"clientKey,omitempty"`
}

// ClientOptions are the paho client settings exposed in peer configuration.
// Durations are given in Go syntax, e.g. "30s".
type ClientOptions struct {
	TLS                  *TLSOptions `json:"tls,omitempty"`
	ClientID             string      `json:"clientID"`
	Username             string      `json:"username"`
	Password             string      `json:"password"`
	KeepAlive            int64       `json:"keepAlive,omitempty"`
	ConnectTimeout       duration    `json:"connectTimeout,omitempty"`
	MaxReconnectInterval duration    `json:"maxReconnectInterval,omitempty"`
	CleanSession         *bool       `json:"cleanSession,omitempty"`
}

// duration unmarshals a JSON string such as "5s".
type duration time.Duration

func (d *duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func createTLSConfig(tlsOpts *TLSOptions) (*tls.Config, error) {
	if tlsOpts == nil {
		return nil, nil
	}

	config := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify,
		ServerName:         tlsOpts.ServerName,
	}

	// Load CA certificate
	if tlsOpts.CAFile != "" || tlsOpts.CACert != "" {
		caCertPool := x509.NewCertPool()

		var caCert []byte
		var err error

		if tlsOpts.CAFile != "" {
			caCert, err = os.ReadFile(tlsOpts.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		} else {
			caCert = []byte(tlsOpts.CACert)
		}

		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}

		config.RootCAs = caCertPool
	}

	// Load client certificate and key
	if (tlsOpts.CertFile != "" && tlsOpts.KeyFile != "") ||
		(tlsOpts.ClientCert != "" && tlsOpts.ClientKey != "") {

		var cert tls.Certificate
		var err error

		if tlsOpts.CertFile != "" && tlsOpts.KeyFile != "" {
			cert, err = tls.LoadX509KeyPair(tlsOpts.CertFile, tlsOpts.KeyFile)
		} else {
			cert, err = tls.X509KeyPair([]byte(tlsOpts.ClientCert), []byte(tlsOpts.ClientKey))
		}

		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}

		config.Certificates = []tls.Certificate{cert}
	}

	return config, nil
}

// pahoOptions converts the configuration to paho options. Ordered delivery
// stays on so that a transaction's events reach the assembler in sequence.
func pahoOptions(servers []string, opts ClientOptions) (*mqtt.ClientOptions, error) {
	pahoOpts := mqtt.NewClientOptions()

	if len(servers) == 0 {
		servers = []string{cmp.Or(os.Getenv("TXACTION_MQTT_BROKER"), "tcp://127.0.0.1:1883")}
	}
	for _, server := range servers {
		pahoOpts.AddBroker(server)
	}

	pahoOpts.SetClientID(cmp.Or(opts.ClientID, "txaction-"+uuid.NewString()[:8]))
	pahoOpts.SetUsername(cmp.Or(opts.Username, os.Getenv("TXACTION_MQTT_USERNAME")))
	pahoOpts.SetPassword(cmp.Or(opts.Password, os.Getenv("TXACTION_MQTT_PASSWORD")))

	if opts.TLS != nil {
		tlsConfig, err := createTLSConfig(opts.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		pahoOpts.SetTLSConfig(tlsConfig)
	}
	if opts.KeepAlive > 0 {
		pahoOpts.SetKeepAlive(time.Duration(opts.KeepAlive) * time.Second)
	}
	if opts.ConnectTimeout > 0 {
		pahoOpts.SetConnectTimeout(time.Duration(opts.ConnectTimeout))
	}
	if opts.MaxReconnectInterval > 0 {
		pahoOpts.SetMaxReconnectInterval(time.Duration(opts.MaxReconnectInterval))
	}
	if opts.CleanSession != nil {
		pahoOpts.SetCleanSession(*opts.CleanSession)
	}

	pahoOpts.SetOrderMatters(true)
	pahoOpts.SetAutoReconnect(true)
	pahoOpts.SetResumeSubs(true)

	return pahoOpts, nil
}
