package rabbitmq

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionStrategy knows how to dial the broker. The connection manager
// calls Dial through its circuit breaker.
type ConnectionStrategy interface {
	Dial(config ConnectionConfig) (Connection, error)
	Name() string
}

func amqpConfig(config ConnectionConfig, tlsConfig *tls.Config) amqp.Config {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(config.ConnectionName)

	return amqp.Config{
		Heartbeat:       config.Heartbeat,
		Locale:          "en_US",
		Properties:      props,
		TLSClientConfig: tlsConfig,
		Dial:            amqp.DefaultDial(config.DialTimeout),
	}
}

// URLStrategy dials a full amqp:// or amqps:// URL. It is the default and
// also covers hosted brokers such as CloudAMQP.
type URLStrategy struct {
	URL string
}

func NewURLStrategy(rawURL string) *URLStrategy {
	return &URLStrategy{URL: rawURL}
}

func (s *URLStrategy) Dial(config ConnectionConfig) (Connection, error) {
	if s.URL == "" {
		return nil, ErrMissingURL
	}

	var tlsConfig *tls.Config
	if u, err := url.Parse(s.URL); err == nil && u.Scheme == "amqps" {
		tlsConfig = config.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}

	conn, err := amqp.DialConfig(s.URL, amqpConfig(config, tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("url strategy: failed to connect: %w", err)
	}
	return WrapConnection(conn), nil
}

func (s *URLStrategy) Name() string { return "url" }

// TLSStrategy dials amqps with certificates loaded from disk.
type TLSStrategy struct {
	Host           string
	Port           int
	Username       string
	Password       string
	VHost          string
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
	ServerName     string
}

func NewTLSStrategy(host, username, password, vhost, caCertPath, clientCertPath, clientKeyPath string) *TLSStrategy {
	return &TLSStrategy{
		Host:           host,
		Port:           5671,
		Username:       username,
		Password:       password,
		VHost:          vhost,
		CACertPath:     caCertPath,
		ClientCertPath: clientCertPath,
		ClientKeyPath:  clientKeyPath,
	}
}

func (s *TLSStrategy) Dial(config ConnectionConfig) (Connection, error) {
	if s.Host == "" {
		return nil, fmt.Errorf("tls strategy: host is required")
	}

	tlsConfig, err := s.buildTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls strategy: %w", err)
	}

	u := url.URL{
		Scheme: "amqps",
		User:   url.UserPassword(s.Username, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   "/" + s.VHost,
	}
	conn, err := amqp.DialConfig(u.String(), amqpConfig(config, tlsConfig))
	if err != nil {
		return nil, fmt.Errorf("tls strategy: failed to connect: %w", err)
	}
	return WrapConnection(conn), nil
}

func (s *TLSStrategy) Name() string { return "tls" }

func (s *TLSStrategy) buildTLSConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: s.ServerName}

	if s.CACertPath != "" {
		pem, err := os.ReadFile(s.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrInvalidCertificate
		}
		tlsConfig.RootCAs = pool
	}

	if s.ClientCertPath != "" && s.ClientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(s.ClientCertPath, s.ClientKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// StrategyFunc adapts a plain function, which is handy in tests.
type StrategyFunc func(config ConnectionConfig) (Connection, error)

func (f StrategyFunc) Dial(config ConnectionConfig) (Connection, error) { return f(config) }

func (f StrategyFunc) Name() string { return "func" }
