package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zde37/ringstore/pkg"
	"github.com/zde37/ringstore/pkg/hash"
)

// Config holds all configuration for a ring node
type Config struct {
	// Node identification
	NodeID string `yaml:"nodeId,omitempty"` // hex ID, derived from host:port when empty
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`

	// HTTP API
	HTTPPort int `yaml:"httpPort"`

	// Authentication
	AuthToken string `yaml:"authToken,omitempty"` // Shared secret for node authentication

	// Ring parameters
	SuccessorListSize  int           `yaml:"successorListSize"`  // Number of successors to maintain
	ReplicationWorkers int           `yaml:"replicationWorkers"` // Concurrent replication tasks
	RPCTimeout         time.Duration `yaml:"rpcTimeout"`         // Timeout for RPC calls without deadline

	// Static routing, "id=addr" or "addr"
	Predecessor string   `yaml:"predecessor,omitempty"`
	Successors  []string `yaml:"successors,omitempty"`

	// Logging
	LogLevel  string `yaml:"logLevel"`          // trace, debug, info, warn, error
	LogFormat string `yaml:"logFormat"`         // json, console
	LogFile   string `yaml:"logFile,omitempty"` // rotated log file, disabled when empty
}

// Peer is a statically configured ring member.
type Peer struct {
	ID      hash.ID
	Address string
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               8440,
		HTTPPort:           8080,
		SuccessorListSize:  3,
		ReplicationWorkers: 16,
		RPCTimeout:         5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: error parsing %s: %v", pkg.ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Address returns host:port of the gRPC endpoint.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Identity returns the node ID, either the configured one or the hash of
// the advertised address.
func (c *Config) Identity() (hash.ID, error) {
	if c.NodeID == "" {
		return hash.HashAddress(c.Host, c.Port), nil
	}
	id, err := hash.ParseID(c.NodeID)
	if err != nil {
		return hash.ID{}, fmt.Errorf("%w: node id: %v", pkg.ErrInvalidID, err)
	}
	return id, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, fmt.Errorf("host cannot be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.Port {
		errs = append(errs, fmt.Errorf("HTTP port and node port must differ"))
	}
	if c.SuccessorListSize <= 0 {
		errs = append(errs, fmt.Errorf("successor list size must be positive, got %d", c.SuccessorListSize))
	}
	if c.ReplicationWorkers <= 0 {
		errs = append(errs, fmt.Errorf("replication workers must be positive, got %d", c.ReplicationWorkers))
	}
	if c.RPCTimeout < 0 {
		errs = append(errs, fmt.Errorf("rpc timeout cannot be negative"))
	}
	if _, err := c.Identity(); err != nil {
		errs = append(errs, err)
	}
	if c.Predecessor != "" {
		if _, err := ParsePeer(c.Predecessor); err != nil {
			errs = append(errs, fmt.Errorf("predecessor: %w", err))
		}
	}
	for _, s := range c.Successors {
		if _, err := ParsePeer(s); err != nil {
			errs = append(errs, fmt.Errorf("successor: %w", err))
		}
	}
	switch c.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", pkg.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// LoggerConfig translates the logging settings for pkg.New.
func (c *Config) LoggerConfig() *pkg.Config {
	lc := pkg.DefaultConfig()
	lc.Level = c.LogLevel
	if c.LogFormat != "" {
		lc.Format = c.LogFormat
	}
	if c.LogFile != "" {
		lc.File.Enable = true
		lc.File.Path = c.LogFile
	}
	return lc
}

// StaticPeers parses the configured predecessor and successors.
func (c *Config) StaticPeers() (predecessor *Peer, successors []Peer, err error) {
	if c.Predecessor != "" {
		p, err := ParsePeer(c.Predecessor)
		if err != nil {
			return nil, nil, err
		}
		predecessor = &p
	}
	successors, err = ParsePeers(strings.Join(c.Successors, ","))
	if err != nil {
		return nil, nil, err
	}
	return predecessor, successors, nil
}

// ParsePeer parses "id=addr" or a bare "addr", whose ID is then the hash of
// the address.
func ParsePeer(s string) (Peer, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Peer{}, fmt.Errorf("peer cannot be empty")
	}

	idStr, addr, hasID := strings.Cut(s, "=")
	if !hasID {
		addr, idStr = idStr, ""
	}
	idStr, addr = strings.TrimSpace(idStr), strings.TrimSpace(addr)
	if addr == "" || (hasID && idStr == "") {
		return Peer{}, fmt.Errorf("peer ID and address cannot be empty: %s", s)
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid peer address %s: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Peer{}, fmt.Errorf("invalid peer port in %s", addr)
	}

	if !hasID {
		return Peer{ID: hash.HashAddress(host, port), Address: addr}, nil
	}
	id, err := hash.ParseID(idStr)
	if err != nil {
		return Peer{}, fmt.Errorf("%w: peer %s: %v", pkg.ErrInvalidID, s, err)
	}
	return Peer{ID: id, Address: addr}, nil
}

// ParsePeers parses a comma separated peer list (format: "id1=addr1,addr2,...").
func ParsePeers(peersStr string) ([]Peer, error) {
	if strings.TrimSpace(peersStr) == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParsePeer(part)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, nil
}
