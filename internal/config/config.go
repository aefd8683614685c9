// Package config loads the session Config struct (spec §6) following the
// teacher's defaults -> file -> env precedence chain.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SignalingMode selects the signaling provider (spec §4.E/§4.F).
type SignalingMode string

const (
	ModeSimple   SignalingMode = "SIMPLE"
	ModeStateful SignalingMode = "STATEFUL"
	ModePubsub   SignalingMode = "PUBSUB"
)

// Config holds every option from spec §6's Configuration struct.
type Config struct {
	BindPort int
	PeerID   string

	SignalingMode SignalingMode
	ServerHost    string
	ServerPort    int

	StunServer string
	StunPort   int
	TurnServer string
	TurnPort   int
	TurnUser   string
	TurnPass   string

	AuthKey string

	EnableTCP bool

	Threaded         bool
	UpdateIntervalMS int

	DisableLANShortcut bool
}

// Load reads configuration from a simple key=value file (if path != "") and
// then environment variables, env taking precedence, matching
// internal/config/config.go's loadFromFile/loadFromEnv precedence.
func Load(path string) (*Config, error) {
	cfg := &Config{
		BindPort:         0,
		SignalingMode:    ModeStateful,
		ServerPort:       8888,
		StunPort:         3478,
		TurnPort:         3478,
		EnableTCP:        false,
		Threaded:         false,
		UpdateIntervalMS: 10,
	}

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading file: %w", err)
			}
		}
	}
	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if len(cfg.PeerID) == 0 {
		return fmt.Errorf("config: peer_id must be set")
	}
	if len(cfg.PeerID) > 32 {
		return fmt.Errorf("config: peer_id exceeds 32 bytes")
	}
	switch cfg.SignalingMode {
	case ModeSimple, ModeStateful, ModePubsub:
	default:
		return fmt.Errorf("config: invalid signaling_mode %q", cfg.SignalingMode)
	}
	return nil
}

func (cfg *Config) loadFromFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "bind_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.BindPort = v
			}
		case "peer_id":
			cfg.PeerID = value
		case "signaling_mode":
			cfg.SignalingMode = SignalingMode(strings.ToUpper(value))
		case "server_host":
			cfg.ServerHost = value
		case "server_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.ServerPort = v
			}
		case "stun_server":
			cfg.StunServer = value
		case "stun_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.StunPort = v
			}
		case "turn_server":
			cfg.TurnServer = value
		case "turn_port":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.TurnPort = v
			}
		case "turn_user":
			cfg.TurnUser = value
		case "turn_pass":
			cfg.TurnPass = value
		case "auth_key":
			cfg.AuthKey = value
		case "enable_tcp":
			cfg.EnableTCP = value == "true" || value == "1" || value == "yes"
		case "threaded":
			cfg.Threaded = value == "true" || value == "1" || value == "yes"
		case "update_interval_ms":
			if v, err := strconv.Atoi(value); err == nil {
				cfg.UpdateIntervalMS = v
			}
		case "disable_lan_shortcut":
			cfg.DisableLANShortcut = value == "true" || value == "1" || value == "yes"
		}
	}
	return scanner.Err()
}

func (cfg *Config) loadFromEnv() {
	if v := os.Getenv("P2P_BIND_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BindPort = n
		}
	}
	if v := os.Getenv("P2P_PEER_ID"); v != "" {
		cfg.PeerID = v
	}
	if v := os.Getenv("P2P_SIGNALING_MODE"); v != "" {
		cfg.SignalingMode = SignalingMode(strings.ToUpper(v))
	}
	if v := os.Getenv("P2P_SERVER_HOST"); v != "" {
		cfg.ServerHost = v
	}
	if v := os.Getenv("P2P_SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ServerPort = n
		}
	}
	if v := os.Getenv("P2P_STUN_SERVER"); v != "" {
		cfg.StunServer = v
	}
	if v := os.Getenv("P2P_TURN_SERVER"); v != "" {
		cfg.TurnServer = v
	}
	if v := os.Getenv("P2P_TURN_USER"); v != "" {
		cfg.TurnUser = v
	}
	if v := os.Getenv("P2P_TURN_PASS"); v != "" {
		cfg.TurnPass = v
	}
	if v := os.Getenv("P2P_AUTH_KEY"); v != "" {
		cfg.AuthKey = v
	}
}
