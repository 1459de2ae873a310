// Package config loads a bfted peer's on-disk configuration with
// spf13/viper: a YAML file, overridable by environment variables and CLI
// flags, following the layering the teacher's ecosystem siblings
// (kocubinski-gcosmos, luxfi-vm) use viper/cobra for.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/consensus/params"
	"github.com/bfte-project/bfte/crypto"
	"github.com/bfte-project/bfte/driver"
)

// PeerConfig is one federation member's identity and network address, as
// written in the top-level peers config list.
type PeerConfig struct {
	ID      string `mapstructure:"id"`      // hex-encoded crypto.PeerId
	Address string `mapstructure:"address"` // base URL the transport client dials
}

// FileConfig is the shape of bfted's config.yaml, plus env/flag overrides
// applied on top of it by Load.
type FileConfig struct {
	ChainID          string        `mapstructure:"chain_id"`
	SigningKeyHex    string        `mapstructure:"signing_key"` // 64-byte Ed25519 private key, hex
	StoreDir         string        `mapstructure:"store_dir"`
	RoundTimeoutBase time.Duration `mapstructure:"round_timeout_base"`
	ScheduleDelay    uint32        `mapstructure:"schedule_delay"`
	ListenAddress    string        `mapstructure:"listen_address"`
	RejoinPolicy     string        `mapstructure:"rejoin_policy"` // "halt" | "trusted_snapshot"

	Peers []PeerConfig `mapstructure:"peers"`
}

// Load reads configuration from path (if non-empty), then BFTE_-prefixed
// environment variables, then flags, in increasing priority order — the
// same precedence viper documents for BindPFlags over AutomaticEnv over a
// config file.
func Load(path string, flags *pflag.FlagSet) (*FileConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("BFTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("round_timeout_base", 2*time.Second)
	v.SetDefault("schedule_delay", params.DefaultScheduleDelay)
	v.SetDefault("rejoin_policy", "halt")
	v.SetDefault("listen_address", ":26700")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &fc, nil
}

// SigningKey decodes the configured hex-encoded Ed25519 private key.
func (fc *FileConfig) SigningKey() (*crypto.SigningKey, error) {
	raw, err := hex.DecodeString(fc.SigningKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: decode signing_key: %w", err)
	}
	return crypto.NewSigningKey(raw)
}

// PeerSet builds the consensus.PeerSet from the configured federation
// membership.
func (fc *FileConfig) PeerSet() (consensus.PeerSet, error) {
	ids := make([]crypto.PeerId, 0, len(fc.Peers))
	for _, p := range fc.Peers {
		raw, err := hex.DecodeString(p.ID)
		if err != nil {
			return consensus.PeerSet{}, fmt.Errorf("config: decode peer id %q: %w", p.ID, err)
		}
		if len(raw) != crypto.PublicKeySize {
			return consensus.PeerSet{}, fmt.Errorf("config: peer id %q must be %d bytes", p.ID, crypto.PublicKeySize)
		}
		var id crypto.PeerId
		copy(id[:], raw)
		ids = append(ids, id)
	}
	return consensus.NewPeerSet(ids)
}

// Addresses builds the peer-id-to-URL map the transport client dials.
func (fc *FileConfig) Addresses() (map[crypto.PeerId]string, error) {
	out := make(map[crypto.PeerId]string, len(fc.Peers))
	for _, p := range fc.Peers {
		raw, err := hex.DecodeString(p.ID)
		if err != nil {
			return nil, fmt.Errorf("config: decode peer id %q: %w", p.ID, err)
		}
		var id crypto.PeerId
		copy(id[:], raw)
		out[id] = p.Address
	}
	return out, nil
}

// GenesisParams builds the round-0 ConsensusParams from the file config and
// a module table the caller assembles (only cmd/bfted knows which modules
// are compiled in).
func (fc *FileConfig) GenesisParams(modules map[consensus.ModuleId]params.ModuleVersion) (params.ConsensusParams, error) {
	peers, err := fc.PeerSet()
	if err != nil {
		return params.ConsensusParams{}, err
	}
	return params.New(1, peers, fc.RoundTimeoutBase, fc.ScheduleDelay, modules), nil
}

// DriverConfig builds a driver.Config from the file config.
func (fc *FileConfig) DriverConfig() (*driver.Config, error) {
	cfg := driver.DefaultConfig()
	cfg.ChainID = fc.ChainID
	cfg.RoundTimeoutBase = fc.RoundTimeoutBase
	if fc.StoreDir != "" {
		cfg.StoreDir = fc.StoreDir
	}
	switch fc.RejoinPolicy {
	case "", "halt":
		cfg.RejoinPolicy = driver.RejoinPolicyHalt
	case "trusted_snapshot":
		cfg.RejoinPolicy = driver.RejoinPolicyTrustedSnapshot
	default:
		return nil, fmt.Errorf("config: unknown rejoin_policy %q", fc.RejoinPolicy)
	}
	return cfg, nil
}
