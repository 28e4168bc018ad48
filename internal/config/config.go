package config

import "time"

// Config holds all node configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	P2P      P2PConfig      `toml:"p2p"`
	Dial     DialConfig     `toml:"dial"`
	Storage  StorageConfig  `toml:"storage"`
	Behavior BehaviorConfig `toml:"behavior"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int           `toml:"port"`
	PortRange      int           `toml:"portRange"`
	Timeouts       TimeoutConfig `toml:"timeouts"`
	MaxHeaderBytes int           `toml:"maxHeaderBytes"`
}

// TimeoutConfig holds HTTP timeout settings.
type TimeoutConfig struct {
	Read       Duration `toml:"read"`
	Write      Duration `toml:"write"`
	Idle       Duration `toml:"idle"`
	ReadHeader Duration `toml:"readHeader"`
}

// P2PConfig holds overlay settings.
type P2PConfig struct {
	AnnounceTopic  string   `toml:"announceTopic"`
	Rendezvous     string   `toml:"rendezvous"` // mDNS service tag
	BootstrapPeers []string `toml:"bootstrapPeers"`
	EnableMDNS     bool     `toml:"enableMdns"`
	EnableDHT      bool     `toml:"enableDht"`
}

// DialConfig holds the dial retry policy.
type DialConfig struct {
	MaxRetries     int      `toml:"maxRetries"`
	BaseBackoff    Duration `toml:"baseBackoff"`
	MaxBackoff     Duration `toml:"maxBackoff"`
	AttemptTimeout Duration `toml:"attemptTimeout"`
	MaxConcurrent  int      `toml:"maxConcurrent"`
	SuppressWindow Duration `toml:"suppressWindow"`
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	Dir string `toml:"dir"`
}

// BehaviorConfig holds application behavior settings.
type BehaviorConfig struct {
	Verbosity int `toml:"verbosity"`
}

// Duration wraps time.Duration for TOML parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
