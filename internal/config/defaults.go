package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      10000,
			PortRange: 100,
			Timeouts: TimeoutConfig{
				Read:       Duration{15 * time.Second},
				Write:      Duration{15 * time.Second},
				Idle:       Duration{60 * time.Second},
				ReadHeader: Duration{5 * time.Second},
			},
			MaxHeaderBytes: 1048576, // 1 MB
		},
		P2P: P2PConfig{
			AnnounceTopic:  "p2p-file-demo/files",
			Rendezvous:     "p2p-file-demo",
			BootstrapPeers: []string{},
			EnableMDNS:     true,
			EnableDHT:      true,
		},
		Dial: DialConfig{
			MaxRetries:     3,
			BaseBackoff:    Duration{1 * time.Second},
			MaxBackoff:     Duration{30 * time.Second},
			AttemptTimeout: Duration{10 * time.Second},
			MaxConcurrent:  8,
			SuppressWindow: Duration{1 * time.Minute},
		},
		Storage: StorageConfig{
			Dir: "storage",
		},
		Behavior: BehaviorConfig{
			Verbosity: 0,
		},
	}
}
