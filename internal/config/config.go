package config

import "time"

// fallbackICEServers is used when the configured list is absent or malformed.
var fallbackICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// ICEServers are STUN/TURN URLs handed to clients for path discovery.
	ICEServers []string `mapstructure:"ice_servers" yaml:"ice_servers"`

	// PublishRateLimit caps publish calls per stream per minute. Zero disables.
	PublishRateLimit int `mapstructure:"publish_rate_limit" yaml:"publish_rate_limit"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "realtime.db",
		LogLevel:          "info",
		JWTSecret:         "dev-secret-change-me",
		JWTIssuer:         "teamline",
		JWTAudience:       "teamline-realtime",
		ICEServers:        fallbackICEServers,
		PublishRateLimit:  0,
	}
}

// NormalizeICEServers replaces an empty or malformed ICE server list with the
// hard-coded fallback pair. A list is malformed when no entry carries a
// stun: or turn: scheme.
func (c *Config) NormalizeICEServers() {
	valid := c.ICEServers[:0]
	for _, u := range c.ICEServers {
		if hasICEScheme(u) {
			valid = append(valid, u)
		}
	}
	if len(valid) == 0 {
		c.ICEServers = append([]string(nil), fallbackICEServers...)
		return
	}
	c.ICEServers = valid
}

func hasICEScheme(u string) bool {
	for _, prefix := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if len(u) > len(prefix) && u[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
