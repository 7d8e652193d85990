package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MCPS_PORT.
const EnvPrefix = "MCPS"

// Defaults for runtime settings.
const (
	DefaultPort           = 4100
	DefaultStartTimeout   = 5 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	defaultDirName        = ".mcps"
)

// EnvFileName is an optional dotenv file kept beside mcp.json.
const EnvFileName = ".env"

// Setting keys, shared by flags, env vars and viper lookups.
const (
	KeyPort           = "port"
	KeyConfigDir      = "config-dir"
	KeyVerbose        = "verbose"
	KeyLogLevel       = "log-level"
	KeyNoDaemon       = "no-daemon"
	KeyStartTimeout   = "start-timeout"
	KeyConnectTimeout = "connect-timeout"
)

// Settings are the resolved runtime knobs of one mcps process.
type Settings struct {
	Port           int
	ConfigDir      string
	Verbose        bool
	LogLevel       string
	NoDaemon       bool
	StartTimeout   time.Duration
	ConnectTimeout time.Duration
}

// DaemonAddr is the loopback address of the control API.
func (s Settings) DaemonAddr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.Port))
}

// DaemonURL is the base URL of the control API.
func (s Settings) DaemonURL() string {
	return "http://" + s.DaemonAddr()
}

// LogPath is where a detached daemon writes its log.
func (s Settings) LogPath() string {
	return filepath.Join(s.ConfigDir, "daemon.log")
}

// DefaultConfigDir returns ~/.mcps, or .mcps in the working directory when the
// home directory cannot be resolved.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return defaultDirName
	}
	return filepath.Join(home, defaultDirName)
}

// NewViper returns a viper instance reading MCPS_* environment variables.
// Dashes in keys map to underscores, so "config-dir" reads MCPS_CONFIG_DIR.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyConfigDir, DefaultConfigDir())
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyStartTimeout, DefaultStartTimeout)
	v.SetDefault(KeyConnectTimeout, DefaultConnectTimeout)
	return v
}

// RegisterFlags declares the persistent settings flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int(KeyPort, DefaultPort, "control API port (env MCPS_PORT)")
	fs.String(KeyConfigDir, "", "directory holding mcp.json (env MCPS_CONFIG_DIR, default ~/.mcps)")
	fs.BoolP(KeyVerbose, "v", false, "log tool requests and responses (env MCPS_VERBOSE)")
	fs.String(KeyLogLevel, "info", "log level: trace, debug, info, warn, error (env MCPS_LOG_LEVEL)")
	fs.Bool(KeyNoDaemon, false, "connect directly instead of using the daemon (env MCPS_NO_DAEMON)")
	fs.Duration(KeyStartTimeout, DefaultStartTimeout, "how long to wait for a spawned daemon (env MCPS_START_TIMEOUT)")
	fs.Duration(KeyConnectTimeout, DefaultConnectTimeout, "default downstream connect timeout (env MCPS_CONNECT_TIMEOUT)")
}

// BindFlags binds each registered flag to v. Flags only win over the
// environment when set explicitly.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil {
			return
		}
		switch f.Name {
		case KeyPort, KeyConfigDir, KeyVerbose, KeyLogLevel, KeyNoDaemon, KeyStartTimeout, KeyConnectTimeout:
			bindErr = v.BindPFlag(f.Name, f)
		}
	})
	return bindErr
}

// LoadSettings resolves Settings from v and validates them.
func LoadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		Port:           v.GetInt(KeyPort),
		ConfigDir:      strings.TrimSpace(v.GetString(KeyConfigDir)),
		Verbose:        v.GetBool(KeyVerbose),
		LogLevel:       v.GetString(KeyLogLevel),
		NoDaemon:       v.GetBool(KeyNoDaemon),
		StartTimeout:   v.GetDuration(KeyStartTimeout),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
	}
	if s.ConfigDir == "" {
		s.ConfigDir = DefaultConfigDir()
	}
	if s.Port <= 0 || s.Port > 65535 {
		return Settings{}, fmt.Errorf("config: port %d out of range", s.Port)
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return Settings{}, fmt.Errorf("config: %w", err)
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = DefaultStartTimeout
	}
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = DefaultConnectTimeout
	}
	return s, nil
}

// LoadEnvFile loads dir/.env into the process environment. Variables that are
// already set win. A missing file is not an error.
func LoadEnvFile(dir string) error {
	err := godotenv.Load(filepath.Join(dir, EnvFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
