// Package settings loads the console configuration from defaults, a YAML
// file, SERIALCONSOLE_* environment variables and command line flags, and
// applies it to a running link and session log.
package settings

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/sessionlog"
	"github.com/allbin/serialconsole/link"
)

// EnvPrefix prefixes every environment variable read.
const EnvPrefix = "SERIALCONSOLE"

// Keys.
const (
	KeyPort                   = "port"
	KeyBaudRate               = "baud-rate"
	KeyDataBits               = "data-bits"
	KeyParity                 = "parity"
	KeyStopBits               = "stop-bits"
	KeyFlowControl            = "flow-control"
	KeyDriver                 = "driver"
	KeyReadTimeout            = "read-timeout"
	KeyReconnectAutomatically = "reconnect-automatically"
	KeyReconnectInterval      = "reconnect-interval"
	KeyEcho                   = "echo"
	KeyDisableInfoMessages    = "disable-info-messages"
	KeyLogEnable              = "log-enable"
	KeyLogPath                = "log-path"
	KeyLogBinary              = "log-binary"
	KeyLogMaxSizeMB           = "log-max-size-mb"
	KeyLogLevel               = "log-level"
)

// Driver names.
const (
	DriverSystem   = "system"
	DriverPortable = "portable"
)

// Settings is the decoded configuration.
type Settings struct {
	Port                   string             `mapstructure:"port"`
	BaudRate               int                `mapstructure:"baud-rate"`
	DataBits               int                `mapstructure:"data-bits"`
	Parity                 serial.Parity      `mapstructure:"parity"`
	StopBits               int                `mapstructure:"stop-bits"`
	FlowControl            serial.FlowControl `mapstructure:"flow-control"`
	Driver                 string             `mapstructure:"driver"`
	ReadTimeout            time.Duration      `mapstructure:"read-timeout"`
	ReconnectAutomatically bool               `mapstructure:"reconnect-automatically"`
	ReconnectInterval      time.Duration      `mapstructure:"reconnect-interval"`
	Echo                   bool               `mapstructure:"echo"`
	DisableInfoMessages    bool               `mapstructure:"disable-info-messages"`
	LogEnable              bool               `mapstructure:"log-enable"`
	LogPath                string             `mapstructure:"log-path"`
	LogBinary              bool               `mapstructure:"log-binary"`
	LogMaxSizeMB           int                `mapstructure:"log-max-size-mb"`
	LogLevel               string             `mapstructure:"log-level"`
}

// DefaultLogPath is where the session log goes when log-path is unset.
func DefaultLogPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "serialconsole.log")
}

// Defaults registers the default value of every key on v.
func Defaults(v *viper.Viper) {
	def := serial.DefaultConfig()
	policy := link.DefaultReconnectPolicy()

	v.SetDefault(KeyPort, "")
	v.SetDefault(KeyBaudRate, def.BaudRate)
	v.SetDefault(KeyDataBits, def.DataBits)
	v.SetDefault(KeyParity, def.Parity.String())
	v.SetDefault(KeyStopBits, def.StopBits)
	v.SetDefault(KeyFlowControl, def.FlowControl.String())
	v.SetDefault(KeyDriver, DriverSystem)
	v.SetDefault(KeyReadTimeout, def.ReadTimeout)
	v.SetDefault(KeyReconnectAutomatically, policy.Enabled)
	v.SetDefault(KeyReconnectInterval, policy.PollInterval)
	v.SetDefault(KeyEcho, false)
	v.SetDefault(KeyDisableInfoMessages, false)
	v.SetDefault(KeyLogEnable, false)
	v.SetDefault(KeyLogPath, DefaultLogPath())
	v.SetDefault(KeyLogBinary, false)
	v.SetDefault(KeyLogMaxSizeMB, 0)
	v.SetDefault(KeyLogLevel, "info")
}

// RegisterFlags adds the line and session flags to fs. Their zero values
// never override the config file; only flags set on the command line do.
func RegisterFlags(fs *pflag.FlagSet) {
	def := serial.DefaultConfig()
	fs.IntP(KeyBaudRate, "b", def.BaudRate, "baud rate")
	fs.Int(KeyDataBits, def.DataBits, "data bits: 5, 6, 7 or 8")
	fs.String(KeyParity, def.Parity.String(), "parity: none, even, odd, mark or space")
	fs.Int(KeyStopBits, def.StopBits, "stop bits: 1 or 2")
	fs.StringP(KeyFlowControl, "f", def.FlowControl.String(), "flow control: none, rtscts, dsrdtr or xonxoff")
	fs.String(KeyDriver, DriverSystem, "serial driver: system or portable")
	fs.Duration(KeyReadTimeout, def.ReadTimeout, "timeout of a single device read")
	fs.BoolP(KeyReconnectAutomatically, "r", false, "reopen the port when the device comes back")
	fs.Duration(KeyReconnectInterval, link.DefaultReconnectPolicy().PollInterval, "how often to look for a lost device")
}

// Init prepares v: defaults, environment and the config file. An explicit
// configFile must exist; the default location may be absent.
func Init(v *viper.Viper, configFile string) error {
	Defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		return errors.Wrap(v.ReadInConfig(), "reading config")
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(dir, "serialconsole"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "reading config")
	}
	return nil
}

var (
	parityType      = reflect.TypeOf(serial.Parity(0))
	flowControlType = reflect.TypeOf(serial.FlowControl(0))
)

// enumHook decodes parity and flow control names.
func enumHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to {
	case parityType:
		return serial.ParseParity(data.(string))
	case flowControlType:
		return serial.ParseFlowControl(data.(string))
	}
	return data, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		enumHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&s, hook); err != nil {
		return s, errors.Wrap(err, "decoding settings")
	}
	if _, err := s.PortConfig(); err != nil {
		return s, err
	}
	if s.ReconnectInterval <= 0 {
		return s, errors.Wrapf(serial.ErrInvalidParameter, "%s %v", KeyReconnectInterval, s.ReconnectInterval)
	}
	if _, err := s.SerialDriver(); err != nil {
		return s, err
	}
	return s, nil
}

// PortConfig builds the line configuration.
func (s Settings) PortConfig() (serial.PortConfig, error) {
	return serial.NewConfig(s.Port,
		serial.WithBaudRate(s.BaudRate),
		serial.WithDataBits(s.DataBits),
		serial.WithStopBits(s.StopBits),
		serial.WithParity(s.Parity),
		serial.WithFlowControl(s.FlowControl),
		serial.WithReadTimeout(s.ReadTimeout),
	)
}

// ReconnectPolicy builds the link's reconnect policy.
func (s Settings) ReconnectPolicy() link.ReconnectPolicy {
	return link.ReconnectPolicy{
		Enabled:      s.ReconnectAutomatically,
		PollInterval: s.ReconnectInterval,
	}
}

// LogConfig builds the session log configuration.
func (s Settings) LogConfig() sessionlog.Config {
	return sessionlog.Config{
		Path:      s.LogPath,
		Binary:    s.LogBinary,
		MaxSizeMB: s.LogMaxSizeMB,
	}
}

// SerialDriver returns the driver named by the driver key.
func (s Settings) SerialDriver() (serial.Driver, error) {
	switch strings.ToLower(s.Driver) {
	case "", DriverSystem:
		return serial.SystemDriver, nil
	case DriverPortable:
		return serial.PortableDriver, nil
	default:
		return nil, errors.Wrapf(serial.ErrInvalidParameter, "%s %q", KeyDriver, s.Driver)
	}
}

// Apply pushes s into l through its validating setters. Every setter runs;
// a rejected value keeps the previous one and its error is returned. An
// empty port keeps the link's current port.
func Apply(l *link.Link, s Settings) error {
	if s.Port != "" {
		l.SetPortName(s.Port)
	}
	err := multierr.Combine(
		l.SetBaudRate(s.BaudRate),
		l.SetDataBits(s.DataBits),
		l.SetStopBits(s.StopBits),
		l.SetParity(s.Parity),
		l.SetFlowControl(s.FlowControl),
		l.SetReadTimeout(s.ReadTimeout),
		l.SetReconnectInterval(s.ReconnectInterval),
	)
	l.SetReconnectEnabled(s.ReconnectAutomatically)
	return err
}

// ApplyLog pushes the log mode and path into an open session log.
func ApplyLog(log *sessionlog.Log, s Settings) error {
	return multierr.Combine(
		log.SetBinary(s.LogBinary),
		log.SetPath(s.LogPath),
	)
}

// Watch calls fn with the reloaded settings every time the config file
// changes. Decoding or validation failures are passed along with whatever
// was decoded.
func Watch(v *viper.Viper, fn func(Settings, error)) {
	v.OnConfigChange(func(fsnotify.Event) {
		fn(Load(v))
	})
	v.WatchConfig()
}
