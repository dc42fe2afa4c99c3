package settings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.viam.com/test"

	serial "github.com/allbin/serialconsole"
	"github.com/allbin/serialconsole/internal/sessionlog"
	"github.com/allbin/serialconsole/link"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	test.That(t, os.WriteFile(path, []byte(body), 0o644), test.ShouldBeNil)
	return path
}

func TestDefaults(t *testing.T) {
	v := viper.New()
	Defaults(v)
	s, err := Load(v)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.BaudRate, test.ShouldEqual, 115200)
	test.That(t, s.DataBits, test.ShouldEqual, 8)
	test.That(t, s.Parity, test.ShouldEqual, serial.ParityNone)
	test.That(t, s.StopBits, test.ShouldEqual, 1)
	test.That(t, s.FlowControl, test.ShouldEqual, serial.FlowControlNone)
	test.That(t, s.ReadTimeout, test.ShouldEqual, 200*time.Millisecond)
	test.That(t, s.ReconnectAutomatically, test.ShouldBeFalse)
	test.That(t, s.ReconnectInterval, test.ShouldEqual, time.Second)
	test.That(t, s.LogLevel, test.ShouldEqual, "info")
	test.That(t, s.LogPath, test.ShouldEqual, DefaultLogPath())

	_, err = s.SerialDriver()
	test.That(t, err, test.ShouldBeNil)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyUSB1
baud-rate: 9600
data-bits: 7
parity: even
stop-bits: 2
flow-control: xonxoff
driver: portable
read-timeout: 500ms
reconnect-automatically: true
reconnect-interval: 250ms
echo: true
log-enable: true
log-path: /tmp/session.log
log-binary: true
log-max-size-mb: 10
`)
	v := viper.New()
	test.That(t, Init(v, path), test.ShouldBeNil)
	s, err := Load(v)
	test.That(t, err, test.ShouldBeNil)

	config, err := s.PortConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, config, test.ShouldResemble, serial.PortConfig{
		PortName:    "/dev/ttyUSB1",
		BaudRate:    9600,
		DataBits:    7,
		StopBits:    2,
		Parity:      serial.ParityEven,
		FlowControl: serial.FlowControlSoftware,
		ReadTimeout: 500 * time.Millisecond,
	})
	test.That(t, config.LineString(), test.ShouldEqual, "9600 7E2")

	test.That(t, s.ReconnectPolicy(), test.ShouldResemble, link.ReconnectPolicy{Enabled: true, PollInterval: 250 * time.Millisecond})
	test.That(t, s.LogConfig(), test.ShouldResemble, sessionlog.Config{Path: "/tmp/session.log", Binary: true, MaxSizeMB: 10})
	test.That(t, s.Echo, test.ShouldBeTrue)
	test.That(t, s.LogEnable, test.ShouldBeTrue)

	d, err := s.SerialDriver()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldNotBeNil)
}

func TestInitMissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := Init(v, filepath.Join(t.TempDir(), "absent.yaml"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "baud-rate: 9600\nparity: odd\n")
	t.Setenv("SERIALCONSOLE_BAUD_RATE", "57600")
	t.Setenv("SERIALCONSOLE_FLOW_CONTROL", "rtscts")

	v := viper.New()
	test.That(t, Init(v, path), test.ShouldBeNil)
	s, err := Load(v)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.BaudRate, test.ShouldEqual, 57600)
	test.That(t, s.Parity, test.ShouldEqual, serial.ParityOdd)
	test.That(t, s.FlowControl, test.ShouldEqual, serial.FlowControlRTSCTS)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfig(t, "baud-rate: 9600\ndata-bits: 7\n")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	test.That(t, fs.Parse([]string{"-b", "19200", "--parity", "space"}), test.ShouldBeNil)

	v := viper.New()
	test.That(t, v.BindPFlags(fs), test.ShouldBeNil)
	test.That(t, Init(v, path), test.ShouldBeNil)
	s, err := Load(v)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, s.BaudRate, test.ShouldEqual, 19200)
	test.That(t, s.Parity, test.ShouldEqual, serial.ParitySpace)
	// Unset flags leave the file value alone.
	test.That(t, s.DataBits, test.ShouldEqual, 7)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"data bits", KeyDataBits, 9},
		{"stop bits", KeyStopBits, 3},
		{"baud rate", KeyBaudRate, 0},
		{"parity", KeyParity, "sometimes"},
		{"flow control", KeyFlowControl, "carrier pigeon"},
		{"read timeout", KeyReadTimeout, "0s"},
		{"reconnect interval", KeyReconnectInterval, "-1s"},
		{"driver", KeyDriver, "telepathy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			Defaults(v)
			v.Set(tt.key, tt.val)
			_, err := Load(v)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	v := viper.New()
	Defaults(v)
	v.Set(KeyDataBits, 9)
	_, err := Load(v)
	test.That(t, errors.Is(err, serial.ErrInvalidParameter), test.ShouldBeTrue)
}

func TestApply(t *testing.T) {
	l := link.New(serial.PortableDriver)
	defer l.Shutdown()

	s := Settings{
		Port:                   "/dev/ttyACM0",
		BaudRate:               9600,
		DataBits:               7,
		StopBits:               2,
		Parity:                 serial.ParityMark,
		FlowControl:            serial.FlowControlDSRDTR,
		ReadTimeout:            time.Second,
		ReconnectAutomatically: true,
		ReconnectInterval:      2 * time.Second,
	}
	test.That(t, Apply(l, s), test.ShouldBeNil)

	want, err := s.PortConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, l.Config(), test.ShouldResemble, want)
	test.That(t, l.ReconnectPolicy(), test.ShouldResemble, s.ReconnectPolicy())
}

func TestApplyKeepsPreviousOnInvalid(t *testing.T) {
	l := link.New(serial.PortableDriver)
	defer l.Shutdown()

	good := Settings{
		Port:              "/dev/ttyS0",
		BaudRate:          4800,
		DataBits:          8,
		StopBits:          1,
		ReadTimeout:       100 * time.Millisecond,
		ReconnectInterval: time.Second,
	}
	test.That(t, Apply(l, good), test.ShouldBeNil)

	bad := good
	bad.BaudRate = 38400
	bad.DataBits = 4
	bad.StopBits = 5
	err := Apply(l, bad)
	test.That(t, errors.Is(err, serial.ErrInvalidParameter), test.ShouldBeTrue)

	config := l.Config()
	test.That(t, config.BaudRate, test.ShouldEqual, 38400)
	test.That(t, config.DataBits, test.ShouldEqual, 8)
	test.That(t, config.StopBits, test.ShouldEqual, 1)
}

func TestApplyLog(t *testing.T) {
	dir := t.TempDir()
	log, err := sessionlog.Open(sessionlog.Config{Path: filepath.Join(dir, "a.log")})
	test.That(t, err, test.ShouldBeNil)
	defer log.Close()

	s := Settings{LogPath: filepath.Join(dir, "b.log"), LogBinary: true}
	test.That(t, ApplyLog(log, s), test.ShouldBeNil)
	test.That(t, log.Config().Path, test.ShouldEqual, s.LogPath)
	test.That(t, log.Config().Binary, test.ShouldBeTrue)
}

func TestWatchReloads(t *testing.T) {
	path := writeConfig(t, "baud-rate: 9600\n")
	v := viper.New()
	test.That(t, Init(v, path), test.ShouldBeNil)

	reloaded := make(chan Settings, 8)
	Watch(v, func(s Settings, err error) {
		if err != nil {
			return
		}
		select {
		case reloaded <- s:
		default:
		}
	})

	test.That(t, os.WriteFile(path, []byte("baud-rate: 19200\n"), 0o644), test.ShouldBeNil)

	timeout := time.After(5 * time.Second)
	for {
		select {
		case s := <-reloaded:
			if s.BaudRate == 19200 {
				return
			}
		case <-timeout:
			t.Skip("no file change notification; inotify unavailable")
		}
	}
}
