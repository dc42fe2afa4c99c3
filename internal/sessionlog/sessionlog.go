// Package sessionlog records a console session to a file: bytes read from
// the device and text typed or printed locally, in arrival order.
//
// In text mode everything is decoded as UTF-8 on the way to disk and
// invalid sequences are replaced with U+FFFD. In binary mode bytes are
// written untouched.
package sessionlog

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/allbin/serialconsole/link"
)

// ErrIsDirectory is returned when the log path names a directory.
var ErrIsDirectory = errors.New("log path is a directory")

// noRotation is the lumberjack MaxSize used when rotation is off. Its
// zero value means 100 MB, not unlimited.
const noRotation = 1 << 20

// Config describes where and how to log.
type Config struct {
	Path   string
	Binary bool
	// MaxSizeMB rotates the file when it grows past this size. Zero keeps
	// appending to a single file.
	MaxSizeMB     int
	MaxBackups    int
	FlushInterval time.Duration
}

// Option configures a Log.
type Option func(*Log)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Log) {
		l.logger = logger
	}
}

// WithClock sets the clock driving periodic flushes.
func WithClock(c clock.Clock) Option {
	return func(l *Log) {
		l.clock = c
	}
}

// Log is a session log file. It is safe for concurrent use.
type Log struct {
	logger *zap.SugaredLogger
	clock  clock.Clock

	mu     sync.Mutex
	config Config
	file   *lumberjack.Logger
	buf    *bufio.Writer
	text   *transform.Writer // nil in binary mode
	active bool              // the link is not Closed
	closed bool
}

var _ link.EventSink = (*Log)(nil)

// Open validates config.Path, creating missing parent directories, and
// returns a Log appending to it.
func Open(config Config, opts ...Option) (*Log, error) {
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	l := &Log{
		logger: zap.NewNop().Sugar(),
		clock:  clock.New(),
		config: config,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := l.openLocked(); err != nil {
		return nil, err
	}
	return l, nil
}

// checkPath makes sure path can be opened for appending.
func checkPath(path string) error {
	if path == "" {
		return errors.New("empty log path")
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return errors.Wrap(ErrIsDirectory, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating log directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "opening log file")
	}
	return f.Close()
}

func (l *Log) openLocked() error {
	if err := checkPath(l.config.Path); err != nil {
		return err
	}
	maxSize := l.config.MaxSizeMB
	if maxSize <= 0 {
		maxSize = noRotation
	}
	l.file = &lumberjack.Logger{
		Filename:   l.config.Path,
		MaxSize:    maxSize,
		MaxBackups: l.config.MaxBackups,
	}
	l.buf = bufio.NewWriter(l.file)
	l.text = nil
	if !l.config.Binary {
		l.text = transform.NewWriter(l.buf, unicode.UTF8.NewDecoder())
	}
	l.logger.Debugw("session log open", "path", l.config.Path, "binary", l.config.Binary)
	return nil
}

// closeLocked finishes any partial UTF-8 sequence, flushes and closes the
// file.
func (l *Log) closeLocked() error {
	var err error
	if l.text != nil {
		err = multierr.Append(err, l.text.Close())
		l.text = nil
	}
	err = multierr.Append(err, l.buf.Flush())
	err = multierr.Append(err, l.file.Close())
	return err
}

func (l *Log) writer() io.Writer {
	if l.text != nil {
		return l.text
	}
	return l.buf
}

// WriteDevice appends bytes read from the device.
func (l *Log) WriteDevice(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	_, err := l.writer().Write(p)
	return errors.Wrap(err, "writing session log")
}

// WriteLocal appends locally produced text: echoed input and info lines.
func (l *Log) WriteLocal(s string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return os.ErrClosed
	}
	_, err := io.WriteString(l.writer(), s)
	return errors.Wrap(err, "writing session log")
}

// Flush writes buffered data to the file. An incomplete UTF-8 sequence at
// the end stays buffered until more bytes or Close arrive.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	return errors.Wrap(l.buf.Flush(), "flushing session log")
}

// Config returns the current configuration.
func (l *Log) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.config
}

// SetBinary switches between binary and text mode, reopening the file.
func (l *Log) SetBinary(binary bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.config.Binary == binary {
		return nil
	}
	err := l.closeLocked()
	l.config.Binary = binary
	return multierr.Append(err, l.openLocked())
}

// SetPath moves logging to a new file. On failure the old file stays in
// use.
func (l *Log) SetPath(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || path == l.config.Path {
		return nil
	}
	err := l.closeLocked()
	l.config.Path = path
	return multierr.Append(err, l.openLocked())
}

// Run flushes every FlushInterval while the link is not Closed, until ctx
// is done.
func (l *Log) Run(ctx context.Context) error {
	ticker := l.clock.Ticker(l.Config().FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		l.mu.Lock()
		active := l.active
		l.mu.Unlock()
		if !active {
			continue
		}
		if err := l.Flush(); err != nil {
			l.logger.Warnw("periodic flush failed", "error", err)
		}
	}
}

// Close flushes and closes the file. Later writes return os.ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeLocked()
}

// StateChanged enables periodic flushing while the link is up and flushes
// when it goes down.
func (l *Log) StateChanged(ev link.StateEvent) {
	l.mu.Lock()
	l.active = ev.State != link.Closed
	l.mu.Unlock()

	if ev.State == link.Closed {
		if err := l.Flush(); err != nil {
			l.logger.Warnw("flush on close failed", "error", err)
		}
	}
}

// DataRead logs the bytes of a read.
func (l *Log) DataRead(ev link.ReadEvent) {
	if err := l.WriteDevice(ev.Data); err != nil {
		l.logger.Warnw("session log write failed", "error", err)
	}
}

// Error is a no-op; failures are shown to the user, not logged to file.
func (l *Log) Error(link.ErrorEvent) {}
