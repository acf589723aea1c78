package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	isDevelopment = false // human readable console output

	logFile *os.File = nil

	mu sync.RWMutex

	level = zerolog.InfoLevel
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// GetLogger returns a logger tagged with the given service name. The output
// follows whatever SetDevelopment, SetLogFile and SetLevel configured.
func GetLogger(serviceName string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	return zerolog.New(writer()).Level(level).With().Timestamp().Str("service", serviceName).Logger()
}

// writer must be called with mu held.
func writer() io.Writer {
	var out io.Writer = os.Stderr
	if isDevelopment {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339,
			FormatLevel: func(i any) string {
				return strings.ToUpper(fmt.Sprintf("[%5s]", i))
			},
			FormatMessage: func(i any) string {
				return fmt.Sprintf("| %s |", i)
			},
			FormatCaller: func(i any) string {
				return filepath.Base(fmt.Sprintf("%s", i))
			},
		}
	}
	if logFile != nil {
		return zerolog.MultiLevelWriter(out, logFile)
	}
	return out
}

func SetDevelopment(value bool) {
	mu.Lock()
	defer mu.Unlock()
	isDevelopment = value
}

func SetLogFile(file *os.File) {
	mu.Lock()
	defer mu.Unlock()
	logFile = file
}

// SetLevel parses a zerolog level name; an empty string keeps the current level.
func SetLevel(name string) error {
	if name == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	mu.Lock()
	defer mu.Unlock()
	level = l
	zerolog.SetGlobalLevel(l)
	return nil
}
