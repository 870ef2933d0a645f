package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// LogBuild assembles a zerolog logger writing to a file, a writer, or stdout.
type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

func NewBuild() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

// WithLevel sets the minimum level by name. Unknown names keep the current
// level.
func (build *LogBuild) WithLevel(name string) *LogBuild {
	if lvl, err := zerolog.ParseLevel(strings.ToLower(name)); err == nil && name != "" {
		build.level = lvl
	}
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	var writer io.Writer = os.Stdout
	if build.writer != nil {
		writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Close releases the log file, if any.
func (data *LogData) Close() error {
	if data.LogFile == nil {
		return nil
	}
	return data.LogFile.Close()
}

// Zerolog adapts a zerolog.Logger to Logger. Args are key-value pairs.
type Zerolog struct {
	logger zerolog.Logger
}

var _ Logger = (*Zerolog)(nil)

func FromZerolog(l zerolog.Logger) *Zerolog {
	return &Zerolog{logger: l}
}

// Wrap returns the built zerolog logger as a Logger.
func (data *LogData) Wrap() *Zerolog {
	return FromZerolog(data.Logger)
}

func (z *Zerolog) Error(msg string, args ...any) {
	z.logger.Error().Fields(args).Msg(msg)
}

func (z *Zerolog) Warn(msg string, args ...any) {
	z.logger.Warn().Fields(args).Msg(msg)
}

func (z *Zerolog) Info(msg string, args ...any) {
	z.logger.Info().Fields(args).Msg(msg)
}

func (z *Zerolog) Debug(msg string, args ...any) {
	z.logger.Debug().Fields(args).Msg(msg)
}
