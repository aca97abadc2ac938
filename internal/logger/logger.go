package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/logs"

	"strategykit/internal/errors"
)

const timeLayout = "2006-01-02 15:04:05.000"

const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Options configures a Logger.
type Options struct {
	// Dir is the root log directory; files go to Dir/Name.
	Dir  string
	Name string
	// RetentionDays bounds how long rotated files are kept. Zero keeps them.
	RetentionDays int
	// Console echoes every entry to the console logger.
	Console bool
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Logger writes info, warning and error entries to their own daily rotated
// files, one level per file.
type Logger struct {
	zl      zerolog.Logger
	sinks   []io.Closer
	console bool
}

// New creates the log directory and opens the three level files.
func New(opts Options) (*Logger, error) {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	dir := filepath.Join(opts.Dir, opts.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create log dir "+dir)
	}

	l := &Logger{console: opts.Console}
	writers := make([]io.Writer, 0, 3)
	for _, sink := range []struct {
		level zerolog.Level
		file  string
	}{
		{zerolog.InfoLevel, InfoFile},
		{zerolog.WarnLevel, WarningFile},
		{zerolog.ErrorLevel, ErrorFile},
	} {
		f, err := openDaily(filepath.Join(dir, sink.file), opts.RetentionDays, clock)
		if err != nil {
			_ = l.Close()
			return nil, errors.Wrap(err, "open log file "+sink.file)
		}
		l.sinks = append(l.sinks, f)
		writers = append(writers, levelSink{level: sink.level, w: lineWriter(f)})
	}

	l.zl = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Hook(timestampHook{clock: clock}).
		With().
		Int("pid", os.Getpid()).
		CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + 2).
		Logger()
	return l, nil
}

// Discard returns a Logger that writes nowhere.
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) Info(msg string) {
	l.write(zerolog.InfoLevel, msg)
}

func (l *Logger) Infof(format string, args ...any) {
	l.write(zerolog.InfoLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(msg string) {
	l.write(zerolog.WarnLevel, msg)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.write(zerolog.WarnLevel, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(msg string) {
	l.write(zerolog.ErrorLevel, msg)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.write(zerolog.ErrorLevel, fmt.Sprintf(format, args...))
}

// Exception logs err with the current goroutine stack at error level.
func (l *Logger) Exception(err error) {
	if err == nil {
		return
	}
	l.write(zerolog.ErrorLevel, err.Error()+"\n"+string(debug.Stack()))
}

// ErrorPro logs err prefixed with "[tag] " and the goroutine stack. An err
// already carrying tag is not tagged twice.
func (l *Logger) ErrorPro(tag string, err error) {
	if err == nil {
		return
	}
	if t, ok := errors.TagOf(err); !ok || t != tag {
		err = errors.Tag(tag, err)
	}
	l.write(zerolog.ErrorLevel, err.Error()+"\n"+string(debug.Stack()))
}

// Close closes the level files.
func (l *Logger) Close() error {
	var first error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.sinks = nil
	return first
}

func (l *Logger) write(level zerolog.Level, msg string) {
	l.zl.WithLevel(level).Msg(msg)

	if !l.console {
		return
	}
	switch level {
	case zerolog.ErrorLevel:
		logs.Errorf("%s", msg)
	case zerolog.WarnLevel:
		logs.Infof("[WARNING] %s", msg)
	default:
		logs.Info(msg)
	}
}

// levelSink forwards entries of exactly one level.
type levelSink struct {
	level zerolog.Level
	w     io.Writer
}

func (s levelSink) Write(p []byte) (int, error) {
	return len(p), nil
}

func (s levelSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != s.level {
		return len(p), nil
	}
	return s.w.Write(p)
}

type timestampHook struct {
	clock func() time.Time
}

func (h timestampHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Str(zerolog.TimestampFieldName, h.clock().Format(timeLayout))
}

var levelNames = map[string]string{
	zerolog.LevelInfoValue:  "INFO",
	zerolog.LevelWarnValue:  "WARNING",
	zerolog.LevelErrorValue: "ERROR",
}

// lineWriter renders entries as "[time] [pid] [level] [file:line] message".
func lineWriter(out io.Writer) zerolog.ConsoleWriter {
	bracket := func(i any) string {
		return "[" + fmt.Sprint(i) + "]"
	}
	return zerolog.ConsoleWriter{
		Out:     out,
		NoColor: true,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			"pid",
			zerolog.LevelFieldName,
			zerolog.CallerFieldName,
			zerolog.MessageFieldName,
		},
		FieldsExclude:   []string{"pid"},
		FormatTimestamp: bracket,
		FormatLevel: func(i any) string {
			s := fmt.Sprint(i)
			if name, ok := levelNames[s]; ok {
				return "[" + name + "]"
			}
			return "[" + strings.ToUpper(s) + "]"
		},
		FormatCaller: func(i any) string {
			s, ok := i.(string)
			if !ok || s == "" {
				return "[-]"
			}
			return "[" + filepath.Base(s) + "]"
		},
		FormatPartValueByName: func(i any, _ string) string {
			return bracket(i)
		},
		FormatMessage: func(i any) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
}
