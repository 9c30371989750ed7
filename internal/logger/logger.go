package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var once sync.Once

// Init configures the global zerolog logger. With an empty file path the
// output is a console writer on stdout, otherwise a size-rotated log file.
func Init(appName, level, file string) {
	once.Do(func() {
		zerolog.SetGlobalLevel(parseLevel(level))

		var out io.Writer = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "02-01-2006 15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-6s", i))
			},
		}
		if file != "" {
			if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
				log.Warn().Err(err).Msg("cannot create log directory, logging to stdout")
			} else {
				out = &lumberjack.Logger{
					Filename:   file,
					MaxSize:    10, // MB
					MaxBackups: 3,
					MaxAge:     7,
					Compress:   true,
				}
			}
		}

		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			return filepath.Base(file) + ":" + strconv.Itoa(line)
		}
		log.Logger = zerolog.New(out).With().Timestamp().Caller().Str("app", appName).Logger()
		log.Info().Msgf("logger initialized (level %s)", zerolog.GlobalLevel())
	})
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "DISABLED":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
