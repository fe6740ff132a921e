package logger

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Log is the global logger. It is usable before Setup with logrus defaults.
var Log = logrus.New()

// Setup initializes the global logger. Logs go to stderr so that progress
// lines and reports printed on stdout stay machine readable.
func Setup() {
	SetupWithOutput(os.Stderr)
}

// SetupWithOutput initializes the global logger writing to out.
func SetupWithOutput(out io.Writer) {
	Log.SetOutput(out)
	Log.SetLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
	Log.SetFormatter(&CustomFormatter{})
}

// ParseLevel maps a LOG_LEVEL value to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var emoji string
	var color string
	var tag string

	reset := "\033[0m"

	switch entry.Level {
	case logrus.DebugLevel:
		emoji = "🔍"
		color = "\033[36m" // Cyan
		tag = "DEBUG"
	case logrus.InfoLevel:
		emoji = "ℹ️ "
		color = "\033[32m" // Green
		tag = "INFO"
	case logrus.WarnLevel:
		emoji = "⚠️ "
		color = "\033[33m" // Yellow
		tag = "WARN"
	case logrus.ErrorLevel:
		emoji = "❌"
		color = "\033[31m" // Red
		tag = "ERROR"
	case logrus.FatalLevel:
		emoji = "💀"
		color = "\033[35m" // Magenta
		tag = "FATAL"
	case logrus.PanicLevel:
		emoji = "🚨"
		color = "\033[41m" // Red background
		tag = "PANIC"
	case logrus.TraceLevel:
		emoji = "🔎"
		color = "\033[34m" // Blue
		tag = "TRACE"
	default:
		emoji = "📝"
		color = "\033[37m" // White
		tag = "LOG"
	}

	// Format: [EMOJI] [COLOR][TAG][RESET] message [fields]
	message := entry.Message

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, formatField(k, entry.Data[k]))
		}
		message += " " + strings.Join(fields, " ")
	}

	formatted := emoji + " " + color + "[" + tag + "]" + reset + " " + message + "\n"
	return []byte(formatted), nil
}

func formatField(key string, value any) string {
	switch key {
	case "service":
		return "🎯" + toString(value)
	case "interface":
		return "🔌" + toString(value)
	case "anchor":
		return "⚓" + toString(value)
	case "port":
		return "🚪" + toString(value)
	case "action":
		return "🎬" + toString(value)
	case "command":
		return "⚙️ " + toString(value)
	case "error":
		return "💥" + toString(value)
	case "duration":
		return "⏱️ " + toString(value)
	default:
		return key + "=" + toString(value)
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.Itoa(int(val))
	case int64:
		return strconv.FormatInt(val, 10)
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func LogStartup(message string) {
	Log.WithFields(logrus.Fields{
		"component": "startup",
	}).Info("🚀 " + message)
}

func LogError(message string, err error) {
	Log.WithFields(logrus.Fields{
		"error": err.Error(),
	}).Error("❌ " + message)
}

func LogDebug(message string, fields logrus.Fields) {
	Log.WithFields(fields).Debug("🔧 " + message)
}

// LogCommand records an external command invocation and how long it took.
func LogCommand(command string, args []string, duration time.Duration, err error) {
	fields := logrus.Fields{
		"command":     command + " " + strings.Join(args, " "),
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		Log.WithFields(fields).Debug("💢 Command failed")
		return
	}
	Log.WithFields(fields).Debug("⚙️  Command completed")
}

func LogStep(action, step string) {
	Log.WithFields(logrus.Fields{
		"action": action,
	}).Info("👣 " + step)
}

// LogActionResult logs the final outcome of an action at a level that
// matches its severity.
func LogActionResult(action, outcome string, duration time.Duration, failed bool) {
	fields := logrus.Fields{
		"action":      action,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	}
	if failed {
		Log.WithFields(fields).Error("🔴 Action failed")
		return
	}
	Log.WithFields(fields).Info("✅ Action completed")
}
