package kfmt

// Level identifies the severity of a log line passed to Logf. Levels are
// ordered so that a higher numeric value always masks lower-severity
// output once the active threshold is raised.
type Level uint8

const (
	// LevelDebug is used for verbose, developer-only tracing.
	LevelDebug Level = iota
	// LevelLog is used for routine informational output.
	LevelLog
	// LevelWarning is used for recoverable anomalies.
	LevelWarning
	// LevelError is used for failures that abort the current operation
	// but do not threaten kernel integrity.
	LevelError
	// LevelPanic is used immediately before a call to Panic.
	LevelPanic
)

var levelPrefix = [...]string{
	LevelDebug:   "[debug] ",
	LevelLog:     "[log] ",
	LevelWarning: "[warn] ",
	LevelError:   "[error] ",
	LevelPanic:   "[panic] ",
}

// activeLevel is the minimum Level that Logf will forward to Printf. It
// defaults to LevelLog so debug tracing stays off unless SetLevel lowers
// the threshold.
var activeLevel = LevelLog

// SetLevel adjusts the minimum level forwarded by Logf.
func SetLevel(lvl Level) { activeLevel = lvl }

// Logf writes a level-tagged, formatted line to the active output sink
// (or the early ring buffer before one is attached) provided lvl is at or
// above the currently active threshold. It reuses Printf's formatter so
// early-boot output capture keeps working unchanged.
func Logf(lvl Level, format string, args ...interface{}) {
	if lvl < activeLevel {
		return
	}
	Printf(levelPrefix[lvl])
	Printf(format, args...)
}
