package logger

import (
	"fmt"
	"log"
	"os"
	"regexp"
)

type DefaultLogger struct {
	Logger
	prefix string
}

var Default = &DefaultLogger{}

// Named returns a logger that tags every line with a component prefix, e.g.
// "[segcache] evicted 4 segments". Pipeline components take a Logger built
// this way so log lines from concurrent goroutines stay attributable.
func Named(component string) Logger {
	return &DefaultLogger{prefix: component}
}

func (d *DefaultLogger) tag(format string) string {
	if d.prefix == "" {
		return format
	}
	return fmt.Sprintf("[%s] %s", d.prefix, format)
}

func cleanString(text string) string {
	urlRegex := `[a-zA-Z][a-zA-Z0-9+.-]*:\/\/[a-zA-Z0-9+%/.\-:_?&=#@+]+`
	re := regexp.MustCompile(urlRegex)

	safeString := re.ReplaceAllString(text, "[redacted url]")
	return safeString
}

func safeLog(format string) string {
	safeLogs := os.Getenv("SAFE_LOGS") == "true"
	safeString := format
	if safeLogs {
		return cleanString(safeString)
	}
	return safeString
}

func safeLogf(format string, v ...any) string {
	safeLogs := os.Getenv("SAFE_LOGS") == "true"
	safeString := fmt.Sprintf(format, v...)
	if safeLogs {
		return cleanString(safeString)
	}
	return safeString
}

func (d *DefaultLogger) Log(format string) {
	log.Println(safeLogf("[INFO] %s", d.tag(format)))
}

func (d *DefaultLogger) Logf(format string, v ...any) {
	logString := fmt.Sprintf(format, v...)

	log.Println(safeLogf("[INFO] %s", d.tag(logString)))
}

func (d *DefaultLogger) Debug(format string) {
	debug := os.Getenv("DEBUG") == "true"

	if debug {
		log.Println(safeLogf("[DEBUG] %s", d.tag(format)))
	}
}

func (d *DefaultLogger) Debugf(format string, v ...any) {
	debug := os.Getenv("DEBUG") == "true"
	logString := fmt.Sprintf(format, v...)

	if debug {
		log.Println(safeLogf("[DEBUG] %s", d.tag(logString)))
	}
}

func (d *DefaultLogger) Error(format string) {
	log.Println(safeLogf("[ERROR] %s", d.tag(format)))
}

func (d *DefaultLogger) Errorf(format string, v ...any) {
	logString := fmt.Sprintf(format, v...)

	log.Println(safeLogf("[ERROR] %s", d.tag(logString)))
}

func (d *DefaultLogger) Warn(format string) {
	log.Println(safeLogf("[WARN] %s", d.tag(format)))
}

func (d *DefaultLogger) Warnf(format string, v ...any) {
	logString := fmt.Sprintf(format, v...)

	log.Println(safeLogf("[WARN] %s", d.tag(logString)))
}

func (d *DefaultLogger) Fatal(format string) {
	log.Fatal(safeLogf("[FATAL] %s", d.tag(format)))
}

func (d *DefaultLogger) Fatalf(format string, v ...any) {
	logString := fmt.Sprintf(format, v...)

	log.Fatal(safeLogf("[FATAL] %s", d.tag(logString)))
}
