package pvm

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// ErrPanicRecovered marks errors produced from a recovered panic.
var ErrPanicRecovered = apperrors.New("recovered from panic", apperrors.CategoryHandler).
	WithTextCode("PVM_PANIC_RECOVERED")

type PanicLogger func(funcName string, err any, stack []byte, fields ...map[string]any)

// RecoverInto is deferred by drivers that must survive a panicking operation,
// such as job workers. The core never recovers panics itself. When a panic
// is caught it is logged and stored into *errp as an ErrPanicRecovered clone.
//
//	defer pvm.RecoverInto(&err, "scheduler.run", logger, fields)
func RecoverInto(errp *error, funcName string, logger PanicLogger, fields map[string]any) {
	r := recover()
	if r == nil {
		return
	}
	fullStack := make([]byte, 8096)
	n := runtime.Stack(fullStack, false)
	stack := cleanStackTrace(fullStack[:n])

	if logger == nil {
		logger = DefaultPanicLogger
	}
	logger(funcName, r, stack, fields)

	if errp == nil {
		return
	}
	source, ok := r.(error)
	if !ok {
		source = fmt.Errorf("%v", r)
	}
	meta := map[string]any{"func": funcName}
	for k, v := range fields {
		meta[k] = v
	}
	*errp = CloneError(ErrPanicRecovered, fmt.Sprintf("recovered from panic in %s: %v", funcName, r), source, meta)
}

// PanicLoggerFor adapts a Logger into a PanicLogger.
func PanicLoggerFor(logger Logger) PanicLogger {
	if logger == nil {
		return DefaultPanicLogger
	}
	return func(funcName string, err any, stack []byte, fields ...map[string]any) {
		l := logger
		if len(fields) > 0 && fields[0] != nil {
			l = WithLoggerFields(l, fields[0])
		}
		l.Error("recovered from panic in %s: %v\n%s", funcName, err, stack)
	}
}

func DefaultPanicLogger(funcName string, err any, stack []byte, fields ...map[string]any) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[FATAL] recovered from panic in %s\n", funcName))
	sb.WriteString(fmt.Sprintf("Error: %v\n", err))
	sb.WriteString(fmt.Sprintf("Error Type: %T\n", err))

	if len(fields) > 0 && fields[0] != nil {
		sb.WriteString("Context:\n")

		keys := make([]string, 0, len(fields[0]))
		for k := range fields[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, fields[0][k]))
		}
	}

	sb.WriteString("Stack Trace:\n")
	sb.Write(stack)

	log.Print(sb.String())
}

func cleanStackTrace(stack []byte) []byte {
	lines := strings.Split(string(stack), "\n")

	// drop everything up to and including the panic() frame
	panicLineIndex := -1
	for i, line := range lines {
		if strings.Contains(line, "panic(") {
			panicLineIndex = i
			break
		}
	}
	if panicLineIndex >= 0 && panicLineIndex+2 < len(lines) {
		lines = lines[panicLineIndex+2:]
	}

	return []byte(strings.Join(lines, "\n"))
}
