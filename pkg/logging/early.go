package logging

import (
	"fmt"
	"os"
)

// EarlyLog writes to stderr before the configured logger exists.
type EarlyLog struct {
	prefix string
}

func NewEarlyLog(serviceName string) *EarlyLog {
	return &EarlyLog{prefix: "[" + serviceName + "] "}
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, l.prefix+"FATAL: "+msg+"\n", args...)
	os.Exit(1)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, l.prefix+"WARN: "+msg+"\n", args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, l.prefix+"INFO: "+msg+"\n", args...)
}
