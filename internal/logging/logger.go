// Package logging provides the structured logger shared by every package in
// this module. It is a thin wrapper over logrus so call sites depend on a
// local type rather than the logging library directly.
package logging

import (
	"github.com/sirupsen/logrus"
)

// Logger represents a logger instance.
type Logger = *logrus.Logger

// Fields represents structured logging fields.
type Fields = logrus.Fields

// Level represents a log level.
type Level = logrus.Level

// Log levels.
const (
	DebugLevel = logrus.DebugLevel
	InfoLevel  = logrus.InfoLevel
	WarnLevel  = logrus.WarnLevel
	ErrorLevel = logrus.ErrorLevel
)

// NewLogger creates a new configured logger instance.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(InfoLevel)
	return logger
}

// NewLoggerWithService creates a logger configured like NewLogger. The
// serviceName is not attached to its entries: WithField builds a separate
// entry and only that entry's underlying logger is returned, so entries
// logged through the result carry no service field.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	return logger.WithField("service", serviceName).Logger
}
