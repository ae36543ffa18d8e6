package utils

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewLogger builds the JSON logger shared by every component.
// The returned logger is passed explicitly; nothing in the code base logs
// through a package level instance.
func NewLogger(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// NewDiscardLogger returns a logger that drops everything, handy in tests
func NewDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// GormLogger routes GORM output into logrus
type GormLogger struct {
	log           logrus.FieldLogger
	level         logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger returns a logger.Interface writing to log
func NewGormLogger(log logrus.FieldLogger, level logger.LogLevel) *GormLogger {
	return &GormLogger{log: log, level: level, slowThreshold: 200 * time.Millisecond}
}

func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Info {
		l.log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Info(msg)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Warn {
		l.log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Warn(msg)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= logger.Error {
		l.log.WithFields(logrus.Fields{"source": "gorm", "data": data}).Error(msg)
	}
}

func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := logrus.Fields{
		"source":  "gorm",
		"elapsed": elapsed.String(),
		"sql":     sql,
		"rows":    rows,
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= logger.Error:
		fields["error"] = err.Error()
		l.log.WithFields(fields).Error("SQL query error")
	case elapsed > l.slowThreshold && l.level >= logger.Warn:
		l.log.WithFields(fields).Warn("Slow SQL query")
	case l.level >= logger.Info:
		l.log.WithFields(fields).Debug("SQL query executed")
	}
}
