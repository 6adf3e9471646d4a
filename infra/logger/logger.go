// Package logger keeps a logrus entry in the context so every component logs
// with the fields of the request or worker it runs for.
package logger

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger = logrus.FieldLogger

type ctxKey struct{}

var DefaultLogger Logger = logrus.StandardLogger()

// Configure sets level and output format of the standard logger.
func Configure(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetOutput(os.Stdout)

	if strings.EqualFold(format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func ToContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return DefaultLogger
	}
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return DefaultLogger
}
