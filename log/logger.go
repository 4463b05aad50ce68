package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05.000"

// SetLogger configures the process logger, called once by the command entrypoint.
func SetLogger(level string, jsonFormat, colorFormat bool) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(lvl)
	if jsonFormat {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			ForceColors:     colorFormat,
			DisableColors:   !colorFormat,
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
			DisableSorting:  true,
		})
	}
	return nil
}

// WithFields turns alternating key/value pairs into logrus fields.
func WithFields(ctx ...interface{}) *logrus.Entry {
	length := len(ctx)
	if length%2 != 0 {
		logrus.Debugf("log fields number %v is not even", length)
	}
	fields := make(logrus.Fields, length/2)
	for k := 0; k+2 <= length; k += 2 {
		key, ok := ctx[k].(string)
		if !ok {
			logrus.Debugf("log field key '%v' is not string", ctx[k])
			continue
		}
		fields[key] = ctx[k+1]
	}
	return logrus.WithFields(fields)
}

func Debug(msg string, ctx ...interface{}) {
	WithFields(ctx...).Debug(msg)
}

func Info(msg string, ctx ...interface{}) {
	WithFields(ctx...).Info(msg)
}

func Warn(msg string, ctx ...interface{}) {
	WithFields(ctx...).Warn(msg)
}

func Error(msg string, ctx ...interface{}) {
	WithFields(ctx...).Error(msg)
}

// Worker logs a component message with a "[job] subject" prefix.
func Worker(job, subject string, ctx ...interface{}) {
	Info("["+job+"] "+subject, ctx...)
}

func WorkerError(job, subject string, err error, ctx ...interface{}) {
	fields := []interface{}{"err", err}
	fields = append(fields, ctx...)
	Error("["+job+"] "+subject, fields...)
}

func WorkerWarn(job, subject string, ctx ...interface{}) {
	Warn("["+job+"] "+subject, ctx...)
}

func WorkerDebug(job, subject string, ctx ...interface{}) {
	Debug("["+job+"] "+subject, ctx...)
}
