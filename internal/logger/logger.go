package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	log  *logrus.Logger
	once sync.Once
)

// Init initializes the logger only once
func Init() {
	once.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stdout)
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})

		level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil {
			level = logrus.InfoLevel
		}
		l.SetLevel(level)

		log = l
	})
}

// GetLogger returns the singleton logger
func GetLogger() *logrus.Logger {
	Init()
	return log
}

// SetLevel overrides the level picked up from LOG_LEVEL, e.g. from config.
func SetLevel(name string) {
	if lvl, err := logrus.ParseLevel(name); err == nil {
		GetLogger().SetLevel(lvl)
	}
}

// Component returns an entry tagged with the emitting component.
func Component(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}
