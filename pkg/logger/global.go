package logger

import (
	"os"
	"sync"
)

var (
	globalLogger *Logger
	mu           sync.RWMutex
	once         sync.Once
)

// GetLogger returns the process-wide logger, building a JSON stdout logger
// from LOG_LEVEL / DEBUG on first use.
func GetLogger() *Logger {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if globalLogger != nil {
			return
		}
		level := "info"
		if os.Getenv("DEBUG") == "true" {
			level = "debug"
		} else if v := os.Getenv("LOG_LEVEL"); v != "" {
			level = v
		}
		globalLogger = New(Config{Level: level, Format: "json", Output: "stdout"})
	})

	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l *Logger) {
	once.Do(func() {})
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// ForComponent returns a child of the global logger tagged with component.
func ForComponent(name string) *Logger {
	return GetLogger().Component(name)
}
