package logging

import (
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry tracks named loggers so their levels can be set from configuration patterns.
type Registry struct {
	mu        sync.RWMutex
	loggers   map[string]Logger
	logConfig []LoggerPatternConfig
}

// NewRegistry returns an empty logger registry.
func NewRegistry() *Registry {
	return &Registry{loggers: make(map[string]Logger)}
}

// Sublogger creates a sublogger of parent and registers it under its full dotted name. If a
// logger with that name is already registered, the existing one is returned.
func (lr *Registry) Sublogger(parent Logger, subname string) Logger {
	if lr == nil {
		return parent.Sublogger(subname)
	}
	logger := parent.Sublogger(subname)
	return lr.getOrRegister(logger.Name(), logger)
}

// Register adds a logger to the registry under name.
func (lr *Registry) Register(name string, logger Logger) {
	lr.getOrRegister(name, logger)
}

// Named returns the logger registered under name.
func (lr *Registry) Named(name string) (logger Logger, ok bool) {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok = lr.loggers[name]
	return
}

// Names returns the sorted names of all registered loggers.
func (lr *Registry) Names() []string {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	names := make([]string, 0, len(lr.loggers))
	for name := range lr.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Update applies the level patterns to every registered logger. Later patterns win over earlier
// ones; loggers no pattern matches are reset to INFO.
func (lr *Registry) Update(logConfig []LoggerPatternConfig, errorLogger Logger) error {
	lr.mu.Lock()
	lr.logConfig = logConfig
	lr.mu.Unlock()

	appliedConfigs := make(map[string]Level)
	for _, lpc := range logConfig {
		if !ValidatePattern(lpc.Pattern) {
			errorLogger.Warnw("failed to validate a pattern", "pattern", lpc.Pattern)
			continue
		}

		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil {
			return err
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return err
		}

		for _, name := range lr.Names() {
			if r.MatchString(name) {
				appliedConfigs[name] = level
			}
		}
	}

	for _, name := range lr.Names() {
		level, ok := appliedConfigs[name]
		if !ok {
			level = INFO
		}
		if err := lr.updateLoggerLevel(name, level); err != nil {
			return err
		}
	}
	return nil
}

func (lr *Registry) updateLoggerLevel(name string, level Level) error {
	lr.mu.RLock()
	defer lr.mu.RUnlock()
	logger, ok := lr.loggers[name]
	if !ok {
		return errors.Errorf("logger named %s not recognized", name)
	}
	logger.SetLevel(level)
	return nil
}

// getOrRegister returns the logger already registered under name or registers logger and
// configures it from the current patterns.
func (lr *Registry) getOrRegister(name string, logger Logger) Logger {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	if existingLogger, ok := lr.loggers[name]; ok {
		return existingLogger
	}

	lr.loggers[name] = logger
	for _, lpc := range lr.logConfig {
		r, err := regexp.Compile(buildRegexFromPattern(lpc.Pattern))
		if err != nil || !r.MatchString(name) {
			continue
		}
		if level, err := LevelFromString(lpc.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	return logger
}
