package logging

import (
	"strings"
	"testing"

	"go.viam.com/test"
)

func verifySetLevels(registry *Registry, expectedMatches map[string]string) bool {
	for name, level := range expectedMatches {
		logger, ok := registry.Named(name)
		if !ok || !strings.EqualFold(level, logger.GetLevel().String()) {
			return false
		}
	}
	return true
}

func createTestRegistry(loggerNames []string) *Registry {
	registry := NewRegistry()
	for _, name := range loggerNames {
		registry.Register(name, NewBlankLogger(name))
	}
	return registry
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pattern string
		isValid bool
	}{
		{"opcore.engine", true},
		{"opcore.engine.*", true},
		{"opcore.*.macros", true},
		{"*.macros", true},
		{"*", true},

		{"opcore..engine", false},
		{"opcore.engine.", false},
		{".opcore.engine", false},
		{"opcore.engine.**", false},
		{"_.opcore.engine", false},
		{"opcore.-", false},
	}

	for _, tc := range tests {
		t.Run(tc.pattern, func(t *testing.T) {
			t.Parallel()
			test.That(t, ValidatePattern(tc.pattern), test.ShouldEqual, tc.isValid)
		})
	}
}

func TestUpdateLoggerRegistry(t *testing.T) {
	tests := []struct {
		loggerConfig    []LoggerPatternConfig
		loggerNames     []string
		expectedMatches map[string]string
	}{
		{
			loggerConfig: []LoggerPatternConfig{{Pattern: "opcore.engine", Level: "WARN"}},
			loggerNames:  []string{"opcore.engine", "opcore.engine.macros", "opcore.loop"},
			expectedMatches: map[string]string{
				"opcore.engine":        "WARN",
				"opcore.engine.macros": "INFO",
				"opcore.loop":          "INFO",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{{Pattern: "opcore.*", Level: "DEBUG"}},
			loggerNames:  []string{"opcore.engine", "opcore.engine.macros"},
			expectedMatches: map[string]string{
				"opcore.engine":        "DEBUG",
				"opcore.engine.macros": "DEBUG",
			},
		},
		{
			loggerConfig: []LoggerPatternConfig{
				{Pattern: "opcore.*", Level: "DEBUG"},
				{Pattern: "opcore.loop", Level: "ERROR"},
			},
			loggerNames:     []string{"opcore.loop"},
			expectedMatches: map[string]string{"opcore.loop": "ERROR"},
		},
		{
			loggerConfig:    []LoggerPatternConfig{{Pattern: "_.*.macros", Level: "DEBUG"}},
			loggerNames:     []string{"opcore.engine.macros"},
			expectedMatches: map[string]string{"opcore.engine.macros": "INFO"},
		},
	}

	for _, tc := range tests {
		testRegistry := createTestRegistry(tc.loggerNames)

		err := testRegistry.Update(tc.loggerConfig, NewBlankLogger("error-logger"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, verifySetLevels(testRegistry, tc.expectedMatches), test.ShouldBeTrue)
	}
}

func TestRegistrySublogger(t *testing.T) {
	registry := NewRegistry()
	test.That(t, registry.Update([]LoggerPatternConfig{{Pattern: "opcore.*", Level: "error"}}, NewBlankLogger("")), test.ShouldBeNil)

	root := NewBlankLogger("opcore")
	engine := registry.Sublogger(root, "engine")
	test.That(t, engine.Name(), test.ShouldEqual, "opcore.engine")
	test.That(t, engine.GetLevel(), test.ShouldEqual, ERROR)
	test.That(t, registry.Sublogger(root, "engine"), test.ShouldEqual, engine)
	test.That(t, registry.Names(), test.ShouldResemble, []string{"opcore.engine"})

	err := registry.Update([]LoggerPatternConfig{{Pattern: "opcore.engine", Level: "nope"}}, NewBlankLogger(""))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoggerWithRegistry(t *testing.T) {
	root, registry := NewLoggerWithRegistry("opcore")
	macros := root.Sublogger("macros")
	score := macros.Sublogger("score")
	test.That(t, registry.Names(), test.ShouldResemble, []string{"opcore", "opcore.macros", "opcore.macros.score"})

	err := registry.Update([]LoggerPatternConfig{
		{Pattern: "*", Level: "warn"},
		{Pattern: "opcore.macros.*", Level: "debug"},
	}, NewBlankLogger(""))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, root.GetLevel(), test.ShouldEqual, WARN)
	test.That(t, macros.GetLevel(), test.ShouldEqual, WARN)
	test.That(t, score.GetLevel(), test.ShouldEqual, DEBUG)

	// Loggers created after an update pick up the patterns.
	test.That(t, macros.Sublogger("climb").GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, root.Sublogger("macros"), test.ShouldEqual, macros)
}
