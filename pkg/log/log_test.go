package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Str("service", "checkout").Msg("transaction started")

	line := buf.String()
	assert.Contains(t, line, `"level":"info"`)
	assert.Contains(t, line, `"service":"checkout"`)
	assert.Contains(t, line, `"time":`)
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.DebugLevel)

	Info("should be filtered")
	Warn("should pass")

	lines := strings.TrimSpace(buf.String())
	assert.NotContains(t, lines, "should be filtered")
	assert.Contains(t, lines, "should pass")
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("rollback")
	logger.Info().Msg("traffic reverted")

	assert.Contains(t, buf.String(), `"component":"rollback"`)
}
