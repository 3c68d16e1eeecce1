package logger

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewVariants(t *testing.T) {
	t.Run("json format logs expected fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, int(zerolog.InfoLevel), "json", false)

		logger.Info().Str("voter_key", "uuid-1").Msg("json_test")

		out := buf.String()
		require.Contains(t, out, `"message":"json_test"`)
		require.Contains(t, out, `"voter_key":"uuid-1"`)
	})

	t.Run("console format logs human readable output", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, int(zerolog.DebugLevel), "console", false)

		logger.Debug().Str("step", "vote_cast").Msg("console_log")

		out := stripANSI(buf.String())
		require.Contains(t, out, "console_log")
		require.Contains(t, out, "step=vote_cast")
	})

	t.Run("level filters lower events", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, int(zerolog.WarnLevel), "json", false)

		logger.Info().Msg("hidden")
		logger.Warn().Msg("shown")

		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), "shown")
	})

	t.Run("sampler reduces output frequency", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewWithWriter(&buf, int(zerolog.InfoLevel), "json", true)

		for i := 0; i < 20; i++ {
			logger.Info().Int("count", i).Msg("sampled")
		}

		count := strings.Count(buf.String(), "sampled")
		require.Greater(t, count, 0)
		require.Less(t, count, 20)
	})
}

// stripANSI removes ANSI escape sequences (used in console logs)
func stripANSI(input string) string {
	re := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return re.ReplaceAllString(input, "")
}
