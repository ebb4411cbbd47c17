package logutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestStructuredLogsCarrySeverity(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, "debug", true)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Error().Str("scenario", "x").Msg("build failed")
	out := buf.String()
	for _, want := range []string{`"severity":"error"`, `"scenario":"x"`, `"message":"build failed"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, "warn", true)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	log.Info().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logs should be filtered out, got %s", buf.String())
	}
	log.Warn().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatal("warn logs should be written")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	configure(&buf, "loud", true)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level, got %v", zerolog.GlobalLevel())
	}
	if !strings.Contains(buf.String(), "unknown log level") {
		t.Fatalf("the fallback should be logged, got %s", buf.String())
	}
}
