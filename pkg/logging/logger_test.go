package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo || cfg.Pretty {
		t.Errorf("DefaultConfig() = %+v, want info level JSON output", cfg)
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		level   LogLevel
		visible []string
		hidden  []string
	}{
		{level: LevelDebug, visible: []string{"page fetched", "loop done", "budget low", "request failed"}},
		{level: LevelInfo, visible: []string{"loop done", "budget low", "request failed"}, hidden: []string{"page fetched"}},
		{level: LevelWarn, visible: []string{"budget low", "request failed"}, hidden: []string{"page fetched", "loop done"}},
		{level: LevelError, visible: []string{"request failed"}, hidden: []string{"page fetched", "loop done", "budget low"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			Setup(Config{Level: tt.level, Output: buf})

			logger := NewLogger("pager")
			logger.Debug().Msg("page fetched")
			logger.Info().Msg("loop done")
			logger.Warn().Msg("budget low")
			logger.Error().Msg("request failed")

			output := buf.String()
			for _, msg := range tt.visible {
				if !strings.Contains(output, msg) {
					t.Errorf("expected %q at %s level, got %q", msg, tt.level, output)
				}
			}
			for _, msg := range tt.hidden {
				if strings.Contains(output, msg) {
					t.Errorf("%q should be filtered at %s level", msg, tt.level)
				}
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input LogLevel
		want  zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{LevelWarn, zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("session")
	logger.Info().Str("key", "poller:watermark:q=golang").Msg("Watermark advanced")

	output := buf.String()
	for _, want := range []string{`"component":"session"`, `"key":"poller:watermark:q=golang"`, "Watermark advanced"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %s, got %q", want, output)
		}
	}
}

func TestSetup_ServiceField(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{
		Level:   LevelInfo,
		Output:  buf,
		Service: "search-poller",
	})

	logger.Info().Msg("started")

	if !strings.Contains(buf.String(), `"service":"search-poller"`) {
		t.Errorf("Expected service field, got %q", buf.String())
	}
}

func TestSetup_PrettyOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{
		Level:  LevelInfo,
		Pretty: true,
		Output: buf,
	})

	logger.Info().Msg("pretty message")

	output := buf.String()
	if !strings.Contains(output, "pretty message") {
		t.Errorf("Expected message in console output, got %q", output)
	}
	if strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{" yes ", true},
		{"on", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"maybe", false},
	}

	for _, tt := range tests {
		if got := ParseBool(tt.input); got != tt.want {
			t.Errorf("ParseBool(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
