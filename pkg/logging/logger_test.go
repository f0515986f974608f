package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("Expected default level to be Info, got %s", cfg.Level)
	}
	if cfg.Pretty {
		t.Error("Expected JSON output by default")
	}
	if cfg.Output == nil {
		t.Error("Expected a default output writer")
	}
}

// emitAll logs one line at each level, lowest first.
func emitAll(logger zerolog.Logger) {
	logger.Debug().Msg("request issued")
	logger.Info().Msg("page committed")
	logger.Warn().Msg("retry scheduled")
	logger.Error().Msg("run failed")
}

func TestSetup_LevelThreshold(t *testing.T) {
	messages := []string{"request issued", "page committed", "retry scheduled", "run failed"}

	tests := []struct {
		level   LogLevel
		visible int // messages from this index on are written
	}{
		{LevelDebug, 0},
		{LevelInfo, 1},
		{LevelWarn, 2},
		{LevelError, 3},
		{"bogus", 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			buf := &bytes.Buffer{}
			emitAll(Setup(Config{Level: tt.level, Output: buf}))

			output := buf.String()
			for i, msg := range messages {
				written := strings.Contains(output, msg)
				if i >= tt.visible && !written {
					t.Errorf("level %s: expected %q in output %q", tt.level, msg, output)
				}
				if i < tt.visible && written {
					t.Errorf("level %s: %q should have been filtered", tt.level, msg)
				}
			}
		})
	}
}

func TestSetup_JSONLines(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Output: buf})
	logger.Info().Int("offset", 200).Msg("page committed")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Expected one JSON object, got %q: %v", buf.String(), err)
	}
	if line["message"] != "page committed" || line["offset"] != float64(200) {
		t.Errorf("Unexpected fields %v", line)
	}
	if _, ok := line["time"]; !ok {
		t.Error("Expected a timestamp field")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    LogLevel
		expected zerolog.Level
	}{
		{LevelDebug, zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{LevelInfo, zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{LevelError, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.input), func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseLevelName(t *testing.T) {
	tests := []struct {
		input   string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"trace", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWithRun(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := WithRun(Setup(Config{Level: LevelInfo, Output: buf}), "SPARK", "run-1")
	logger.Info().Msg("page committed")

	output := buf.String()
	for _, want := range []string{`"collection":"SPARK"`, `"run_id":"run-1"`, "page committed"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got %q", want, output)
		}
	}
}

func TestSetup_PrettyOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup(Config{Level: LevelInfo, Pretty: true, Output: buf})
	logger.Info().Str("collection", "KAFKA").Msg("run exhausted")

	output := buf.String()
	if strings.HasPrefix(output, "{") {
		t.Errorf("Expected console output, got JSON %q", output)
	}
	if !strings.Contains(output, "run exhausted") {
		t.Errorf("Expected output to contain message, got %q", output)
	}
}

func TestNewLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	Setup(Config{Level: LevelInfo, Output: buf})

	logger := NewLogger("fetch-client")
	logger.Info().Msg("page fetched")

	output := buf.String()
	for _, want := range []string{`"component":"fetch-client"`, "page fetched"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got %q", want, output)
		}
	}
}
