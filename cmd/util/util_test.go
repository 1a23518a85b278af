package util

import (
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/viper"
	"strings"
	"testing"
	"time"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("Expected lines of at most %d characters, got %d", Wrap, len(line))
		}
	}
	if WrapString("short text") != "short text" {
		t.Errorf("Expected short text to stay on one line")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"debug": logger.DEBUG,
		"INFO":  logger.INFO,
		"warn":  logger.WARNING,
		"error": logger.ERROR,
	}
	for name, want := range tests {
		got, err := ParseLogLevel(name)
		if err != nil || got != want {
			t.Errorf("Expected %s to parse to %v, got %v (%v)", name, want, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Errorf("Expected unknown level to fail")
	}
}

func TestGetListOptions(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("engine", "hazard")
	viper.Set("threads", 4)
	viper.Set("iter-max", 2)
	viper.Set("backoff-spin", 5)
	viper.Set("backoff-min-sleep", time.Microsecond)
	viper.Set("backoff-max-sleep", time.Millisecond)

	opts, err := GetListOptions()
	if err != nil {
		t.Fatalf("Expected options, got %v", err)
	}
	if opts.Engine != "hazard" || opts.Threads != 4 || opts.IterMax != 2 || opts.Backoff.SpinTicks != 5 {
		t.Errorf("Expected options from viper, got %+v", opts)
	}

	viper.Set("engine", "epoch")
	if _, err := GetListOptions(); err == nil {
		t.Errorf("Expected unknown engine to fail")
	}
}
