package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/config"
)

func TestInitJSON(t *testing.T) {
	defer logrus.SetOutput(logrus.StandardLogger().Out)
	defer logrus.SetFormatter(logrus.StandardLogger().Formatter)
	defer logrus.SetLevel(logrus.GetLevel())

	var buf bytes.Buffer
	if err := Init(config.LogConfig{Level: "debug", Format: "json"}, &buf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	For("chat").Debug("hello")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["message"] != "hello" {
		t.Errorf("message = %v, want hello", entry["message"])
	}
	if entry["component"] != "chat" {
		t.Errorf("component = %v, want chat", entry["component"])
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp field missing")
	}
}

func TestInitRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LogConfig
	}{
		{"bad level", config.LogConfig{Level: "loud", Format: "text"}},
		{"bad format", config.LogConfig{Level: "info", Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Init(tt.cfg, &bytes.Buffer{}); err == nil {
				t.Error("Init() error = nil, want error")
			}
		})
	}
}

func TestOrDefault(t *testing.T) {
	custom := logrus.New()
	if got := OrDefault(custom, "x"); got != custom {
		t.Error("OrDefault should return the given logger")
	}
	if got := OrDefault(nil, "x"); got == nil {
		t.Error("OrDefault(nil) returned nil")
	}
}
