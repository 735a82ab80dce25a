package internal

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/logging"
)

// SetupLogging configures logrus from cfg and mirrors stderr into a per-run
// log file under ~/.pdfchat/logs. It returns the log file path.
func SetupLogging(subcommand, target string, cfg config.LogConfig) (string, error) {
	if err := logging.Init(cfg, os.Stderr); err != nil {
		return "", err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	logDir := filepath.Join(homeDir, ".pdfchat", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", err
	}

	name := "all"
	suffix := "00000000"
	if target != "" {
		name = sanitizeName(strings.TrimSuffix(filepath.Base(target), filepath.Ext(target)))
		hash := sha1.Sum([]byte(target))
		suffix = hex.EncodeToString(hash[:])[:8]
	}
	timestamp := time.Now().Format("20060102-150405")
	filename := fmt.Sprintf("pdfchat-%s-%s-%s-%s.log", subcommand, name, timestamp, suffix)
	logPath := filepath.Join(logDir, filename)

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", err
	}

	if err := logging.Init(cfg, io.MultiWriter(os.Stderr, logFile)); err != nil {
		logFile.Close()
		return "", err
	}
	logging.For("cli").WithField("file", logPath).Debug("logging to file")
	return logPath, nil
}

// sanitizeName replaces characters that are unsafe in file names.
func sanitizeName(name string) string {
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "doc"
	}
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-' {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	if b.Len() == 0 {
		return "doc"
	}
	return b.String()
}
