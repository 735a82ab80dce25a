package internal

import (
	"fmt"
	"os"

	"github.com/DreamCats/pdfchat/internal/config"
)

// LoadProvider reads the YAML configuration at configPath (or the default
// location) and returns a provider that can reload it.
func LoadProvider(configPath string) (*config.FileProvider, error) {
	if configPath == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = defaultPath
	}
	return config.NewFileProvider(configPath)
}

// PrintConfigExample writes a complete YAML configuration example to stderr.
func PrintConfigExample() {
	configPath, _ := config.DefaultPath()

	fmt.Fprintf(os.Stderr, `Create a configuration file at %s:

# Where indexes are stored, one directory per document
database:
  root: ~/.pdfchat/data

# Embedding service (required)
embedding:
  # Provider: "ollama" | "openai" | "volcengine"
  provider: ollama
  endpoint: http://localhost:11434
  model: nomic-embed-text
  batch_size: 10

# Chat model
chat:
  # Provider: "ollama" | "openai" | "gemini" | "ark"
  provider: ollama
  model: llama3.1
  temperature: 0

# The language of your documents and your own language
language:
  target: English
  mother_tongue: Chinese

# For OpenAI, use:
# embedding:
#   provider: openai
#   openai_api_key: ${OPENAI_API_KEY}
#   openai_model: text-embedding-3-small
# chat:
#   provider: openai
#   api_key: ${OPENAI_API_KEY}
#   model: gpt-4o-mini

Usage:
  1. Create the config file
  2. Index a document: pdfchat index book.pdf
  3. Ask: pdfchat ask book.pdf "what is chapter 2 about?"
  4. Chat: pdfchat chat book.pdf
`, configPath)
}
