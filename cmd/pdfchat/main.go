package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/cmd/pdfchat/internal"
	"github.com/DreamCats/pdfchat/internal/config"
)

// main parses global flags, loads configuration and runs the subcommand.
func main() {
	if len(os.Args) < 2 {
		internal.PrintUsage()
		os.Exit(1)
	}

	configPath := ""
	dbRoot := ""
	args := os.Args[1:]

	for _, arg := range args {
		if arg == "-h" || arg == "-help" || arg == "--help" {
			internal.PrintUsage()
			os.Exit(0)
		}
		if arg == "-v" || arg == "-version" || arg == "--version" {
			fmt.Printf("pdfchat version %s\n", internal.Version)
			os.Exit(0)
		}
	}

	validSubcommands := map[string]bool{
		"index":   true,
		"ask":     true,
		"chat":    true,
		"explain": true,
		"search":  true,
		"stats":   true,
		"mcp":     true,
	}

	subcommandIndex := -1
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") && validSubcommands[arg] {
			subcommandIndex = i
			break
		}
	}

	if subcommandIndex == -1 {
		fmt.Fprintf(os.Stderr, "Error: No subcommand specified\n\n")
		internal.PrintUsage()
		os.Exit(1)
	}

	globalFlags := args[:subcommandIndex]
	for i := 0; i < len(globalFlags); i++ {
		flag := globalFlags[i]
		switch {
		case flag == "-config" || flag == "--config":
			if i+1 < len(globalFlags) {
				configPath = globalFlags[i+1]
				i++
			}
		case flag == "-db" || flag == "--db":
			if i+1 < len(globalFlags) {
				dbRoot = globalFlags[i+1]
				i++
			}
		case strings.HasPrefix(flag, "-"):
			fmt.Fprintf(os.Stderr, "Error: Unknown global flag: %s\n\n", flag)
			internal.PrintUsage()
			os.Exit(1)
		}
	}

	subcommand := args[subcommandIndex]
	subcommandArgs := args[subcommandIndex+1:]

	provider, err := internal.LoadProvider(configPath)
	if err != nil {
		var notFound *config.ConfigNotFoundError
		if errors.As(err, &notFound) {
			if subcommand == "index" {
				created, createErr := config.WriteDefaultTemplate(notFound.RequestedPath)
				if createErr != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
					fmt.Fprintf(os.Stderr, "Also failed to create default config at %s: %v\n\n", notFound.RequestedPath, createErr)
					internal.PrintConfigExample()
					os.Exit(1)
				}
				if created {
					fmt.Fprintf(os.Stderr, "Created default config at %s\n", notFound.RequestedPath)
				}
				fmt.Fprintln(os.Stderr, "Review the embedding and chat providers in the config file and rerun `pdfchat index`.")
				os.Exit(1)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			internal.PrintConfigExample()
			os.Exit(1)
		}
		logrus.Fatalf("Failed to load config: %v", err)
	}

	cfg := provider.Current()
	if dbRoot != "" {
		cfg.Database.Root = dbRoot
	}

	if _, err := internal.SetupLogging(subcommand, firstDocument(subcommandArgs), cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize log file: %v\n", err)
	}

	a := newApp(provider, cfg.Database.Root)
	defer a.Close()

	switch subcommand {
	case "index":
		handleIndex(a, subcommandArgs)
	case "ask":
		handleAsk(a, subcommandArgs)
	case "chat":
		handleChat(a, subcommandArgs)
	case "explain":
		handleExplain(a, subcommandArgs)
	case "search":
		handleSearch(a, subcommandArgs)
	case "stats":
		handleStats(a, subcommandArgs)
	case "mcp":
		handleMCP(a, subcommandArgs)
	}
}

// firstDocument picks the first argument that looks like a PDF, for naming
// the log file.
func firstDocument(args []string) string {
	for _, arg := range args {
		if strings.HasSuffix(strings.ToLower(arg), ".pdf") {
			return arg
		}
	}
	return ""
}
