package internal

import (
	"fmt"
	"os"
)

const Version = "0.3.0"

// PrintUsage writes the command overview to stderr.
func PrintUsage() {
	fmt.Fprintf(os.Stderr, `pdfchat - Chat with PDF documents and learn their language

Version: %s

USAGE:
    pdfchat [global options] <command> [command options]

GLOBAL OPTIONS:
    -config <path>
        Path to config file (default: ~/.pdfchat/config/pdfchat.yaml)

    -db <dir>
        Override the index root directory (database.root)

    -v, -version
        Show version information

    -h, -help
        Show this help message

COMMANDS:
    index
        Embed one or more PDF files (glob patterns allowed)

    ask
        Ask a single question about a PDF

    chat
        Interactive conversation with a PDF; reloads when the config file changes

    explain
        Explain a word or phrase in the target language or your mother tongue

    search
        Show the chunks retrieved for a query

    stats
        Show index statistics

    mcp
        Run MCP stdio server (tools: pdf_ask, pdf_explain, pdf_search, pdf_status)

EXAMPLES:
    # Index every PDF under ./papers
    pdfchat index "papers/**/*.pdf"

    # Ask a question
    pdfchat ask paper.pdf "What dataset do the authors use?"

    # Stream the answer
    pdfchat ask -stream paper.pdf "Summarize section 3"

    # Explain a word in your mother tongue
    pdfchat explain -mode mother -doc novel.pdf "flâner"

    # Run MCP server over stdio with a default document
    pdfchat mcp -doc paper.pdf

For detailed help on each command, use:
    pdfchat <command> -help
`, Version)
}
