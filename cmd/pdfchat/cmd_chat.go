package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DreamCats/pdfchat/internal/chat"
	"github.com/DreamCats/pdfchat/internal/config"
	"github.com/DreamCats/pdfchat/internal/event"
	"github.com/DreamCats/pdfchat/internal/explain"
	"github.com/DreamCats/pdfchat/internal/llm"
	"github.com/DreamCats/pdfchat/internal/logging"
	"github.com/DreamCats/pdfchat/internal/pdf"
	"github.com/DreamCats/pdfchat/internal/vectorindex"
)

// handleChat implements the chat subcommand
func handleChat(a *app, args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	session := fs.String("session", chat.DefaultSession, "Conversation session key")
	noWatch := fs.Bool("no-watch", false, "Do not reload when the config file changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `USAGE:
    pdfchat chat [options] <file.pdf>

DESCRIPTION:
    Interactive conversation about a document. Follow-up questions are
    understood in the context of the conversation. Saving the config file
    rebuilds the chat chain with the new settings.

    Commands inside the chat:
      /explain <word>   explain a word in the target language
      /mother <word>    explain a word in your mother tongue
      /reset            forget the conversation
      /quit             leave

OPTIONS:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		logrus.Fatalf("Failed to parse arguments: %v", err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	path, err := pdf.AbsPath(fs.Arg(0))
	if err != nil {
		logrus.Fatalf("Failed to resolve document: %v", err)
	}

	p := a.pipeline(path)
	defer p.Close()

	changes := event.NewBus[config.Change]()
	unsubscribe := p.Subscribe(a.ctx, changes)
	defer unsubscribe()

	if !*noWatch {
		watcher, err := config.NewWatcher(a.provider, changes, logging.For("config"))
		if err != nil {
			a.log.WithError(err).Warn("config reload disabled")
		} else {
			defer watcher.Close()
			go func() {
				if err := watcher.Run(a.ctx); err != nil {
					a.log.WithError(err).Warn("config watcher stopped")
				}
			}()
		}
	}

	if err := p.Rebuild(a.ctx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\nFix the config file and save it to retry.\n", err)
	}

	go func() {
		<-a.ctx.Done()
		os.Stdin.Close()
	}()

	fmt.Printf("💬 Chatting with %s (type /quit to leave)\n", path)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch cmd, rest, _ := strings.Cut(line, " "); cmd {
		case "/quit", "/exit":
			return
		case "/reset":
			p.Memory().Delete(*session)
			fmt.Println("(conversation cleared)")
		case "/explain", "/mother":
			mode := explain.TargetLanguage
			if cmd == "/mother" {
				mode = explain.MotherTongue
			}
			chatExplain(a, p, strings.TrimSpace(rest), mode)
		default:
			chatAsk(a, p, *session, line)
		}

		if a.ctx.Err() != nil {
			return
		}
	}
}

func chatAsk(a *app, p *chat.Pipeline, session, question string) {
	chunks, err := p.AskStreamingSession(a.ctx, session, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		return
	}
	for c := range chunks {
		if c.Err != nil {
			fmt.Fprintf(os.Stderr, "\n⚠️  %v\n", c.Err)
			return
		}
		fmt.Print(c.Content)
	}
	fmt.Println()
}

func chatExplain(a *app, p *chat.Pipeline, word string, mode explain.Mode) {
	if word == "" {
		fmt.Fprintln(os.Stderr, "usage: /explain <word>")
		return
	}
	results, err := p.Retrieve(a.ctx, word)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		return
	}
	req := explain.Request{
		Selected: word,
		Context:  strings.Join(vectorindex.Contents(results), "\n\n"),
		Mode:     mode,
	}
	task := explain.New(a.provider, llm.New, req,
		explain.OnFragment(func(f string) { fmt.Print(f) }),
		explain.WithLogger(logging.For("explain")),
		explain.WithMetrics(a.metrics),
	)
	runExplain(a, task)
}
