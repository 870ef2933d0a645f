// collabctl is a headless terminal client for CodeSynq rooms.
//
// Usage:
//
//	collabctl [flags] host [--mode freestyle|restricted]
//	collabctl [flags] join <room-id|share-link>
//
// Lines typed on stdin are appended to the shared document. Lines starting
// with ':' are commands; type :help for the list.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/codesynq/collab.go"
	"github.com/codesynq/collab.go/pkg/config"
	"github.com/codesynq/collab.go/pkg/logger"
	"github.com/codesynq/collab.go/pkg/protocol"
	"github.com/codesynq/collab.go/pkg/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	config  string
	url     string
	uid     string
	name    string
	mode    string
	file    string
	logFile string
}

func parseArgs(args []string) (*options, *pflag.FlagSet, error) {
	o := &options{}
	fs := pflag.NewFlagSet("collabctl", pflag.ContinueOnError)
	fs.StringVar(&o.config, "config", "", "YAML config file (default: $"+config.EnvConfig+")")
	fs.StringVar(&o.url, "url", "", "relay WebSocket URL, overrides client.url")
	fs.StringVar(&o.uid, "uid", "", "user id; empty joins as a guest")
	fs.StringVar(&o.name, "name", "", "display name")
	fs.StringVar(&o.mode, "mode", "", "edit mode when hosting: freestyle or restricted")
	fs.StringVar(&o.file, "file", "", "seed the document from this file when hosting")
	fs.StringVar(&o.logFile, "log-file", "", "write JSON logs to this file; logs are discarded otherwise")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return o, fs, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	o, fs, err := parseArgs(args)
	if err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("missing command: host or join")
	}

	cfg, err := config.Load(o.config)
	if err != nil {
		return err
	}
	if fs.Changed("url") {
		cfg.Client.URL = o.url
	}
	if fs.Changed("uid") {
		cfg.Client.Identity.UID = o.uid
	}
	if fs.Changed("name") {
		cfg.Client.Identity.DisplayName = o.name
	}
	if fs.Changed("mode") {
		cfg.Client.Mode = o.mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.Discard()
	if o.logFile != "" {
		logData, err := logger.NewBuild().FromPath(o.logFile).WithLevel(cfg.Log.Level).Make()
		if err != nil {
			return fmt.Errorf("open log: %w", err)
		}
		defer logData.Close()
		log = logData.Wrap()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	text := ""
	if o.file != "" {
		data, err := os.ReadFile(o.file)
		if err != nil {
			return err
		}
		text = string(data)
	}

	out := newPrinter(stdout)
	ccfg := collab.FromConfig(cfg, log)
	ccfg.Session.Observer = out

	buf := session.NewBuffer(text, cfg.Relay.DefaultLanguage)
	client, err := collab.Connect(ctx, buf, ccfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())
	buf.OnChange(func() {
		if err := client.Session.LocalChange(ctx); err != nil {
			out.printf("! %v", err)
		}
	})

	sh := &shell{client: client, buf: buf, out: out}
	if err := sh.start(ctx, fs.Arg(0), fs.Args()[1:], protocol.Mode(cfg.Client.Mode)); err != nil {
		return err
	}
	return sh.loop(ctx, stdin)
}

func (sh *shell) loop(ctx context.Context, stdin io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if sh.exec(ctx, line) {
				return nil
			}
		}
	}
}
