package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/Hussein-Mazeh/vaultcore/internal/config"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
)

var errHelp = errors.New("help requested")

// globalFlags are accepted by every command and override the config file.
type globalFlags struct {
	config  string
	dir     string
	backend string
}

func newFlagSet(name string, g *globalFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&g.config, "config", "", "config file (default $PM_CONFIG)")
	fs.StringVar(&g.dir, "dir", "", "vault directory")
	fs.StringVar(&g.backend, "backend", "", "storage backend: sqlite or file")
	return fs
}

func parseFlags(fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Usage of %s:\n%s", fs.Name(), fs.FlagUsages())
			return errHelp
		}
		return userErrorf("invalid %s arguments: %v", fs.Name(), err)
	}
	if fs.NArg() != 0 {
		return userError{msg: "unexpected positional arguments"}
	}
	return nil
}

func (g *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(g.config)
	if err != nil {
		return nil, userErrorf("load config: %v", err)
	}
	if g.dir != "" {
		cfg.Vault.Dir = g.dir
	}
	if g.backend != "" {
		cfg.Vault.Backend = config.Backend(strings.ToLower(g.backend))
	}
	if err := cfg.Validate(); err != nil {
		return nil, userErrorf("invalid config: %v", err)
	}
	return cfg, nil
}

// open loads the config and builds the service. The caller closes it.
func (g *globalFlags) open() (*service.Service, *config.Config, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	svc, err := service.New(cfg, service.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("open vault: %w", err)
	}
	return svc, cfg, nil
}

// stdin is shared so that prompts and the session loop never lose
// buffered input to each other.
var stdin = bufio.NewReader(os.Stdin)

// promptPassword reads without echo from a terminal and falls back to a
// plain line read when stdin is piped.
func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, err
		}
		return pw, nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// promptNew asks twice and requires both answers to match.
func promptNew(what string) ([]byte, error) {
	pw, err := promptPassword("Enter " + what + ": ")
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", what, err)
	}
	confirm, err := promptPassword("Confirm " + what + ": ")
	if err != nil {
		zeroBytes(pw)
		return nil, fmt.Errorf("read confirmation: %w", err)
	}
	defer zeroBytes(confirm)
	if !bytes.Equal(pw, confirm) {
		zeroBytes(pw)
		return nil, userErrorf("%ss do not match", what)
	}
	return pw, nil
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
