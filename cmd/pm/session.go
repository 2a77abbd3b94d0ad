package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Hussein-Mazeh/vaultcore/internal/service"
)

func runSession(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet("session", &g)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, cfg, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := unlock(ctx, svc); err != nil {
		return err
	}
	fmt.Printf("session unlocked; locks after %s idle. Type 'help' for commands\n", cfg.Vault.IdleTimeout)
	return sessionLoop(ctx, svc)
}

func sessionLoop(ctx context.Context, svc *service.Service) error {
	for {
		if ctx.Err() != nil {
			fmt.Println()
			return nil
		}
		fmt.Print("pm> ")
		line, err := stdin.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read input: %w", err)
		}
		if errors.Is(err, io.EOF) && line == "" {
			fmt.Println()
			return nil
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			printSessionHelp()
			continue
		case "exit", "quit":
			return nil
		case "lock":
			svc.Vault.Lock()
			fmt.Println("vault locked")
			continue
		}

		if !svc.Vault.IsUnlocked() {
			fmt.Fprintln(os.Stderr, "vault is locked")
			if err := unlock(ctx, svc); err != nil {
				handleSessionError(err)
				continue
			}
		}

		switch cmd {
		case "unlock":
			fmt.Println("vault unlocked")
		case "list":
			handleSessionError(listEntries(ctx, svc))
		case "get":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: get <entry-id>")
				continue
			}
			handleSessionError(getEntry(ctx, svc, args[0]))
		case "add":
			handleSessionError(sessionAdd(ctx, svc, args))
		case "delete":
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "usage: delete <entry-id>")
				continue
			}
			if err := svc.Vault.DeleteEntry(ctx, args[0]); err != nil {
				handleSessionError(err)
				continue
			}
			fmt.Printf("deleted %s\n", args[0])
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		}
	}
}

func sessionAdd(ctx context.Context, svc *service.Service, args []string) error {
	var a addFlags
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	a.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return addEntry(ctx, svc, a)
}

func handleSessionError(err error) {
	if err == nil || errors.Is(err, errHelp) {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		return
	}

	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func printSessionHelp() {
	fmt.Println("Commands:")
	fmt.Println("  list")
	fmt.Println("  get <entry-id>")
	fmt.Println("  add --title <title> [--user <username>] [--url <url>] [--tag t]... [--field password]...")
	fmt.Println("  delete <entry-id>")
	fmt.Println("  lock | unlock")
	fmt.Println("  exit | quit")
}
