package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
)

const cliVersion = "0.2.0"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func userErrorf(format string, args ...any) userError {
	return userError{msg: fmt.Sprintf(format, args...)}
}

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"init":    runInit,
	"rotate":  runRotate,
	"keygen":  runKeygen,
	"add":     runAdd,
	"get":     runGet,
	"list":    runList,
	"share":   runShare,
	"consume": runConsume,
	"revoke":  runRevoke,
	"session": runSession,
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	name := os.Args[1]
	if name == "version" {
		fmt.Println(cliVersion)
		return
	}
	run, ok := commands[name]
	if !ok {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[2:])
	stop()
	handleError(err)
}

func handleError(err error) {
	if err == nil || errors.Is(err, errHelp) {
		return
	}

	var uerr userError
	if errors.As(err, &uerr) {
		fmt.Fprintln(os.Stderr, uerr.Error())
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "unexpected error: %v\n", err)
	os.Exit(2)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: pm <command> [flags]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  version")
	fmt.Fprintln(os.Stderr, "  init")
	fmt.Fprintln(os.Stderr, "  rotate")
	fmt.Fprintln(os.Stderr, "  keygen --scheme <age-x25519|rsa-oaep-sha256|mlkem768-hkdf-aesgcm> --out <prefix>")
	fmt.Fprintln(os.Stderr, "  add --title <title> [--user <username>] [--url <url>] [--field password]...")
	fmt.Fprintln(os.Stderr, "  get --id <entry-id>")
	fmt.Fprintln(os.Stderr, "  list")
	fmt.Fprintln(os.Stderr, "  share --entry <id> --from <owner> --to <recipient> --pubkey <file> [--ttl 24h] [--max-uses N]")
	fmt.Fprintln(os.Stderr, "  consume --id <share-id> --key <private-key-file> [--as <principal>] [--gate]")
	fmt.Fprintln(os.Stderr, "  revoke --id <share-id> --as <owner>")
	fmt.Fprintln(os.Stderr, "  session")
	fmt.Fprintln(os.Stderr, "Every command accepts --config, --dir and --backend.")
}
