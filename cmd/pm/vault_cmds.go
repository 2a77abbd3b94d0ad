package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/Hussein-Mazeh/vaultcore/auth"
	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
	"github.com/Hussein-Mazeh/vaultcore/internal/vault"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

func runInit(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet("init", &g)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, cfg, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	ok, err := svc.Vault.Initialized(ctx)
	if err != nil {
		return err
	}
	if ok {
		return userError{msg: "vault already initialised; use pm rotate to change the passphrase"}
	}

	pw, err := promptNew("master passphrase")
	if err != nil {
		return err
	}
	defer zeroBytes(pw)

	if err := svc.Vault.Initialize(ctx, pw); err != nil {
		return passphraseError(err)
	}
	fmt.Printf("vault initialised in %s (%s backend)\n", cfg.Vault.Dir, cfg.Vault.Backend)
	return nil
}

func runRotate(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet("rotate", &g)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, _, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	oldPw, err := promptPassword("Current master passphrase: ")
	if err != nil {
		return fmt.Errorf("read current passphrase: %w", err)
	}
	defer zeroBytes(oldPw)

	newPw, err := promptNew("new master passphrase")
	if err != nil {
		return err
	}
	defer zeroBytes(newPw)

	if err := svc.Vault.RotateMasterKey(ctx, oldPw, newPw); err != nil {
		switch {
		case errors.Is(err, vault.ErrAuthenticationFailed):
			return userError{msg: "current passphrase is incorrect"}
		case errors.Is(err, vault.ErrNotInitialized):
			return userError{msg: "vault not initialised; run pm init first"}
		case errors.Is(err, vault.ErrRotationAborted):
			return fmt.Errorf("rotation aborted, vault unchanged: %w", err)
		}
		return passphraseError(err)
	}
	fmt.Println("master passphrase rotated; every entry re-encrypted")
	return nil
}

// passphraseError turns policy rejections into user errors.
func passphraseError(err error) error {
	switch {
	case errors.Is(err, auth.ErrWeakPassphrase), errors.Is(err, auth.ErrBreachedPassphrase):
		return userErrorf("passphrase does not meet policy requirements: %v", err)
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return userError{msg: "vault already initialised"}
	}
	return err
}

// unlock prompts for the master passphrase and unlocks svc.Vault.
func unlock(ctx context.Context, svc *service.Service) error {
	pw, err := promptPassword("Master passphrase: ")
	if err != nil {
		return fmt.Errorf("read master passphrase: %w", err)
	}
	defer zeroBytes(pw)

	err = svc.Vault.Unlock(ctx, pw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrNotInitialized):
		return userError{msg: "vault not initialised; run pm init first"}
	case errors.Is(err, vault.ErrUnlockThrottled):
		return userError{msg: "too many failed attempts; try again later"}
	case errors.Is(err, vault.ErrAuthenticationFailed):
		return userError{msg: "failed to unlock vault"}
	}
	return err
}

func openUnlocked(ctx context.Context, g *globalFlags) (*service.Service, error) {
	svc, _, err := g.open()
	if err != nil {
		return nil, err
	}
	if err := unlock(ctx, svc); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

type addFlags struct {
	title, user, url, folder string
	tags, fields             []string
}

func (a *addFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&a.title, "title", "", "entry title")
	fs.StringVar(&a.user, "user", "", "username")
	fs.StringVar(&a.url, "url", "", "site URL")
	fs.StringVar(&a.folder, "folder", "", "folder")
	fs.StringSliceVar(&a.tags, "tag", nil, "tags, comma separated or repeated")
	fs.StringArrayVar(&a.fields, "field", []string{"password"}, "secret field to prompt for; repeatable")
}

func addEntry(ctx context.Context, svc *service.Service, a addFlags) error {
	if strings.TrimSpace(a.title) == "" {
		return userError{msg: "add requires --title"}
	}

	secrets := make(map[string]string, len(a.fields))
	for _, name := range a.fields {
		v, err := promptNew(name)
		if err != nil {
			return err
		}
		secrets[name] = string(v)
		zeroBytes(v)
	}

	id, err := svc.Vault.AddEntry(ctx, &model.Entry{
		Title:    a.title,
		Username: a.user,
		URL:      a.url,
		Folder:   a.folder,
		Tags:     a.tags,
		Secrets:  secrets,
	})
	if err != nil {
		if errors.Is(err, vault.ErrInvalidEntry) {
			return userErrorf("invalid entry: %v", err)
		}
		return fmt.Errorf("store entry: %w", err)
	}
	fmt.Printf("stored %q (id=%s)\n", a.title, id)
	return nil
}

func runAdd(ctx context.Context, args []string) error {
	var (
		g globalFlags
		a addFlags
	)
	fs := newFlagSet("add", &g)
	a.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, err := openUnlocked(ctx, &g)
	if err != nil {
		return err
	}
	defer svc.Close()
	return addEntry(ctx, svc, a)
}

func printEntry(e *model.Entry) {
	fmt.Printf("id:       %s\n", e.ID)
	fmt.Printf("title:    %s\n", e.Title)
	if e.Username != "" {
		fmt.Printf("username: %s\n", e.Username)
	}
	if e.URL != "" {
		fmt.Printf("url:      %s\n", e.URL)
	}
	if e.Folder != "" {
		fmt.Printf("folder:   %s\n", e.Folder)
	}
	if len(e.Tags) > 0 {
		fmt.Printf("tags:     %s\n", strings.Join(e.Tags, ", "))
	}
	names := make([]string, 0, len(e.Secrets))
	for name := range e.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %s\n", name, e.Secrets[name])
	}
}

func getEntry(ctx context.Context, svc *service.Service, id string) error {
	if id == "" {
		return userError{msg: "get requires an entry id"}
	}
	e, err := svc.Vault.GetEntry(ctx, id)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return userErrorf("no entry with id %s", id)
	case e != nil && err != nil && errors.Is(err, krypto.ErrAuthentication):
		// Partial result: show what decrypted and name what did not.
		printEntry(e)
		fmt.Fprintf(os.Stderr, "failed to decrypt fields: %s\n", strings.Join(vault.FailedFields(err), ", "))
		return nil
	case err != nil:
		return fmt.Errorf("fetch entry: %w", err)
	}
	printEntry(e)
	return nil
}

func runGet(ctx context.Context, args []string) error {
	var (
		g  globalFlags
		id string
	)
	fs := newFlagSet("get", &g)
	fs.StringVar(&id, "id", "", "entry id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, err := openUnlocked(ctx, &g)
	if err != nil {
		return err
	}
	defer svc.Close()
	return getEntry(ctx, svc, id)
}

func listEntries(ctx context.Context, svc *service.Service) error {
	entries, err := svc.Vault.ListEntries(ctx)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "vault is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-24s %s\n", e.ID, e.Title, e.Username)
	}
	return nil
}

func runList(ctx context.Context, args []string) error {
	var g globalFlags
	fs := newFlagSet("list", &g)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	svc, err := openUnlocked(ctx, &g)
	if err != nil {
		return err
	}
	defer svc.Close()
	return listEntries(ctx, svc)
}
