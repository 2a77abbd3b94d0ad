package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Hussein-Mazeh/vaultcore/internal/model"
	"github.com/Hussein-Mazeh/vaultcore/internal/service"
	"github.com/Hussein-Mazeh/vaultcore/internal/share"
	"github.com/Hussein-Mazeh/vaultcore/krypto"
)

func runKeygen(_ context.Context, args []string) error {
	var (
		g      globalFlags
		scheme string
		out    string
	)
	fs := newFlagSet("keygen", &g)
	fs.StringVar(&scheme, "scheme", "", "key scheme (default from config)")
	fs.StringVarP(&out, "out", "o", "", "output prefix; writes <prefix>.pub and <prefix>.key")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if out == "" {
		return userError{msg: "keygen requires --out"}
	}
	if scheme == "" {
		cfg, err := g.loadConfig()
		if err != nil {
			return err
		}
		scheme = cfg.Share.Scheme
	}

	kp, err := krypto.GenerateKeyPair(krypto.WrapScheme(scheme))
	if errors.Is(err, krypto.ErrUnsupportedScheme) {
		return userErrorf("unsupported scheme %q", scheme)
	}
	if err != nil {
		return fmt.Errorf("generate key pair: %w", err)
	}
	defer zeroBytes(kp.PrivateKey)

	if err := os.WriteFile(out+".key", kp.PrivateKey, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(out+".pub", kp.PublicKey, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	fmt.Printf("wrote %s.pub and %s.key (%s)\n", out, out, kp.Scheme)
	return nil
}

func readKeyFile(path, what string) ([]byte, error) {
	if path == "" {
		return nil, userErrorf("a %s file is required", what)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, userErrorf("read %s: %v", what, err)
	}
	return b, nil
}

func runShare(ctx context.Context, args []string) error {
	var (
		g                 globalFlags
		entryID, from, to string
		pubPath, message  string
		ttl               time.Duration
		maxUses           int
		view, edit, gate  bool
	)
	fs := newFlagSet("share", &g)
	fs.StringVar(&entryID, "entry", "", "entry id to share")
	fs.StringVar(&from, "from", "", "sharing principal")
	fs.StringVar(&to, "to", "", "recipient principal")
	fs.StringVar(&pubPath, "pubkey", "", "recipient public key file")
	fs.DurationVar(&ttl, "ttl", 0, "lifetime (default from config)")
	fs.IntVar(&maxUses, "max-uses", 0, "maximum consumptions; 0 is unlimited")
	fs.BoolVar(&view, "view", true, "grant view permission")
	fs.BoolVar(&edit, "edit", false, "grant edit permission")
	fs.StringVar(&message, "message", "", "note for the recipient")
	fs.BoolVar(&gate, "gate", false, "also require a share passphrase")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if entryID == "" || from == "" || to == "" {
		return userError{msg: "share requires --entry, --from and --to"}
	}
	pub, err := readKeyFile(pubPath, "recipient public key")
	if err != nil {
		return err
	}

	opts := service.ShareOptions{
		Permissions: model.Permissions{View: view, Edit: edit},
		TTL:         ttl,
		MaxUses:     maxUses,
		Message:     message,
	}
	if gate {
		if opts.Passphrase, err = promptNew("share passphrase"); err != nil {
			return err
		}
		defer zeroBytes(opts.Passphrase)
	}

	svc, err := openUnlocked(ctx, &g)
	if err != nil {
		return err
	}
	defer svc.Close()

	rec, err := svc.ShareEntry(ctx, entryID, from, to, pub, opts)
	switch {
	case errors.Is(err, model.ErrNotFound):
		return userErrorf("no entry with id %s", entryID)
	case errors.Is(err, share.ErrInvalidRequest), errors.Is(err, krypto.ErrUnsupportedScheme):
		return userErrorf("cannot share: %v", err)
	case err != nil:
		return fmt.Errorf("create share: %w", err)
	}
	fmt.Printf("share %s created for %s (%s), expires %s\n",
		rec.ID, rec.ToPrincipal, rec.WrapScheme, rec.ExpiresAt.Local().Format(time.RFC1123))
	return nil
}

// shareError maps share lifecycle refusals to user errors.
func shareError(id string, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return userErrorf("no share with id %s", id)
	case errors.Is(err, share.ErrShareRevoked):
		return userError{msg: "share has been revoked"}
	case errors.Is(err, share.ErrShareExpired):
		return userError{msg: "share has expired"}
	case errors.Is(err, share.ErrShareExhausted):
		return userError{msg: "share has no uses left"}
	case errors.Is(err, share.ErrPassphraseRequired):
		return userError{msg: "share is passphrase protected; pass --gate"}
	case errors.Is(err, share.ErrNotAuthorized):
		return userError{msg: "not authorised for this share"}
	case errors.Is(err, krypto.ErrAuthentication):
		return userError{msg: "share could not be opened with this key"}
	}
	return err
}

func runConsume(ctx context.Context, args []string) error {
	var (
		g                globalFlags
		id, keyPath, who string
		gate             bool
	)
	fs := newFlagSet("consume", &g)
	fs.StringVar(&id, "id", "", "share id")
	fs.StringVar(&keyPath, "key", "", "recipient private key file")
	fs.StringVar(&who, "as", "", "principal recorded in the audit log (default recipient)")
	fs.BoolVar(&gate, "gate", false, "prompt for the share passphrase")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if id == "" {
		return userError{msg: "consume requires --id"}
	}
	priv, err := readKeyFile(keyPath, "private key")
	if err != nil {
		return err
	}
	defer zeroBytes(priv)

	var opts []share.ConsumeOption
	if who != "" {
		opts = append(opts, share.WithActor(who))
	}
	if gate {
		pass, err := promptPassword("Share passphrase: ")
		if err != nil {
			return fmt.Errorf("read share passphrase: %w", err)
		}
		defer zeroBytes(pass)
		opts = append(opts, share.WithPassphrase(pass))
	}

	svc, _, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	payload, err := svc.Shares.Consume(ctx, id, priv, opts...)
	if err != nil {
		return shareError(id, err)
	}
	if payload.Message != "" {
		fmt.Printf("message:  %s\n", payload.Message)
	}
	fmt.Printf("view: %t  edit: %t\n", payload.Permissions.View, payload.Permissions.Edit)
	printEntry(payload.Entry)
	return nil
}

func runRevoke(ctx context.Context, args []string) error {
	var (
		g       globalFlags
		id, who string
	)
	fs := newFlagSet("revoke", &g)
	fs.StringVar(&id, "id", "", "share id")
	fs.StringVar(&who, "as", "", "owner principal")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if id == "" || who == "" {
		return userError{msg: "revoke requires --id and --as"}
	}

	svc, _, err := g.open()
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.Shares.Revoke(ctx, id, who); err != nil {
		return shareError(id, err)
	}
	fmt.Printf("share %s revoked\n", id)
	return nil
}
