// Package auth validates master passphrases before they are used to derive
// vault keys.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nbutton23/zxcvbn-go"
)

const specialChars = "!\"#$%&'()*+,-./:;<=>?@[\\]^_{|}~`"

var (
	// ErrWeakPassphrase reports a passphrase that fails a composition or
	// strength rule.
	ErrWeakPassphrase = errors.New("weak passphrase")
	// ErrBreachedPassphrase reports a passphrase found in a breach corpus.
	ErrBreachedPassphrase = errors.New("passphrase appears in a known breach")
)

// BreachChecker looks a passphrase up in a breach corpus and returns how
// many times it was seen.
type BreachChecker interface {
	Check(ctx context.Context, passphrase string) (int, error)
}

// ValidateOptions tunes ValidateMasterPasswordAdvanced.
type ValidateOptions struct {
	MinLength int
	// MinZXCVBNScore is the minimum zxcvbn score (0-4). Zero disables the
	// estimator.
	MinZXCVBNScore int
	// UserInputs are words the estimator penalises, such as the username.
	UserInputs []string
	EnableHIBP bool
	// FailOpen accepts the passphrase when the breach lookup itself fails.
	FailOpen bool
	Breaches BreachChecker
}

// DefaultValidateOptions returns the composition rules with zxcvbn score 3
// and no breach lookup.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinLength: 12, MinZXCVBNScore: 3}
}

// ValidateMasterPassword applies the composition rules only.
func ValidateMasterPassword(pw string) error {
	return validateComposition(pw, 12)
}

func validateComposition(pw string, minLen int) error {
	if len([]rune(pw)) < minLen {
		return fmt.Errorf("%w: must be at least %d characters long", ErrWeakPassphrase, minLen)
	}
	if !hasUpper(pw) {
		return fmt.Errorf("%w: must include an uppercase letter", ErrWeakPassphrase)
	}
	if !hasDigit(pw) {
		return fmt.Errorf("%w: must include a digit", ErrWeakPassphrase)
	}
	if !hasSpecial(pw) {
		return fmt.Errorf("%w: must include a special character", ErrWeakPassphrase)
	}
	return nil
}

// ValidateMasterPasswordAdvanced applies the composition rules, the zxcvbn
// estimate and, when enabled, a breach lookup.
func ValidateMasterPasswordAdvanced(ctx context.Context, pw string, opts ValidateOptions) error {
	minLen := opts.MinLength
	if minLen <= 0 {
		minLen = 12
	}
	if err := validateComposition(pw, minLen); err != nil {
		return err
	}

	if opts.MinZXCVBNScore > 0 {
		res := zxcvbn.PasswordStrength(pw, opts.UserInputs)
		if res.Score < opts.MinZXCVBNScore {
			return fmt.Errorf("%w: strength score %d is below %d", ErrWeakPassphrase, res.Score, opts.MinZXCVBNScore)
		}
	}

	if opts.EnableHIBP {
		checker := opts.Breaches
		if checker == nil {
			checker = NewHIBP()
		}
		count, err := checker.Check(ctx, pw)
		switch {
		case err != nil && opts.FailOpen:
			return nil
		case err != nil:
			return fmt.Errorf("breach lookup: %w", err)
		case count > 0:
			return fmt.Errorf("%w (%d times)", ErrBreachedPassphrase, count)
		}
	}
	return nil
}

// Policy adapts ValidateOptions to the vault's passphrase policy hook.
type Policy struct {
	Options ValidateOptions
}

// NewPolicy returns a Policy with opts.
func NewPolicy(opts ValidateOptions) *Policy {
	return &Policy{Options: opts}
}

// Validate implements vault.PassphrasePolicy.
func (p *Policy) Validate(ctx context.Context, passphrase string) error {
	return ValidateMasterPasswordAdvanced(ctx, passphrase, p.Options)
}

func hasUpper(s string) bool {
	for _, r := range s {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func hasSpecial(s string) bool {
	for _, r := range s {
		if strings.ContainsRune(specialChars, r) {
			return true
		}
	}
	return false
}
