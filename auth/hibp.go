package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	hibpRangeURL  = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent = "vaultcore/0.1"
)

// HIBPResult captures whether a password hash suffix was found in the HIBP dataset.
type HIBPResult struct {
	Found bool
	Count int
}

// HIBP queries the Have I Been Pwned range API using k-anonymity. Only the
// first five hex characters of SHA1(pw) leave the process.
type HIBP struct {
	BaseURL string
	Client  *http.Client
}

// NewHIBP returns a checker against the public API with a short timeout.
func NewHIBP() *HIBP {
	return &HIBP{
		BaseURL: hibpRangeURL,
		Client:  &http.Client{Timeout: 4 * time.Second},
	}
}

// Check implements BreachChecker.
func (h *HIBP) Check(ctx context.Context, pw string) (int, error) {
	res, err := h.Lookup(ctx, pw)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Lookup fetches the range for the hash prefix and scans the
// "SUFFIX:COUNT" lines for our suffix, case-insensitively.
func (h *HIBP) Lookup(ctx context.Context, pw string) (HIBPResult, error) {
	var result HIBPResult

	sum := sha1.Sum([]byte(pw))
	hashHex := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix := hashHex[:5]
	suffix := hashHex[5:]

	base := h.BaseURL
	if base == "" {
		base = hibpRangeURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+prefix, nil)
	if err != nil {
		return result, fmt.Errorf("hibp request: %w", err)
	}
	req.Header.Set("User-Agent", hibpUserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := client.Do(req)
	if err != nil {
		return result, fmt.Errorf("hibp query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("hibp query: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineSuffix, countStr, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(lineSuffix, suffix) {
			continue
		}

		count, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil {
			return result, fmt.Errorf("hibp parse count: %w", err)
		}
		// Padding rows carry a zero count.
		if count == 0 {
			continue
		}
		result.Found = true
		result.Count = count
		return result, nil
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("hibp read response: %w", err)
	}
	return result, nil
}
