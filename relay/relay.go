// relay.go - Relay submission and confirmation polling.
//
// A signed transaction is POSTed to the relayer exactly once. On acceptance
// the client polls an existence check for the new note's encrypted output
// until it is indexed, bounded by a fixed retry budget. The poll retries
// the read only; the write is never retried.

package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/veilpool/veil/txbuilder"
)

const (
	// DefaultConfirmInterval is the spacing between existence checks.
	DefaultConfirmInterval = 2 * time.Second
	// DefaultConfirmAttempts bounds the number of existence checks.
	DefaultConfirmAttempts = 10
)

// RelayRejectedError reports a non-success relayer response. The body is
// kept verbatim for diagnostics.
type RelayRejectedError struct {
	StatusCode int
	Body       string
}

func (e *RelayRejectedError) Error() string {
	return fmt.Sprintf("relayer rejected submission (%d): %s", e.StatusCode, e.Body)
}

// ConfirmationTimeoutError reports an exhausted confirmation budget. The
// outcome is ambiguous: funds may have moved even though confirmation was
// not observed, so the guidance is to re-check balance, not to retry the
// operation.
type ConfirmationTimeoutError struct {
	Attempts int
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("transaction not confirmed after %d existence checks; re-check balance before retrying", e.Attempts)
}

// ExistenceChecker is the indexer read the confirmation loop polls.
type ExistenceChecker interface {
	CheckOutput(ctx context.Context, encryptedOutput []byte, token string) (bool, error)
}

// Submission is a signed transaction plus the relay-side metadata.
type Submission struct {
	Tx       *txbuilder.Transaction
	Metadata *txbuilder.Metadata
	// Token scopes the existence check to an SPL-style pool.
	Token string
	// Withdraw routes the submission to the withdrawal endpoint.
	Withdraw bool
}

func (s *Submission) path() string {
	p := "/deposit"
	if s.Withdraw {
		p = "/withdraw"
	}
	if s.Metadata.MintAddress != "" {
		p += "/spl"
	}
	return p
}

// Client submits transactions to the relayer and confirms indexing.
type Client struct {
	baseURL  string
	httpc    *http.Client
	checker  ExistenceChecker
	interval time.Duration
	attempts int
	log      zerolog.Logger
}

// New creates a relay client with the default confirmation budget.
func New(baseURL string, checker ExistenceChecker, log zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		httpc:    &http.Client{Timeout: 30 * time.Second},
		checker:  checker,
		interval: DefaultConfirmInterval,
		attempts: DefaultConfirmAttempts,
		log:      log.With().Str("component", "relay").Logger(),
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(httpc *http.Client) *Client {
	c.httpc = httpc
	return c
}

// WithConfirmation overrides the polling interval and attempt budget.
func (c *Client) WithConfirmation(interval time.Duration, attempts int) *Client {
	c.interval = interval
	c.attempts = attempts
	return c
}

type submitRequest struct {
	SignedTransaction     string `json:"signedTransaction"`
	SenderAddress         string `json:"senderAddress"`
	EncryptedOutput       string `json:"encryptedOutput"`
	OwnerPublicKey        string `json:"ownerPublicKey,omitempty"`
	ReferralWalletAddress string `json:"referralWalletAddress,omitempty"`
	MintAddress           string `json:"mintAddress,omitempty"`
}

type submitResponse struct {
	Signature string `json:"signature"`
	Success   bool   `json:"success"`
}

// SubmitAndConfirm relays the signed transaction and waits for the new
// note's encrypted output to be indexed. Returns the ledger transaction
// signature.
func (c *Client) SubmitAndConfirm(ctx context.Context, sub *Submission) (string, error) {
	sig, err := c.Submit(ctx, sub)
	if err != nil {
		return "", err
	}
	if err := c.Confirm(sub); err != nil {
		return "", err
	}
	return sig, nil
}

// Submit POSTs the signed transaction to the relayer exactly once and
// returns the ledger signature it reports. A non-success response yields
// *RelayRejectedError; the write is never retried.
func (c *Client) Submit(ctx context.Context, sub *Submission) (string, error) {
	if !sub.Tx.IsSigned() {
		return "", fmt.Errorf("refusing to relay an unsigned transaction")
	}

	body, err := json.Marshal(submitRequest{
		SignedTransaction:     base64.StdEncoding.EncodeToString(sub.Tx.Serialize()),
		SenderAddress:         sub.Tx.Signer,
		EncryptedOutput:       base64.StdEncoding.EncodeToString(sub.Metadata.EncryptedOutput),
		OwnerPublicKey:        sub.Metadata.OwnerPublicKey,
		ReferralWalletAddress: sub.Metadata.Referrer,
		MintAddress:           sub.Metadata.MintAddress,
	})
	if err != nil {
		return "", fmt.Errorf("submission encode failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sub.path(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("submission request build failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RelayRejectedError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	var accepted submitResponse
	if err := json.Unmarshal(respBody, &accepted); err != nil {
		return "", fmt.Errorf("relay response decode failed: %w", err)
	}
	c.log.Info().Str("signature", accepted.Signature).Msg("transaction relayed")
	return accepted.Signature, nil
}

var errNotYetIndexed = errors.New("encrypted output not indexed yet")

// Confirm polls the existence check at fixed spacing until the output is
// indexed or the budget is exhausted. The submission is in flight on-chain,
// so the caller's cancellation is deliberately not honored here: an
// ambiguous abort is worse than a late answer.
func (c *Client) Confirm(sub *Submission) error {
	check := func() error {
		exists, err := c.checker.CheckOutput(context.Background(), sub.Metadata.EncryptedOutput, sub.Token)
		if err != nil {
			return err
		}
		if !exists {
			return errNotYetIndexed
		}
		return nil
	}
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), uint64(c.attempts-1))
	if err := backoff.Retry(check, policy); err != nil {
		c.log.Warn().Int("attempts", c.attempts).Msg("confirmation budget exhausted")
		return &ConfirmationTimeoutError{Attempts: c.attempts}
	}
	return nil
}
