// indexer.go - HTTP client for the remote relayer/indexer read surface.
//
// Serves encrypted-output listings, the authoritative Merkle tree state,
// membership paths, and existence checks. Transport is plain JSON over HTTP;
// field elements travel as decimal strings and byte blobs as hex.

package indexer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// TreeState is the authoritative remote Merkle state at a point in time.
type TreeState struct {
	Root      *big.Int
	NextIndex uint64
}

// MembershipProof is the sibling path proving a commitment's inclusion in
// the tree at a given root, one entry per level.
type MembershipProof struct {
	PathElements []*big.Int
	PathIndices  []uint8
}

// Client talks to the indexer read endpoints.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     zerolog.Logger
}

// New creates an indexer client for the given base URL.
func New(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "indexer").Logger(),
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func (c *Client) WithHTTPClient(httpc *http.Client) *Client {
	c.httpc = httpc
	return c
}

// FetchOutputs returns the encrypted outputs for owner starting at offset,
// in index order. token scopes the query to an SPL-style pool.
func (c *Client) FetchOutputs(ctx context.Context, owner string, offset uint64, token string) ([][]byte, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("offset", strconv.FormatUint(offset, 10))
	if token != "" {
		q.Set("token", token)
	}
	var encoded []string
	if err := c.getJSON(ctx, "/utxos?"+q.Encode(), &encoded); err != nil {
		return nil, err
	}
	outputs := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		blob, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("malformed encrypted output at %d: %w", offset+uint64(i), err)
		}
		outputs = append(outputs, blob)
	}
	c.log.Debug().Str("owner", owner).Uint64("offset", offset).Int("count", len(outputs)).Msg("fetched encrypted outputs")
	return outputs, nil
}

// TreeState fetches the current Merkle root and next free leaf index.
func (c *Client) TreeState(ctx context.Context) (*TreeState, error) {
	var resp struct {
		Root      string `json:"root"`
		NextIndex uint64 `json:"nextIndex"`
	}
	if err := c.getJSON(ctx, "/tree/state", &resp); err != nil {
		return nil, err
	}
	root, ok := new(big.Int).SetString(resp.Root, 10)
	if !ok {
		return nil, fmt.Errorf("malformed tree root %q", resp.Root)
	}
	return &TreeState{Root: root, NextIndex: resp.NextIndex}, nil
}

// MembershipProof fetches the sibling path for the given leaf.
func (c *Client) MembershipProof(ctx context.Context, leafIndex uint64) (*MembershipProof, error) {
	var resp struct {
		PathElements []string `json:"pathElements"`
		PathIndices  []uint8  `json:"pathIndices"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/proof/%d", leafIndex), &resp); err != nil {
		return nil, err
	}
	if len(resp.PathElements) != len(resp.PathIndices) {
		return nil, fmt.Errorf("membership proof level mismatch: %d elements, %d indices",
			len(resp.PathElements), len(resp.PathIndices))
	}
	proof := &MembershipProof{
		PathElements: make([]*big.Int, len(resp.PathElements)),
		PathIndices:  resp.PathIndices,
	}
	for i, s := range resp.PathElements {
		e, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("malformed path element %q at level %d", s, i)
		}
		proof.PathElements[i] = e
	}
	return proof, nil
}

// CheckOutput reports whether the encrypted output has been indexed.
func (c *Client) CheckOutput(ctx context.Context, encryptedOutput []byte, token string) (bool, error) {
	path := "/utxos/check/" + hex.EncodeToString(encryptedOutput)
	if token != "" {
		path += "?token=" + url.QueryEscape(token)
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// CheckNullifier reports whether the nullifier has already appeared
// on-chain, i.e. the corresponding note is spent.
func (c *Client) CheckNullifier(ctx context.Context, nullifier *big.Int, token string) (bool, error) {
	path := "/nullifiers/check/" + hex.EncodeToString(nullifier.Bytes())
	if token != "" {
		path += "?token=" + url.QueryEscape(token)
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("request build failed: %w", err)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("indexer request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("indexer returned %d: %s", resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("indexer response decode failed: %w", err)
	}
	return nil
}
