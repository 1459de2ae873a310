package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bfte-project/bfte/consensus"
	"github.com/bfte-project/bfte/crypto"
)

// Client issues the three pull RPCs against a fixed, known set of peer
// addresses — BFTE federations are small and mutually known (spec.md
// Overview), so there is no discovery layer, just a static address book.
type Client struct {
	httpClient *http.Client
	addresses  map[crypto.PeerId]string
}

// NewClient builds a Client. addresses maps each peer's identity to its base
// URL (e.g. "https://peer-b.example:8443"); httpClient is used as given, so
// callers control timeouts, TLS config, and connection pooling.
func NewClient(httpClient *http.Client, addresses map[crypto.PeerId]string) *Client {
	return &Client{httpClient: httpClient, addresses: addresses}
}

var _ Puller = (*Client)(nil)

func (c *Client) baseURL(peer crypto.PeerId) (string, error) {
	addr, ok := c.addresses[peer]
	if !ok {
		return "", fmt.Errorf("transport: no address known for peer %s", peer)
	}
	return addr, nil
}

// GetProposalOrVotes pulls peer's proposal and/or votes for round.
func (c *Client) GetProposalOrVotes(ctx context.Context, peer crypto.PeerId, round consensus.Round) (*consensus.Block, []consensus.Vote, error) {
	base, err := c.baseURL(peer)
	if err != nil {
		return nil, nil, err
	}
	url := fmt.Sprintf("%s/v1/rounds/%d/proposal-or-votes", base, round)
	var resp proposalOrVotesResponse
	found, err := c.getJSON(ctx, url, &resp)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	return resp.Block, resp.Votes, nil
}

// GetNotarizedSince pulls every notarization peer holds from round onward.
func (c *Client) GetNotarizedSince(ctx context.Context, peer crypto.PeerId, round consensus.Round) ([]NotarizedItem, error) {
	base, err := c.baseURL(peer)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/rounds/%d/notarized-since", base, round)
	var items []NotarizedItem
	if _, err := c.getJSON(ctx, url, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// GetFinalizationVotes pulls peer's current finalization votes.
func (c *Client) GetFinalizationVotes(ctx context.Context, peer crypto.PeerId) ([]consensus.FinalizationVote, error) {
	base, err := c.baseURL(peer)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/finalization-votes", base)
	var votes []consensus.FinalizationVote
	if _, err := c.getJSON(ctx, url, &votes); err != nil {
		return nil, err
	}
	return votes, nil
}

// getJSON issues a GET and decodes a JSON body into out. found is false (and
// out untouched) on a 204 No Content response, the server's "nothing here
// yet" signal.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("transport: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("transport: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("transport: %s returned status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("transport: decode %s: %w", url, err)
	}
	return true, nil
}
