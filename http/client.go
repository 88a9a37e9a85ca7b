package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/pkg/errors"
	"github.com/remotesigner/slashing-protector/protector"
)

type Client struct {
	http *http.Client
	url  *url.URL
}

func NewClient(httpClient *http.Client, addr string) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.Wrap(err, "url.Parse")
	}
	return &Client{
		http: httpClient,
		url:  u,
	}, nil
}

func (c *Client) RegisterValidators(ctx context.Context, pubKeys []phase0.BLSPubKey) error {
	jsonKeys := make([]jsonPubKey, len(pubKeys))
	for i, pk := range pubKeys {
		jsonKeys[i] = jsonPubKey(pk)
	}
	body, err := json.Marshal(registerValidatorsRequest{PubKeys: jsonKeys})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, "/v1/validators", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("register validators: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) SetGenesisValidatorsRoot(ctx context.Context, network string, root phase0.Root) error {
	body, err := json.Marshal(genesisRootRequest{GenesisValidatorsRoot: jsonRoot(root)})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, fmt.Sprintf("/v1/%s/genesis-root", network), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("set genesis validators root: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) CheckAttestation(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	signingRoot phase0.Root,
	attestation *phase0.AttestationData,
) (*protector.Check, error) {
	request := &checkAttestationRequest{
		PubKey:      jsonPubKey(pubKey),
		SigningRoot: jsonRoot(signingRoot),
		Data:        *attestation,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, fmt.Sprintf("/v1/%s/slashable/attestation", network), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var check checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return nil, err
	}
	if check.Error != "" {
		return nil, errors.New(check.Error)
	}
	return check.Check, nil
}

func (c *Client) CheckProposal(
	ctx context.Context,
	network string,
	pubKey phase0.BLSPubKey,
	signingRoot phase0.Root,
	slot phase0.Slot,
) (*protector.Check, error) {
	request := &checkProposalRequest{
		PubKey:      jsonPubKey(pubKey),
		SigningRoot: jsonRoot(signingRoot),
		Slot:        slot,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, fmt.Sprintf("/v1/%s/slashable/proposal", network), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var check checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		return nil, err
	}
	if check.Error != "" {
		return nil, errors.New(check.Error)
	}
	return check.Check, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost,
		c.url.ResolveReference(&url.URL{Path: path}).String(),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http.Do")
	}
	return resp, nil
}
