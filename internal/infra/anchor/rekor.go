package anchor

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodia/internal/domain"
	cryptoinfra "custodia/internal/infra/crypto"
)

// RekorClient anchors checkpoint payloads into a Rekor transparency log as
// hashedrekord entries. The entry UUID becomes the proof's txId and the log
// index its blockNumber.
type RekorClient struct {
	baseURL string
	network string
	key     cryptoinfra.KeyPair
	httpDo  func(*http.Request) (*http.Response, error)
}

func NewRekorClient(baseURL string, key cryptoinfra.KeyPair, httpClient *http.Client) (*RekorClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("rekor base url is required")
	}
	if len(key.PrivateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("rekor signing key is required")
	}
	doer := http.DefaultClient.Do
	if httpClient != nil {
		doer = httpClient.Do
	}
	return &RekorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		network: "rekor:" + strings.TrimRight(baseURL, "/"),
		key:     key,
		httpDo:  doer,
	}, nil
}

func (c *RekorClient) Submit(ctx context.Context, payload []byte) (domain.AnchorProof, error) {
	hashHex := cryptoinfra.SHA256Hex(payload)
	signature := ed25519.Sign(c.key.PrivateKey, payload)

	entry := hashedRekord{
		APIVersion: "0.0.1",
		Kind:       "hashedrekord",
		Spec: hashedRekordSpec{
			Data: hashedRekordData{
				Hash: hashedRekordHash{Algorithm: "sha256", Value: hashHex},
			},
			Signature: hashedRekordSignature{
				Content: base64.StdEncoding.EncodeToString(signature),
				PublicKey: hashedRekordPublicKey{
					Content: base64.StdEncoding.EncodeToString(c.key.PublicKey),
				},
			},
		},
	}
	postBody, err := json.Marshal(entry)
	if err != nil {
		return domain.AnchorProof{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/log/entries", bytes.NewReader(postBody))
	if err != nil {
		return domain.AnchorProof{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpDo(req)
	if err != nil {
		return domain.AnchorProof{}, fmt.Errorf("rekor submit: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.AnchorProof{}, fmt.Errorf("rekor submit: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AnchorProof{}, fmt.Errorf("rekor submit: status %d", resp.StatusCode)
	}

	uuid, meta := parseEntry(body)
	if uuid == "" {
		return domain.AnchorProof{}, errors.New("rekor submit: no entry uuid in response")
	}
	proof := domain.AnchorProof{
		NetworkID:   c.network,
		TxID:        uuid,
		BlockNumber: meta.LogIndex,
		Confirmed:   meta.IntegratedTime > 0,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if proof.Confirmed {
		proof.Confirmations = 1
	}
	return proof, nil
}

func (c *RekorClient) Status(ctx context.Context, proof domain.AnchorProof) (domain.AnchorProof, error) {
	if proof.TxID == "" {
		return proof, errors.New("rekor status: proof has no txId")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/log/entries/"+proof.TxID, nil)
	if err != nil {
		return proof, err
	}
	resp, err := c.httpDo(req)
	if err != nil {
		return proof, fmt.Errorf("rekor status: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return proof, fmt.Errorf("rekor status: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proof, fmt.Errorf("rekor status: status %d", resp.StatusCode)
	}
	_, meta := parseEntry(body)
	if meta.IntegratedTime > 0 {
		proof.Confirmed = true
		proof.Confirmations = 1
		proof.BlockNumber = meta.LogIndex
	}
	return proof, nil
}

type entryMeta struct {
	LogIndex       int64 `json:"logIndex"`
	IntegratedTime int64 `json:"integratedTime"`
}

func parseEntry(payload []byte) (string, entryMeta) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", entryMeta{}
	}
	for key, value := range raw {
		var meta entryMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return key, entryMeta{}
		}
		return key, meta
	}
	return "", entryMeta{}
}

type hashedRekord struct {
	APIVersion string           `json:"apiVersion"`
	Kind       string           `json:"kind"`
	Spec       hashedRekordSpec `json:"spec"`
}

type hashedRekordSpec struct {
	Data      hashedRekordData      `json:"data"`
	Signature hashedRekordSignature `json:"signature"`
}

type hashedRekordData struct {
	Hash hashedRekordHash `json:"hash"`
}

type hashedRekordHash struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

type hashedRekordSignature struct {
	Content   string                `json:"content"`
	PublicKey hashedRekordPublicKey `json:"publicKey"`
}

type hashedRekordPublicKey struct {
	Content string `json:"content"`
}
