package relayclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/semaphore"

	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
)

// defaultMaxInFlight bounds concurrent outbound HTTP calls this client will
// have open at once (DOMAIN STACK: golang.org/x/sync/semaphore).
const defaultMaxInFlight = 8

// Client is an HTTP-backed domain.SessionTransport.
type Client struct {
	baseURL string
	http    *http.Client
	sem     *semaphore.Weighted
}

// New returns a Client against baseURL (e.g. "http://127.0.0.1:8080"). If
// httpClient is nil, http.DefaultClient is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient, sem: semaphore.NewWeighted(defaultMaxInFlight)}
}

var _ domain.SessionTransport = (*Client)(nil)

func (c *Client) acquire(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

func (c *Client) release() { c.sem.Release(1) }

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("relayclient: acquire: %w", err)
	}
	defer c.release()

	var reader io.Reader
	if body != nil {
		b, err := bson.Marshal(body)
		if err != nil {
			return fmt.Errorf("relayclient: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("relayclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/bson")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relayclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relayclient: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrCommunicationNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("relayclient: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return fmt.Errorf("relayclient: decode response: %w", err)
	}
	return nil
}

// IsViable pings the relay's health endpoint with a short timeout.
func (c *Client) IsViable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusNoContent
}

type sendMessageRequest struct {
	Message  domain.SignedRatchetMessage         `bson:"message"`
	Metadata domain.SignedRatchetMessageMetadata `bson:"metadata"`
}

func (c *Client) SendMessage(ctx context.Context, message domain.SignedRatchetMessage, metadata domain.SignedRatchetMessageMetadata) error {
	path := fmt.Sprintf("/message/%s/%s", url.PathEscape(string(metadata.RecipientSecretName)), metadata.RecipientDeviceID.String())
	return c.do(ctx, http.MethodPost, path, sendMessageRequest{Message: message, Metadata: metadata}, nil)
}

func (c *Client) FindConfiguration(ctx context.Context, secretName domain.SecretName) (domain.UserConfiguration, error) {
	var out domain.UserConfiguration
	path := fmt.Sprintf("/config/%s", url.PathEscape(string(secretName)))
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

type publishConfigRequest struct {
	Configuration domain.UserConfiguration `bson:"configuration"`
	Recipient     uuid.UUID                `bson:"recipient"`
}

func (c *Client) PublishUserConfiguration(ctx context.Context, configuration domain.UserConfiguration, recipient uuid.UUID) error {
	path := fmt.Sprintf("/config/%s", url.PathEscape(string(configuration.SecretName)))
	return c.do(ctx, http.MethodPost, path, publishConfigRequest{Configuration: configuration, Recipient: recipient}, nil)
}

func keysPath(secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType) string {
	kindName := "curve"
	if kind == interfaces.KeysTypeKyber {
		kindName = "kyber"
	}
	return fmt.Sprintf("/keys/%s/%s/%s", kindName, url.PathEscape(string(secretName)), deviceID.String())
}

func (c *Client) FetchOneTimeKey(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType) ([]byte, error) {
	var out struct {
		Key []byte `bson:"key"`
	}
	if err := c.do(ctx, http.MethodGet, keysPath(secretName, deviceID, kind)+"/one", nil, &out); err != nil {
		return nil, err
	}
	return out.Key, nil
}

func (c *Client) FetchIdentities(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType) ([][]byte, error) {
	var out struct {
		Keys [][]byte `bson:"keys"`
	}
	if err := c.do(ctx, http.MethodGet, keysPath(secretName, deviceID, kind), nil, &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

type updateKeysRequest struct {
	Keys [][]byte `bson:"keys"`
}

func (c *Client) UpdateOneTimeKeys(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, signedPublicKeys [][]byte) error {
	return c.do(ctx, http.MethodPost, keysPath(secretName, deviceID, kind), updateKeysRequest{Keys: signedPublicKeys}, nil)
}

func (c *Client) DeleteOneTimeKey(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, id uuid.UUID) error {
	path := fmt.Sprintf("%s/%s", keysPath(secretName, deviceID, kind), id.String())
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

type batchDeleteRequest struct {
	IDs []uuid.UUID `bson:"ids"`
}

func (c *Client) BatchDeleteOneTimeKeys(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, ids []uuid.UUID) error {
	path := keysPath(secretName, deviceID, kind) + "/batch-delete"
	return c.do(ctx, http.MethodPost, path, batchDeleteRequest{IDs: ids}, nil)
}

func (c *Client) PublishRotatedKeys(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, keys interfaces.RotatedPublicKeys) error {
	path := fmt.Sprintf("/keys/rotated/%s/%s", url.PathEscape(string(secretName)), deviceID.String())
	return c.do(ctx, http.MethodPost, path, keys, nil)
}

type uploadPacketRequest struct {
	Recipient uuid.UUID         `bson:"recipient"`
	Metadata  map[string]string `bson:"metadata"`
}

func (c *Client) CreateUploadPacket(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, recipient uuid.UUID, metadata map[string]string) (interfaces.UploadPacket, error) {
	var out interfaces.UploadPacket
	path := fmt.Sprintf("/upload/%s/%s", url.PathEscape(string(secretName)), deviceID.String())
	err := c.do(ctx, http.MethodPost, path, uploadPacketRequest{Recipient: recipient, Metadata: metadata}, &out)
	return out, err
}

// FetchInbox and AckInbox are not part of domain.SessionTransport: the core
// is pushed inbound messages by whatever polls the relay (cmd/sessionctl's
// pump command), not by the transport itself. They let that poller drain a
// device's queued messages and then drop the ones it has handed off.

// InboxEntry pairs a queued envelope with its (unencrypted) routing
// metadata, so a poller can learn the sender via
// domain.SessionDelegate.RetrieveUserInfo(entry.Metadata.TransportInfo)
// before ever touching the ratchet.
type InboxEntry struct {
	Message  domain.SignedRatchetMessage         `bson:"message"`
	Metadata domain.SignedRatchetMessageMetadata `bson:"metadata"`
}

func (c *Client) FetchInbox(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, limit int) ([]InboxEntry, error) {
	var out struct {
		Messages []InboxEntry `bson:"messages"`
	}
	path := fmt.Sprintf("/inbox/%s/%s", url.PathEscape(string(secretName)), deviceID.String())
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Messages, err
}

type ackInboxRequest struct {
	Count int `bson:"count"`
}

func (c *Client) AckInbox(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, count int) error {
	path := fmt.Sprintf("/inbox/%s/%s/ack", url.PathEscape(string(secretName)), deviceID.String())
	return c.do(ctx, http.MethodPost, path, ackInboxRequest{Count: count}, nil)
}
