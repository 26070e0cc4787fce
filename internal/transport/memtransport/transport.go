package memtransport

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"pqsession/internal/domain"
	"pqsession/internal/domain/interfaces"
)

// Delivery is one message handed to SendMessage, recorded so a test or demo
// driver can pull it out and feed it to the recipient's own inbound path.
type Delivery struct {
	Message  domain.SignedRatchetMessage
	Metadata domain.SignedRatchetMessageMetadata
}

// Network is the shared state two or more Transport instances exchange
// messages and configurations through. It has no concept of "devices"
// beyond the SecretName/DeviceID pairs callers pass in.
type Network struct {
	mu           sync.Mutex
	configs      map[domain.SecretName]domain.UserConfiguration
	oneTimeKeys  map[oneTimeKeysKey][][]byte
	deliveries   []Delivery
	rotatedKeys  map[deviceKey]interfaces.RotatedPublicKeys
	uploadPacket uint64
}

type oneTimeKeysKey struct {
	secretName domain.SecretName
	deviceID   domain.DeviceID
	kind       interfaces.KeysType
}

type deviceKey struct {
	secretName domain.SecretName
	deviceID   domain.DeviceID
}

// NewNetwork returns an empty shared network.
func NewNetwork() *Network {
	return &Network{
		configs:     make(map[domain.SecretName]domain.UserConfiguration),
		oneTimeKeys: make(map[oneTimeKeysKey][][]byte),
		rotatedKeys: make(map[deviceKey]interfaces.RotatedPublicKeys),
	}
}

// Deliveries drains and returns every message sent through this network
// since the last call.
func (n *Network) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.deliveries
	n.deliveries = nil
	return out
}

// Transport is a domain.SessionTransport bound to one shared Network. Viable
// defaults to true and can be flipped to simulate offline handling.
type Transport struct {
	Viable  bool
	network *Network
}

// New returns a viable transport attached to network.
func New(network *Network) *Transport {
	return &Transport{Viable: true, network: network}
}

var _ domain.SessionTransport = (*Transport)(nil)

func (t *Transport) IsViable(_ context.Context) bool { return t.Viable }

func (t *Transport) SendMessage(_ context.Context, message domain.SignedRatchetMessage, metadata domain.SignedRatchetMessageMetadata) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.network.deliveries = append(t.network.deliveries, Delivery{Message: message, Metadata: metadata})
	return nil
}

func (t *Transport) FindConfiguration(_ context.Context, secretName domain.SecretName) (domain.UserConfiguration, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	config, ok := t.network.configs[secretName]
	if !ok {
		return domain.UserConfiguration{}, errors.New("memtransport: no configuration published for secret name")
	}
	return config, nil
}

func (t *Transport) PublishUserConfiguration(_ context.Context, configuration domain.UserConfiguration, _ uuid.UUID) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.network.configs[configuration.SecretName] = configuration
	return nil
}

func (t *Transport) FetchOneTimeKey(_ context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType) ([]byte, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	key := oneTimeKeysKey{secretName, deviceID, kind}
	keys := t.network.oneTimeKeys[key]
	if len(keys) == 0 {
		return nil, nil
	}
	return keys[0], nil
}

func (t *Transport) FetchIdentities(_ context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType) ([][]byte, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	return t.network.oneTimeKeys[oneTimeKeysKey{secretName, deviceID, kind}], nil
}

func (t *Transport) UpdateOneTimeKeys(_ context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, signedPublicKeys [][]byte) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	key := oneTimeKeysKey{secretName, deviceID, kind}
	t.network.oneTimeKeys[key] = append(t.network.oneTimeKeys[key], signedPublicKeys...)
	return nil
}

func (t *Transport) DeleteOneTimeKey(ctx context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, id uuid.UUID) error {
	return t.BatchDeleteOneTimeKeys(ctx, secretName, deviceID, kind, []uuid.UUID{id})
}

func (t *Transport) BatchDeleteOneTimeKeys(_ context.Context, secretName domain.SecretName, deviceID domain.DeviceID, kind interfaces.KeysType, ids []uuid.UUID) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	key := oneTimeKeysKey{secretName, deviceID, kind}
	keys := t.network.oneTimeKeys[key]
	if len(keys) == 0 {
		return nil
	}
	// The reference transport doesn't decode key ids; it just drops the
	// oldest len(ids) entries, the same end FetchOneTimeKey hands keys out
	// from. Deleting a key that is not the oldest still drops the oldest.
	if len(ids) >= len(keys) {
		delete(t.network.oneTimeKeys, key)
		return nil
	}
	t.network.oneTimeKeys[key] = keys[len(ids):]
	return nil
}

func (t *Transport) PublishRotatedKeys(_ context.Context, secretName domain.SecretName, deviceID domain.DeviceID, keys interfaces.RotatedPublicKeys) error {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.network.rotatedKeys[deviceKey{secretName, deviceID}] = keys
	return nil
}

func (t *Transport) CreateUploadPacket(_ context.Context, _ domain.SecretName, _ domain.DeviceID, _ uuid.UUID, metadata map[string]string) (interfaces.UploadPacket, error) {
	t.network.mu.Lock()
	defer t.network.mu.Unlock()
	t.network.uploadPacket++
	return interfaces.UploadPacket{ID: uuid.New(), Metadata: metadata}, nil
}
