package memstore

import (
	"context"
	"iter"
	"sync"

	"github.com/google/uuid"

	"pqsession/internal/domain"
)

// Store is a mutex-protected, map-backed domain.SessionStore.
type Store struct {
	mu sync.Mutex

	sessionContext   *domain.EncryptedBlob
	deviceSalt       []byte
	identities       map[uuid.UUID]domain.EncryptedBlob
	contacts         map[uuid.UUID]domain.EncryptedBlob
	communications   map[uuid.UUID]domain.EncryptedBlob
	messages         map[uuid.UUID]domain.EncryptedBlob
	messagesByShared map[domain.SharedID]uuid.UUID
	messagesByComm   map[uuid.UUID][]uuid.UUID
	jobs             map[uuid.UUID]domain.EncryptedBlob
	mediaJobs        map[uuid.UUID]domain.EncryptedBlob
	mediaBySync      map[uuid.UUID]uuid.UUID
	mediaByRecipient map[uuid.UUID][]uuid.UUID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		identities:       make(map[uuid.UUID]domain.EncryptedBlob),
		contacts:         make(map[uuid.UUID]domain.EncryptedBlob),
		communications:   make(map[uuid.UUID]domain.EncryptedBlob),
		messages:         make(map[uuid.UUID]domain.EncryptedBlob),
		messagesByShared: make(map[domain.SharedID]uuid.UUID),
		messagesByComm:   make(map[uuid.UUID][]uuid.UUID),
		jobs:             make(map[uuid.UUID]domain.EncryptedBlob),
		mediaJobs:        make(map[uuid.UUID]domain.EncryptedBlob),
		mediaBySync:      make(map[uuid.UUID]uuid.UUID),
		mediaByRecipient: make(map[uuid.UUID][]uuid.UUID),
	}
}

var _ domain.SessionStore = (*Store)(nil)

func (s *Store) CreateSessionContext(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext = &blob
	return nil
}

func (s *Store) FetchSessionContext(_ context.Context) (domain.EncryptedBlob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionContext == nil {
		return domain.EncryptedBlob{}, false, nil
	}
	return *s.sessionContext, true, nil
}

func (s *Store) UpdateSessionContext(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext = &blob
	return nil
}

func (s *Store) DeleteSessionContext(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext = nil
	return nil
}

func (s *Store) FetchDeviceSalt(_ context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceSalt == nil {
		return nil, false, nil
	}
	return s.deviceSalt, true, nil
}

func (s *Store) DeleteDeviceSalt(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceSalt = nil
	return nil
}

func (s *Store) CreateIdentity(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[blob.ID] = blob
	return nil
}

func (s *Store) FetchAllIdentities(_ context.Context) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.identities), nil
}

func (s *Store) UpdateIdentity(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[blob.ID] = blob
	return nil
}

func (s *Store) DeleteIdentity(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.identities, id)
	return nil
}

func (s *Store) CreateContact(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[blob.ID] = blob
	return nil
}

func (s *Store) FetchAllContacts(_ context.Context) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.contacts), nil
}

func (s *Store) UpdateContact(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[blob.ID] = blob
	return nil
}

func (s *Store) DeleteContact(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
	return nil
}

func (s *Store) CreateCommunication(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications[blob.ID] = blob
	return nil
}

func (s *Store) FetchAllCommunications(_ context.Context) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.communications), nil
}

func (s *Store) UpdateCommunication(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communications[blob.ID] = blob
	return nil
}

func (s *Store) DeleteCommunication(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.communications, id)
	return nil
}

func (s *Store) CreateMessage(_ context.Context, blob domain.EncryptedBlob, communicationID uuid.UUID, sharedID domain.SharedID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[blob.ID] = blob
	s.messagesByComm[communicationID] = append(s.messagesByComm[communicationID], blob.ID)
	if sharedID != "" {
		s.messagesByShared[sharedID] = blob.ID
	}
	return nil
}

func (s *Store) UpdateMessage(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[blob.ID] = blob
	return nil
}

func (s *Store) DeleteMessage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, id)
	return nil
}

func (s *Store) FetchMessageByID(_ context.Context, id uuid.UUID) (domain.EncryptedBlob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.messages[id]
	return blob, ok, nil
}

func (s *Store) FetchMessageBySharedID(_ context.Context, sharedID domain.SharedID) (domain.EncryptedBlob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.messagesByShared[sharedID]
	if !ok {
		return domain.EncryptedBlob{}, false, nil
	}
	blob, ok := s.messages[id]
	return blob, ok, nil
}

func (s *Store) StreamMessagesByCommunication(_ context.Context, communicationID uuid.UUID) iter.Seq2[domain.EncryptedBlob, error] {
	s.mu.Lock()
	ids := append([]uuid.UUID(nil), s.messagesByComm[communicationID]...)
	s.mu.Unlock()

	return func(yield func(domain.EncryptedBlob, error) bool) {
		for _, id := range ids {
			s.mu.Lock()
			blob, ok := s.messages[id]
			s.mu.Unlock()
			if !ok {
				continue
			}
			if !yield(blob, nil) {
				return
			}
		}
	}
}

func (s *Store) CountMessagesByCommunication(_ context.Context, communicationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messagesByComm[communicationID])), nil
}

func (s *Store) CreateJob(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[blob.ID] = blob
	return nil
}

func (s *Store) FetchAllJobs(_ context.Context) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.jobs), nil
}

func (s *Store) UpdateJob(_ context.Context, blob domain.EncryptedBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[blob.ID] = blob
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *Store) CreateMediaJob(_ context.Context, blob domain.EncryptedBlob, recipientID uuid.UUID, syncID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaJobs[blob.ID] = blob
	s.mediaByRecipient[recipientID] = append(s.mediaByRecipient[recipientID], blob.ID)
	s.mediaBySync[syncID] = blob.ID
	return nil
}

func (s *Store) FetchMediaJobsByRecipient(_ context.Context, recipientID uuid.UUID) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.mediaByRecipient[recipientID]
	out := make([]domain.EncryptedBlob, 0, len(ids))
	for _, id := range ids {
		if blob, ok := s.mediaJobs[id]; ok {
			out = append(out, blob)
		}
	}
	return out, nil
}

func (s *Store) FetchMediaJobBySyncID(_ context.Context, syncID uuid.UUID) (domain.EncryptedBlob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mediaBySync[syncID]
	if !ok {
		return domain.EncryptedBlob{}, false, nil
	}
	blob, ok := s.mediaJobs[id]
	return blob, ok, nil
}

func (s *Store) FetchAllMediaJobs(_ context.Context) ([]domain.EncryptedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return values(s.mediaJobs), nil
}

func (s *Store) FetchMediaJobByID(_ context.Context, id uuid.UUID) (domain.EncryptedBlob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.mediaJobs[id]
	return blob, ok, nil
}

func (s *Store) DeleteMediaJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mediaJobs, id)
	return nil
}

func values(m map[uuid.UUID]domain.EncryptedBlob) []domain.EncryptedBlob {
	out := make([]domain.EncryptedBlob, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
