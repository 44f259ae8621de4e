package session

import (
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName = "session"
	tokenKey   = "jwtToken"
	emailKey   = "userEmail"
)

// Store defines the interface for durable credential persistence.
// Change events carry the new token value; an empty value means the
// credential was removed. That event is the only cross-terminal
// synchronization signal.
type Store interface {
	// Load reads the persisted credential. ok is false when either the
	// token or the email is missing.
	Load() (cred Credential, ok bool, err error)

	// Save writes token and email atomically.
	Save(cred Credential) error

	// Clear removes the persisted credential.
	Clear() error

	// Subscribe returns a channel of token-change events.
	Subscribe() <-chan string

	// Close closes the store.
	Close() error
}

// BoltStore implements the Store interface using BoltDB.
type BoltStore struct {
	db *bbolt.DB

	mu   sync.Mutex
	subs []chan string
}

// NewBoltStore opens (or creates) the credential database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load reads the persisted credential. Partial data (token without
// email, or vice versa) reads as absent and is left untouched.
func (s *BoltStore) Load() (Credential, bool, error) {
	var cred Credential
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		cred.Token = string(bucket.Get([]byte(tokenKey)))
		cred.Email = string(bucket.Get([]byte(emailKey)))
		return nil
	})
	if err != nil {
		return Credential{}, false, fmt.Errorf("loading credential: %w", err)
	}
	if cred.Token == "" || cred.Email == "" {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

// Save writes both credential fields in a single transaction.
func (s *BoltStore) Save(cred Credential) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if err := bucket.Put([]byte(tokenKey), []byte(cred.Token)); err != nil {
			return err
		}
		return bucket.Put([]byte(emailKey), []byte(cred.Email))
	})
	if err != nil {
		return fmt.Errorf("saving credential: %w", err)
	}
	s.notify(cred.Token)
	return nil
}

// Clear removes both credential fields in a single transaction.
func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if err := bucket.Delete([]byte(tokenKey)); err != nil {
			return err
		}
		return bucket.Delete([]byte(emailKey))
	})
	if err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	s.notify("")
	return nil
}

// Subscribe registers a listener for token-change events.
func (s *BoltStore) Subscribe() <-chan string {
	ch := make(chan string, 8)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// notify fans out a token-change event. Sends never block; a slow
// subscriber misses intermediate values rather than stalling writers.
func (s *BoltStore) notify(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- token:
		default:
		}
	}
}

// Close closes the database connection.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
