package mockbackend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User roles.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var (
	// ErrUserNotFound is returned when no user matches.
	ErrUserNotFound = errors.New("user_store.not_found")
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = errors.New("user_store.email_taken")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("user_store.invalid_credentials")
)

// UserRecord is a registered storefront user.
type UserRecord struct {
	ID           int64
	Name         string
	Email        string
	Role         string
	IsActive     bool
	PasswordHash []byte
	CreatedAt    time.Time
}

// UserStore keeps users in memory with bcrypt password hashes.
type UserStore struct {
	clock      Clock
	hashCost   int
	mutex      sync.RWMutex
	byID       map[int64]UserRecord
	byEmail    map[string]int64
	sequenceID int64
}

// NewUserStore constructs an empty store. hashCost <= 0 uses bcrypt.MinCost.
func NewUserStore(clock Clock, hashCost int) *UserStore {
	if clock == nil {
		clock = systemClock{}
	}
	if hashCost <= 0 {
		hashCost = bcrypt.MinCost
	}
	return &UserStore{
		clock:    clock,
		hashCost: hashCost,
		byID:     make(map[int64]UserRecord),
		byEmail:  make(map[string]int64),
	}
}

// Register creates a user. An empty role becomes RoleCustomer.
func (store *UserStore) Register(ctx context.Context, name string, email string, password string, role string) (UserRecord, error) {
	emailKey := strings.ToLower(strings.TrimSpace(email))
	if strings.TrimSpace(role) == "" {
		role = RoleCustomer
	}
	passwordHash, hashErr := bcrypt.GenerateFromPassword([]byte(password), store.hashCost)
	if hashErr != nil {
		return UserRecord{}, fmt.Errorf("user_store.register: %w", hashErr)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, exists := store.byEmail[emailKey]; exists {
		return UserRecord{}, fmt.Errorf("user_store.register: %w", ErrEmailTaken)
	}
	store.sequenceID++
	record := UserRecord{
		ID:           store.sequenceID,
		Name:         strings.TrimSpace(name),
		Email:        emailKey,
		Role:         role,
		IsActive:     true,
		PasswordHash: passwordHash,
		CreatedAt:    store.clock.Now(),
	}
	store.byID[record.ID] = record
	store.byEmail[emailKey] = record.ID
	return record, nil
}

// Authenticate returns the user whose email and password match.
func (store *UserStore) Authenticate(ctx context.Context, email string, password string) (UserRecord, error) {
	store.mutex.RLock()
	userID, exists := store.byEmail[strings.ToLower(strings.TrimSpace(email))]
	record := store.byID[userID]
	store.mutex.RUnlock()
	if !exists {
		return UserRecord{}, fmt.Errorf("user_store.authenticate: %w", ErrInvalidCredentials)
	}
	if compareErr := bcrypt.CompareHashAndPassword(record.PasswordHash, []byte(password)); compareErr != nil {
		return UserRecord{}, fmt.Errorf("user_store.authenticate: %w", ErrInvalidCredentials)
	}
	return record, nil
}

// Get returns a user by id.
func (store *UserStore) Get(ctx context.Context, userID int64) (UserRecord, error) {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	record, exists := store.byID[userID]
	if !exists {
		return UserRecord{}, fmt.Errorf("user_store.get: %w", ErrUserNotFound)
	}
	return record, nil
}

// List returns every user ordered by id.
func (store *UserStore) List(ctx context.Context) []UserRecord {
	store.mutex.RLock()
	defer store.mutex.RUnlock()
	records := make([]UserRecord, 0, len(store.byID))
	for userID := int64(1); userID <= store.sequenceID; userID++ {
		if record, exists := store.byID[userID]; exists {
			records = append(records, record)
		}
	}
	return records
}
