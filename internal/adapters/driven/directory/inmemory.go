package directory

import (
	"context"
	"sync"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// InMemoryDirectory is a user directory for tests.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*domain.LocalUser
}

// NewInMemoryDirectory creates a directory pre-populated with the given
// users.
func NewInMemoryDirectory(users ...*domain.LocalUser) *InMemoryDirectory {
	d := &InMemoryDirectory{users: make(map[int64]*domain.LocalUser)}
	for _, u := range users {
		_ = d.Create(context.Background(), u)
	}
	return d
}

func (d *InMemoryDirectory) FindByName(_ context.Context, name string) (*domain.LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, u := range d.users {
		if u.Name == name {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (d *InMemoryDirectory) FindByEmail(_ context.Context, email string) (*domain.LocalUser, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if email == "" {
		return nil, domain.ErrUserNotFound
	}
	for _, u := range d.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (d *InMemoryDirectory) Create(_ context.Context, user *domain.LocalUser) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if user.ID == 0 {
		d.nextID++
		user.ID = d.nextID
	} else if user.ID > d.nextID {
		d.nextID = user.ID
	}
	copied := *user
	d.users[user.ID] = &copied
	return nil
}
