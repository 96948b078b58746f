package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"debate_live/internal/apperrors"
	"debate_live/internal/models"
	"debate_live/internal/utils"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (r *fakeUserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.Username]; ok {
		return gorm.ErrDuplicatedKey
	}
	user.ID = uint(len(r.users) + 1)
	r.users[user.Username] = user
	return nil
}

func (r *fakeUserRepo) FindByUsername(username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[username]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func newUserService() *UserService {
	return NewUserService(&fakeUserRepo{users: make(map[string]*models.User)}, utils.NewTokenManager("secret", time.Hour))
}

func TestUserService_RegisterAndLogin(t *testing.T) {
	req := require.New(t)
	users := newUserService()

	// Given a registered account
	user, err := users.Register("alice", "hunter22", "Alice")
	req.NoError(err)
	req.NotEqual("hunter22", user.Password)

	// When logging in with the right password
	token, identity, err := users.Login("alice", "hunter22")

	// Then the token authenticates as that user
	req.NoError(err)
	req.Equal("user-1", identity.UserID)
	req.Equal("Alice", identity.Name)
	got, err := users.Authenticate(token)
	req.NoError(err)
	req.Equal(identity, got)
}

func TestUserService_LoginFailures(t *testing.T) {
	req := require.New(t)
	users := newUserService()
	_, err := users.Register("bob", "correct-horse", "")
	req.NoError(err)

	_, _, err = users.Login("bob", "wrong")
	req.ErrorIs(err, apperrors.ErrUnauthorized)
	_, _, err = users.Login("nobody", "x")
	req.ErrorIs(err, apperrors.ErrUnauthorized)
	_, err = users.Authenticate("garbage")
	req.ErrorIs(err, apperrors.ErrUnauthorized)
}

func TestUserService_GuestWithoutAccounts(t *testing.T) {
	req := require.New(t)
	users := NewUserService(nil, utils.NewTokenManager("secret", time.Hour))

	req.False(users.AccountsEnabled())
	_, err := users.Register("x", "y", "")
	req.ErrorIs(err, apperrors.ErrUsersUnavailable)

	token, identity, err := users.Guest("Dana")
	req.NoError(err)
	req.True(identity.Anonymous)
	got, err := users.Authenticate(token)
	req.NoError(err)
	req.Equal(identity, got)
}
