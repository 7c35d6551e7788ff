package auth

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "dbis/pkg/domain-errors"
)

type fakeIssuer struct{}

func (fakeIssuer) GenerateAccessToken(userID uuid.UUID, roles []string, expiresIn time.Duration) (string, error) {
	return "token-" + userID.String(), nil
}

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewService(NewInMemoryStore(), fakeIssuer{}, WithLogger(logger))
}

func TestRegister_IssuesToken(t *testing.T) {
	s := newTestService()

	pair, err := s.Register(context.Background(), "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, "alice@example.com", pair.User.Email)
}

func TestRegister_RejectsDuplicateEmail(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	_, err = s.Register(ctx, "Alice@Example.com", "another password")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestRegister_ValidatesInput(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Register(ctx, "not-an-email", "correct horse battery")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.Register(ctx, "bob@example.com", "short")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestLogin_VerifiesPassword(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	_, err := s.Register(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)

	pair, err := s.Login(ctx, "alice@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	_, err = s.Login(ctx, "alice@example.com", "wrong password")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestLogin_UnknownEmailLooksLikeWrongPassword(t *testing.T) {
	s := newTestService()

	_, err := s.Login(context.Background(), "ghost@example.com", "whatever pw")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
