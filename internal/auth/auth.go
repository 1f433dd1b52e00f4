package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xtrntr/auction/internal/apperr"
	"github.com/xtrntr/auction/internal/models"
	"github.com/xtrntr/auction/internal/storage"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLen = 8
	maxPasswordLen = 40
)

// Identity is the authenticated caller of a request
type Identity struct {
	UserID int64
}

// Session is returned by a successful login
type Session struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"session_token"`
}

// AuthService handles registration and token-based authentication
type AuthService struct {
	store  storage.UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthService creates a new auth service signing tokens with secret
func NewAuthService(store storage.UserStore, secret string, ttl time.Duration) *AuthService {
	return &AuthService{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a new user with hashed password
func (s *AuthService) Register(ctx context.Context, firstName, lastName, email, password string) (models.User, error) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	email = strings.TrimSpace(email)
	if firstName == "" {
		return models.User{}, apperr.InvalidInput("first_name is required")
	}
	if lastName == "" {
		return models.User{}, apperr.InvalidInput("last_name is required")
	}
	if err := validateEmail(email); err != nil {
		return models.User{}, err
	}
	if err := validatePassword(password); err != nil {
		return models.User{}, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, models.User{
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    s.now().UTC(),
	})
	if errors.Is(err, storage.ErrAlreadyExists) {
		return models.User{}, apperr.InvalidInput("Email already exists")
	}
	if err != nil {
		return models.User{}, apperr.Storage(err)
	}
	return user, nil
}

func validateEmail(email string) error {
	if email == "" {
		return apperr.InvalidInput("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return apperr.InvalidInput("email must be a valid email")
	}
	return nil
}

func validatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < minPasswordLen {
		return apperr.InvalidInput(fmt.Sprintf("password length must be at least %d characters long", minPasswordLen))
	}
	if n > maxPasswordLen {
		return apperr.InvalidInput(fmt.Sprintf("password length must be less than or equal to %d characters long", maxPasswordLen))
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	switch {
	case !upper:
		return apperr.InvalidInput("Password must contain at least one uppercase letter")
	case !lower:
		return apperr.InvalidInput("Password must contain at least one lowercase letter")
	case !digit:
		return apperr.InvalidInput("Password must contain at least one number")
	case !special:
		return apperr.InvalidInput("Password must contain at least one special character")
	}
	return nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	invalid := apperr.InvalidInput("Invalid email or password")

	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, invalid
	}
	if err != nil {
		return Session{}, apperr.Storage(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, invalid
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"ver":     user.TokenVersion,
		"exp":     s.now().Add(s.ttl).Unix(),
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Session{UserID: user.ID, Token: tokenString}, nil
}

// Logout revokes every token issued to userID so far
func (s *AuthService) Logout(ctx context.Context, userID int64) error {
	err := s.store.BumpTokenVersion(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Unauthenticated("Unauthorized")
	}
	if err != nil {
		return apperr.Storage(err)
	}
	return nil
}

// Authenticate resolves a token to the identity of a live session
func (s *AuthService) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	unauthorized := apperr.Unauthenticated("Unauthorized")
	if tokenString == "" {
		return Identity{}, unauthorized
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return Identity{}, unauthorized
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, unauthorized
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return Identity{}, unauthorized
	}
	version, ok := claims["ver"].(float64)
	if !ok {
		return Identity{}, unauthorized
	}

	user, err := s.store.GetUser(ctx, int64(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return Identity{}, unauthorized
	}
	if err != nil {
		return Identity{}, apperr.Storage(err)
	}
	if user.TokenVersion != int(version) {
		return Identity{}, unauthorized
	}
	return Identity{UserID: user.ID}, nil
}
