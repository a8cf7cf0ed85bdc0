package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/xtrntr/spot/internal/db"
	"github.com/xtrntr/spot/internal/models"
	"github.com/xtrntr/spot/internal/money"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthService handles account registration and session tokens
type AuthService struct {
	DB            *db.DB
	secret        []byte
	signupBalance money.Dec
}

// NewAuthService creates a new auth service. signupBalance is the USD
// balance granted to new accounts.
func NewAuthService(database *db.DB, secret string, signupBalance money.Dec) *AuthService {
	return &AuthService{DB: database, secret: []byte(secret), signupBalance: signupBalance}
}

// Register creates a new account with hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.Account, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	acct, err := s.DB.CreateAccount(ctx, username, string(hashedPassword), s.signupBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return acct, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	acct, err := s.DB.GetAccountByUsername(ctx, username)
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"account_id": acct.ID,
		"username":   acct.Username,
		"exp":        time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetAccountFromToken extracts the account id from a JWT
func (s *AuthService) GetAccountFromToken(tokenString string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid token")
	}
	accountID, ok := claims["account_id"].(float64)
	if !ok {
		return 0, fmt.Errorf("invalid token claims")
	}
	return int64(accountID), nil
}
