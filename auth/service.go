package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"osflow/ownership"
)

var (
	// ErrInvalidCredentials signals wrong email or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassword signals password doesn't meet requirements.
	ErrWeakPassword = errors.New("auth: password must be at least 8 characters")
	// ErrAccountInactive signals a login against a deactivated colaborador.
	ErrAccountInactive = errors.New("auth: account is inactive")
)

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	jwtSecret []byte
}

// LoginResult bundles the token and account returned after a successful login.
type LoginResult struct {
	Token   string
	Account Account
}

// NewService creates a new authentication service.
func NewService(repo Repository, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a new colaborador account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, error) {
	if len(req.Password) < 8 {
		return nil, ErrWeakPassword
	}
	if req.Email == "" || req.FullName == "" {
		return nil, fmt.Errorf("auth: email and full_name are required")
	}
	if !isValidCargo(req.Cargo) {
		return nil, fmt.Errorf("auth: invalid cargo %q", req.Cargo)
	}

	setor := req.Setor
	if home, ok := ownership.CargoSetor(req.Cargo); ok {
		// Sector-bound cargos always live in their home sector.
		setor = home
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	account, err := s.repo.CreateAccount(ctx, CreateAccountParams{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(passwordHash),
		Cargo:        string(req.Cargo),
		Setor:        string(setor),
	})
	if err != nil {
		return nil, err
	}

	return &account, nil
}

// Login authenticates a colaborador and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	account, err := s.repo.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if !account.Active {
		return LoginResult{}, ErrAccountInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.generateToken(account.ID, account.CargoSlug)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:   token,
		Account: account,
	}, nil
}

// GetByID retrieves account information by ID.
func (s *Service) GetByID(ctx context.Context, id string) (*Account, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// VerifyToken validates a JWT token and returns the actor id and cargo.
func (s *Service) VerifyToken(tokenString string) (string, ownership.CargoSlug, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		actorID, ok := claims["actor_id"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid actor_id in token")
		}
		cargoStr, ok := claims["cargo"].(string)
		if !ok {
			return "", "", fmt.Errorf("auth: invalid cargo in token")
		}
		cargo := ownership.CargoSlug(cargoStr)
		if !isValidCargo(cargo) {
			return "", "", fmt.Errorf("auth: invalid cargo %q in token", cargoStr)
		}
		return actorID, cargo, nil
	}

	return "", "", fmt.Errorf("auth: invalid token")
}

// generateToken creates a JWT token for the colaborador.
func (s *Service) generateToken(actorID string, cargo ownership.CargoSlug) (string, error) {
	claims := jwt.MapClaims{
		"actor_id": actorID,
		"cargo":    cargo,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
		"iat":      time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func isValidCargo(cargo ownership.CargoSlug) bool {
	if ownership.IsEscalation(cargo) {
		return true
	}
	_, ok := ownership.CargoSetor(cargo)
	return ok
}
