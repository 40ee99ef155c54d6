package usecase

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// アクセストークンを発行する約束（実装はmain側のJWT issuer）
type TokenIssuer interface {
	Issue(userID int64, role model.Role, now time.Time) (string, time.Time, error)
}

type AuthUsecase struct {
	users      repo.UserRepository
	issuer     TokenIssuer
	bcryptCost int
}

func NewAuthUsecase(users repo.UserRepository, issuer TokenIssuer, bcryptCost int) *AuthUsecase {
	if bcryptCost <= 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthUsecase{users: users, issuer: issuer, bcryptCost: bcryptCost}
}

type RegisterInput struct {
	Email    string
	Password string
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (int64, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return 0, NewHTTPError(http.StatusBadRequest, "invalid email format")
	}
	if len(in.Password) < 8 {
		return 0, NewHTTPError(http.StatusBadRequest, "password too short")
	}

	existing, err := u.users.FindByEmail(ctx, email)
	if err != nil {
		return 0, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if existing != nil {
		return 0, NewHTTPError(http.StatusConflict, "email already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), u.bcryptCost)
	if err != nil {
		return 0, NewHTTPError(http.StatusInternalServerError, "hash error")
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleUser,
		IsActive:     true,
	}
	if err := u.users.Create(ctx, user); err != nil {
		return 0, NewHTTPError(http.StatusConflict, "email already exists")
	}
	return user.ID, nil
}

type LoginInput struct {
	Email    string
	Password string
}

type LoginOutput struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (u *AuthUsecase) Login(ctx context.Context, in LoginInput) (LoginOutput, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return LoginOutput{}, NewHTTPError(http.StatusBadRequest, "email and password required")
	}

	user, err := u.users.FindByEmail(ctx, email)
	if err != nil {
		return LoginOutput{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	//ユーザー不在もパスワード不一致も同じ401（存在を漏らさない）
	if user == nil || !user.IsActive {
		return LoginOutput{}, NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return LoginOutput{}, NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := u.issuer.Issue(user.ID, user.Role, time.Now())
	if err != nil {
		return LoginOutput{}, NewHTTPError(http.StatusInternalServerError, "token error")
	}

	return LoginOutput{AccessToken: token, ExpiresAt: expiresAt}, nil
}
