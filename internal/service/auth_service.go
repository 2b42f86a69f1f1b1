package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cardpay/internal/model"
	"cardpay/internal/repository"
	"cardpay/internal/session"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

// AuthService 登录、登出与密码管理
// 交易引擎只接收已认证的 userID，令牌校验全部在这里完成
type AuthService struct {
	accounts *repository.AccountRepository
	cards    *repository.CardRepository
	sessions session.Store
	ttl      time.Duration
	cost     int
	log      *slog.Logger
}

func NewAuthService(db *gorm.DB, sessions session.Store, ttl time.Duration, log *slog.Logger) *AuthService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{
		accounts: repository.NewAccountRepository(db),
		cards:    repository.NewCardRepository(db),
		sessions: sessions,
		ttl:      ttl,
		cost:     bcrypt.DefaultCost,
		log:      log.With("component", "auth"),
	}
}

type LoginResult struct {
	Token     string      `json:"access_token"`
	ExpiresIn int64       `json:"expires_in"`
	User      *model.User `json:"user"`
}

// Login 用户名可以是身份证号、邮箱或姓名
// 设置过密码的用户校验 bcrypt 哈希，否则使用其第一张卡的 PIN
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrInvalidRequest
	}

	user, err := s.accounts.FindUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, classifyStoreError(s.log, "login", err)
	}
	if !user.Active {
		return nil, ErrUserInactive
	}

	ok, err := s.verify(ctx, user, password)
	if err != nil {
		return nil, classifyStoreError(s.log, "login", err, "user_id", user.ID)
	}
	if !ok {
		s.log.Warn("登录失败", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := s.sessions.Create(ctx, token, user.ID, s.ttl); err != nil {
		return nil, classifyStoreError(s.log, "login", err, "user_id", user.ID)
	}

	s.log.Info("登录成功", "user_id", user.ID)
	return &LoginResult{Token: token, ExpiresIn: int64(s.ttl / time.Second), User: user}, nil
}

func (s *AuthService) verify(ctx context.Context, user *model.User, password string) (bool, error) {
	if user.CredentialHash != nil && *user.CredentialHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(*user.CredentialHash), []byte(password))
		if err == nil {
			return true, nil
		}
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}

	card, err := s.cards.FirstByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCardNotFound) {
			return false, nil
		}
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(card.PIN), []byte(password)) == 1, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return classifyStoreError(s.log, "logout", err)
	}
	return nil
}

// Authenticate 令牌 -> 用户 ID
func (s *AuthService) Authenticate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrUnauthenticated
	}
	userID, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return 0, ErrUnauthenticated
		}
		return 0, classifyStoreError(s.log, "authenticate", err)
	}
	return userID, nil
}

// ChangePassword 已设置密码时需要校验当前密码
// 与 Login 一致，密码首尾空白不计入
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	current = strings.TrimSpace(current)
	next = strings.TrimSpace(next)
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	user, err := s.accounts.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return classifyStoreError(s.log, "change_password", err, "user_id", userID)
	}
	if user.CredentialHash != nil && *user.CredentialHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(*user.CredentialHash), []byte(current)) != nil {
			return ErrInvalidCredentials
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return err
	}
	if err := s.accounts.SetCredentialHash(ctx, userID, string(hash)); err != nil {
		return classifyStoreError(s.log, "change_password", err, "user_id", userID)
	}
	s.log.Info("密码已修改", "user_id", userID)
	return nil
}
