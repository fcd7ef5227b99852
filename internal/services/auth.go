package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/repos"
	"github.com/slotter-org/roomchat-backend/internal/requestdata"
	"github.com/slotter-org/roomchat-backend/internal/types"
	"github.com/slotter-org/roomchat-backend/internal/utils"
)

type JWTClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

type AuthService interface {
	Signup(ctx context.Context, username, email, password string) (*types.User, string, error)
	Login(ctx context.Context, username, password string) (string, *types.User, error)
	Me(ctx context.Context) (*types.User, error)

	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	VerifyIdentity(ctx context.Context) (types.Identity, error)

	GetAccessTTL() time.Duration
}

type authService struct {
	log           *logger.Logger
	userRepo      repos.UserRepo
	avatarService AvatarService
	jwtSecretKey  string
	accessTTL     time.Duration
	now           func() time.Time
}

// NewAuthService builds the auth service. avatarService may be nil, in which
// case users get no avatar.
func NewAuthService(
	log *logger.Logger,
	userRepo repos.UserRepo,
	avatarService AvatarService,
	jwtSecretKey string,
	accessTTL time.Duration,
) AuthService {
	serviceLog := log.With("service", "AuthService")
	return &authService{
		log:           serviceLog,
		userRepo:      userRepo,
		avatarService: avatarService,
		jwtSecretKey:  jwtSecretKey,
		accessTTL:     accessTTL,
		now:           time.Now,
	}
}

//----------------------------------------------------------------------------------------------------------------------
// Signup, Login, Me
//----------------------------------------------------------------------------------------------------------------------

func (as *authService) Signup(ctx context.Context, username, email, password string) (*types.User, string, error) {
	as.log.Info("Starting Signup now...")
	const op = "AuthService.Signup"

	//1) Normalize and validate
	user := &types.User{ID: uuid.New(), Username: username, Email: email}
	utils.NormalizeUserFields(user)
	if err := utils.ValidateSignupInput(as.log, user, password); err != nil {
		return nil, "", err
	}

	//2) Uniqueness
	taken, err := as.userRepo.UsernameExists(ctx, nil, user.Username)
	if err != nil {
		return nil, "", err
	}
	if taken {
		as.log.Warn("Username already registered, Cannot proceed further. Returning error", "username", user.Username)
		return nil, "", errordata.Invalid(op, "username already registered", nil)
	}
	taken, err = as.userRepo.EmailExists(ctx, nil, user.Email)
	if err != nil {
		return nil, "", err
	}
	if taken {
		as.log.Warn("Email already registered, Cannot proceed further. Returning error")
		return nil, "", errordata.Invalid(op, "email already registered", nil)
	}

	//3) Hash password
	hash, err := utils.HashPassword(as.log, password)
	if err != nil {
		return nil, "", errordata.Store(op, "failed to secure password", err)
	}
	user.PasswordHash = hash

	//4) Avatar, best effort
	if as.avatarService != nil {
		if err := as.avatarService.CreateAndUploadUserAvatar(ctx, user); err != nil {
			as.log.Warn("Failed to create user avatar, continuing without one", "error", err)
		}
	}

	//5) Persist and issue token
	if _, err := as.userRepo.Create(ctx, nil, []*types.User{user}); err != nil {
		return nil, "", err
	}
	token, err := as.generateAccessToken(user)
	if err != nil {
		return nil, "", err
	}
	as.log.Info("Signup complete :)", "userID", user.ID)
	return user, token, nil
}

func (as *authService) Login(ctx context.Context, username, password string) (string, *types.User, error) {
	as.log.Info("Starting Login now...")
	const op = "AuthService.Login"
	username = utils.ParseInputString(username)
	if err := utils.ValidateLoginInput(username, password); err != nil {
		return "", nil, err
	}

	user, err := as.userRepo.GetByUsername(ctx, nil, username)
	if err != nil {
		if errordata.IsNotFound(err) {
			return "", nil, errordata.Auth(op, "incorrect username or password", err)
		}
		return "", nil, err
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		as.log.Warn("Password mismatch, Cannot proceed further. Returning error", "userID", user.ID)
		return "", nil, errordata.Auth(op, "incorrect username or password", nil)
	}

	token, err := as.generateAccessToken(user)
	if err != nil {
		return "", nil, err
	}
	as.log.Info("Login complete :)", "userID", user.ID)
	return token, user, nil
}

func (as *authService) Me(ctx context.Context) (*types.User, error) {
	return as.userRepo.GetMe(ctx, nil)
}

//----------------------------------------------------------------------------------------------------------------------
// Tokens
//----------------------------------------------------------------------------------------------------------------------

func (as *authService) generateAccessToken(user *types.User) (string, error) {
	now := as.now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(as.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Username: user.Username,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(as.jwtSecretKey))
	if err != nil {
		as.log.Error("Failed to sign access token", "error", err)
		return "", errordata.Store("AuthService.generateAccessToken", "failed to issue token", err)
	}
	return signed, nil
}

// SetContextFromToken validates tokenString and returns ctx carrying the
// caller's RequestData.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	const op = "AuthService.SetContextFromToken"
	if tokenString == "" {
		return ctx, errordata.Auth(op, "missing access token", nil)
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(as.jwtSecretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(as.now))
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ctx, errordata.Auth(op, "access token expired", err)
		}
		as.log.Debug("Invalid access token", "error", err)
		return ctx, errordata.Auth(op, "invalid access token", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, errordata.Auth(op, "invalid token subject", err)
	}
	rd := &requestdata.RequestData{
		TokenString: tokenString,
		UserID:      userID,
		Username:    claims.Username,
	}
	return requestdata.WithRequestData(ctx, rd), nil
}

// VerifyIdentity turns the RequestData on ctx into an Identity, checking that
// the user still exists.
func (as *authService) VerifyIdentity(ctx context.Context) (types.Identity, error) {
	user, err := as.userRepo.GetMe(ctx, nil)
	if err != nil {
		return types.Identity{}, err
	}
	return types.Identity{UserID: user.ID, Username: user.Username}, nil
}

func (as *authService) GetAccessTTL() time.Duration {
	return as.accessTTL
}
