package utils

import (
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/slotter-org/roomchat-backend/internal/errordata"
	"github.com/slotter-org/roomchat-backend/internal/logger"
	"github.com/slotter-org/roomchat-backend/internal/types"
)

const (
	maxUsernameLen = 80
	maxEmailLen    = 120
	minPasswordLen = 6
)

// ParseInputString trims surrounding whitespace.
func ParseInputString(s string) string {
	return strings.TrimSpace(s)
}

func NormalizeUserFields(user *types.User) {
	user.Username = ParseInputString(user.Username)
	user.Email = strings.ToLower(ParseInputString(user.Email))
}

func ValidateSignupInput(log *logger.Logger, user *types.User, password string) error {
	//1) Username
	if user.Username == "" {
		log.Warn("Username is empty, cannot proceed further. Returning error")
		return errordata.Invalid("signup", "a username is required to sign up", nil)
	}
	if len(user.Username) > maxUsernameLen {
		log.Warn("Username too long, cannot proceed further. Returning error", "length", len(user.Username))
		return errordata.Invalid("signup", fmt.Sprintf("username must be at most %d characters", maxUsernameLen), nil)
	}

	//2) Email
	if user.Email == "" {
		log.Warn("Email is empty, cannot proceed further. Returning error")
		return errordata.Invalid("signup", "an email is required to sign up", nil)
	}
	if len(user.Email) > maxEmailLen {
		return errordata.Invalid("signup", fmt.Sprintf("email must be at most %d characters", maxEmailLen), nil)
	}
	if _, err := mail.ParseAddress(user.Email); err != nil {
		log.Warn("Email is malformed, cannot proceed further. Returning error", "email", user.Email)
		return errordata.Invalid("signup", "email is not a valid address", err)
	}

	//3) Password
	if len(password) < minPasswordLen {
		log.Warn("Password too short, cannot proceed further. Returning error")
		return errordata.Invalid("signup", fmt.Sprintf("password must be at least %d characters", minPasswordLen), nil)
	}
	return nil
}

func ValidateLoginInput(username, password string) error {
	if username == "" {
		return errordata.Invalid("login", "username is required", nil)
	}
	if password == "" {
		return errordata.Invalid("login", "password is required", nil)
	}
	return nil
}

func HashPassword(log *logger.Logger, password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Warn("Failure to hash password for user. Returning error", "error", err)
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
