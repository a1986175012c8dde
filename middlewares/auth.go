package middlewares

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const (
	authHeader   = "Authorization"
	bearerPrefix = "Bearer "

	RoleAdmin = "admin"
)

// Claims is our JWT payload (subject=operator, plus role).
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireRole validates a Bearer token signed with secret, enforces HS256 and
// the given role, and populates c.Locals("subject").
func RequireRole(secret []byte, role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(secret) == 0 {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"message": "server auth not configured",
			})
		}

		h := c.Get(authHeader)
		if h == "" || !strings.HasPrefix(strings.ToLower(h), strings.ToLower(bearerPrefix)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "missing/invalid Authorization header"})
		}
		raw := strings.TrimSpace(h[len(bearerPrefix):])
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid bearer token"})
		}

		claims, err := ParseJWT(secret, raw)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid or expired token"})
		}
		if claims.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"message": "insufficient role"})
		}

		c.Locals("subject", claims.Subject)
		return c.Next()
	}
}

// ParseJWT verifies an HS256 token and returns its claims.
func ParseJWT(secret []byte, raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	var claims Claims
	token, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token missing subject")
	}
	return &claims, nil
}

// GenerateJWT signs a new HS256 token for subject & role, expiring after ttl.
func GenerateJWT(secret []byte, subject, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("JWT secret not configured (set JWT_SECRET_KEY or JWT_SECRET)")
	}
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
