// Package middleware содержит HTTP middleware административного API сверки платежей.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const operatorKey contextKey = "operator"

// RoleAdmin роль, которой разрешён доступ к административному API.
const RoleAdmin = "admin"

// AuthMiddleware проверяет bearer JWT и требует роль администратора.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
// При пустом ключе генерируется случайный, и ни один внешний токен не проходит проверку.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет заголовок Authorization и добавляет имя оператора в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			http.Error(w, "invalid token format", http.StatusUnauthorized)
			return
		}

		claims, err := a.parse(parts[1])
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		if role, _ := claims["role"].(string); role != RoleAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}

		operator := operatorFromClaims(claims)
		if operator == "" {
			http.Error(w, "operator not found in token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey, operator)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken подписывает токен оператора с указанной ролью.
// Используется командой `payrecon -t <operator>` для выдачи токенов администраторам.
func (a *AuthMiddleware) IssueToken(operator, role string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  operator,
		"role": role,
		"exp":  jwt.NewNumericDate(time.Now().Add(ttl)),
	})
	return token.SignedString(a.secretKey)
}

func (a *AuthMiddleware) parse(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secretKey, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}

func operatorFromClaims(claims jwt.MapClaims) string {
	if name, ok := claims["username"].(string); ok && name != "" {
		return name
	}
	sub, _ := claims.GetSubject()
	return sub
}

// OperatorFromContext извлекает имя оператора из контекста запроса.
func OperatorFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(operatorKey).(string)
	return name, ok && name != ""
}
