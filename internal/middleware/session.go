// Package middleware содержит HTTP middleware движка корзины.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/cartengine-system/internal/model"
)

type contextKey string

const sessionKey contextKey = "session"

const (
	sessionCookieName = "cart_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// Session описывает контекст вызова: клиент, организация и канал продаж.
// Аутентификация выполняется выше по стеку; здесь проверяется только подпись.
type Session struct {
	ClientID       int64
	OrganizationID string
	Channel        model.Channel
}

// SessionMiddleware проверяет подписанный cookie сессии и кладёт её в контекст запроса.
type SessionMiddleware struct {
	secretKey []byte
}

// NewSessionMiddleware создаёт middleware с указанным секретным ключом подписи.
func NewSessionMiddleware(secret string) *SessionMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SessionMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie сессии и добавляет её содержимое в контекст запроса.
func (m *SessionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		session, ok := m.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetSessionCookie устанавливает подписанный cookie для указанной сессии.
func (m *SessionMiddleware) SetSessionCookie(w http.ResponseWriter, s Session) {
	payload := encodePayload(s)
	value := payload + "." + m.sign(payload)

	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(sessionCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// encodePayload кодирует сессию; идентификатор организации — свободная строка,
// поэтому стоит последним и при разборе не делится по двоеточиям.
func encodePayload(s Session) string {
	return fmt.Sprintf("%d:%s:%s", s.ClientID, s.Channel, s.OrganizationID)
}

func (m *SessionMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *SessionMiddleware) parseCookie(cookieValue string) (Session, bool) {
	idx := strings.LastIndex(cookieValue, ".")
	if idx < 0 {
		return Session{}, false
	}

	payload := cookieValue[:idx]
	signature := cookieValue[idx+1:]

	if !hmac.Equal([]byte(signature), []byte(m.sign(payload))) {
		return Session{}, false
	}

	parts := strings.SplitN(payload, ":", 3)
	if len(parts) != 3 {
		return Session{}, false
	}

	clientID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Session{}, false
	}

	return Session{
		ClientID:       clientID,
		Channel:        model.Channel(parts[1]),
		OrganizationID: parts[2],
	}, true
}

// GetSessionFromContext извлекает сессию из контекста запроса.
func GetSessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
