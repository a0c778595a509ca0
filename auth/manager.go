package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"paybridge/backend"
)

var logger = log.New(os.Stdout, "[Auth] ", log.LstdFlags|log.Lshortfile)

var (
	// ErrNoCredentials - логин и пароль ещё не заданы
	ErrNoCredentials = errors.New("credentials are not set")
	// ErrCredentialsChanged - учётные данные сменились, пока шёл запрос токена
	ErrCredentialsChanged = errors.New("credentials changed during authentication")
)

// TokenSource выдаёт токен по логину и паролю
type TokenSource interface {
	Authorize(ctx context.Context, login, password string) (string, error)
}

// Error - ошибка авторизации. Status - HTTP-статус ответа, 0 если ответа не было.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("authentication failed: HTTP %d", e.Status)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Credentials - пара логин/пароль текущей сессии
type Credentials struct {
	Login    string
	Password string
}

// Manager кэширует токен для текущих учётных данных
type Manager struct {
	source TokenSource
	logins singleflight.Group // один запрос токена на поколение учётных данных

	mu          sync.Mutex
	credentials Credentials
	token       string
	generation  uint64 // растёт при каждой смене учётных данных
}

// NewManager создаёт менеджер токенов
func NewManager(source TokenSource) *Manager {
	return &Manager{source: source}
}

// SetCredentials запоминает учётные данные. Если пара отличается от текущей,
// закэшированный токен сбрасывается.
func (m *Manager) SetCredentials(login, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := Credentials{Login: login, Password: password}
	if next == m.credentials {
		return
	}
	m.credentials = next
	m.generation++
	if m.token != "" {
		logger.Printf("Credentials changed for login %q, cached token dropped", login)
	}
	m.token = ""
}

// Credentials возвращает текущие учётные данные
func (m *Manager) Credentials() Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credentials
}

// Cached возвращает закэшированный токен без обращения к бэкенду
func (m *Manager) Cached() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// Token возвращает закэшированный токен или получает новый.
// Одновременные вызовы без токена ждут один общий запрос к бэкенду.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	token, generation := m.token, m.generation
	m.mu.Unlock()
	if token != "" {
		return token, nil
	}

	v, err, _ := m.logins.Do(strconv.FormatUint(generation, 10), func() (any, error) {
		return m.Authenticate(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Authenticate всегда запрашивает новый токен. При ошибке кэш очищается.
func (m *Manager) Authenticate(ctx context.Context) (string, error) {
	m.mu.Lock()
	creds := m.credentials
	generation := m.generation
	m.mu.Unlock()

	if creds.Login == "" {
		return "", &Error{Err: ErrNoCredentials}
	}

	logger.Printf("Authenticating login %q", creds.Login)
	token, err := m.source.Authorize(ctx, creds.Login, creds.Password)

	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation {
		logger.Printf("Discarding token for login %q: credentials changed", creds.Login)
		return "", &Error{Err: ErrCredentialsChanged}
	}
	if err != nil {
		m.token = ""
		authErr := &Error{Err: err}
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) {
			authErr.Status = statusErr.StatusCode
		}
		logger.Printf("Authentication failed for login %q: %v", creds.Login, authErr)
		return "", authErr
	}

	m.token = token
	logger.Printf("Authenticated login %q", creds.Login)
	return token, nil
}

// Invalidate сбрасывает токен, например после ответа 401
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		logger.Println("Cached token invalidated")
	}
	m.token = ""
}
