package csp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// DeviceCookieLength is the length of the device cookie.
const DeviceCookieLength = 16

// DeviceCookieManager owns the device cookie sent with every login.
// The server uses it to tell whether another device logged in with the same
// identity.
type DeviceCookieManager interface {
	// ObtainDeviceCookie returns the cookie, creating it on first use.
	ObtainDeviceCookie() ([]byte, error)

	// ChangeIndicationReceived is called when the server reports that a
	// different device cookie was used since the last login.
	ChangeIndicationReceived()

	// ChangeIndicated reports whether an indication is pending.
	ChangeIndicated() bool

	// ClearChangeIndication resets the pending indication.
	ClearChangeIndication()
}

// FileDeviceCookieManager persists the cookie in a file.
type FileDeviceCookieManager struct {
	path string

	mu        sync.Mutex
	cookie    []byte
	indicated bool
}

// NewFileDeviceCookieManager creates a manager storing the cookie at path.
// An empty path keeps the cookie in memory only.
func NewFileDeviceCookieManager(path string) *FileDeviceCookieManager {
	return &FileDeviceCookieManager{path: path}
}

// ObtainDeviceCookie loads or creates the cookie.
func (m *FileDeviceCookieManager) ObtainDeviceCookie() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cookie != nil {
		return m.cookie, nil
	}

	if m.path != "" {
		data, err := os.ReadFile(m.path)
		switch {
		case err == nil && len(data) == DeviceCookieLength:
			m.cookie = data
			return m.cookie, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read device cookie: %w", err)
		}
	}

	cookie := make([]byte, DeviceCookieLength)
	if _, err := rand.Read(cookie); err != nil {
		return nil, fmt.Errorf("failed to generate device cookie: %w", err)
	}

	if m.path != "" {
		if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create device cookie dir: %w", err)
		}
		if err := os.WriteFile(m.path, cookie, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write device cookie: %w", err)
		}
	}
	m.cookie = cookie
	return m.cookie, nil
}

// ChangeIndicationReceived records a pending change indication.
func (m *FileDeviceCookieManager) ChangeIndicationReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicated = true
}

// ChangeIndicated reports whether an indication is pending.
func (m *FileDeviceCookieManager) ChangeIndicated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indicated
}

// ClearChangeIndication resets the pending indication.
func (m *FileDeviceCookieManager) ClearChangeIndication() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indicated = false
}

// Compile-time interface satisfaction check.
var _ DeviceCookieManager = (*FileDeviceCookieManager)(nil)
