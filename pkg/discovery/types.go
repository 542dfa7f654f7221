package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceTypeChatServer is the service type of a chat server.
	ServiceTypeChatServer = "_threema-csp._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is used when an entry carries no port.
	DefaultPort = 5222
)

// TXT record keys.
const (
	TXTKeyPublicKey   = "pk" // Server public key, hex
	TXTKeyMediatorURL = "md" // Mediator base URL
)

// BrowseTimeout is the default timeout for mDNS browsing.
const BrowseTimeout = 10 * time.Second

// Discovery errors.
var (
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrNotFound         = errors.New("service not found")
)

// ChatServerService is a chat server found on the network.
type ChatServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	// PublicKey is nil when the TXT record has no key.
	PublicKey *[32]byte

	MediatorURL string
}

// HostPorts returns the addresses joined with the port, in discovery order.
func (s *ChatServerService) HostPorts() []string {
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	out := make([]string, 0, len(s.Addresses))
	for _, addr := range s.Addresses {
		out = append(out, net.JoinHostPort(addr, strconv.Itoa(int(port))))
	}
	return out
}

// Browser provides mDNS service browsing.
type Browser interface {
	// BrowseChatServers streams chat servers until ctx is done.
	BrowseChatServers(ctx context.Context) (<-chan *ChatServerService, error)

	// FindChatServer returns the first chat server found. An empty instance
	// matches any.
	FindChatServer(ctx context.Context, instance string) (*ChatServerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout bounds FindChatServer when the context has no deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
	}
}
