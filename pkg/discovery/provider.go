package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/threema-ch/servconn/pkg/csp"
)

// AddressProvider is a csp.ServerAddressProvider that takes the chat server
// addresses from mDNS. Keys and the mediator URL come from the fallback
// unless the TXT record announces them.
type AddressProvider struct {
	browser  Browser
	fallback csp.ServerAddressProvider
	instance string
	timeout  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	service *ChatServerService
}

// AddressProviderConfig configures an AddressProvider.
type AddressProviderConfig struct {
	Browser Browser

	// Fallback supplies keys and the mediator URL. Its addresses are used
	// when nothing is found. Required.
	Fallback csp.ServerAddressProvider

	// Instance restricts discovery to one instance name.
	Instance string

	// Timeout bounds a lookup (default: BrowseTimeout).
	Timeout time.Duration

	Logger *slog.Logger
}

// NewAddressProvider creates an AddressProvider.
func NewAddressProvider(config AddressProviderConfig) (*AddressProvider, error) {
	if config.Browser == nil || config.Fallback == nil {
		return nil, fmt.Errorf("discovery: browser and fallback are required")
	}
	if config.Timeout <= 0 {
		config.Timeout = BrowseTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &AddressProvider{
		browser:  config.Browser,
		fallback: config.Fallback,
		instance: config.Instance,
		timeout:  config.Timeout,
		logger:   config.Logger.With("component", "mdns-address-provider"),
	}, nil
}

// Refresh drops the discovered server so the next lookup browses again.
func (p *AddressProvider) Refresh() {
	p.mu.Lock()
	p.service = nil
	p.mu.Unlock()
}

func (p *AddressProvider) lookup() *ChatServerService {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.service != nil {
		return p.service
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	svc, err := p.browser.FindChatServer(ctx, p.instance)
	if err != nil {
		p.logger.Warn("no chat server discovered", "error", err)
		return nil
	}
	p.logger.Info("discovered chat server", "instance", svc.InstanceName, "addresses", svc.HostPorts())
	p.service = svc
	return svc
}

// ChatServerAddresses implements csp.ServerAddressProvider.
func (p *AddressProvider) ChatServerAddresses() ([]string, error) {
	if svc := p.lookup(); svc != nil && len(svc.Addresses) > 0 {
		return svc.HostPorts(), nil
	}
	return p.fallback.ChatServerAddresses()
}

// ChatServerPublicKey implements csp.ServerAddressProvider.
func (p *AddressProvider) ChatServerPublicKey() [csp.KeyLength]byte {
	if svc := p.cached(); svc != nil && svc.PublicKey != nil {
		return *svc.PublicKey
	}
	return p.fallback.ChatServerPublicKey()
}

// ChatServerPublicKeyAlt implements csp.ServerAddressProvider.
func (p *AddressProvider) ChatServerPublicKeyAlt() [csp.KeyLength]byte {
	if svc := p.cached(); svc != nil && svc.PublicKey != nil {
		return *svc.PublicKey
	}
	return p.fallback.ChatServerPublicKeyAlt()
}

// MediatorURL implements csp.ServerAddressProvider.
func (p *AddressProvider) MediatorURL(deviceGroupID []byte) (string, error) {
	if svc := p.lookup(); svc != nil && svc.MediatorURL != "" {
		fixed := &csp.StaticServerAddressProvider{MediatorBaseURL: svc.MediatorURL}
		return fixed.MediatorURL(deviceGroupID)
	}
	return p.fallback.MediatorURL(deviceGroupID)
}

// cached returns the discovered server without browsing. Keys are only read
// after the addresses, which triggered the lookup.
func (p *AddressProvider) cached() *ChatServerService {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.service
}

// Compile-time interface satisfaction check.
var _ csp.ServerAddressProvider = (*AddressProvider)(nil)
