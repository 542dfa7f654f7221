package discovery

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// MDNSBrowser implements the Browser interface using zeroconf.
type MDNSBrowser struct {
	config BrowserConfig
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
	cancels map[int]context.CancelFunc
	nextID  int
}

// NewMDNSBrowser creates a new mDNS browser.
func NewMDNSBrowser(config BrowserConfig, logger *slog.Logger) *MDNSBrowser {
	if config.BrowseTimeout <= 0 {
		config.BrowseTimeout = BrowseTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MDNSBrowser{
		config:  config,
		logger:  logger.With("component", "mdns-browser"),
		cancels: make(map[int]context.CancelFunc),
	}
}

// BrowseChatServers searches for chat servers.
// Services are aggregated by instance name - addresses from multiple interfaces
// are combined into a single entry.
func (b *MDNSBrowser) BrowseChatServers(ctx context.Context) (<-chan *ChatServerService, error) {
	ctx, release, err := b.track(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan *ChatServerService)
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)
	opts := b.browserOptions()

	go func() {
		defer release()
		aggregate(ctx, entries, removed, out, b.logger)
	}()

	// Start browsing in background
	go func() {
		if err := zeroconf.Browse(ctx, ServiceTypeChatServer, Domain, entries, removed, opts...); err != nil {
			b.logger.Warn("mdns browse failed", "error", err)
		}
	}()

	return out, nil
}

// FindChatServer implements Browser.
func (b *MDNSBrowser) FindChatServer(ctx context.Context, instance string) (*ChatServerService, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.BrowseTimeout)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results, err := b.BrowseChatServers(ctx)
	if err != nil {
		return nil, err
	}
	return first(ctx, results, instance)
}

// Stop stops all active browsing operations.
func (b *MDNSBrowser) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for id, cancel := range b.cancels {
		cancel()
		delete(b.cancels, id)
	}
}

func (b *MDNSBrowser) track(parent context.Context) (context.Context, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, nil, context.Canceled
	}
	ctx, cancel := context.WithCancel(parent)
	id := b.nextID
	b.nextID++
	b.cancels[id] = cancel
	return ctx, func() {
		cancel()
		b.mu.Lock()
		delete(b.cancels, id)
		b.mu.Unlock()
	}, nil
}

// browserOptions returns zeroconf client options based on config.
func (b *MDNSBrowser) browserOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption

	// Select specific interface if configured
	if b.config.Interface != "" {
		iface, err := net.InterfaceByName(b.config.Interface)
		if err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		} else {
			b.logger.Warn("unknown interface, browsing on all", "interface", b.config.Interface, "error", err)
		}
	}

	return opts
}

// aggregate turns zeroconf entries into services, emitting each instance once.
// It closes out when ctx is done or entries is closed.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- *ChatServerService, logger *slog.Logger) {
	defer close(out)

	services := make(map[string]*ChatServerService)
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			svc, err := entryToChatServer(entry)
			if err != nil {
				logger.Debug("ignoring chat server entry", "instance", entry.Instance, "error", err)
				continue
			}

			existing, found := services[svc.InstanceName]
			if found {
				existing.Addresses = mergeAddresses(existing.Addresses, svc.Addresses)
				continue
			}
			services[svc.InstanceName] = svc
			select {
			case out <- svc:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			if existing, found := services[entry.Instance]; found {
				existing.Addresses = removeAddresses(existing.Addresses, entry)
				if len(existing.Addresses) == 0 {
					delete(services, entry.Instance)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func first(ctx context.Context, results <-chan *ChatServerService, instance string) (*ChatServerService, error) {
	for {
		select {
		case svc, ok := <-results:
			if !ok {
				return nil, ErrNotFound
			}
			if instance == "" || svc.InstanceName == instance {
				return svc, nil
			}
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

// entryToChatServer converts a zeroconf entry to a ChatServerService.
func entryToChatServer(entry *zeroconf.ServiceEntry) (*ChatServerService, error) {
	info, err := DecodeChatServerTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil, err
	}

	// Collect addresses
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}

	return &ChatServerService{
		InstanceName: entry.Instance,
		Host:         entry.HostName,
		Port:         uint16(entry.Port),
		Addresses:    addrs,
		PublicKey:    info.PublicKey,
		MediatorURL:  info.MediatorURL,
	}, nil
}

// mergeAddresses adds new addresses to existing list, avoiding duplicates.
func mergeAddresses(existing, new []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, addr := range existing {
		seen[addr] = true
	}

	for _, addr := range new {
		if !seen[addr] {
			existing = append(existing, addr)
			seen[addr] = true
		}
	}
	return existing
}

// removeAddresses removes addresses from a zeroconf entry from the list.
func removeAddresses(addresses []string, entry *zeroconf.ServiceEntry) []string {
	// Build set of addresses to remove
	toRemove := make(map[string]bool)
	for _, ip := range entry.AddrIPv4 {
		toRemove[ip.String()] = true
	}
	for _, ip := range entry.AddrIPv6 {
		toRemove[ip.String()] = true
	}

	// Filter out removed addresses
	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		if !toRemove[addr] {
			result = append(result, addr)
		}
	}
	return result
}

// Ensure MDNSBrowser implements Browser interface.
var _ Browser = (*MDNSBrowser)(nil)
