package layer

import (
	"fmt"
	"log/slog"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/d2m"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/oneshot"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/wire"
)

// AuthState is the progress of layer 3.
type AuthState uint8

const (
	AuthStateNotStarted AuthState = iota
	AuthStateHandshaking
	AuthStateAuthenticated
)

// String returns the auth state name.
func (s AuthState) String() string {
	switch s {
	case AuthStateNotStarted:
		return "NOT_STARTED"
	case AuthStateHandshaking:
		return "HANDSHAKING"
	case AuthStateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// AuthLayerConfig configures layer 3.
type AuthLayerConfig struct {
	Controller *Controller

	// Md and D2mSession are set in multi-device mode.
	Md         *MdController
	D2mSession *d2m.Session

	CspSession *csp.Session

	ProtocolLogger *log.ConnLogger
	Logger         *slog.Logger
}

// AuthLayer is layer 3. It runs the D2M handshake (multi-device only) and
// the CSP login, then encrypts and decrypts CSP frames.
type AuthLayer struct {
	ctrl    *Controller
	md      *MdController
	csp     *csp.Session
	d2m     *d2m.Session
	connLog *log.ConnLogger
	logger  *slog.Logger

	state AuthState

	decoder *pipe.ProcessingPipe[wire.InboundL2Message, wire.InboundL3Message]
	encoder *pipe.ProcessingPipe[wire.OutboundL4Message, wire.OutboundL3Message]
}

// NewAuthLayer creates layer 3. The handshake starts once the controller
// reports the socket as connected.
func NewAuthLayer(config AuthLayerConfig) *AuthLayer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	l := &AuthLayer{
		ctrl:    config.Controller,
		md:      config.Md,
		csp:     config.CspSession,
		d2m:     config.D2mSession,
		connLog: config.ProtocolLogger,
		logger:  config.Logger.With("component", "auth-layer"),
	}
	l.decoder = pipe.NewProcessingPipe(l.decode)
	l.encoder = pipe.NewProcessingPipe(l.encode)
	l.ctrl.OnConnected(l.onConnected)
	return l
}

// Decoder returns the inbound processor.
func (l *AuthLayer) Decoder() *pipe.ProcessingPipe[wire.InboundL2Message, wire.InboundL3Message] {
	return l.decoder
}

// Encoder returns the outbound processor.
func (l *AuthLayer) Encoder() *pipe.ProcessingPipe[wire.OutboundL4Message, wire.OutboundL3Message] {
	return l.encoder
}

// State returns the auth state. Only call it from the dispatcher.
func (l *AuthLayer) State() AuthState {
	return l.state
}

func (l *AuthLayer) multiDevice() bool {
	return l.md != nil
}

func (l *AuthLayer) setState(s AuthState) {
	l.connLog.StateChange(log.LayerAuth, log.StateEntityLogin, l.state.String(), s.String(), "")
	l.state = s
}

func (l *AuthLayer) onConnected() error {
	if l.state != AuthStateNotStarted {
		return fmt.Errorf("%w: connected in auth state %s", wire.ErrProtocol, l.state)
	}
	l.setState(AuthStateHandshaking)
	if l.multiDevice() {
		l.logger.Debug("awaiting d2m server hello")
		return nil
	}
	return l.startCspLogin()
}

func (l *AuthLayer) startCspLogin() error {
	hello, err := l.csp.StartLogin()
	if err != nil {
		return err
	}
	return l.encoder.Send(hello)
}

func (l *AuthLayer) decode(msg wire.InboundL2Message, out pipe.InputPipe[wire.InboundL3Message]) error {
	switch m := msg.(type) {
	case wire.CspLoginMessage:
		return l.handleLoginMessage(m)

	case wire.CspFrame:
		if l.state != AuthStateAuthenticated {
			return fmt.Errorf("%w: csp frame in auth state %s", wire.ErrProtocol, l.state)
		}
		container, err := l.csp.DecryptBox(m)
		if err != nil {
			return err
		}
		l.connLog.Message(log.DirectionIn, log.LayerAuth, uint8(container.PayloadType), container.PayloadType.String(), len(container.Data))
		return out.Send(container)

	case wire.InboundD2mMessage:
		if !l.multiDevice() {
			return fmt.Errorf("%w: d2m message %s in csp mode", wire.ErrUnexpectedType, m.PayloadType())
		}
		if l.d2m.IsLoginDone() {
			return out.Send(m)
		}
		return l.handleD2mHandshake(m, out)

	default:
		return fmt.Errorf("%w: auth layer cannot decode %T", wire.ErrUnexpectedType, msg)
	}
}

func (l *AuthLayer) handleLoginMessage(msg wire.CspLoginMessage) error {
	if l.state != AuthStateHandshaking {
		return fmt.Errorf("%w: login message in auth state %s", wire.ErrProtocol, l.state)
	}
	if l.multiDevice() && !l.d2m.IsLoginDone() {
		return fmt.Errorf("%w: csp login message before d2m handshake", wire.ErrD2mProtocol)
	}

	reply, err := l.csp.HandleLoginMessage(msg)
	if err != nil {
		return err
	}
	if reply != nil {
		if err := l.encoder.Send(*reply); err != nil {
			return err
		}
	}
	if !l.csp.IsLoginDone() {
		return nil
	}

	l.setState(AuthStateAuthenticated)
	l.logger.Info("csp login done")
	l.ctrl.CompleteCspAuthenticated()
	return nil
}

func (l *AuthLayer) handleD2mHandshake(msg wire.InboundD2mMessage, out pipe.InputPipe[wire.InboundL3Message]) error {
	if l.state != AuthStateHandshaking {
		return fmt.Errorf("%w: %s in auth state %s", wire.ErrD2mProtocol, msg.PayloadType(), l.state)
	}
	before := l.d2m.State()
	reply, err := l.d2m.HandleHandshakeMessage(msg)
	if err != nil {
		return err
	}
	l.connLog.StateChange(log.LayerAuth, log.StateEntityHandshake, before.String(), l.d2m.State().String(), msg.PayloadType().String())
	if reply != nil {
		if err := l.encoder.Send(reply); err != nil {
			return err
		}
	}
	if !l.d2m.IsLoginDone() {
		return nil
	}

	l.logger.Info("d2m handshake done, starting csp login")
	l.md.D2mAuthenticated.Complete(oneshot.Unit{})
	if err := out.Send(msg); err != nil {
		return err
	}
	return l.startCspLogin()
}

func (l *AuthLayer) encode(msg wire.OutboundL4Message, out pipe.InputPipe[wire.OutboundL3Message]) error {
	switch m := msg.(type) {
	case wire.CspContainer:
		if l.state != AuthStateAuthenticated {
			return fmt.Errorf("%w: %s before csp login", wire.ErrProtocol, m.PayloadType)
		}
		frame, err := l.csp.EncryptContainer(m)
		if err != nil {
			return err
		}
		l.connLog.Message(log.DirectionOut, log.LayerAuth, uint8(m.PayloadType), m.PayloadType.String(), len(m.Data))
		return out.Send(frame)

	case wire.OutboundD2mMessage:
		if !l.multiDevice() {
			return fmt.Errorf("%w: d2m message %s in csp mode", wire.ErrUnexpectedType, m.PayloadType())
		}
		if !l.d2m.IsLoginDone() {
			return fmt.Errorf("%w: %s before d2m handshake", wire.ErrD2mProtocol, m.PayloadType())
		}
		return out.Send(m)

	default:
		return fmt.Errorf("%w: auth layer cannot encode %T", wire.ErrUnexpectedType, msg)
	}
}
