package layer

import (
	"errors"
	"log/slog"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/d2m"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/taskmanager"
	"github.com/threema-ch/servconn/pkg/wire"
)

// ErrMissingSession is returned when a stack is built without the sessions
// its mode needs.
var ErrMissingSession = errors.New("missing session")

// StackConfig holds everything needed to build the layers of one attempt.
type StackConfig struct {
	Controller *Controller

	// Md and D2mSession select multi-device mode.
	Md         *MdController
	D2mSession *d2m.Session

	CspSession *csp.Session

	Connection      Connection
	MonitoringState *MonitoringState
	Monitoring      MonitoringConfig

	TaskManager taskmanager.TaskManager
	Processor   taskmanager.IncomingMessageProcessor

	Metrics        *metrics.Recorder
	ProtocolLogger *log.ConnLogger
	Logger         *slog.Logger
}

// Stack is the complete layer stack of one connection attempt.
type Stack struct {
	Frame      FrameLayer
	Multiplex  *MultiplexLayer
	Auth       *AuthLayer
	Monitoring *MonitoringLayer
	EndToEnd   *EndToEndLayer
}

// NewStack builds the layers. They are not wired yet.
func NewStack(config StackConfig) (*Stack, error) {
	if config.CspSession == nil {
		return nil, ErrMissingSession
	}
	multiDevice := config.Md != nil
	if multiDevice && config.D2mSession == nil {
		return nil, ErrMissingSession
	}

	var frame FrameLayer = NewCspFrameLayer()
	if multiDevice {
		frame = NewD2mFrameLayer()
	}

	return &Stack{
		Frame:     frame,
		Multiplex: NewMultiplexLayer(config.CspSession, multiDevice, config.ProtocolLogger),
		Auth: NewAuthLayer(AuthLayerConfig{
			Controller:     config.Controller,
			Md:             config.Md,
			D2mSession:     config.D2mSession,
			CspSession:     config.CspSession,
			ProtocolLogger: config.ProtocolLogger,
			Logger:         config.Logger,
		}),
		Monitoring: NewMonitoringLayer(MonitoringLayerConfig{
			Controller:     config.Controller,
			Md:             config.Md,
			Connection:     config.Connection,
			State:          config.MonitoringState,
			Config:         config.Monitoring,
			Metrics:        config.Metrics,
			ProtocolLogger: config.ProtocolLogger,
			Logger:         config.Logger,
		}),
		EndToEnd: NewEndToEndLayer(EndToEndLayerConfig{
			Controller:  config.Controller,
			Connection:  config.Connection,
			TaskManager: config.TaskManager,
			Processor:   config.Processor,
			Metrics:     config.Metrics,
			Logger:      config.Logger,
		}),
	}, nil
}

// Wire chains the layers between the inbound byte pipe and the outbound
// byte handler.
func (s *Stack) Wire(inbound pipe.Pipe[[]byte], outbound pipe.Handler[[]byte]) error {
	l1, err := pipe.Through[[]byte, wire.InboundL1Message](inbound, s.Frame.Decoder())
	if err != nil {
		return err
	}
	l2, err := pipe.Through[wire.InboundL1Message, wire.InboundL2Message](l1, s.Multiplex.Decoder())
	if err != nil {
		return err
	}
	l3, err := pipe.Through[wire.InboundL2Message, wire.InboundL3Message](l2, s.Auth.Decoder())
	if err != nil {
		return err
	}
	l4, err := pipe.Through[wire.InboundL3Message, wire.InboundL4Message](l3, s.Monitoring.Decoder())
	if err != nil {
		return err
	}
	if err := pipe.Into(l4, s.EndToEnd.Inbound()); err != nil {
		return err
	}

	o4, err := pipe.Through[wire.OutboundL5Message, wire.OutboundL4Message](s.EndToEnd.Outbound(), s.Monitoring.Encoder())
	if err != nil {
		return err
	}
	o3, err := pipe.Through[wire.OutboundL4Message, wire.OutboundL3Message](o4, s.Auth.Encoder())
	if err != nil {
		return err
	}
	o2, err := pipe.Through[wire.OutboundL3Message, wire.OutboundL2Message](o3, s.Multiplex.Encoder())
	if err != nil {
		return err
	}
	o1, err := pipe.Through[wire.OutboundL2Message, []byte](o2, s.Frame.Encoder())
	if err != nil {
		return err
	}
	return pipe.Into(o1, outbound)
}
