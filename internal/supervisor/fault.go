package supervisor

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"cloudpico-node/internal/config"
	"cloudpico-node/internal/drivers/rfm69"
	"cloudpico-node/internal/mqtt"
)

type Class int

const (
	Unhandled Class = iota
	Configuration
	Connectivity
	ResourceExhaustion
	WatchdogExpiry
)

func (c Class) String() string {
	switch c {
	case Configuration:
		return "configuration"
	case Connectivity:
		return "connectivity"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case WatchdogExpiry:
		return "watchdog"
	default:
		return "unhandled"
	}
}

type Action int

const (
	Exit Action = iota
	SoftReload
	HardReset
)

func (a Action) String() string {
	switch a {
	case SoftReload:
		return "soft reload"
	case HardReset:
		return "hard reset"
	default:
		return "exit"
	}
}

// Action is what the supervisor does about a fault of class c. A broken
// network stack or a hung cycle may survive a reload, so those reset.
func (c Class) Action() Action {
	switch c {
	case Configuration:
		return Exit
	case Connectivity, ResourceExhaustion, WatchdogExpiry:
		return HardReset
	default:
		return SoftReload
	}
}

type Fault struct {
	Class Class
	Op    string
	Err   error
}

func (f *Fault) Error() string {
	if f.Op == "" {
		return fmt.Sprintf("%s fault: %v", f.Class, f.Err)
	}
	return fmt.Sprintf("%s fault in %s: %v", f.Class, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// ErrWatchdogExpired is the cause recorded for a watchdog fault.
var ErrWatchdogExpired = errors.New("watchdog expired")

// Classify maps err onto the fault taxonomy. An error that already carries
// a Fault keeps its class.
func Classify(err error) Class {
	var f *Fault
	switch {
	case errors.As(err, &f):
		return f.Class
	case errors.Is(err, config.ErrInvalid):
		return Configuration
	case errors.Is(err, ErrWatchdogExpired):
		return WatchdogExpiry
	case errors.Is(err, syscall.ENOMEM), errors.Is(err, syscall.ENOBUFS):
		return ResourceExhaustion
	case connectivity(err):
		return Connectivity
	}
	return Unhandled
}

func connectivity(err error) bool {
	for _, target := range []error{
		mqtt.ErrConnectionLost,
		mqtt.ErrNotConnected,
		mqtt.ErrPublishTimeout,
		rfm69.ErrBus,
		rfm69.ErrTimeout,
		syscall.ECONNRESET,
		syscall.ECONNREFUSED,
		syscall.ECONNABORTED,
		syscall.ENETUNREACH,
		syscall.ENETDOWN,
		syscall.EHOSTUNREACH,
		syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	return errors.As(err, &opErr) || errors.As(err, &dnsErr)
}
