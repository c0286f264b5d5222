// Package vendors drives vendor self-service portals through a real browser
// to retrieve bill PDFs.
package vendors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/bill-scraper/config"
)

// SessionState is the position of a session in its login/navigate/download flow
type SessionState int

const (
	StateStart SessionState = iota
	StateAuthenticating
	StateErrorRecovering
	StateNavigating
	StateRetrieving
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthenticating:
		return "authenticating"
	case StateErrorRecovering:
		return "error_recovering"
	case StateNavigating:
		return "navigating"
	case StateRetrieving:
		return "retrieving"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Bill is a retrieved document. SavePath is transient and removed on Close.
type Bill struct {
	Data      []byte
	SavePath  string
	SourceURL string
}

// Session is one exclusively-owned browser session against one vendor portal.
// Calls must follow Authenticate, SelectAccount, LocateBill, RetrieveBill.
// Close is always safe to call.
type Session interface {
	Authenticate(ctx context.Context) error
	SelectAccount(ctx context.Context, accountIndex int) error
	LocateBill(ctx context.Context) error
	RetrieveBill(ctx context.Context) (*Bill, error)
	Close() error
	State() SessionState
}

// Options are the shared settings every session is built with
type Options struct {
	Browser     config.BrowserConfig
	Humanize    config.HumanizeConfig
	Recovery    config.RecoveryConfig
	DownloadDir string
	Logger      *slog.Logger
}

// Constructor builds a session for a profile on top of a launched browser
type Constructor func(profile *config.VendorProfile, d driver, opts Options) Session

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register makes a vendor kind available to New
func Register(kind string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[kind] = c
}

// Kinds lists the registered vendor kinds
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(constructors))
	for k := range constructors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Supported reports whether kind has an implementation
func Supported(kind string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := constructors[kind]
	return ok
}

// New launches a browser and returns the session for the profile's kind
func New(ctx context.Context, profile *config.VendorProfile, opts Options) (Session, error) {
	registryMu.RLock()
	construct, ok := constructors[profile.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, profile.Kind)
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Logger = opts.Logger.With("vendor", profile.Name)

	d, err := launchChrome(ctx, profile.Name, opts)
	if err != nil {
		return nil, &StageError{Stage: StageLaunch, Kind: ErrAuth, Err: err}
	}
	return construct(profile, d, opts), nil
}

// machine tracks session state and rejects out-of-order calls
type machine struct {
	mu    sync.Mutex
	state SessionState
}

func (m *machine) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// enter moves to next if the current state is one of from
func (m *machine) enter(next SessionState, from ...SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range from {
		if m.state == f {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidState, next, m.state)
}

// fail moves to the absorbing failed state and returns err
func (m *machine) fail(err error) error {
	m.mu.Lock()
	m.state = StateFailed
	m.mu.Unlock()
	return err
}
