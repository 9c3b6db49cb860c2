package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ocx/accessd/internal/model"
	"github.com/ocx/accessd/internal/users"
)

// fakeMetrics is a stand-in for the Prometheus scrape handler.
type fakeMetrics struct{}

func (fakeMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

// fakeUsers is an in-memory stand-in for users.Store, keyed by card.
type fakeUsers struct {
	byCard map[string]model.User
	addErr error
}

func newFakeUsers() *fakeUsers { return &fakeUsers{byCard: make(map[string]model.User)} }

func (f *fakeUsers) Get(card string) (model.User, bool) {
	u, ok := f.byCard[card]
	return u, ok
}

func (f *fakeUsers) List() []model.User {
	out := make([]model.User, 0, len(f.byCard))
	for _, u := range f.byCard {
		out = append(out, u)
	}
	return out
}

func (f *fakeUsers) Add(u model.User) error {
	if f.addErr != nil {
		return f.addErr
	}
	if _, exists := f.byCard[u.Card]; exists {
		return model.NewError(model.ErrValidation, "card already registered")
	}
	f.byCard[u.Card] = u
	return nil
}

func (f *fakeUsers) Delete(card string) error {
	if _, ok := f.byCard[card]; !ok {
		return model.NewError(model.ErrNotFound, "unknown card")
	}
	delete(f.byCard, card)
	return nil
}

func (f *fakeUsers) SetBlocked(card string, blocked bool) error {
	u, ok := f.byCard[card]
	if !ok {
		return model.NewError(model.ErrNotFound, "unknown card")
	}
	u.Blocked = blocked
	f.byCard[card] = u
	return nil
}

func (f *fakeUsers) SetPrivacy(card string, enable bool, password string, verifier users.PasswordVerifier) error {
	u, ok := f.byCard[card]
	if !ok {
		return model.NewError(model.ErrNotFound, "unknown card")
	}
	if !verifier.Verify(password) {
		return model.NewError(model.ErrAuth, "wrong password")
	}
	u.PrivacyProtected = enable
	f.byCard[card] = u
	return nil
}

// fakeSessions is an in-memory stand-in for session.Store.
type fakeSessions struct {
	tokens      map[string]bool
	username    string
	password    string
	loginErr    error
	activeCount int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]bool), username: "admin", password: "secret"}
}

func (f *fakeSessions) Login(username, password string) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	if username != f.username || password != f.password {
		return "", model.NewError(model.ErrAuth, "invalid credentials")
	}
	token := "tok-" + username
	f.tokens[token] = true
	return token, nil
}

func (f *fakeSessions) Logout(token string) { delete(f.tokens, token) }

func (f *fakeSessions) Authenticate(token string) bool { return f.tokens[token] }

func (f *fakeSessions) AuthenticateBasic(username, password string) bool {
	return username == f.username && password == f.password
}

func (f *fakeSessions) UpdateCredentials(username, passwordHash string) {
	if username != "" {
		f.username = username
	}
	if passwordHash != "" {
		f.password = passwordHash
	}
}

func (f *fakeSessions) ActiveCount() int { return f.activeCount }

func (f *fakeSessions) Verify(password string) bool { return password == f.password }

// fakeConfigs is an in-memory stand-in for config.Store.
type fakeConfigs struct {
	cfg     model.Config
	warning string
	err     error
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{cfg: model.Config{WiegandBits: map[int]int{1: 26}}}
}

func (f *fakeConfigs) Get() model.Config { return f.cfg }

func (f *fakeConfigs) Update(next model.Config) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.cfg = next
	return f.warning, nil
}

// fakeRelays is an in-memory stand-in for relay.Driver.
type fakeRelays struct {
	states map[int]string
	err    error
}

func newFakeRelays() *fakeRelays {
	return &fakeRelays{states: map[int]string{1: string(model.RelayIdle)}}
}

func (f *fakeRelays) State(relay int) (string, error) {
	s, ok := f.states[relay]
	if !ok {
		return "", errors.New("unknown relay")
	}
	return s, nil
}

func (f *fakeRelays) Pulse(relay int, duration time.Duration) error {
	if f.err != nil {
		return f.err
	}
	return nil
}

func (f *fakeRelays) HoldOpen(relay int) error {
	if f.err != nil {
		return f.err
	}
	f.states[relay] = string(model.RelayHeldOpen)
	return nil
}

func (f *fakeRelays) HoldClosed(relay int) error {
	if f.err != nil {
		return f.err
	}
	f.states[relay] = string(model.RelayHeldClosed)
	return nil
}

func (f *fakeRelays) Normalize(relay int) error {
	if f.err != nil {
		return f.err
	}
	f.states[relay] = string(model.RelayIdle)
	return nil
}

// fakeTxLog is an in-memory stand-in for txlog.Log.
type fakeTxLog struct {
	txs []model.Transaction
	err error
}

func (f *fakeTxLog) Range(days int, limit int) ([]model.Transaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.txs
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeTxLog) TotalBytes() (int64, error) { return int64(len(f.txs) * 64), nil }

// fakeTime is an in-memory stand-in for sysclock.TimeController.
type fakeTime struct {
	setErr  error
	ntpErr  error
	lastSet int64
	ntpOn   bool
}

func (f *fakeTime) SetSystemTime(ctx context.Context, unixSeconds int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.lastSet = unixSeconds
	return nil
}

func (f *fakeTime) EnableNTP(ctx context.Context, enable bool) error {
	if f.ntpErr != nil {
		return f.ntpErr
	}
	f.ntpOn = enable
	return nil
}

// fakeReachable is a stand-in for the remote-store reachability probe.
type fakeReachable struct{ reachable bool }

func (f *fakeReachable) Reachable() bool { return f.reachable }

// fakeQueue is a stand-in for the upload pipeline's queue/cache counters.
type fakeQueue struct {
	depth int
	size  int
	err   error
}

func (f *fakeQueue) QueueDepth() int { return f.depth }

func (f *fakeQueue) CacheSize() (int, error) { return f.size, f.err }
