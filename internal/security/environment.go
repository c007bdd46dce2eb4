package security

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"tenant-console/internal/hashing"
)

// Environment is the set of signals a session is bound to.
type Environment struct {
	UserAgent    string
	Language     string
	ScreenWidth  int
	ScreenHeight int
	// TimezoneOffset is in minutes, as reported by the client.
	TimezoneOffset int
	Host           string
	Platform       string
}

// Fingerprint joins the signals in a fixed order and hashes them.
func (e Environment) Fingerprint() string {
	components := []string{
		e.UserAgent,
		e.Language,
		strconv.Itoa(e.ScreenWidth) + "x" + strconv.Itoa(e.ScreenHeight),
		strconv.Itoa(e.TimezoneOffset),
		e.Host,
		e.Platform,
	}
	return hashing.Fingerprint(strings.Join(components, "|"))
}

type EnvironmentProvider interface {
	Environment() Environment
}

// StaticEnvironment reports a fixed environment that can be replaced at
// runtime, e.g. when the client reports a resized screen.
type StaticEnvironment struct {
	mu  sync.RWMutex
	env Environment
}

func NewStaticEnvironment(env Environment) *StaticEnvironment {
	return &StaticEnvironment{env: env}
}

func (s *StaticEnvironment) Environment() Environment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.env
}

func (s *StaticEnvironment) Update(fn func(*Environment)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.env)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }
