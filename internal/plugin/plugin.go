package plugin

import (
	"context"
	"errors"
	"fmt"

	"fabingest/internal/services"
)

// Plugin is the contract every handler implements. Process may be called
// concurrently for different paths and more than once for the same path.
type Plugin interface {
	Name() string
	Version() string
	Initialize(loc services.Locator) error
	Start() error
	Stop() error
	Process(ctx context.Context, path string, args ...any) error
	Dispose() error
}

// ErrPanic marks a plugin call that panicked.
var ErrPanic = errors.New("plugin panicked")

// Base supplies identity and no-op lifecycle methods for embedding. Its
// Initialize resolves the message logger every plugin requires.
type Base struct {
	PluginName    string
	PluginVersion string
	Log           services.Logger
	Services      services.Locator
}

// NewBase returns a Base carrying the manifest identity.
func NewBase(spec Spec) Base {
	version := spec.Version
	if version == "" {
		version = "0.0.0"
	}
	return Base{PluginName: spec.Name, PluginVersion: version}
}

func (b *Base) Name() string    { return b.PluginName }
func (b *Base) Version() string { return b.PluginVersion }

func (b *Base) Initialize(loc services.Locator) error {
	logger, err := services.Require[services.Logger](loc)
	if err != nil {
		return err
	}
	b.Log = logger
	b.Services = loc
	return nil
}

func (b *Base) Start() error   { return nil }
func (b *Base) Stop() error    { return nil }
func (b *Base) Dispose() error { return nil }

// safeCall runs fn and converts a panic into an error marked with
// services.ErrPlugin and ErrPanic.
func safeCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %w: %v", services.ErrPlugin, ErrPanic, rec)
		}
	}()
	return fn()
}
