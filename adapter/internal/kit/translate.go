package kit

import (
	"errors"
	"fmt"

	"github.com/hupe1980/meepo/core"
	"github.com/hupe1980/meepo/provider"
	"github.com/sourcegraph/conc/panics"
)

// Translate maps a native framework failure into the core taxonomy.
// Taxonomy errors and context errors pass through unchanged; natives are
// classified by the optional interfaces they implement:
//
//	Unsupported() bool  -> CapabilityUnsupported
//	StatusCode() int    -> transient for 408/409/429/5xx, permanent otherwise
//	Temporary() bool    -> transient when true
//
// Anything else becomes a permanent ProviderError.
func Translate(framework string, err error) error {
	if err == nil {
		return nil
	}
	var te *core.Error
	if errors.As(err, &te) {
		return err
	}
	if core.IsCancellation(err) {
		return err
	}

	op := framework + ".run"

	var unsupported interface{ Unsupported() bool }
	if errors.As(err, &unsupported) && unsupported.Unsupported() {
		e := core.CapabilityUnsupported(framework, err.Error())
		e.Err = err
		return e
	}

	var status interface{ StatusCode() int }
	if errors.As(err, &status) {
		code := status.StatusCode()
		if provider.TransientStatus(code) {
			return core.TransientProviderError(op, err).WithContext("status", code)
		}
		return core.PermanentProviderError(op, err).WithContext("status", code)
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return core.TransientProviderError(op, err)
	}

	return core.PermanentProviderError(op, err)
}

// Guard runs fn, converting a panic into a permanent ProviderError and any
// returned error through Translate.
func Guard(framework string, fn func() error) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		return core.PermanentProviderError(framework+".run", r.AsError()).WithContext("panic", fmt.Sprint(r.Value))
	}
	return Translate(framework, err)
}
