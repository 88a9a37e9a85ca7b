package engine

import "github.com/pkg/errors"

// ErrUnregisteredValidator is surfaced directly to the caller, unlike the
// other sign-path failures which collapse to a false decision (spec §7).
var ErrUnregisteredValidator = errors.New("unregistered validator")
