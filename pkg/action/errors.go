package action

import "errors"

// ErrNoHandler names the condition of an intent's subtype having no
// registered handler. Nothing in this package returns it: Route's contract
// is a bare bool, and an intent whose subtype has no handler is still
// dispatched (its ActionEvent is emitted) without a handler call, in Strict
// mode as well.
var ErrNoHandler = errors.New("action: no handler registered for subtype")
