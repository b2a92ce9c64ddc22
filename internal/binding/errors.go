package binding

import "errors"

var (
	// ErrNotBound is returned by Connector.Handle when the service is not bound.
	// Callers should retry after the ready callback fires.
	ErrNotBound = errors.New("binding: service not bound")

	// ErrAlreadyBound is returned by Connector.Bind when a binding is already in
	// progress or established.
	ErrAlreadyBound = errors.New("binding: already bound or binding")

	// ErrUnexpectedBinder is logged when the binder delivered on connect cannot be
	// unwrapped into the connector's handle type.
	ErrUnexpectedBinder = errors.New("binding: unexpected binder type")
)
