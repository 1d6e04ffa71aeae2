package model

import "fmt"

// IslReference identifies a bidirectional inter-switch link.
//
// The two endpoints are canonicalized at construction: the endpoint with the
// smaller switch id (ties broken by port number) is always Source. Both
// discovery directions therefore resolve to the same value, which is used
// directly as a map key.
//
// A degenerate reference carries a single endpoint. It exists while only one
// direction of a link has been observed.
type IslReference struct {
	Source Endpoint `json:"source"`
	Dest   Endpoint `json:"dest"`
	single bool
}

// NewIslReference returns the canonical reference for the link between a
// and b. NewIslReference(a, b) == NewIslReference(b, a).
func NewIslReference(a, b Endpoint) IslReference {
	if b.Compare(a) < 0 {
		a, b = b, a
	}
	return IslReference{Source: a, Dest: b}
}

// NewSingleIslReference returns a degenerate reference holding one endpoint.
func NewSingleIslReference(e Endpoint) IslReference {
	return IslReference{Source: e, single: true}
}

// IsDegenerate reports whether the reference names only one endpoint.
func (r IslReference) IsDegenerate() bool {
	return r.single
}

// Contains reports whether e is one of the reference endpoints.
func (r IslReference) Contains(e Endpoint) bool {
	if r.Source == e {
		return true
	}
	return !r.single && r.Dest == e
}

// Opposite returns the endpoint at the other end of the link from e.
func (r IslReference) Opposite(e Endpoint) (Endpoint, error) {
	switch {
	case r.single:
		return Endpoint{}, fmt.Errorf("%w: %s in degenerate %s", ErrEndpointNotInReference, e, r)
	case r.Source == e:
		return r.Dest, nil
	case r.Dest == e:
		return r.Source, nil
	default:
		return Endpoint{}, fmt.Errorf("%w: %s in %s", ErrEndpointNotInReference, e, r)
	}
}

// Endpoints returns the endpoints of the reference, source first.
func (r IslReference) Endpoints() []Endpoint {
	if r.single {
		return []Endpoint{r.Source}
	}
	return []Endpoint{r.Source, r.Dest}
}

// String returns "source===dest" or "source===?" for degenerate references.
func (r IslReference) String() string {
	if r.single {
		return r.Source.String() + "===?"
	}
	return r.Source.String() + "===" + r.Dest.String()
}
