package models

// Disposition is the outcome tag assigned to a URL after classification
type Disposition string

const (
	DispositionUnset    Disposition = ""         // Zero value = not yet classified
	DispositionAccepted Disposition = "accepted" // Allowed by rules and scored positively
	DispositionBlocked  Disposition = "blocked"  // Disallowed by the domain's exclusion rules
	DispositionDeferred Disposition = "deferred" // Resolver backlog full; resubmit in a later batch
	DispositionRejected Disposition = "rejected" // Malformed or out-of-group URL
	DispositionSkipped  Disposition = "skipped"  // Scorer returned the skip sentinel, or per-server limit hit
)

// AllDispositions lists every valid disposition in a stable order
var AllDispositions = []Disposition{
	DispositionAccepted,
	DispositionBlocked,
	DispositionDeferred,
	DispositionRejected,
	DispositionSkipped,
}

// String implements fmt.Stringer for logging
func (d Disposition) String() string {
	if d == "" {
		return "unset"
	}
	return string(d)
}

// IsValid returns true if the disposition is one of the closed set of tags
func (d Disposition) IsValid() bool {
	switch d {
	case DispositionAccepted, DispositionBlocked, DispositionDeferred, DispositionRejected, DispositionSkipped:
		return true
	}
	return false
}

// DomainState tracks a domain's rule resolution lifecycle within one run
type DomainState string

const (
	DomainStateUnset      DomainState = ""           // Domain never seen
	DomainStatePending    DomainState = "pending"    // Seen, rules task not yet dispatched
	DomainStateProcessing DomainState = "processing" // Rules task dispatched, URLs held
	DomainStateFinished   DomainState = "finished"   // Rules resolved and held URLs classified
)

// String implements fmt.Stringer for logging
func (s DomainState) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the state is a known operational value
func (s DomainState) IsValid() bool {
	switch s {
	case DomainStatePending, DomainStateProcessing, DomainStateFinished:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next follows PENDING -> PROCESSING -> FINISHED
func (s DomainState) CanTransitionTo(next DomainState) bool {
	switch s {
	case DomainStateUnset:
		return next == DomainStatePending
	case DomainStatePending:
		return next == DomainStateProcessing
	case DomainStateProcessing:
		return next == DomainStateFinished
	}
	return false
}
