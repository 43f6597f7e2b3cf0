package datasource

import (
	"fmt"

	"github.com/nodefleet/dsengine/apperr"
)

// reservedIDs are property names the host system owns; a data source
// may never claim one, because that would let an operator quietly hijack
// a property the platform itself depends on.
var reservedIDs = map[string]struct{}{
	"id":              {},
	"hostname":        {},
	"policyServer":    {},
	"os":              {},
	"ipAddresses":     {},
	"environment":     {},
	"agentVersion":    {},
	"lastReportDate":  {},
}

// IsReserved reports whether id is a reserved property name.
func IsReserved(id string) bool {
	_, ok := reservedIDs[id]
	return ok
}

// ReservedIDError is returned by Save when id is reserved; its message
// always contains "reserved" so callers can match on the substring per
// the persisted contract, in addition to errors.Is-style matching on the
// wrapped sentinel.
type ReservedIDError struct {
	ID string
}

func (e *ReservedIDError) Error() string {
	return fmt.Sprintf("data source id %q is reserved and cannot be saved", e.ID)
}

func (e *ReservedIDError) Unwrap() error { return apperr.ErrReservedID }
