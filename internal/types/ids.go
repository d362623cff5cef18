package types

import "github.com/google/uuid"

// newUUID wraps google/uuid so callers never import it directly; every
// identifier minted by this package goes through the same generator.
func newUUID() string {
	return uuid.NewString()
}
