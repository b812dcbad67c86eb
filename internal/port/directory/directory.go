// Package directory defines the optional membership-directory capability.
//
// The membership count lives in an external identity system that is not
// always deployed alongside this core. Callers take the interface as an
// optional collaborator and check availability once at construction,
// rather than probing at each call.
package directory

import "context"

// Membership counts active organization members.
type Membership interface {
	CountActive(ctx context.Context, orgID string) (int, error)
}
