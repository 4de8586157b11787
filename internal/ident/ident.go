// Package ident mints unique student identifiers.
package ident

import "github.com/google/uuid"

// New returns a fresh opaque student id.
func New() string {
	return uuid.NewString()
}
