//go:build !testing

package types

// IsTesting enables consistency assertions.
const IsTesting = false
