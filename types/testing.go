//go:build testing

package types

// IsTesting enables consistency assertions.
// Run tests with -tags=testing to activate them.
const IsTesting = true
