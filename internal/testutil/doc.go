// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing topologies and cognition endpoints.
// They are not intended for production usage.
package testutil
