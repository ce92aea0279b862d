// Package util provides common utility functions used across the library.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - ParseScopes / JoinScopes: Convert between space-delimited scope strings and lists
//   - NormalizeURL: Trims trailing slashes for issuer comparison
package util
