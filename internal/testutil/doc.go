// Package testutil provides testing utilities and fixtures shared by the package tests.
package testutil
