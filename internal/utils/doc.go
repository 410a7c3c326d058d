// Package utils holds the small helpers shared by the gobox client and server:
// path handling, log plumbing and credential helpers.
package utils
