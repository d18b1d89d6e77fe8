// Package internal holds cryptographic helpers shared by the flow engine
// and the development identity store. Nothing here is part of the public
// API.
package internal
