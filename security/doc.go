// Package security encrypts OAuth token material before it reaches the store.
package security
