// Package providers holds the OAuth 2.0 client used by the authorization flow
// and the identity-platform presets that configure it.
package providers
