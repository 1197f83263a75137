// Package mimemsg composes outbound RFC 5322 messages and parses raw inbound
// ones with go-message. Header names given by callers are written verbatim.
package mimemsg
