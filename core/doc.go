// Package core contains the mail sync domain: connections and token sets, the
// PKCE authorization flow, the mailbox client, conversation-threaded ingestion
// into tickets and outbound ticket correspondence. Mailbox backends, SMTP,
// storage and event adapters live in sibling packages and depend on core;
// core never imports them.
package core
