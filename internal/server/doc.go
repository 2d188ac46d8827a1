// Package server exposes the messaging core over HTTP and websocket.
//
// The REST API (gin) covers accounts, messages, groups, uploads and
// administration. Each authenticated websocket connection becomes a Client,
// the hub.Session registered for its user, with a read pump decoding inbound
// frames and a write pump draining its send queue.
package server
