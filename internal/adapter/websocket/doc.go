// Package websocket is the observer endpoint: origin policy, connection limits,
// the HTTP upgrade and the read pump. Outbound traffic is owned by internal/broadcast.
package websocket
