// Package host executes account calls the way a chain would: one call is one
// transaction, the manager's outbound messages are dispatched depth-first in
// program order inside it, and any failure rolls back every write.
//
// The host also plays the collaborators the manager only talks to through
// messages: the module factory, the proxy whitelist, API authorization lists,
// contract migration and the per-address metadata query surface.
//
// Every dispatched message is appended to the message log with the
// transaction token and a seq that continues from the last committed entry.
package host
