// Package scope overlays a cells store with nested scopes.
//
// A scope is created with a fixed set of explicit cells. Inside the scope
// those cells, and every cell reached while evaluating them, get their own
// state. Everything else falls through to the parent: a nested scope that
// does not redeclare a cell observes the nearest ancestor's copy, and a cell
// no scope in the chain claims behaves exactly as it does in the root store.
//
// Computed cells that only sometimes read scoped cells are classified while
// they evaluate. Their subscribers follow them between the shared and the
// scoped state without missing or duplicating notifications.
//
// A Store is not safe for concurrent use, matching cells.Store.
package scope
