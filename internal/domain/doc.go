// Package domain defines the core poll types and the interfaces shared between packages.
//
// No implementation code lives here, only contracts. Interfaces are declared on the
// consumer side to keep the dependency graph acyclic.
package domain
