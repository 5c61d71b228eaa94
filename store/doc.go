// Package store holds the persistence backends for plugin records and the
// settings storage backends plugins resolve by name.
package store
