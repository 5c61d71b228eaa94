package plugin

import (
	"context"
	"fmt"
)

// LocationType names the directory family a plugin was installed from.
type LocationType string

const (
	LocationCore   LocationType = "core"
	LocationUser   LocationType = "user"
	LocationUpload LocationType = "upload"
)

// ParseLocationType validates a location type string.
func ParseLocationType(s string) (LocationType, error) {
	switch LocationType(s) {
	case LocationCore, LocationUser, LocationUpload:
		return LocationType(s), nil
	default:
		return "", fmt.Errorf("unknown plugin location type %q", s)
	}
}

// LoadErrorDetail describes why a plugin was marked faulted.
type LoadErrorDetail struct {
	Message  string `json:"message"`
	Location string `json:"location"`
}

// Record is the persisted descriptor of an installed plugin.
type Record struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	Active          bool             `json:"active"`
	Type            LocationType     `json:"plugin_type"`
	LoadError       bool             `json:"load_error"`
	LoadErrorDetail *LoadErrorDetail `json:"load_error_detail,omitempty"`
}

// State returns the record's load state.
func (r *Record) State() LoadState {
	if r.LoadError {
		return LoadFaulted
	}
	return LoadOK
}

// Store is the persistence collaborator for plugin records.
type Store interface {
	// Find returns the record named name, or ErrRecordNotFound.
	Find(ctx context.Context, name string) (*Record, error)
	// FindAllActive returns active records ordered by id.
	FindAllActive(ctx context.Context) ([]*Record, error)
	// FindAll returns all records ordered by id.
	FindAll(ctx context.Context) ([]*Record, error)
	// Save inserts (ID == 0, assigning ID) or updates a record.
	Save(ctx context.Context, r *Record) error
	// MarkLoadError sets the load-error flag and detail, inserting the record
	// when it has not been saved yet.
	MarkLoadError(ctx context.Context, r *Record, detail LoadErrorDetail) error
}
