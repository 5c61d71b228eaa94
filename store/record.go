package store

import (
	apperrors "github.com/leeforge/pluginhost/errors"
	"github.com/leeforge/pluginhost/plugin"
)

func checkRecord(r *plugin.Record) error {
	if r == nil || r.Name == "" {
		return apperrors.NewInvalidConfig("plugin record needs a name")
	}
	return nil
}

func markFaulted(r *plugin.Record, detail plugin.LoadErrorDetail) {
	r.LoadError = true
	r.LoadErrorDetail = &detail
	if r.Type == "" {
		r.Type = plugin.LocationUser
	}
}

func copyRecord(r plugin.Record) *plugin.Record {
	out := r
	if r.LoadErrorDetail != nil {
		d := *r.LoadErrorDetail
		out.LoadErrorDetail = &d
	}
	return &out
}
