package plugin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validDescriptor() *Descriptor {
	return &Descriptor{
		Name:          "AuditLog",
		Type:          "plugin",
		Version:       "1.2.0",
		Compatibility: []string{"6.0"},
	}
}

func TestDescriptor_Validate(t *testing.T) {
	require.NoError(t, validDescriptor().Validate())

	cases := []struct {
		want   string
		mutate func(d *Descriptor)
	}{
		{"name is required", func(d *Descriptor) { d.Name = "" }},
		{"version is required", func(d *Descriptor) { d.Version = "" }},
		{"compatibility is required", func(d *Descriptor) { d.Compatibility = nil }},
		{"name must contain only alphanumeric characters", func(d *Descriptor) { d.Name = "audit-log" }},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			d := validDescriptor()
			tc.mutate(d)
			err := d.Validate()
			require.Error(t, err)
			require.Equal(t, tc.want, err.Error())
		})
	}

	var nilDesc *Descriptor
	require.Error(t, nilDesc.Validate())
}

func TestDescriptor_IsCompatible(t *testing.T) {
	tests := []struct {
		compat []string
		host   string
		want   bool
	}{
		{[]string{"6"}, "6.4.2", true},
		{[]string{"6"}, "5.9.0", false},
		{[]string{"6.4"}, "6.4.9", true},
		{[]string{"6.4"}, "6.5.0", false},
		{[]string{"6.4.1"}, "6.4.1", true},
		{[]string{"6.4.1"}, "6.4.2", false},
		{[]string{"5.0", "6.0"}, "6.0.3", true},
		{[]string{"garbage"}, "6.0.0", false},
		{nil, "6.0.0", false},
		{[]string{"6"}, "", false},
	}
	for _, tt := range tests {
		d := &Descriptor{Compatibility: tt.compat}
		require.Equal(t, tt.want, d.IsCompatible(tt.host), "compat=%v host=%s", tt.compat, tt.host)
	}
}

func TestFaultInfo(t *testing.T) {
	info := FaultInfo("Broken")
	require.Equal(t, "Broken", info.PluginName)
	require.True(t, info.LoadError)
	require.False(t, info.IsCompatible)
	require.Nil(t, info.Config)
}
