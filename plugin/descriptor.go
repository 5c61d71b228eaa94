package plugin

import (
	"context"
	"fmt"
	"strings"

	validatorV10 "github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
)

var validate = validatorV10.New()

// Descriptor is the metadata a plugin directory declares in its config file.
type Descriptor struct {
	Name          string         `xml:"metadata>name" yaml:"name" json:"name" validate:"required,alphanum"`
	Type          string         `xml:"metadata>type" yaml:"type" json:"type" default:"plugin" validate:"required"`
	Version       string         `xml:"metadata>version" yaml:"version" json:"version" validate:"required"`
	Author        string         `xml:"metadata>author" yaml:"author" json:"author,omitempty"`
	Description   string         `xml:"metadata>description" yaml:"description" json:"description,omitempty"`
	License       string         `xml:"metadata>license" yaml:"license" json:"license,omitempty"`
	Compatibility []string       `xml:"compatibility>version" yaml:"compatibility" json:"compatibility" validate:"required,min=1,dive,required"`
	Settings      map[string]any `xml:"-" yaml:"settings" json:"settings,omitempty"`

	// Path is the directory the descriptor was read from.
	Path string `xml:"-" yaml:"-" json:"path,omitempty"`
}

// Validate checks the descriptor has every required field.
func (d *Descriptor) Validate() error {
	if d == nil {
		return fmt.Errorf("descriptor is nil")
	}
	if err := validate.Struct(d); err != nil {
		if verrs, ok := err.(validatorV10.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s %s", strings.ToLower(fe.Field()), validationMessage(fe))
		}
		return err
	}
	return nil
}

// IsCompatible reports whether any declared compatibility version matches
// hostVersion. "4" matches every 4.x.y, "4.3" every 4.3.y, and "4.3.1" only
// 4.3.1 itself.
func (d *Descriptor) IsCompatible(hostVersion string) bool {
	if d == nil {
		return false
	}
	host := canonical(hostVersion)
	if host == "" {
		return false
	}
	for _, v := range d.Compatibility {
		want := canonical(v)
		if want == "" {
			continue
		}
		switch strings.Count(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".") {
		case 0:
			if semver.Major(host) == semver.Major(want) {
				return true
			}
		case 1:
			if semver.MajorMinor(host) == semver.MajorMinor(want) {
				return true
			}
		default:
			if semver.Compare(host, want) == 0 {
				return true
			}
		}
	}
	return false
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func validationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "alphanum":
		return "must contain only alphanumeric characters"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

// PluginInfo is a scan or lookup result for a plugin directory.
// Fault entries only carry PluginName, LoadError and IsCompatible.
type PluginInfo struct {
	PluginName   string       `json:"pluginName"`
	PluginClass  string       `json:"pluginClass,omitempty"`
	Description  string       `json:"description,omitempty"`
	Config       *Descriptor  `json:"pluginConfig,omitempty"`
	IsCompatible bool         `json:"isCompatible"`
	LoadError    bool         `json:"load_error"`
	PluginType   LocationType `json:"pluginType,omitempty"`
}

// FaultInfo is the minimal entry reported for a plugin whose record is faulted.
func FaultInfo(name string) *PluginInfo {
	return &PluginInfo{PluginName: name, LoadError: true, IsCompatible: false}
}

// Source is the filesystem collaborator that finds plugin directories and
// reads their descriptors.
type Source interface {
	// ListSubdirectories returns the directory names directly under path.
	// A missing path yields no names and no error.
	ListSubdirectories(path string) ([]string, error)

	// Locate reports whether dir/name holds a plugin entry file.
	Locate(dir, name string) bool

	// ReadDescriptor parses the descriptor in pluginDir. It returns
	// ErrDescriptorMissing when the directory has none.
	ReadDescriptor(pluginDir string) (*Descriptor, error)

	// Import makes the class defined in dir/name available in classes.
	// Compiled-in classes need nothing; script classes get registered.
	Import(ctx context.Context, dir, name string, classes *ClassRegistry) error
}
