package descriptor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/leeforge/pluginhost/plugin"
	"gopkg.in/yaml.v3"
)

// xmlDocument is the config.xml layout:
//
//	<config>
//	  <metadata><name/><type/><version/>...</metadata>
//	  <compatibility><version>6.0</version></compatibility>
//	  <settings><setting name="key">value</setting></settings>
//	</config>
type xmlDocument struct {
	XMLName xml.Name `xml:"config"`
	plugin.Descriptor
	SettingList []xmlSetting `xml:"settings>setting"`
}

type xmlSetting struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// ParseXML parses a config.xml descriptor. Setting values are typed as bool,
// int or float when they parse as one, and kept as strings otherwise.
func ParseXML(data []byte) (*plugin.Descriptor, error) {
	var doc xmlDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse config.xml: %w", err)
	}

	desc := doc.Descriptor
	trimAll(&desc)
	if len(doc.SettingList) > 0 {
		desc.Settings = make(map[string]any, len(doc.SettingList))
		for _, s := range doc.SettingList {
			if s.Name == "" {
				return nil, fmt.Errorf("parse config.xml: setting without name")
			}
			desc.Settings[s.Name] = typedValue(strings.TrimSpace(s.Value))
		}
	}
	if err := defaults.Set(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// ParseYAML parses a plugin.yaml descriptor.
func ParseYAML(data []byte) (*plugin.Descriptor, error) {
	var desc plugin.Descriptor
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse plugin.yaml: %w", err)
	}
	trimAll(&desc)
	if err := defaults.Set(&desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

func trimAll(d *plugin.Descriptor) {
	d.Name = strings.TrimSpace(d.Name)
	d.Type = strings.TrimSpace(d.Type)
	d.Version = strings.TrimSpace(d.Version)
	d.Author = strings.TrimSpace(d.Author)
	d.Description = strings.TrimSpace(d.Description)
	d.License = strings.TrimSpace(d.License)
	for i, v := range d.Compatibility {
		d.Compatibility[i] = strings.TrimSpace(v)
	}
}

func typedValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
