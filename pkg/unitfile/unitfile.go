// Package unitfile reads the section/directive format of unit
// definition files. Only the [X-Traefik] section and its Label
// directives are consumed; everything else is opaque.
package unitfile

import (
	"gopkg.in/ini.v1"

	"github.com/unit-tools/traefik-unit-provider/pkg/errors"
)

const (
	// TraefikSection marks a unit as trackable by this provider.
	TraefikSection = "X-Traefik"

	labelKey = "Label"
)

func parse(text string) (*ini.File, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		// systemd allows a directive to repeat; every occurrence counts.
		AllowShadows: true,
		// Unit files never use ':' and label values may contain it.
		KeyValueDelimiters: "=",
		// Label values pass through verbatim, '#' and ';' included.
		IgnoreInlineComment: true,
	}, []byte(text))
	if err != nil {
		return nil, errors.NewParseError("failed to parse unit file", err)
	}
	return file, nil
}

// HasTraefikSection reports whether the unit file text contains a
// section literally named X-Traefik.
func HasTraefikSection(text string) (bool, error) {
	file, err := parse(text)
	if err != nil {
		return false, err
	}
	_, err = file.GetSection(TraefikSection)
	return err == nil, nil
}

// TraefikLabels returns the values of all Label directives in the
// X-Traefik section, in file order. A missing section yields no
// labels and no error.
func TraefikLabels(text string) ([]string, error) {
	file, err := parse(text)
	if err != nil {
		return nil, err
	}
	section, err := file.GetSection(TraefikSection)
	if err != nil {
		return nil, nil
	}
	if !section.HasKey(labelKey) {
		return nil, nil
	}
	return section.Key(labelKey).ValueWithShadows(), nil
}
