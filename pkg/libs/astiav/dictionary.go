package astiavmedia

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asticode/go-astiav"
)

// DictionaryOptions are either parsed from a string or built from a map
type DictionaryOptions struct {
	Flags             astiav.DictionaryFlags
	KeyValueSeparator string
	PairsSeparator    string
	String            string
	Values            map[string]string
}

func NewCommaDictionaryOptions(format string, args ...interface{}) DictionaryOptions {
	return DictionaryOptions{
		KeyValueSeparator: "=",
		PairsSeparator:    ",",
		String:            fmt.Sprintf(format, args...),
	}
}

func (o DictionaryOptions) string() string {
	if len(o.Values) == 0 {
		return o.String
	}

	// Sort keys so that output is deterministic
	var ks []string
	for k := range o.Values {
		ks = append(ks, k)
	}
	sort.Strings(ks)

	// Build string
	var ps []string
	if o.String != "" {
		ps = append(ps, o.String)
	}
	for _, k := range ks {
		ps = append(ps, k+o.keyValueSeparator()+o.Values[k])
	}
	return strings.Join(ps, o.pairsSeparator())
}

func (o DictionaryOptions) keyValueSeparator() string {
	if o.KeyValueSeparator == "" {
		return "="
	}
	return o.KeyValueSeparator
}

func (o DictionaryOptions) pairsSeparator() string {
	if o.PairsSeparator == "" {
		return ","
	}
	return o.PairsSeparator
}

// dictionary must be closed even when its underlying libav dictionary is nil
type dictionary struct {
	*astiav.Dictionary
}

func (d *dictionary) close() {
	if d.Dictionary != nil {
		d.Free()
	}
}

func (o DictionaryOptions) dictionary() (*dictionary, error) {
	// Nothing to do
	s := o.string()
	if s == "" {
		return &dictionary{}, nil
	}

	// Create dictionary
	d := astiav.NewDictionary()

	// Parse string
	if err := d.ParseString(s, o.keyValueSeparator(), o.pairsSeparator(), o.Flags); err != nil {
		d.Free()
		return nil, fmt.Errorf("astiavmedia: parsing string failed: %w", err)
	}
	return &dictionary{Dictionary: d}, nil
}
