// Package catalog holds the read-only reference data for the five supported
// French tax forms: valid line codes, their semantic types, and cross-form
// relationships. The data ships embedded with the binary.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/olaf-fiscalyfr/french-tax-assistant-2024/internal/core/domain"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

type LineType string

const (
	TypeAmountEUR     LineType = "amount_eur"
	TypeAmountForeign LineType = "amount_foreign"
	TypeFreeText      LineType = "free_text"
	TypeAccountID     LineType = "account_id"
	TypeCountryCode   LineType = "country_code"
)

// Numeric reports whether values of this type must parse as amounts.
func (t LineType) Numeric() bool {
	return t == TypeAmountEUR || t == TypeAmountForeign
}

type LineRef struct {
	Form string `yaml:"form" json:"form"`
	Code string `yaml:"code" json:"code"`
}

type LineSpec struct {
	Code      string    `yaml:"-" json:"code"`
	Label     string    `yaml:"label" json:"label"`
	Type      LineType  `yaml:"type" json:"type"`
	Signed    bool      `yaml:"signed" json:"signed,omitempty"`
	Abatement float64   `yaml:"abatement" json:"abatement,omitempty"`
	CrossRefs []LineRef `yaml:"cross_refs" json:"cross_refs,omitempty"`
}

type formSpec struct {
	Label string              `yaml:"label"`
	Lines map[string]LineSpec `yaml:"lines"`
}

type catalogFile struct {
	ExportOrder []string            `yaml:"export_order"`
	Forms       map[string]formSpec `yaml:"forms"`
}

type Catalog struct {
	order []string
	forms map[string]formSpec
}

// Load parses the embedded reference data.
func Load() (*Catalog, error) {
	return Parse(embeddedCatalog)
}

// Parse builds a catalog from raw YAML. A catalog without forms or with a
// form without lines is structurally invalid.
func Parse(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog", err)
	}
	if len(file.Forms) == 0 {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog", errors.New("no forms defined"))
	}
	for form, spec := range file.Forms {
		if len(spec.Lines) == 0 {
			return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog",
				fmt.Errorf("form %s has no lines", form))
		}
		for code, line := range spec.Lines {
			switch line.Type {
			case TypeAmountEUR, TypeAmountForeign, TypeFreeText, TypeAccountID, TypeCountryCode:
			default:
				return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog",
					fmt.Errorf("form %s line %s: unknown type %q", form, code, line.Type))
			}
			for _, ref := range line.CrossRefs {
				target, ok := file.Forms[ref.Form]
				if !ok {
					return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog",
						fmt.Errorf("form %s line %s: cross-reference to unknown form %s", form, code, ref.Form))
				}
				if _, ok := target.Lines[ref.Code]; !ok {
					return nil, domain.WrapError(domain.ErrConfiguration, "parse catalog",
						fmt.Errorf("form %s line %s: cross-reference to unknown line %s/%s", form, code, ref.Form, ref.Code))
				}
			}
		}
	}

	order := file.ExportOrder
	if len(order) == 0 {
		for form := range file.Forms {
			order = append(order, form)
		}
		sort.Strings(order)
	}
	return &Catalog{order: order, forms: file.Forms}, nil
}

// Lookup returns the line spec for a (form, code) pair.
func (c *Catalog) Lookup(form, code string) (LineSpec, bool) {
	spec, ok := c.forms[form]
	if !ok {
		return LineSpec{}, false
	}
	line, ok := spec.Lines[domain.NormalizeCode(code)]
	if !ok {
		return LineSpec{}, false
	}
	line.Code = domain.NormalizeCode(code)
	return line, true
}

func (c *Catalog) IsValid(form, code string) bool {
	_, ok := c.Lookup(form, code)
	return ok
}

// CrossReferences returns the lines a (form, code) pair points at, e.g. the
// 2047 income lines a 3916 account number reconciles against.
func (c *Catalog) CrossReferences(form, code string) []LineRef {
	line, ok := c.Lookup(form, code)
	if !ok {
		return nil
	}
	return line.CrossRefs
}

// Forms lists the form identifiers in export order.
func (c *Catalog) Forms() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) FormLabel(form string) string {
	spec, ok := c.forms[form]
	if !ok {
		return ""
	}
	return spec.Label
}

// Lines returns the specs of a form sorted by line code.
func (c *Catalog) Lines(form string) []LineSpec {
	spec, ok := c.forms[form]
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(spec.Lines))
	for code := range spec.Lines {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]LineSpec, 0, len(codes))
	for _, code := range codes {
		line := spec.Lines[code]
		line.Code = code
		out = append(out, line)
	}
	return out
}
