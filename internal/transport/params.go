// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package transport

import (
	"net/url"
	"strconv"
	"strings"
)

// Params is an ordered list of form parameters. A parameter set with SetNull is
// kept in the list but omitted from the encoded body.
// The zero value is an empty list ready to use.
type Params struct {
	names  []string
	values []*string
}

// Set appends a parameter.
func (p *Params) Set(name, value string) *Params {
	p.names = append(p.names, name)
	p.values = append(p.values, &value)
	return p
}

// SetNull appends a parameter without a value.
func (p *Params) SetNull(name string) *Params {
	p.names = append(p.names, name)
	p.values = append(p.values, nil)
	return p
}

// SetBool appends a boolean parameter as "true" or "false".
func (p *Params) SetBool(name string, value bool) *Params {
	return p.Set(name, strconv.FormatBool(value))
}

// SetInt appends an integer parameter.
func (p *Params) SetInt(name string, value int) *Params {
	return p.Set(name, strconv.Itoa(value))
}

// Merge appends all parameters of other, preserving their order.
func (p *Params) Merge(other Params) *Params {
	p.names = append(p.names, other.names...)
	p.values = append(p.values, other.values...)
	return p
}

// Get returns the last non-null value set for name.
func (p Params) Get(name string) (string, bool) {
	for i := len(p.names) - 1; i >= 0; i-- {
		if p.names[i] == name && p.values[i] != nil {
			return *p.values[i], true
		}
	}
	return "", false
}

// Len returns the number of parameters, null ones included.
func (p Params) Len() int {
	return len(p.names)
}

// Encode returns the URL form encoding of all non-null parameters in insertion order.
func (p Params) Encode() string {
	var b strings.Builder
	for i, name := range p.names {
		if p.values[i] == nil {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(*p.values[i]))
	}
	return b.String()
}

// Values returns the non-null parameters by name. Later values win.
func (p Params) Values() map[string]string {
	res := make(map[string]string, len(p.names))
	for i, name := range p.names {
		if p.values[i] != nil {
			res[name] = *p.values[i]
		}
	}
	return res
}
