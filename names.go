/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"slices"
	"strings"
)

const (
	inputBulk   = "bulk"
	inputSingle = "single"

	// maxInputLen bounds each shared input buffer, since it is resent on
	// every snapshot.
	maxInputLen = 16 << 10
)

// NameRegistry is the ordered list of entrants, plus the shared contents of
// the two name input fields.
type NameRegistry struct {
	names       []string
	bulkInput   string
	singleInput string
}

func splitNames(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ','
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if name := strings.TrimSpace(f); name != "" {
			tokens = append(tokens, name)
		}
	}

	return tokens
}

func (n *NameRegistry) contains(name string) bool {
	return slices.Contains(n.names, name)
}

// addBulk appends every new name found in text. Names already registered,
// or repeated earlier in the same text, are skipped.
func (n *NameRegistry) addBulk(text string) bool {
	added := 0
	for _, name := range splitNames(text) {
		if n.contains(name) {
			continue
		}
		n.names = append(n.names, name)
		added++
	}

	if added == 0 {
		return false
	}

	n.bulkInput = ""

	return true
}

func (n *NameRegistry) addSingle(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || n.contains(name) {
		return false
	}

	n.names = append(n.names, name)
	n.singleInput = ""

	return true
}

func (n *NameRegistry) remove(name string) bool {
	i := slices.Index(n.names, name)
	if i < 0 {
		return false
	}

	n.names = slices.Delete(n.names, i, i+1)

	return true
}

func (n *NameRegistry) clearAll() bool {
	if len(n.names) == 0 && n.bulkInput == "" && n.singleInput == "" {
		return false
	}

	n.names = nil
	n.bulkInput = ""
	n.singleInput = ""

	return true
}

func (n *NameRegistry) clearInput() bool {
	if n.bulkInput == "" {
		return false
	}

	n.bulkInput = ""

	return true
}

func (n *NameRegistry) setInput(field, text string) bool {
	var buf *string
	switch field {
	case inputBulk:
		buf = &n.bulkInput
	case inputSingle:
		buf = &n.singleInput
	default:
		return false
	}

	if len(text) > maxInputLen || *buf == text {
		return false
	}

	*buf = text

	return true
}

func (n *NameRegistry) size() int {
	return len(n.names)
}

func (n *NameRegistry) list() []string {
	return slices.Clone(n.names)
}
