package util

import (
	"fmt"
	"strings"
)

// Param is the broadcast channel data type
type Param struct {
	VIN     string
	Domain  string
	Key     string
	Val     interface{}
	Unit    string
	Name    string
	Channel bool
}

// Path returns the fully qualified dot-joined path of the parameter
func (p Param) Path() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.VIN, p.Domain, p.Key} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ".")
}

// UniqueID returns unique identifier for parameter VIN/Domain/Key combination
func (p Param) UniqueID() string {
	return p.Path()
}

// String formats the value for text based consumers
func (p Param) String() string {
	if p.Val == nil {
		return ""
	}
	return fmt.Sprintf("%v", p.Val)
}
