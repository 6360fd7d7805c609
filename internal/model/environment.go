// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the ordered Environment injected into remote commands.
package model

import "strings"

// EnvVar is a single environment variable.
type EnvVar struct {
	Name  string
	Value string
}

// Environment is an ordered set of variables. The zero value is ready to use.
type Environment struct {
	vars []EnvVar
}

// Set adds name or replaces its value in place, keeping the original order.
func (e *Environment) Set(name, value string) {
	for i := range e.vars {
		if e.vars[i].Name == name {
			e.vars[i].Value = value
			return
		}
	}
	e.vars = append(e.vars, EnvVar{Name: name, Value: value})
}

// SetDefault adds name only if it is not already present.
func (e *Environment) SetDefault(name, value string) {
	if _, ok := e.Get(name); ok {
		return
	}
	e.vars = append(e.vars, EnvVar{Name: name, Value: value})
}

// Get returns the value of name.
func (e Environment) Get(name string) (string, bool) {
	for _, v := range e.vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Vars returns a copy of the variables in insertion order.
func (e Environment) Vars() []EnvVar {
	out := make([]EnvVar, len(e.vars))
	copy(out, e.vars)
	return out
}

// Len returns the number of variables.
func (e Environment) Len() int { return len(e.vars) }

// Map returns the variables as a map.
func (e Environment) Map() map[string]string {
	m := make(map[string]string, len(e.vars))
	for _, v := range e.vars {
		m[v.Name] = v.Value
	}
	return m
}

// Exports renders the environment as a list of shell export statements
// joined by "; ". Values are single-quoted.
func (e Environment) Exports() string {
	parts := make([]string, len(e.vars))
	for i, v := range e.vars {
		parts[i] = "export " + v.Name + "=" + ShellQuote(v.Value)
	}
	return strings.Join(parts, "; ")
}

// ShellQuote wraps s in single quotes for a POSIX shell. Plain tokens made
// of safe characters are returned unchanged.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:,=@+%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
