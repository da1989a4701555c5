// Package gate decides whether a user may run a named data operation. Each
// caller namespace has its own immutable table; an operation without an
// entry is denied.
package gate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
	"github.com/mikepea/avoproxy/pkg/avoproxy/permissions"
)

// Namespace separates operations sent by the browser from those sent by
// trusted backends; the same name may mean different queries in each.
type Namespace string

const (
	Client Namespace = "client"
	Server Namespace = "server"
)

// RoutePrefix marks the pseudo operations used by route guards.
const RoutePrefix = "ROUTE:"

// RouteOperation is the pseudo operation checked by hasPermission(name).
func RouteOperation(permission string) string {
	return RoutePrefix + permission
}

// Table maps operation names to predicates.
type Table map[string]Predicate

// Gate holds the tables. It is built once and only read afterwards.
type Gate struct {
	tables map[Namespace]Table
}

// New builds a gate from explicit tables. Every known permission also gets
// a ROUTE:<permission> entry in the client table.
func New(client, server Table) *Gate {
	c := make(Table, len(client)+len(permissions.All))
	for name, p := range client {
		c[name] = p
	}
	for _, perm := range permissions.All {
		c[RouteOperation(perm)] = Perm(perm)
	}
	s := make(Table, len(server))
	for name, p := range server {
		s[name] = p
	}
	return &Gate{tables: map[Namespace]Table{Client: c, Server: s}}
}

// Default builds the gate with the platform's operation tables.
func Default() *Gate {
	return New(ClientTable(), ServerTable())
}

// IsAllowed reports whether user may run operation in namespace. user may
// be nil for anonymous callers.
func (g *Gate) IsAllowed(ns Namespace, operation string, user *models.User, vars map[string]any) bool {
	table, ok := g.tables[ns]
	if !ok {
		return false
	}
	p, ok := table[operation]
	if !ok {
		return false
	}
	return p.Eval(user, vars)
}

// Has reports whether operation has an entry in namespace.
func (g *Gate) Has(ns Namespace, operation string) bool {
	_, ok := g.tables[ns][operation]
	return ok
}

// Validate checks that every name in operations has an entry and that no
// entry of the namespace is malformed or refers to an unknown permission.
func (g *Gate) Validate(ns Namespace, operations []string) error {
	table, ok := g.tables[ns]
	if !ok {
		return fmt.Errorf("unknown namespace %q", ns)
	}

	var errs []error
	for _, op := range operations {
		if _, ok := table[op]; !ok {
			errs = append(errs, fmt.Errorf("%s operation %s has no permission entry", ns, op))
		}
	}

	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p := table[name]
		if err := p.validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s operation %s: %w", ns, name, err))
		}
		for _, perm := range p.Permissions() {
			if !permissions.IsKnown(perm) {
				errs = append(errs, fmt.Errorf("%s operation %s references unknown permission %q", ns, name, perm))
			}
		}
	}
	return errors.Join(errs...)
}
