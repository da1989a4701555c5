package gate

import (
	"fmt"
	"strings"

	"github.com/mikepea/avoproxy/pkg/avoproxy/models"
)

// Kind tags the variant of a Predicate.
type Kind int

const (
	KindPublic Kind = iota
	KindLoggedIn
	KindPermission
	KindAnyOf
	KindAllOf
	KindOwner
)

// Predicate decides access for one operation. It is plain data so a table
// of them can be checked for completeness before the server starts.
type Predicate struct {
	Kind       Kind
	Permission string
	Children   []Predicate
	// VariablePath is a dot separated path into the query variables.
	VariablePath string
}

// Public allows everyone, including callers without a user.
func Public() Predicate { return Predicate{Kind: KindPublic} }

// LoggedIn allows any user.
func LoggedIn() Predicate { return Predicate{Kind: KindLoggedIn} }

// Perm allows users whose groups grant name.
func Perm(name string) Predicate { return Predicate{Kind: KindPermission, Permission: name} }

// AnyOf allows when at least one child allows.
func AnyOf(children ...Predicate) Predicate { return Predicate{Kind: KindAnyOf, Children: children} }

// AllOf allows when every child allows.
func AllOf(children ...Predicate) Predicate { return Predicate{Kind: KindAllOf, Children: children} }

// Owner allows when the variable at path equals the caller's profile uuid.
func Owner(path string) Predicate { return Predicate{Kind: KindOwner, VariablePath: path} }

// Eval runs the predicate. It has no side effects and never blocks.
func (p Predicate) Eval(user *models.User, vars map[string]any) bool {
	switch p.Kind {
	case KindPublic:
		return true
	case KindLoggedIn:
		return user != nil
	case KindPermission:
		return user != nil && user.HasPermission(p.Permission)
	case KindAnyOf:
		for _, c := range p.Children {
			if c.Eval(user, vars) {
				return true
			}
		}
		return false
	case KindAllOf:
		if len(p.Children) == 0 {
			return false
		}
		for _, c := range p.Children {
			if !c.Eval(user, vars) {
				return false
			}
		}
		return true
	case KindOwner:
		if user == nil || user.Profile.UID == "" {
			return false
		}
		value, ok := lookup(vars, p.VariablePath)
		if !ok {
			return false
		}
		id, isString := value.(string)
		return isString && strings.EqualFold(id, user.Profile.UID)
	}
	return false
}

// Permissions lists every permission the predicate refers to.
func (p Predicate) Permissions() []string {
	var names []string
	if p.Kind == KindPermission {
		names = append(names, p.Permission)
	}
	for _, c := range p.Children {
		names = append(names, c.Permissions()...)
	}
	return names
}

// validate rejects empty combinators and malformed leaves.
func (p Predicate) validate() error {
	switch p.Kind {
	case KindPublic, KindLoggedIn:
		return nil
	case KindPermission:
		if p.Permission == "" {
			return fmt.Errorf("permission predicate without a permission")
		}
		return nil
	case KindOwner:
		if p.VariablePath == "" {
			return fmt.Errorf("owner predicate without a variable path")
		}
		return nil
	case KindAnyOf, KindAllOf:
		if len(p.Children) == 0 {
			return fmt.Errorf("combinator without children")
		}
		for _, c := range p.Children {
			if err := c.validate(); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown predicate kind %d", p.Kind)
}

func lookup(vars map[string]any, path string) (any, bool) {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, current != nil
}
