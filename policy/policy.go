// Package policy classifies wiki request paths and evaluates the
// banned/admin/protected-page predicates. Unconfigured predicates are
// no-ops: absence of configuration means the feature is disabled, which is
// distinct from an authentication failure.
package policy

import (
	"regexp"
	"strings"
)

// Access is the classification of a request path
type Access int

const (
	AccessRead Access = iota
	AccessWrite
)

// String implements fmt.Stringer
func (a Access) String() string {
	if a == AccessWrite {
		return "write"
	}
	return "read"
}

// writePathRE matches the wiki's mutation sub-paths, with the gollum/
// routing prefix optional. The second capture group is the page name.
var writePathRE = regexp.MustCompile(
	`^/(?:gollum/)?(create|edit|delete|rename|revert_commit|revert|upload_file)(?:/(.*))?$`)

// Classifier classifies request paths relative to a base path prefix
type Classifier struct {
	basePath string
}

// NewClassifier creates a Classifier. basePath is the prefix the wiki is
// mounted under; empty means the root.
func NewClassifier(basePath string) *Classifier {
	return &Classifier{basePath: basePath}
}

// Classify returns AccessWrite when the path names a mutation sub-path and
// AccessRead otherwise. The method is accepted for interface symmetry but a
// matching write path is a write regardless of method.
func (c *Classifier) Classify(path, method string) Access {
	_ = method
	if writePathRE.MatchString(c.strip(path)) {
		return AccessWrite
	}
	return AccessRead
}

// Page extracts the wiki page name from a request path: the remainder after
// the base path and any mutation sub-path prefix.
func (c *Classifier) Page(path string) string {
	p := c.strip(path)
	if m := writePathRE.FindStringSubmatch(p); m != nil {
		return m[2]
	}
	return strings.TrimPrefix(p, "/")
}

func (c *Classifier) strip(path string) string {
	if c.basePath == "" {
		return path
	}
	return strings.TrimPrefix(path, c.basePath)
}

// Membership is a polymorphic membership test over a candidate name
type Membership interface {
	Contains(name string) bool
}

// StaticList is a list-backed Membership
type StaticList []string

// Contains reports whether name appears in the list
func (l StaticList) Contains(name string) bool {
	for _, entry := range l {
		if entry == name {
			return true
		}
	}
	return false
}

// MembershipFunc adapts an arbitrary predicate to Membership
type MembershipFunc func(name string) bool

// Contains invokes the predicate
func (f MembershipFunc) Contains(name string) bool {
	return f(name)
}

// Policy holds the configured predicates and flags. Nil Membership fields
// disable the corresponding check.
type Policy struct {
	Banned         Membership
	Admins         Membership
	ProtectedPages Membership

	AllowUnauthenticatedReads bool

	// AdminBypassProtected controls whether admins may pass the
	// protected-page check. When false, protected pages are denied through
	// the gate for everyone.
	AdminBypassProtected bool
}

// IsBanned reports whether the named identity is banned. False for the
// empty name or when no banned list was configured.
func (p *Policy) IsBanned(name string) bool {
	if p.Banned == nil || name == "" {
		return false
	}
	return p.Banned.Contains(name)
}

// IsAdmin reports whether the named identity is an administrator. False for
// the empty name or when no admin list was configured.
func (p *Policy) IsAdmin(name string) bool {
	if p.Admins == nil || name == "" {
		return false
	}
	return p.Admins.Contains(name)
}

// IsProtectedPage reports whether the named page requires escalated rights.
// False for the empty name or when no protected list was configured.
func (p *Policy) IsProtectedPage(name string) bool {
	if p.ProtectedPages == nil || name == "" {
		return false
	}
	return p.ProtectedPages.Contains(name)
}
