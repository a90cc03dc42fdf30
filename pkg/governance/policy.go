// Package governance holds pattern-based secret policies and evaluates them
// against the secret store.
package governance

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	dserrors "github.com/systmms/secretgov/internal/errors"
	"github.com/systmms/secretgov/pkg/secret"
)

// Policy constrains every secret whose name fully matches Pattern.
type Policy struct {
	ID                     string                `json:"id" yaml:"id"`
	Pattern                string                `json:"pattern" yaml:"pattern"`
	RequiredClassification secret.Classification `json:"required_classification" yaml:"required_classification"`
	AllowedRoles           []string              `json:"allowed_roles" yaml:"allowed_roles"`
	RotationFrequencyDays  int                   `json:"rotation_frequency_days" yaml:"rotation_frequency_days"`
	EncryptionRequired     bool                  `json:"encryption_required" yaml:"encryption_required"`
	ApprovalRequired       bool                  `json:"approval_required" yaml:"approval_required"`
	ComplianceFrameworks   []string              `json:"compliance_frameworks,omitempty" yaml:"compliance_frameworks,omitempty"`
	IsActive               bool                  `json:"is_active" yaml:"is_active"`
	CreatedAt              time.Time             `json:"created_at" yaml:"created_at"`
	UpdatedAt              time.Time             `json:"updated_at" yaml:"updated_at"`

	re *regexp.Regexp
}

// Matches reports whether name fully matches the policy pattern.
func (p Policy) Matches(name string) bool {
	return p.re != nil && p.re.MatchString(name)
}

// AllowsRole reports whether role is listed in AllowedRoles.
func (p Policy) AllowsRole(role string) bool {
	for _, r := range p.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// PolicyUpdate is a partial update. Nil fields are left unchanged.
type PolicyUpdate struct {
	Pattern                *string
	RequiredClassification *secret.Classification
	AllowedRoles           []string
	RotationFrequencyDays  *int
	EncryptionRequired     *bool
	ApprovalRequired       *bool
	ComplianceFrameworks   []string
}

func compilePattern(op, id, pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, dserrors.Validation(op, id, "pattern must not be empty")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, &dserrors.Error{Kind: dserrors.KindValidation, Op: op, Name: id, Message: "invalid pattern", Err: err}
	}
	return re, nil
}

func validateFields(op, id string, c secret.Classification, days int) error {
	if !c.Valid() {
		return dserrors.Validation(op, id, "required classification must be LOW, MODERATE, HIGH or CRITICAL")
	}
	if days < 0 {
		return dserrors.Validation(op, id, "rotation frequency must not be negative")
	}
	return nil
}

// Registry holds policies by ID. Policies are never removed, only
// deactivated. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
	clock    clock.Clock
}

// NewRegistry creates an empty registry. A nil clock uses the wall clock.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Registry{policies: make(map[string]Policy), clock: clk}
}

// Register adds a new active policy. The pattern is compiled once here.
func (r *Registry) Register(p Policy) error {
	const op = "register policy"
	if p.ID == "" {
		return dserrors.Validation(op, "", "policy id must not be empty")
	}
	if err := validateFields(op, p.ID, p.RequiredClassification, p.RotationFrequencyDays); err != nil {
		return err
	}
	re, err := compilePattern(op, p.ID, p.Pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.policies[p.ID]; exists {
		return dserrors.Conflict(op, p.ID, "policy already registered")
	}

	now := r.clock.Now()
	p.re = re
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now
	p.AllowedRoles = append([]string(nil), p.AllowedRoles...)
	p.ComplianceFrameworks = append([]string(nil), p.ComplianceFrameworks...)
	r.policies[p.ID] = p
	return nil
}

// Update applies a partial update and refreshes UpdatedAt. Nothing is
// changed when any field is invalid.
func (r *Registry) Update(id string, u PolicyUpdate) (Policy, error) {
	const op = "update policy"

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[id]
	if !ok {
		return Policy{}, dserrors.NotFound(op, id)
	}

	if u.Pattern != nil {
		re, err := compilePattern(op, id, *u.Pattern)
		if err != nil {
			return Policy{}, err
		}
		p.Pattern = *u.Pattern
		p.re = re
	}
	if u.RequiredClassification != nil {
		p.RequiredClassification = *u.RequiredClassification
	}
	if u.RotationFrequencyDays != nil {
		p.RotationFrequencyDays = *u.RotationFrequencyDays
	}
	if err := validateFields(op, id, p.RequiredClassification, p.RotationFrequencyDays); err != nil {
		return Policy{}, err
	}
	if u.AllowedRoles != nil {
		p.AllowedRoles = append([]string(nil), u.AllowedRoles...)
	}
	if u.ComplianceFrameworks != nil {
		p.ComplianceFrameworks = append([]string(nil), u.ComplianceFrameworks...)
	}
	if u.EncryptionRequired != nil {
		p.EncryptionRequired = *u.EncryptionRequired
	}
	if u.ApprovalRequired != nil {
		p.ApprovalRequired = *u.ApprovalRequired
	}

	p.UpdatedAt = r.clock.Now()
	r.policies[id] = p
	return p, nil
}

// Get returns the policy with the given ID.
func (r *Registry) Get(id string) (Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[id]
	if !ok {
		return Policy{}, dserrors.NotFound("get policy", id)
	}
	return p, nil
}

// List returns policies sorted by ID.
func (r *Registry) List(activeOnly bool) []Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Policy, 0, len(r.policies))
	for _, p := range r.policies {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Deactivate stops a policy from matching. It is kept for reference.
func (r *Registry) Deactivate(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.policies[id]
	if !ok {
		return dserrors.NotFound("deactivate policy", id)
	}
	if p.IsActive {
		p.IsActive = false
		p.UpdatedAt = r.clock.Now()
		r.policies[id] = p
	}
	return nil
}

// Matching returns every active policy matching name, sorted by ID. All of
// them apply at once.
func (r *Registry) Matching(name string) []Policy {
	var out []Policy
	for _, p := range r.List(true) {
		if p.Matches(name) {
			out = append(out, p)
		}
	}
	return out
}

// CheckAccessAllowed decides whether role may access the named secret.
//
// A secret no active policy matches is allowed for everyone. Once at least
// one policy matches, the role must appear in the allowed roles of one of
// them.
func (r *Registry) CheckAccessAllowed(name, role string) bool {
	matching := r.Matching(name)
	if len(matching) == 0 {
		return true
	}
	for _, p := range matching {
		if p.AllowsRole(role) {
			return true
		}
	}
	return false
}

// RegisterAll registers each policy in order, stopping at the first error.
// Policies marked inactive are deactivated after registration.
func (r *Registry) RegisterAll(policies []Policy) error {
	for _, p := range policies {
		active := p.IsActive
		if err := r.Register(p); err != nil {
			return fmt.Errorf("policy %s: %w", p.ID, err)
		}
		if !active {
			if err := r.Deactivate(p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
