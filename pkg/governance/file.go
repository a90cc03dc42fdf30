package governance

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/secretgov/pkg/secret"
)

//go:embed policy.schema.json
var policySchema []byte

type policyFile struct {
	Version  int              `yaml:"version"`
	Policies []policyFileItem `yaml:"policies"`
}

type policyFileItem struct {
	ID                     string   `yaml:"id"`
	Pattern                string   `yaml:"pattern"`
	RequiredClassification string   `yaml:"required_classification"`
	AllowedRoles           []string `yaml:"allowed_roles"`
	RotationFrequencyDays  int      `yaml:"rotation_frequency_days"`
	EncryptionRequired     bool     `yaml:"encryption_required"`
	ApprovalRequired       bool     `yaml:"approval_required"`
	ComplianceFrameworks   []string `yaml:"compliance_frameworks"`
	Active                 *bool    `yaml:"active"`
}

// LoadPolicyFile reads and validates a YAML policy file.
func LoadPolicyFile(path string) ([]Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	policies, err := ParsePolicies(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return policies, nil
}

// ParsePolicies decodes a YAML policy document after validating it
// against the embedded JSON Schema.
func ParsePolicies(data []byte) ([]Policy, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}

	seen := make(map[string]bool)
	policies := make([]Policy, 0, len(doc.Policies))
	for _, item := range doc.Policies {
		if seen[item.ID] {
			return nil, fmt.Errorf("duplicate policy id %q", item.ID)
		}
		seen[item.ID] = true

		class, err := secret.ParseClassification(item.RequiredClassification)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", item.ID, err)
		}
		active := true
		if item.Active != nil {
			active = *item.Active
		}
		policies = append(policies, Policy{
			ID:                     item.ID,
			Pattern:                item.Pattern,
			RequiredClassification: class,
			AllowedRoles:           item.AllowedRoles,
			RotationFrequencyDays:  item.RotationFrequencyDays,
			EncryptionRequired:     item.EncryptionRequired,
			ApprovalRequired:       item.ApprovalRequired,
			ComplianceFrameworks:   item.ComplianceFrameworks,
			IsActive:               active,
		})
	}
	return policies, nil
}

func validateSchema(doc interface{}) error {
	jsonData, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal policies for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(policySchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("policy schema validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// DefaultPolicies returns the baseline policy set used when no policy file
// is configured.
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:                     "api-keys",
			Pattern:                ".*_API_KEY.*",
			RequiredClassification: secret.ClassificationHigh,
			AllowedRoles:           []string{"admin", "developer", "service"},
			RotationFrequencyDays:  90,
			EncryptionRequired:     true,
			ComplianceFrameworks:   []string{"SOC2"},
			IsActive:               true,
		},
		{
			ID:                     "database",
			Pattern:                ".*_DATABASE_.*",
			RequiredClassification: secret.ClassificationCritical,
			AllowedRoles:           []string{"admin", "dba"},
			RotationFrequencyDays:  30,
			EncryptionRequired:     true,
			ApprovalRequired:       true,
			ComplianceFrameworks:   []string{"SOC2", "PCI-DSS"},
			IsActive:               true,
		},
		{
			ID:                     "production",
			Pattern:                "PROD_.*",
			RequiredClassification: secret.ClassificationHigh,
			AllowedRoles:           []string{"admin", "deployer"},
			RotationFrequencyDays:  30,
			EncryptionRequired:     true,
			ApprovalRequired:       true,
			ComplianceFrameworks:   []string{"SOC2"},
			IsActive:               true,
		},
	}
}
