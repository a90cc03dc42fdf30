package governance

import (
	"fmt"
	"time"

	"github.com/systmms/secretgov/pkg/secret"
)

// ComplianceCount splits a group of active secrets by compliance.
type ComplianceCount struct {
	Total          int `json:"total" yaml:"total"`
	Compliant      int `json:"compliant" yaml:"compliant"`
	WithViolations int `json:"with_violations" yaml:"with_violations"`
}

// Report is the governance compliance report.
type Report struct {
	GeneratedAt                time.Time                                 `json:"generated_at" yaml:"generated_at"`
	TotalSecrets               int                                       `json:"total_secrets" yaml:"total_secrets"`
	ActiveSecrets              int                                       `json:"active_secrets" yaml:"active_secrets"`
	CompliantSecrets           int                                       `json:"compliant_secrets" yaml:"compliant_secrets"`
	SecretsWithViolations      int                                       `json:"secrets_with_violations" yaml:"secrets_with_violations"`
	TotalViolations            int                                       `json:"total_violations" yaml:"total_violations"`
	CompliancePercentage       float64                                   `json:"compliance_percentage" yaml:"compliance_percentage"`
	ViolationsBySeverity       map[secret.Classification]int             `json:"violations_by_severity" yaml:"violations_by_severity"`
	ViolationsByType           map[ViolationType]int                     `json:"violations_by_type" yaml:"violations_by_type"`
	ComplianceByClassification map[secret.Classification]ComplianceCount `json:"compliance_by_classification" yaml:"compliance_by_classification"`
	ComplianceByEnvironment    map[secret.Environment]ComplianceCount    `json:"compliance_by_environment" yaml:"compliance_by_environment"`
	Violations                 []Violation                               `json:"violations" yaml:"violations"`
	Policies                   []Policy                                  `json:"policies" yaml:"policies"`
	Recommendations            []string                                  `json:"recommendations" yaml:"recommendations"`
}

// GovernanceReport aggregates violations over the current records.
// CompliancePercentage is 100 when there are no active secrets.
func (d *Detector) GovernanceReport() Report {
	now := d.clock.Now()
	all := d.source.Records()
	active := d.activeRecords()
	violations := d.detect(now, active)

	report := Report{
		GeneratedAt:                now,
		TotalSecrets:               len(all),
		ActiveSecrets:              len(active),
		TotalViolations:            len(violations),
		ViolationsBySeverity:       make(map[secret.Classification]int),
		ViolationsByType:           make(map[ViolationType]int),
		ComplianceByClassification: make(map[secret.Classification]ComplianceCount),
		ComplianceByEnvironment:    make(map[secret.Environment]ComplianceCount),
		Violations:                 violations,
		Policies:                   d.registry.List(true),
	}
	for _, c := range secret.Classifications {
		report.ComplianceByClassification[c] = ComplianceCount{}
	}
	for _, e := range secret.Environments {
		report.ComplianceByEnvironment[e] = ComplianceCount{}
	}

	violating := make(map[string]bool)
	metricCounts := make(map[[2]string]int)
	for _, v := range violations {
		violating[v.SecretName] = true
		report.ViolationsBySeverity[v.Severity]++
		report.ViolationsByType[v.Type]++
		metricCounts[[2]string{string(v.Type), v.Severity.String()}]++
	}

	for _, r := range active {
		byClass := report.ComplianceByClassification[r.Classification]
		byEnv := report.ComplianceByEnvironment[r.Environment]
		byClass.Total++
		byEnv.Total++
		if violating[r.Name] {
			byClass.WithViolations++
			byEnv.WithViolations++
		} else {
			byClass.Compliant++
			byEnv.Compliant++
		}
		report.ComplianceByClassification[r.Classification] = byClass
		report.ComplianceByEnvironment[r.Environment] = byEnv
	}

	report.SecretsWithViolations = len(violating)
	report.CompliantSecrets = len(active) - len(violating)
	report.CompliancePercentage = 100.0
	if len(active) > 0 {
		report.CompliancePercentage = float64(report.CompliantSecrets) / float64(len(active)) * 100
	}
	report.Recommendations = governanceRecommendations(report)

	d.metrics.SetViolations(metricCounts, report.CompliancePercentage/100)
	return report
}

func governanceRecommendations(r Report) []string {
	var recs []string
	if n := r.ViolationsBySeverity[secret.ClassificationCritical]; n > 0 {
		recs = append(recs, fmt.Sprintf("IMMEDIATE ATTENTION: %d critical violation(s) require remediation", n))
	}
	if n := r.ViolationsByType[ViolationClassificationMismatch]; n > 0 {
		recs = append(recs, fmt.Sprintf("Reclassify secrets to resolve %d classification mismatch(es)", n))
	}
	if n := r.ViolationsByType[ViolationStaleSecret]; n > 0 {
		recs = append(recs, fmt.Sprintf("Rotate stale secrets to resolve %d staleness violation(s)", n))
	}
	if n := r.ViolationsByType[ViolationRotationFrequency]; n > 0 {
		recs = append(recs, fmt.Sprintf("Shorten rotation frequency to resolve %d cadence violation(s)", n))
	}
	if n := r.ViolationsByType[ViolationNoPolicyMatch]; n > 0 {
		recs = append(recs, fmt.Sprintf("Extend policy coverage: %d secret(s) match no governance policy", n))
	}
	if r.TotalViolations == 0 {
		recs = append(recs, "All active secrets comply with governance policies")
	}
	return recs
}
