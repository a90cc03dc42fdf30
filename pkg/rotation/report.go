package rotation

import (
	"fmt"
	"sort"
	"time"

	"github.com/systmms/secretgov/pkg/secret"
)

const (
	recentHistoryLimit = 50
	mostRotatedLimit   = 10
)

// GenerateReport summarizes rotation status across all secrets.
func (e *Engine) GenerateReport() Report {
	now := e.clock.Now()
	records := e.store.Records()
	stale := e.DetectStaleKeys(nil)

	report := Report{
		GeneratedAt:      now,
		TotalSecrets:     len(records),
		StaleSecrets:     len(stale),
		ByClassification: make(map[secret.Classification]ClassificationSummary, len(secret.Classifications)),
		Stale:            stale,
	}
	for _, c := range secret.Classifications {
		report.ByClassification[c] = ClassificationSummary{}
	}

	exempt := 0
	for _, r := range records {
		sum := report.ByClassification[r.Classification]
		sum.Total++
		if r.IsActive {
			sum.Active++
			report.ActiveSecrets++
			if r.RotationFrequencyDays == 0 {
				exempt++
			}
		}
		report.ByClassification[r.Classification] = sum
	}
	staleBy := make(map[secret.Classification]int)
	for _, s := range stale {
		sum := report.ByClassification[s.Classification]
		sum.Stale++
		report.ByClassification[s.Classification] = sum
		staleBy[s.Classification]++
	}

	history := e.History()
	if len(history) > recentHistoryLimit {
		history = history[len(history)-recentHistoryLimit:]
	}
	report.RecentHistory = history

	failed := 0
	for _, ev := range history {
		if !ev.Success {
			failed++
		}
	}

	report.Recommendations = recommendations(staleBy, len(stale), failed, exempt)
	return report
}

func recommendations(staleBy map[secret.Classification]int, staleTotal, failed, exempt int) []string {
	var recs []string
	if n := staleBy[secret.ClassificationCritical]; n > 0 {
		recs = append(recs, fmt.Sprintf("URGENT: rotate %d CRITICAL secret(s) immediately", n))
	}
	if n := staleBy[secret.ClassificationHigh]; n > 0 {
		recs = append(recs, fmt.Sprintf("Rotate %d HIGH secret(s) within 24 hours", n))
	}
	if n := staleBy[secret.ClassificationModerate] + staleBy[secret.ClassificationLow]; n > 0 {
		recs = append(recs, fmt.Sprintf("Schedule rotation for %d lower-classification secret(s)", n))
	}
	if failed > 0 {
		recs = append(recs, fmt.Sprintf("Investigate %d recent failed rotation(s)", failed))
	}
	if exempt > 0 {
		recs = append(recs, fmt.Sprintf("Review %d secret(s) exempt from rotation", exempt))
	}
	if staleTotal == 0 {
		recs = append(recs, "No stale secrets detected; continue monitoring")
	}
	return recs
}

// Statistics aggregates the retained history over rolling windows.
func (e *Engine) Statistics() Statistics {
	now := e.clock.Now()
	history := e.History()

	stats := Statistics{
		TotalEvents: len(history),
		ByTrigger:   make(map[Job]int),
		MostRotated: []RotationCount{},
	}
	counts := make(map[string]int)
	for _, ev := range history {
		if !ev.Success {
			stats.Failed++
			continue
		}
		stats.Successful++
		stats.ByTrigger[ev.Trigger]++
		counts[ev.SecretName]++

		age := now.Sub(ev.Timestamp)
		if age <= 24*time.Hour {
			stats.Last24h++
		}
		if age <= 7*24*time.Hour {
			stats.Last7d++
		}
		if age <= 30*24*time.Hour {
			stats.Last30d++
		}
	}

	for name, n := range counts {
		stats.MostRotated = append(stats.MostRotated, RotationCount{Name: name, Count: n})
	}
	sort.Slice(stats.MostRotated, func(i, j int) bool {
		a, b := stats.MostRotated[i], stats.MostRotated[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})
	if len(stats.MostRotated) > mostRotatedLimit {
		stats.MostRotated = stats.MostRotated[:mostRotatedLimit]
	}
	return stats
}
