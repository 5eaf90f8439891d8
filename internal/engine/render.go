package engine

import (
	"fmt"
	"strings"

	"github.com/tempusgraph/tempus/pkg/types"
)

// RenderSnapshot formats a snapshot as compact prompt-ready text. It is a
// pure function of the snapshot: no store access, no clock reads, so the
// same snapshot always renders to the same string.
func RenderSnapshot(snap *types.ContextSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Context for %s as of %s\n", snap.UserID, snap.AsOf.Format("2006-01-02 15:04 MST"))

	if len(snap.Entities) > 0 {
		b.WriteString("\nRelevant entities:\n")
		for _, e := range snap.Entities {
			fmt.Fprintf(&b, "- %s (%s, relevance %.2f)\n", e.Name, e.EntityType, e.DecayedScore)
		}
	}

	if len(snap.Items) > 0 {
		b.WriteString("\nActive items:\n")
		for _, it := range snap.Items {
			line := fmt.Sprintf("- %s", it.Name)
			if it.Urgency == types.UrgencyUrgent {
				line += " [urgent]"
			}
			if it.IsRecurring {
				line += " (recurring)"
			}
			b.WriteString(line + "\n")
		}
	}

	if len(snap.Preferences) > 0 {
		b.WriteString("\nPreferences:\n")
		for _, p := range snap.Preferences {
			fmt.Fprintf(&b, "- %s: %s (confidence %.2f)\n", p.Key, p.Value, p.Confidence)
		}
	}

	if len(snap.Patterns) > 0 {
		b.WriteString("\nExpected soon:\n")
		for _, p := range snap.Patterns {
			fmt.Fprintf(&b, "- %s %s around %s (%s, confidence %.2f)\n",
				p.SubjectID, p.PatternType, p.NextPredicted.Format("2006-01-02"), p.Recurrence, p.Confidence)
		}
	}

	return b.String()
}
