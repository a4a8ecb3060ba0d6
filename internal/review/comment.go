package review

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/48Nauts-Operator/lineary/internal/types"
)

// summaryComment renders the markdown comment posted back on the change.
func summaryComment(insight *types.ReviewInsight, summary string) string {
	var b strings.Builder

	if insight.Unparseable || insight.Failed {
		b.WriteString("## Code Review\n\n")
		b.WriteString("Automated review is unavailable for this change. ")
		b.WriteString("The raw reviewer output has been stored for inspection.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "## Code Review: score %d/100\n\n", insight.Score)

	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}

	var flags []string
	if insight.HasSecurityIssues {
		flags = append(flags, "security issues")
	}
	if insight.HasPerformanceIssues {
		flags = append(flags, "performance issues")
	}
	if insight.HasBugs {
		flags = append(flags, "probable bugs")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, "**Flagged:** %s\n\n", strings.Join(flags, ", "))
	}

	if len(insight.Suggestions) > 0 {
		b.WriteString("### Suggestions\n\n")
		for _, s := range insight.Suggestions {
			loc := ""
			if s.File != "" {
				loc = fmt.Sprintf(" (`%s", s.File)
				if s.Line > 0 {
					loc += fmt.Sprintf(":%d", s.Line)
				}
				loc += "`)"
			}
			fmt.Fprintf(&b, "- **%s**%s: %s\n", s.Severity, loc, s.Message)
		}
	}

	if insight.WorkItemID != nil {
		fmt.Fprintf(&b, "\nLinked work item: `%s`\n", *insight.WorkItemID)
	}

	return b.String()
}

// contentHash gives the stable identity used to de-duplicate comments.
func contentHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
