package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"cravehy/internal/embedding"
	"cravehy/internal/profile"
	"cravehy/internal/scraper"
	"cravehy/internal/store"
	"cravehy/internal/types"
)

// Semantic colors shared by all command output.
var (
	colorSuccess = lipgloss.Color("#8BC34A") // Lime Green
	colorError   = lipgloss.Color("#e53935") // Red
	colorWarning = lipgloss.Color("#FFC107") // Yellow
	colorInfo    = lipgloss.Color("#2196F3") // Blue
	colorMuted   = lipgloss.Color("#808080")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorInfo)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	okStyle     = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle   = lipgloss.NewStyle().Foreground(colorWarning)
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	amountStyle = lipgloss.NewStyle().Bold(true)
)

func renderError(err error) string {
	return errStyle.Render("Error: ") + err.Error()
}

func renderRunResult(r *scraper.RunResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Scrape run " + r.RunID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s %d\n", labelStyle.Render("categories:"), r.Categories)
	fmt.Fprintf(&b, "  %s %d\n", labelStyle.Render("products:  "), r.Products)
	if r.Failures > 0 {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("failures:  "),
			warnStyle.Render(fmt.Sprintf("%d (replay with 'cravehy retry')", r.Failures)))
	} else {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("failures:  "), okStyle.Render("0"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRetryResult(r *scraper.RetryResult) string {
	if r.Attempted == 0 {
		return okStyle.Render("No recorded failures to retry")
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Retry run " + r.RunID))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s %d\n", labelStyle.Render("attempted:"), r.Attempted)
	fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("recovered:"), okStyle.Render(fmt.Sprintf("%d", r.Recovered)))
	if r.Failures > 0 {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("still failing:"),
			warnStyle.Render(fmt.Sprintf("%d", r.Failures)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderProfile(p *profile.Profile) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(p.Name))
	b.WriteString("\n")
	if p.Diet != "" && p.Diet != profile.DietNone {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("diet:     "), p.Diet)
	}
	if len(p.Allergies) > 0 {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("allergies:"), strings.Join(p.Allergies, ", "))
	}
	for _, l := range p.Limits {
		fmt.Fprintf(&b, "  %s %s at most %.1f\n", labelStyle.Render("limit:    "), l.Key, l.Max)
	}
	if p.Budget > 0 {
		fmt.Fprintf(&b, "  %s %.2f INR\n", labelStyle.Render("budget:   "), p.Budget)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("notes:    "), p.Notes)
	}
	if !p.UpdatedAt.IsZero() {
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("updated:  "), p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCart(c *types.Cart) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Cart for %s", c.ProfileName)))
	b.WriteString("\n\n")
	for _, item := range c.Items {
		fmt.Fprintf(&b, "  %dx %s  %s\n", item.Quantity, item.Name,
			amountStyle.Render(fmt.Sprintf("%.2f", float64(item.Quantity)*item.UnitPrice)))
		if item.Reason != "" {
			fmt.Fprintf(&b, "     %s\n", labelStyle.Render(item.Reason))
		}
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "  %s %s / %.2f INR\n", labelStyle.Render("total:"),
		amountStyle.Render(fmt.Sprintf("%.2f", c.Total())), c.Budget)

	if c.Explanation != "" {
		b.WriteString("\n")
		b.WriteString(renderMarkdown(c.Explanation))
	}
	fmt.Fprintf(&b, "\n%s %s", labelStyle.Render("saved as"), c.ID)
	return b.String()
}

func renderSearchResults(results []embedding.SearchResult) string {
	var b strings.Builder
	for i, r := range results {
		p := r.Product
		name := p.Name
		if p.Brand != "" {
			name += " (" + p.Brand + ")"
		}
		fmt.Fprintf(&b, "%2d. %s  %s  %s\n", i+1, name,
			amountStyle.Render(fmt.Sprintf("%.2f INR", p.Price)),
			labelStyle.Render(fmt.Sprintf("score %.3f", r.Score)))
		if len(p.Tags) > 0 {
			fmt.Fprintf(&b, "    %s\n", labelStyle.Render("tags: "+strings.Join(p.Tags, ", ")))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStatus(stats map[string]int64, run *store.RunSummary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Catalog"))
	b.WriteString("\n")

	tables := make([]string, 0, len(stats))
	for t := range stats {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(&b, "  %-20s %d\n", labelStyle.Render(t), stats[t])
	}

	b.WriteString("\n")
	b.WriteString(titleStyle.Render("Latest run"))
	b.WriteString("\n")
	if run == nil {
		b.WriteString("  none yet, start with 'cravehy scrape'\n")
	} else {
		status := run.Status
		switch status {
		case "completed":
			status = okStyle.Render(status)
		case "failed":
			status = errStyle.Render(status)
		default:
			status = warnStyle.Render(status)
		}
		fmt.Fprintf(&b, "  %s  started %s  %d categories, %d products, %d failures  %s\n",
			run.RunID, run.StartedAt.Format("2006-01-02 15:04"),
			run.Categories, run.Products, run.Failures, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderMarkdown pretty-prints LLM explanations; falls back to raw text
// when the terminal renderer cannot be built.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
