// Package synthesis merges the outputs of independent rooms into one
// markdown report.
package synthesis

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/zen-systems/agentrooms/pkg/storage"
)

const (
	summaryLimit       = 200
	artifactMinLength  = 100
	artifactPreviewLen = 50
)

var (
	titlePattern          = regexp.MustCompile(`(?m)^# (.+)$`)
	recommendationHeading = regexp.MustCompile(`(?im)^#{1,6}[ \t]*(?:\d+[.)][ \t]*)?(?:recommendations?|next[ \t]+steps?|suggestions?)\b.*$`)
	nextSection           = regexp.MustCompile(`(?m)^##`)
	codeBlockPattern      = regexp.MustCompile("(?s)```.*?```")
)

// Section is one provider's output in the report.
type Section struct {
	Provider string `json:"provider"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// Metadata describes a synthesis run.
type Metadata struct {
	ProviderCount   int       `json:"provider_count"`
	Timestamp       time.Time `json:"timestamp"`
	TotalDurationMs int64     `json:"total_duration_ms"`
}

// Result is the merged view of all collected outputs.
type Result struct {
	Summary         string    `json:"summary"`
	Sections        []Section `json:"sections"`
	Recommendations []string  `json:"recommendations"`
	Artifacts       []string  `json:"artifacts"`
	Metadata        Metadata  `json:"metadata"`
}

// Engine collects room outputs from a working directory and writes the
// consolidated report there.
type Engine struct {
	store  *storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces time.Now for the synthesis timestamp.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over dir. The directory is not created until
// a report is written.
func NewEngine(dir string, opts ...Option) *Engine {
	e := &Engine{
		store:  storage.At(dir),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Collect reads every room output, oldest first. A missing directory yields
// no outputs. Files with malformed names are skipped with a warning.
func (e *Engine) Collect() ([]storage.RoomOutput, error) {
	outputs, skipped, err := e.store.Collect()
	if err != nil {
		return nil, fmt.Errorf("collect outputs: %w", err)
	}
	for _, s := range skipped {
		e.logger.Warn("skipping output file", "error", s)
	}
	return outputs, nil
}

// Synthesize merges outputs into a Result.
func (e *Engine) Synthesize(outputs []storage.RoomOutput) *Result {
	result := &Result{
		Sections:        make([]Section, 0, len(outputs)),
		Recommendations: []string{},
		Artifacts:       []string{},
	}

	for _, o := range outputs {
		result.Sections = append(result.Sections, Section{
			Provider: o.Provider,
			Title:    extractTitle(o),
			Content:  o.Content,
		})
		result.Recommendations = append(result.Recommendations, extractRecommendations(o)...)
		result.Artifacts = append(result.Artifacts, extractArtifacts(o)...)
	}

	result.Summary = summarize(outputs)
	result.Metadata = Metadata{
		ProviderCount:   len(outputs),
		Timestamp:       e.now(),
		TotalDurationMs: duration(outputs),
	}
	return result
}

// WriteFinalOutput renders the report to final-output.md, replacing any
// previous report, and returns its path.
func (e *Engine) WriteFinalOutput(result *Result) (string, error) {
	path, err := e.store.WriteFinalOutput(Render(result))
	if err != nil {
		return "", err
	}
	e.logger.Info("final output written", "path", path, "sections", len(result.Sections))
	return path, nil
}

// Run collects, synthesizes and writes the report. With no outputs it writes
// nothing and returns an empty path. Consumed outputs are left in place.
func (e *Engine) Run() (string, error) {
	outputs, err := e.Collect()
	if err != nil {
		return "", err
	}
	if len(outputs) == 0 {
		e.logger.Info("no outputs to synthesize", "dir", e.store.BasePath)
		return "", nil
	}
	return e.WriteFinalOutput(e.Synthesize(outputs))
}

// Render formats a Result as markdown.
func Render(result *Result) string {
	var b strings.Builder
	b.WriteString(result.Summary)
	b.WriteString("\n\n")

	for _, s := range result.Sections {
		fmt.Fprintf(&b, "## %s (%s)\n\n", s.Title, strings.ToUpper(s.Provider))
		b.WriteString(s.Content)
		b.WriteString("\n\n---\n\n")
	}

	if len(result.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, r := range result.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Metadata\n\n")
	fmt.Fprintf(&b, "- Providers: %d\n", result.Metadata.ProviderCount)
	fmt.Fprintf(&b, "- Synthesized: %s\n", result.Metadata.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Artifacts: %d\n", len(result.Artifacts))
	return b.String()
}

func extractTitle(o storage.RoomOutput) string {
	if m := titlePattern.FindStringSubmatch(o.Content); m != nil {
		if title := strings.TrimSpace(m[1]); title != "" {
			return title
		}
	}
	return o.Provider + " Output"
}

func extractRecommendations(o storage.RoomOutput) []string {
	loc := recommendationHeading.FindStringIndex(o.Content)
	if loc == nil {
		return nil
	}
	body := o.Content[loc[1]:]
	if next := nextSection.FindStringIndex(body); next != nil {
		body = body[:next[0]]
	}

	var recs []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		text, ok := bulletText(line)
		if !ok {
			continue
		}
		recs = append(recs, fmt.Sprintf("[%s] %s", o.Provider, text))
	}
	return recs
}

// bulletText returns the item of a "- " or "* " list line. Rules and
// emphasis such as "---" or "**bold**" are not bullets.
func bulletText(line string) (string, bool) {
	for _, marker := range []string{"- ", "* "} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			text := strings.TrimSpace(rest)
			return text, text != ""
		}
	}
	return "", false
}

func extractArtifacts(o storage.RoomOutput) []string {
	var artifacts []string
	for _, block := range codeBlockPattern.FindAllString(o.Content, -1) {
		if len(block) <= artifactMinLength {
			continue
		}
		artifacts = append(artifacts, fmt.Sprintf("[%s] %s...", o.Provider, truncate(block, artifactPreviewLen)))
	}
	return artifacts
}

func summarize(outputs []storage.RoomOutput) string {
	parts := []string{"# Synthesized Results"}
	for _, o := range outputs {
		paragraph, _, _ := strings.Cut(strings.TrimSpace(o.Content), "\n\n")
		parts = append(parts, fmt.Sprintf("**%s**: %s...", strings.ToUpper(o.Provider), truncate(paragraph, summaryLimit)))
	}
	return strings.Join(parts, "\n\n")
}

func duration(outputs []storage.RoomOutput) int64 {
	if len(outputs) == 0 {
		return 0
	}
	lo, hi := outputs[0].Timestamp, outputs[0].Timestamp
	for _, o := range outputs[1:] {
		lo = min(lo, o.Timestamp)
		hi = max(hi, o.Timestamp)
	}
	return hi - lo
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
