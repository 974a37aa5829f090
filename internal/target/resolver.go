// ABOUTME: Resolves mention markup in outgoing text to concrete agents, teams and workflows
// ABOUTME: Falls back to the default target when the text carries no mentions

package target

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/scylladb/go-set/strset"

	"github.com/2389/coven-chat/internal/chat"
)

// Mention markers: agent @[name], team /[name], workflow ![name].
var (
	mentionPattern = regexp.MustCompile(`([@/!])\[([^\]]+)\]`)
	stripPattern   = regexp.MustCompile(`[@/!]\[[^\]]+\]\s*`)
)

// ErrNoTarget is returned when the text has no mentions and there is no
// default target.
var ErrNoTarget = errors.New("no active target")

// NoTargetNotice is the transcript text shown for ErrNoTarget.
const NoTargetNotice = "Error: No active agent."

// Mention is one marker found in the text.
type Mention struct {
	Kind chat.TargetKind
	Name string
}

// Markup renders the mention back into its marker syntax.
func (m Mention) Markup() string {
	return Marker(m.Kind) + "[" + m.Name + "]"
}

// Marker returns the marker prefix for kind.
func Marker(kind chat.TargetKind) string {
	switch kind {
	case chat.KindTeam:
		return "/"
	case chat.KindWorkflow:
		return "!"
	default:
		return "@"
	}
}

// Failure is a mention that matched nothing in the directory.
type Failure struct {
	Mention
}

// Notice is the transcript text reporting the failed mention.
func (f Failure) Notice() string {
	return fmt.Sprintf("Error: %s %q not found.", kindLabel(f.Kind), f.Name)
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %q not found", f.Kind, f.Name)
}

// Resolution is the outcome of resolving one outgoing message.
type Resolution struct {
	// Targets receive the message, in first-mention order, without duplicates.
	Targets []chat.Target
	// Failures are mentions that did not resolve, in first-mention order.
	Failures []Failure
	// Text is what gets transmitted: markers and their trailing whitespace
	// removed, then trimmed.
	Text string
}

// Mentions lists the markers in text in order of appearance.
func Mentions(text string) []Mention {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	out := make([]Mention, 0, len(matches))
	for _, m := range matches {
		out = append(out, Mention{Kind: markerKind(m[1]), Name: m[2]})
	}
	return out
}

// Clean strips every marker and the whitespace following it, then trims.
func Clean(text string) string {
	return strings.TrimSpace(stripPattern.ReplaceAllString(text, ""))
}

// Resolve determines the recipients of text. Mentions are looked up by exact
// display name; a mention that resolves nowhere is reported as a Failure and
// does not stop the others. Without mentions the default target is used, and
// ErrNoTarget is returned when there is none.
func Resolve(text string, dir Directory, def *chat.Target) (Resolution, error) {
	mentions := Mentions(text)
	if len(mentions) == 0 {
		if def == nil {
			return Resolution{}, ErrNoTarget
		}
		return Resolution{Targets: []chat.Target{*def}, Text: strings.TrimSpace(text)}, nil
	}

	res := Resolution{Text: Clean(text)}
	seen := strset.New()
	failed := strset.New()
	for _, m := range mentions {
		t, ok := dir.Lookup(m.Kind, m.Name)
		if !ok {
			if !failed.Has(m.Markup()) {
				failed.Add(m.Markup())
				res.Failures = append(res.Failures, Failure{Mention: m})
			}
			continue
		}
		if seen.Has(t.Key()) {
			continue
		}
		seen.Add(t.Key())
		res.Targets = append(res.Targets, t)
	}
	return res, nil
}

func markerKind(marker string) chat.TargetKind {
	switch marker {
	case "/":
		return chat.KindTeam
	case "!":
		return chat.KindWorkflow
	default:
		return chat.KindAgent
	}
}

func kindLabel(kind chat.TargetKind) string {
	switch kind {
	case chat.KindTeam:
		return "Team"
	case chat.KindWorkflow:
		return "Workflow"
	default:
		return "Agent"
	}
}
