// Package prompt renders the messages the orchestrator sends to both
// agents. Templates are embedded per role and turn, with optional
// per-backend variants (key_variant.prompt); the default variant serves
// any backend without one of its own.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/volleyhq/rally/internal/core"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

type AgentVariant string
type Key string

const (
	DefaultVariant AgentVariant = "default"

	ReviewerOpening  Key = "reviewer_opening"
	ReviewerRevision Key = "reviewer_revision"
	RevieweeOpening  Key = "reviewee_opening"
	RevieweeRound    Key = "reviewee_round"
	RevieweeAnswer   Key = "reviewee_answer"
	RevieweeDenied   Key = "reviewee_denied"
	RevieweeGranted  Key = "reviewee_granted"
)

// ReviewerOpeningData feeds the reviewer's first-turn template.
type ReviewerOpeningData struct {
	Title              string
	Body               string
	Diff               string
	ExternalComments   []core.ExternalComment
	CustomInstructions []string
	MaxRounds          int
}

// ReviewerRevisionData feeds the reviewer's re-examination template after
// the reviewee reports completed work.
type ReviewerRevisionData struct {
	Round         int
	Summary       string
	ModifiedFiles []string
}

// RevieweeOpeningData feeds the reviewee's first-turn template.
type RevieweeOpeningData struct {
	Title              string
	Summary            string
	Comments           []core.ReviewComment
	BlockingIssues     []string
	CustomInstructions []string
}

// RevieweeRoundData feeds the reviewee's follow-up template when the
// reviewer requests further changes in a later round.
type RevieweeRoundData struct {
	Round          int
	Summary        string
	Comments       []core.ReviewComment
	BlockingIssues []string
}

// AnswerData feeds the clarification-answer follow-up.
type AnswerData struct {
	Question string
	Answer   string
}

// PermissionData feeds the permission-granted and permission-denied
// follow-ups.
type PermissionData struct {
	Action string
	Reason string
}

type Manager struct {
	prompts map[Key]map[AgentVariant]*template.Template
}

func NewManager() (*Manager, error) {
	m := &Manager{
		prompts: make(map[Key]map[AgentVariant]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore == -1 || lastUnderscore == 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'key_variant.prompt' with non-empty key and variant)", fileName)
		}

		key := Key(baseName[:lastUnderscore])
		variant := AgentVariant(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := m.register(key, variant, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	return m, nil
}

func (m *Manager) register(key Key, variant AgentVariant, content string) error {
	tmpl, err := template.New(string(key) + "_" + string(variant)).Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := m.prompts[key]; !ok {
		m.prompts[key] = make(map[AgentVariant]*template.Template)
	}

	m.prompts[key][variant] = tmpl
	return nil
}

func (m *Manager) Get(key Key, variant AgentVariant) (*template.Template, error) {
	turnPrompts, ok := m.prompts[key]
	if !ok {
		return nil, fmt.Errorf("no prompts found for key '%s'", key)
	}

	if tmpl, ok := turnPrompts[variant]; ok {
		return tmpl, nil
	}
	if tmpl, ok := turnPrompts[DefaultVariant]; ok {
		return tmpl, nil
	}

	return nil, fmt.Errorf("no template found for key '%s' and variant '%s', and no default was available", key, variant)
}

func (m *Manager) Render(key Key, variant AgentVariant, data any) (string, error) {
	tmpl, err := m.Get(key, variant)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}

	return buf.String(), nil
}
