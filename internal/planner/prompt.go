package planner

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts/*.md
var promptsFS embed.FS

// DefaultPromptSlug names the embedded study plan prompt.
const DefaultPromptSlug = "study-plan"

// PromptConfig is the YAML frontmatter of a prompt file.
type PromptConfig struct {
	Slug         string          `yaml:"slug"`
	Name         string          `yaml:"name,omitempty"`
	Description  string          `yaml:"description,omitempty"`
	Version      string          `yaml:"version,omitempty"`
	Variables    PromptVariables `yaml:"variables,omitempty"`
	UserTemplate string          `yaml:"user_template"`
	// SystemTemplate defaults to the markdown body after the frontmatter.
	SystemTemplate string `yaml:"system_template,omitempty"`
}

// PromptVariables lists the template variables a prompt expects.
type PromptVariables struct {
	Required []string `yaml:"required,omitempty"`
	Optional []string `yaml:"optional,omitempty"`
}

// PromptVars are the values substituted into a prompt.
type PromptVars struct {
	Topic    string
	Language string
}

// Prompt is a parsed prompt with compiled templates.
type Prompt struct {
	Config PromptConfig
	Source string

	system *template.Template
	user   *template.Template
}

// LoadPrompt parses a prompt file: YAML frontmatter followed by the system template.
func LoadPrompt(source string, data []byte) (*Prompt, error) {
	cfg, body, err := parseFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", source, err)
	}

	if strings.TrimSpace(cfg.SystemTemplate) == "" {
		cfg.SystemTemplate = strings.TrimSpace(body)
	}
	if strings.TrimSpace(cfg.Slug) == "" {
		return nil, fmt.Errorf("prompt %s missing slug", source)
	}
	if strings.TrimSpace(cfg.SystemTemplate) == "" {
		return nil, fmt.Errorf("prompt %s missing system template", source)
	}
	if strings.TrimSpace(cfg.UserTemplate) == "" {
		return nil, fmt.Errorf("prompt %s missing user_template", source)
	}

	system, err := template.New(cfg.Slug + ".system").Option("missingkey=error").Parse(cfg.SystemTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt %s system template: %w", source, err)
	}
	user, err := template.New(cfg.Slug + ".user").Option("missingkey=error").Parse(cfg.UserTemplate)
	if err != nil {
		return nil, fmt.Errorf("prompt %s user template: %w", source, err)
	}

	return &Prompt{Config: cfg, Source: source, system: system, user: user}, nil
}

// DefaultPrompt loads the embedded study plan prompt.
func DefaultPrompt() (*Prompt, error) {
	data, err := promptsFS.ReadFile("prompts/" + DefaultPromptSlug + ".md")
	if err != nil {
		return nil, fmt.Errorf("read embedded prompt: %w", err)
	}
	return LoadPrompt(DefaultPromptSlug+".md", data)
}

// Render produces the system and user messages for vars.
func (p *Prompt) Render(vars PromptVars) (system, user string, err error) {
	if strings.TrimSpace(vars.Topic) == "" {
		return "", "", fmt.Errorf("prompt %s: topic is required", p.Config.Slug)
	}

	var buf bytes.Buffer
	if err := p.system.Execute(&buf, vars); err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}
	system = strings.TrimSpace(buf.String())

	buf.Reset()
	if err := p.user.Execute(&buf, vars); err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	user = strings.TrimSpace(buf.String())

	return system, user, nil
}

func parseFrontmatter(data []byte) (PromptConfig, string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return PromptConfig{}, "", fmt.Errorf("empty prompt")
	}

	lines := bufio.NewScanner(bytes.NewReader(trimmed))
	lines.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		frontmatter []string
		body        []string
		inFront     bool
		headerSeen  bool
	)

	for lines.Scan() {
		line := lines.Text()
		switch {
		case !headerSeen && strings.TrimSpace(line) == "---":
			headerSeen = true
			inFront = true
		case headerSeen && inFront && strings.TrimSpace(line) == "---":
			inFront = false
		default:
			if inFront {
				frontmatter = append(frontmatter, line)
			} else {
				body = append(body, line)
			}
		}
	}
	if err := lines.Err(); err != nil {
		return PromptConfig{}, "", err
	}
	if !headerSeen {
		return PromptConfig{}, "", fmt.Errorf("missing frontmatter")
	}

	var cfg PromptConfig
	if err := yaml.Unmarshal([]byte(strings.Join(frontmatter, "\n")), &cfg); err != nil {
		return PromptConfig{}, "", fmt.Errorf("invalid frontmatter: %w", err)
	}
	return cfg, strings.Join(body, "\n"), nil
}
