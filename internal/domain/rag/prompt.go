package rag

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var versionPattern = regexp.MustCompile(`^v\d+$`)

const (
	tokenContext = "{context}"
	tokenQuery   = "{query}"
)

// PromptMetadata is the parsed YAML-like frontmatter of a policy or template file.
type PromptMetadata struct {
	Type        string
	Version     string
	Lang        string
	Description string
	Inputs      []string
}

// PromptSource loads the raw policy document and the versioned template
// document by name. Implementations back this with an embedded filesystem,
// the way the teacher loads its config file from disk.
type PromptSource interface {
	LoadPolicy(name string) (string, bool, error)
	LoadTemplate(version string) (string, bool, error)
}

// PromptComposer loads a policy + versioned template pair, validates the
// template contract, and caches the composed prompt per (policy, version).
type PromptComposer struct {
	source PromptSource

	mu    sync.Mutex
	cache map[string]string
}

// NewPromptComposer constructs a composer backed by source.
func NewPromptComposer(source PromptSource) *PromptComposer {
	return &PromptComposer{source: source, cache: make(map[string]string)}
}

// Compose returns the policy+template prompt for the given policy name and
// version, substituting {context} and {query} and nothing else. If the
// requested version is missing it falls back to v1; if v1 is also missing
// it fails loudly.
func (p *PromptComposer) Compose(policyName, version, context, query string) (string, error) {
	if !versionPattern.MatchString(version) {
		version = "v1"
	}
	cacheKey := policyName + "|" + version
	p.mu.Lock()
	template, cached := p.cache[cacheKey]
	p.mu.Unlock()

	if !cached {
		policy, ok, err := p.source.LoadPolicy(policyName)
		if err != nil {
			return "", fmt.Errorf("load policy %q: %w", policyName, err)
		}
		if !ok {
			return "", fmt.Errorf("prompt policy %q not found", policyName)
		}

		body, ok, err := p.source.LoadTemplate(version)
		if err != nil {
			return "", fmt.Errorf("load template %q: %w", version, err)
		}
		if !ok {
			body, ok, err = p.source.LoadTemplate("v1")
			if err != nil {
				return "", fmt.Errorf("load fallback template v1: %w", err)
			}
			if !ok {
				return "", fmt.Errorf("prompt template version %q missing and no v1 fallback available", version)
			}
		}
		body = stripFrontmatter(body)
		policy = stripFrontmatter(policy)

		if !strings.Contains(body, tokenContext) || !strings.Contains(body, tokenQuery) {
			return "", fmt.Errorf("prompt template %q missing required placeholders", version)
		}

		template = strings.TrimRight(policy, "\n") + "\n\n" + body
		p.mu.Lock()
		p.cache[cacheKey] = template
		p.mu.Unlock()
	}

	rendered := strings.ReplaceAll(template, tokenContext, context)
	rendered = strings.ReplaceAll(rendered, tokenQuery, query)
	return rendered, nil
}

var frontmatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n`)

// stripFrontmatter removes a leading YAML-like frontmatter block, if present.
func stripFrontmatter(content string) string {
	loc := frontmatterRe.FindStringIndex(content)
	if loc == nil {
		return content
	}
	return content[loc[1]:]
}

// parseFrontmatter extracts the metadata block without interpreting it as
// real YAML — a minimal line scan that avoids a YAML dependency for a
// handful of scalar keys.
func parseFrontmatter(content string) PromptMetadata {
	loc := frontmatterRe.FindStringSubmatchIndex(content)
	var meta PromptMetadata
	if loc == nil {
		return meta
	}
	block := content[loc[2]:loc[3]]
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "- ") {
			meta.Inputs = append(meta.Inputs, strings.Trim(strings.TrimPrefix(line, "- "), `"'`))
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch key {
		case "type":
			meta.Type = value
		case "version":
			meta.Version = value
		case "lang":
			meta.Lang = value
		case "description":
			meta.Description = value
		}
	}
	return meta
}
