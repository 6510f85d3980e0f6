package mapping

import (
	"fmt"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/osteele/liquid"
)

const (
	MaxLiquidTemplateLength = 1000

	// MaxCachedLiquidTemplates bounds the parsed-template cache. The least
	// recently used template is evicted first.
	MaxCachedLiquidTemplates = 500
)

var (
	disabledLiquidTags = []string{"case", "for", "include", "layout", "render", "tablerow"}

	disabledLiquidFilters = []string{
		"array_to_sentence_string", "concat", "find", "find_exp", "find_index", "find_index_exp",
		"group_by", "group_by_exp", "has", "has_exp", "map", "newline_to_br", "reject", "reject_exp",
		"reverse", "sort", "sort_natural", "uniq", "where_exp", "type",
	}

	liquidTagPattern    = regexp.MustCompile(`\{%-?\s*([A-Za-z_][\w]*)`)
	liquidOutputPattern = regexp.MustCompile(`(?s)\{\{-?(.*?)-?\}\}|\{%-?(.*?)-?%\}`)
	liquidFilterPattern = regexp.MustCompile(`\|\s*([A-Za-z_][\w]*)`)
)

// LiquidRenderer renders @liquid templates with a restricted tag and filter set.
// Parsed templates are cached by source, up to MaxCachedLiquidTemplates.
type LiquidRenderer struct {
	engine *liquid.Engine
	cache  *lru.Cache[string, *liquid.Template]
}

func NewLiquidRenderer(engine *liquid.Engine) *LiquidRenderer {
	return newLiquidRenderer(engine, MaxCachedLiquidTemplates)
}

func newLiquidRenderer(engine *liquid.Engine, cacheSize int) *LiquidRenderer {
	if engine == nil {
		engine = liquid.NewEngine()
	}
	// only errors on a non-positive size
	cache, _ := lru.New[string, *liquid.Template](max(cacheSize, 1))
	return &LiquidRenderer{
		engine: engine,
		cache:  cache,
	}
}

// CheckLiquidTemplate rejects templates that are too long or use a disabled construct.
func CheckLiquidTemplate(source string) error {
	if len(source) > MaxLiquidTemplateLength {
		return fmt.Errorf("liquid template values are limited to %d characters", MaxLiquidTemplateLength)
	}

	for _, match := range liquidTagPattern.FindAllStringSubmatch(source, -1) {
		name := match[1]
		for _, tag := range disabledLiquidTags {
			if name == tag {
				return fmt.Errorf("tag %q is disabled", tag)
			}
		}
	}

	for _, block := range liquidOutputPattern.FindAllStringSubmatch(source, -1) {
		body := block[1] + block[2]
		for _, match := range liquidFilterPattern.FindAllStringSubmatch(body, -1) {
			name := match[1]
			for _, filter := range disabledLiquidFilters {
				if name == filter {
					return fmt.Errorf("filter %q is disabled", filter)
				}
			}
		}
	}

	return nil
}

func (l *LiquidRenderer) Render(source string, data any) (string, error) {
	if err := CheckLiquidTemplate(source); err != nil {
		return "", err
	}

	tpl, err := l.getOrParse(source)
	if err != nil {
		return "", err
	}

	bindings, _ := data.(map[string]any)
	if bindings == nil {
		bindings = map[string]any{}
	}

	out, renderErr := tpl.Render(liquid.Bindings(bindings))
	if renderErr != nil {
		return "", fmt.Errorf("liquid render failed: %s", renderErr.Error())
	}

	return string(out), nil
}

func (l *LiquidRenderer) getOrParse(source string) (*liquid.Template, error) {
	if tpl, ok := l.cache.Get(source); ok {
		return tpl, nil
	}

	tpl, parseErr := l.engine.ParseTemplate([]byte(source))
	if parseErr != nil {
		return nil, fmt.Errorf("liquid parse failed: %s", parseErr.Error())
	}

	l.cache.Add(source, tpl)

	return tpl, nil
}
