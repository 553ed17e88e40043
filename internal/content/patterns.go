// Package content provides the pure text-processing pipeline: normalization,
// quality scoring, CAPTCHA heuristics, content-type detection, structured
// extraction, semantic chunking, and duplicate detection. The regex sets are
// tunable at runtime through an optional YAML override file.
package content

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// PatternSet is the externally tunable shape of the heuristics. Empty fields
// fall back to the embedded defaults on merge.
type PatternSet struct {
	NavTokens        []string            `yaml:"nav_tokens"`
	FooterPhrases    []string            `yaml:"footer_phrases"`
	Meaningful       []string            `yaml:"meaningful"`
	CaptchaPhrases   []string            `yaml:"captcha_phrases"`
	CaptchaSelectors []string            `yaml:"captcha_selectors"`
	ContentTypes     map[string][]string `yaml:"content_types"`
}

// defaultPatternSet carries the embedded heuristics.
var defaultPatternSet = PatternSet{
	NavTokens: []string{
		"Home", "Login", "Sign Up", "Menu", "Search", "More",
		"Categories", "Topics", "Latest", "Hot",
	},
	FooterPhrases: []string{
		"©", "Copyright", "All rights reserved", "Privacy Policy", "Terms of Service",
	},
	Meaningful: []string{
		`\b(article|news|report|analysis|study|research|data|information)\b`,
		`\b(company|business|market|stock|investment|finance)\b`,
		`\b(price|value|growth|revenue|profit|earnings)\b`,
	},
	CaptchaPhrases: []string{
		"recaptcha", "hcaptcha", "cloudflare",
		"prove you are human", "i am not a robot",
		"verify you are human", "security challenge",
		"anti-bot", "bot detection", "access denied",
		"please complete the security check",
	},
	CaptchaSelectors: []string{
		`iframe[src*="recaptcha"]`,
		`iframe[src*="hcaptcha"]`,
		`div[class*="captcha"]`,
		`div[id*="captcha"]`,
		`div[class*="recaptcha"]`,
		`div[id*="recaptcha"]`,
		`div[class*="hcaptcha"]`,
		`div[id*="hcaptcha"]`,
		`div[class*="cloudflare"]`,
		`div[id*="cloudflare"]`,
	},
	ContentTypes: map[string][]string{
		"news": {
			`\b(breaking|news|report|article|headline)\b`,
			`\b(published|updated|posted)\b`,
			`\b(journalist|reporter|correspondent)\b`,
		},
		"forum": {
			`\b(post|thread|topic|discussion)\b`,
			`\b(reply|comment|user|member)\b`,
			`\b(forum|board|community)\b`,
		},
		"financial": {
			`\b(stock|share|price|market|trading)\b`,
			`\b(earnings|revenue|profit|loss)\b`,
			`\b(investment|portfolio|dividend)\b`,
		},
		"ecommerce": {
			`\b(price|buy|sell|product|shopping)\b`,
			`\b(cart|checkout|payment|shipping)\b`,
			`\b(review|rating|customer)\b`,
		},
		"blog": {
			`\b(blog|post|author|published)\b`,
			`\b(opinion|thoughts|insights)\b`,
			`\b(categories|tags|archive)\b`,
		},
	},
}

// Patterns is a compiled, ready-to-match pattern set.
type Patterns struct {
	navTokens        *regexp.Regexp
	footerPhrases    *regexp.Regexp
	meaningful       []*regexp.Regexp
	captchaPhrases   []string
	captchaSelectors []string
	contentTypes     map[string][]*regexp.Regexp
}

// compile builds a Patterns from a pattern set. Invalid regexes are skipped
// with a warning so a bad override file degrades rather than breaks.
func compile(set PatternSet) *Patterns {
	p := &Patterns{
		captchaPhrases:   set.CaptchaPhrases,
		captchaSelectors: set.CaptchaSelectors,
		contentTypes:     make(map[string][]*regexp.Regexp, len(set.ContentTypes)),
	}

	if len(set.NavTokens) > 0 {
		alternation := ""
		for i, tok := range set.NavTokens {
			if i > 0 {
				alternation += "|"
			}
			alternation += regexp.QuoteMeta(tok)
		}
		p.navTokens = regexp.MustCompile(`(?i)\b(` + alternation + `)\b`)
	}
	if len(set.FooterPhrases) > 0 {
		alternation := ""
		for i, phrase := range set.FooterPhrases {
			if i > 0 {
				alternation += "|"
			}
			alternation += regexp.QuoteMeta(phrase)
		}
		p.footerPhrases = regexp.MustCompile(`(?im)(` + alternation + `).*$`)
	}
	for _, expr := range set.Meaningful {
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			log.Warn().Str("pattern", expr).Err(err).Msg("Skipping invalid meaningful pattern")
			continue
		}
		p.meaningful = append(p.meaningful, re)
	}
	for kind, exprs := range set.ContentTypes {
		for _, expr := range exprs {
			re, err := regexp.Compile(expr)
			if err != nil {
				log.Warn().
					Str("kind", kind).
					Str("pattern", expr).
					Err(err).
					Msg("Skipping invalid content-type pattern")
				continue
			}
			p.contentTypes[kind] = append(p.contentTypes[kind], re)
		}
	}
	return p
}

// CaptchaSelectors returns the DOM probe selectors of this pattern set.
func (p *Patterns) CaptchaSelectors() []string {
	return p.captchaSelectors
}

var (
	defaultOnce     sync.Once
	defaultPatterns *Patterns
)

// Defaults returns the compiled embedded pattern set.
func Defaults() *Patterns {
	defaultOnce.Do(func() {
		defaultPatterns = compile(defaultPatternSet)
	})
	return defaultPatterns
}

// Manager serves the active compiled pattern set. Reads are lock-free; an
// optional override file is merged over the embedded defaults and can be
// hot-reloaded on change.
type Manager struct {
	active  atomic.Value // *Patterns
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	reloads int64
	lastErr string
}

// NewManager creates a pattern manager. path may be empty, in which case the
// embedded defaults are served. hotReload requires a non-empty path.
func NewManager(path string, hotReload bool) (*Manager, error) {
	m := &Manager{
		path:   path,
		stopCh: make(chan struct{}),
	}
	m.active.Store(Defaults())

	if path != "" {
		if err := m.reload(); err != nil {
			log.Warn().Str("path", path).Err(err).Msg("Pattern override load failed, using embedded defaults")
		}
	}

	if hotReload && path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create pattern watcher: %w", err)
		}
		// Watch the directory so file replacement (write-then-rename) is seen.
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch pattern directory: %w", err)
		}
		m.watcher = watcher

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watchLoop()
		}()

		log.Info().Str("path", path).Msg("Pattern hot-reload enabled")
	}

	return m, nil
}

// Active returns the current compiled pattern set.
func (m *Manager) Active() *Patterns {
	return m.active.Load().(*Patterns)
}

// Stats reports reload bookkeeping for the status endpoint.
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{
		"override_path": m.path,
		"reloads":       m.reloads,
		"last_error":    m.lastErr,
	}
}

// Close stops the watcher goroutine.
func (m *Manager) Close() error {
	close(m.stopCh)
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			log.Warn().Err(err).Msg("Pattern watcher close error")
		}
	}
	m.wg.Wait()
	return nil
}

// reload re-reads the override file, merges it over the defaults, and swaps
// the active set.
func (m *Manager) reload() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		m.recordError(err)
		return err
	}

	var override PatternSet
	if err := yaml.Unmarshal(data, &override); err != nil {
		m.recordError(err)
		return err
	}

	merged := mergePatternSets(defaultPatternSet, override)
	m.active.Store(compile(merged))

	m.mu.Lock()
	m.reloads++
	m.lastErr = ""
	m.mu.Unlock()

	log.Info().Str("path", m.path).Msg("Content patterns reloaded")
	return nil
}

func (m *Manager) recordError(err error) {
	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()
}

// watchLoop reacts to file events with a short debounce, since editors and
// atomic writers emit several events per save.
func (m *Manager) watchLoop() {
	var pending <-chan time.Time

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Pattern watcher error")
		case <-pending:
			pending = nil
			if err := m.reload(); err != nil {
				log.Warn().Str("path", m.path).Err(err).Msg("Pattern reload failed, keeping previous set")
			}
		}
	}
}

// mergePatternSets lays non-empty override fields over base.
func mergePatternSets(base, override PatternSet) PatternSet {
	merged := base
	if len(override.NavTokens) > 0 {
		merged.NavTokens = override.NavTokens
	}
	if len(override.FooterPhrases) > 0 {
		merged.FooterPhrases = override.FooterPhrases
	}
	if len(override.Meaningful) > 0 {
		merged.Meaningful = override.Meaningful
	}
	if len(override.CaptchaPhrases) > 0 {
		merged.CaptchaPhrases = override.CaptchaPhrases
	}
	if len(override.CaptchaSelectors) > 0 {
		merged.CaptchaSelectors = override.CaptchaSelectors
	}
	if len(override.ContentTypes) > 0 {
		types := make(map[string][]string, len(base.ContentTypes))
		for kind, exprs := range base.ContentTypes {
			types[kind] = exprs
		}
		for kind, exprs := range override.ContentTypes {
			types[kind] = exprs
		}
		merged.ContentTypes = types
	}
	return merged
}
