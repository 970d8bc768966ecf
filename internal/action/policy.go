// Package action implements the validation, dispatch, and execution
// pipeline for browser actions.
package action

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/config"
	"github.com/puppeteer-mcp/puppeteer-mcp/internal/security"
)

// Policy holds the validation limits applied to incoming actions. A
// policy file overrides the environment defaults and can be hot
// reloaded.
type Policy struct {
	AllowedSchemes    []string `yaml:"allowedSchemes"`
	AllowedDomains    []string `yaml:"allowedDomains"`
	StrictSelectors   bool     `yaml:"strictSelectorValidation"`
	MaxFiles          int      `yaml:"maxFiles"`
	MaxFileSizeMB     int      `yaml:"maxFileSizeMB"`
	UploadBasePath    string   `yaml:"uploadBasePath"`
	AllowedExtensions []string `yaml:"allowedExtensions"`
}

// URLPolicy derives the navigation check from the policy.
func (p *Policy) URLPolicy() security.URLPolicy {
	schemes := p.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}
	return security.URLPolicy{AllowedSchemes: schemes, AllowedDomains: p.AllowedDomains}
}

// FilePolicy derives the upload check from the policy.
func (p *Policy) FilePolicy() security.FilePolicy {
	return security.FilePolicy{
		BasePath:          p.UploadBasePath,
		MaxSizeBytes:      int64(p.MaxFileSizeMB) * 1024 * 1024,
		AllowedExtensions: p.AllowedExtensions,
	}
}

func policyFromConfig(cfg *config.Config) Policy {
	return Policy{
		AllowedSchemes:  cfg.AllowedSchemes,
		AllowedDomains:  cfg.AllowedDomains,
		StrictSelectors: cfg.StrictSelector,
		MaxFiles:        cfg.MaxFiles,
		MaxFileSizeMB:   cfg.MaxFileSizeMB,
		UploadBasePath:  cfg.UploadBasePath,
	}
}

// PolicyStore serves the current policy and watches the policy file for
// changes when hot reload is enabled.
type PolicyStore struct {
	current atomic.Pointer[Policy]
	path    string

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPolicyStore loads the initial policy from config plus the optional
// policy file, and starts the file watcher when reload is enabled.
func NewPolicyStore(cfg *config.Config) (*PolicyStore, error) {
	s := &PolicyStore{path: cfg.PolicyPath, stopCh: make(chan struct{})}

	base := policyFromConfig(cfg)
	if cfg.PolicyPath != "" {
		loaded, err := loadPolicyFile(cfg.PolicyPath, base)
		if err != nil {
			return nil, err
		}
		base = loaded
	}
	s.current.Store(&base)

	if cfg.PolicyPath != "" && cfg.PolicyReload {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating policy watcher: %w", err)
		}
		// Watch the directory: editors replace files, which drops a
		// watch on the file itself.
		if err := w.Add(filepath.Dir(cfg.PolicyPath)); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watching policy directory: %w", err)
		}
		s.watcher = w

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.watchLoop(base)
		}()
		log.Info().Str("path", cfg.PolicyPath).Msg("Policy hot reload enabled")
	}

	return s, nil
}

// Current returns the active policy.
func (s *PolicyStore) Current() Policy {
	return *s.current.Load()
}

func (s *PolicyStore) watchLoop(base Policy) {
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			loaded, err := loadPolicyFile(s.path, base)
			if err != nil {
				// A bad reload keeps the previous policy in force.
				log.Error().Err(err).Str("path", s.path).Msg("Policy reload failed, keeping previous policy")
				continue
			}
			s.current.Store(&loaded)
			log.Info().Str("path", s.path).Msg("Policy reloaded")
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Policy watcher error")
		}
	}
}

// Close stops the watcher.
func (s *PolicyStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
	})
	s.wg.Wait()
}

// loadPolicyFile overlays the file on top of the base policy. Absent
// fields keep their base values.
func loadPolicyFile(path string, base Policy) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	out := base
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Policy{}, fmt.Errorf("parsing policy file: %w", err)
	}
	return out, nil
}
