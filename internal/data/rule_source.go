package data

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"Gateleen/internal/conf"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kratos/kratos/v2/log"
)

// FileRuleSource reads the routing rules document from a file and reports
// every change of that file.
type FileRuleSource struct {
	path string
	log  *log.Helper
}

// NewFileRuleSource creates a rule source for the configured rules path.
// An empty path yields an empty rule table.
func NewFileRuleSource(c *conf.Breaker, logger log.Logger) *FileRuleSource {
	var path string
	if c != nil {
		path = c.RulesPath
	}
	return &FileRuleSource{
		path: path,
		log:  log.NewHelper(log.With(logger, "module", "data/rules")),
	}
}

// LoadRules returns the current rules document, nil when no path is configured.
func (s *FileRuleSource) LoadRules() ([]byte, error) {
	if s.path == "" {
		return nil, nil
	}
	doc, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules %s: %w", s.path, err)
	}
	return doc, nil
}

// WatchRules calls onChange with the new document every time the file is
// written, created or replaced. It blocks until ctx is done.
func (s *FileRuleSource) WatchRules(ctx context.Context, onChange func([]byte)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create rules watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory, editors and config maps replace the file
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	s.log.Infow("msg", "watching routing rules", "path", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			doc, err := s.LoadRules()
			if err != nil {
				// a rename is followed by a create once the new file is in place
				s.log.Debugw("msg", "rules file not readable yet", "path", target, "error", err)
				continue
			}
			onChange(doc)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnw("msg", "rules watcher error", "error", err)
		}
	}
}
