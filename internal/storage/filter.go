package storage

import (
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	log "github.com/sirupsen/logrus"

	"graftfs/internal/common"
)

// FileFilter returns true if the file/dir at relPath should be INCLUDED
// in an import.
type FileFilter func(relPath string, isDir bool) bool

// BuildFileFilter creates a FileFilter that:
// 1. Checks excludes list (force-exclude, highest priority)
// 2. Checks includes list (force-include, overrides gitignore)
// 3. Applies gitignore rules collected from the source tree
func BuildFileFilter(sourceDir string, gitignoreEnabled bool, includes, excludes []string) FileFilter {
	includes = normalizePatterns(includes)
	excludes = normalizePatterns(excludes)

	var matcher *gitignoreMatcher
	if gitignoreEnabled {
		var err error
		matcher, err = newGitignoreMatcher(sourceDir)
		if err != nil {
			log.Warnf("[Filter] failed to build gitignore matcher: %v", err)
		}
	}

	return func(relPath string, isDir bool) bool {
		// Check excludes (force-exclude, takes precedence over includes)
		for _, exc := range excludes {
			if relPath == exc || strings.HasPrefix(relPath, exc+"/") || strings.HasPrefix(relPath, exc+string(filepath.Separator)) {
				return false
			}
		}

		// Check includes override (force-include even if gitignored)
		for _, inc := range includes {
			if relPath == inc || strings.HasPrefix(relPath, inc+"/") || strings.HasPrefix(relPath, inc+string(filepath.Separator)) {
				return true
			}
			// Directories on the way down to an included path must stay
			// walkable or the include could never match.
			if isDir && strings.HasPrefix(inc, relPath+"/") {
				return true
			}
		}

		if matcher != nil && matcher.isIgnored(relPath, isDir) {
			return false
		}

		return true
	}
}

// normalizePatterns cleans user-supplied include/exclude paths so that
// "dist/", "./dist" and "dist" all name the same tree entry.
func normalizePatterns(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if n := common.NormalizePath(p); n != "" {
			out = append(out, filepath.ToSlash(n))
		}
	}
	return out
}

// gitignoreMatcher collects .gitignore rules from a source tree
type gitignoreMatcher struct {
	matchers []scopedMatcher
}

type scopedMatcher struct {
	dirPrefix string
	ignore    *ignore.GitIgnore
}

func newGitignoreMatcher(sourceDir string) (*gitignoreMatcher, error) {
	m := &gitignoreMatcher{}

	err := filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if base == ".git" && path != sourceDir {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Base(path) != ".gitignore" {
			return nil
		}

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}

		dir := filepath.Dir(path)
		relDir, relErr := filepath.Rel(sourceDir, dir)
		if relErr != nil {
			return nil
		}
		if relDir == "." {
			relDir = ""
		}

		lines := strings.Split(string(data), "\n")
		gi := ignore.CompileIgnoreLines(lines...)
		m.matchers = append(m.matchers, scopedMatcher{
			dirPrefix: relDir,
			ignore:    gi,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *gitignoreMatcher) isIgnored(relPath string, isDir bool) bool {
	if m == nil || len(m.matchers) == 0 {
		return false
	}

	checkPath := relPath
	if isDir {
		checkPath = relPath + "/"
	}

	for _, sm := range m.matchers {
		var pathToCheck string
		if sm.dirPrefix == "" {
			pathToCheck = checkPath
		} else {
			prefix := sm.dirPrefix + "/"
			if !strings.HasPrefix(relPath, prefix) {
				continue
			}
			pathToCheck = strings.TrimPrefix(checkPath, prefix)
		}

		if sm.ignore.MatchesPath(pathToCheck) {
			return true
		}
	}
	return false
}
