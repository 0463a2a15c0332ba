// Package mcp supervises Model Context Protocol tool-server child
// processes: resolving their executables, connecting over stdio via the
// official MCP SDK, maintaining a live tool catalog, and tracking each
// server's enabled/auto-start/validity lifecycle.
package mcp

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mrwong99/gglib/internal/domain"
)

// nodeShimCommands are the bare commands version managers (asdf, volta,
// nvm) are consulted for; resolving any other bare command never walks
// the shim directories.
var nodeShimCommands = map[string]bool{
	"npm":  true,
	"npx":  true,
	"node": true,
}

// platformSearchDirs lists extra system directories consulted after PATH,
// ahead of version-manager shims, mirroring how a login shell's PATH is
// typically assembled on each platform.
func platformSearchDirs() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"/usr/local/bin", "/opt/homebrew/bin", "/etc/paths.d"}
	case "windows":
		return nil
	default:
		return []string{"/usr/local/bin", "/usr/bin", "/bin"}
	}
}

// shimDirs returns version-manager shim directories to search for
// node/npm/npx, derived from well-known environment variables and
// conventional install locations. Absent managers simply contribute no
// directories.
func shimDirs() []string {
	home, _ := os.UserHomeDir()
	var dirs []string
	if asdf := os.Getenv("ASDF_DATA_DIR"); asdf != "" {
		dirs = append(dirs, filepath.Join(asdf, "shims"))
	} else if home != "" {
		dirs = append(dirs, filepath.Join(home, ".asdf", "shims"))
	}
	if volta := os.Getenv("VOLTA_HOME"); volta != "" {
		dirs = append(dirs, filepath.Join(volta, "bin"))
	} else if home != "" {
		dirs = append(dirs, filepath.Join(home, ".volta", "bin"))
	}
	if nvmDir := os.Getenv("NVM_DIR"); nvmDir != "" && home != "" {
		dirs = append(dirs, filepath.Join(nvmDir, "current", "bin"))
	}
	return dirs
}

// pathExtVariants returns the filename suffixes a bare command should be
// tried with on platforms that distinguish executables by extension
// (Windows's PATHEXT). Elsewhere it returns a single empty suffix.
func pathExtVariants() []string {
	raw := os.Getenv("PATHEXT")
	if raw == "" {
		if runtime.GOOS == "windows" {
			return []string{".COM", ".EXE", ".BAT", ".CMD"}
		}
		return []string{""}
	}
	parts := strings.Split(raw, string(os.PathListSeparator))
	parts = append(parts, "")
	return parts
}

// resolveExecutable resolves command to an absolute, executable path,
// trying in order: the current PATH, platform system directories,
// version-manager shims (only for npm/npx/node), and extraDirs (the
// server record's PathAdditions). Every candidate probed is appended to
// attempts for diagnostics. When command is already absolute, only that
// one path is probed.
func resolveExecutable(command string, extraDirs []string) (resolved string, attempts []domain.ResolutionAttempt, err error) {
	if command == "" {
		return "", nil, errEmptyCommand
	}

	if filepath.IsAbs(command) {
		outcome, reason := probe(command)
		attempts = append(attempts, domain.ResolutionAttempt{Candidate: command, Outcome: outcome, Reason: reason})
		if outcome == domain.ResolutionOK {
			return command, attempts, nil
		}
		return "", attempts, errNotResolved
	}

	var dirs []string
	if pathEnv := os.Getenv("PATH"); pathEnv != "" {
		dirs = append(dirs, strings.Split(pathEnv, string(os.PathListSeparator))...)
	}
	dirs = append(dirs, platformSearchDirs()...)
	if nodeShimCommands[filepath.Base(command)] {
		dirs = append(dirs, shimDirs()...)
	}
	dirs = append(dirs, extraDirs...)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, ext := range pathExtVariants() {
			candidate := filepath.Join(dir, command+ext)
			outcome, reason := probe(candidate)
			attempts = append(attempts, domain.ResolutionAttempt{Candidate: candidate, Outcome: outcome, Reason: reason})
			if outcome == domain.ResolutionOK {
				return candidate, attempts, nil
			}
		}
	}

	return "", attempts, errNotResolved
}

// revalidate re-checks a previously resolved path before falling back to
// a fresh search, per spec: "a subsequent call first re-validates the
// cached path before redoing the search."
func revalidate(cached string, extraDirs []string, command string) (resolved string, attempts []domain.ResolutionAttempt, err error) {
	if cached != "" {
		outcome, reason := probe(cached)
		attempt := domain.ResolutionAttempt{Candidate: cached, Outcome: outcome, Reason: reason}
		if outcome == domain.ResolutionOK {
			return cached, []domain.ResolutionAttempt{attempt}, nil
		}
		attempts = append(attempts, attempt)
	}
	resolved, fresh, err := resolveExecutable(command, extraDirs)
	return resolved, append(attempts, fresh...), err
}

// probe stats path and classifies the outcome.
func probe(path string) (domain.ResolutionOutcome, string) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		return domain.ResolutionNotFound, statErr.Error()
	}
	if info.IsDir() {
		return domain.ResolutionNotExecutable, "is a directory"
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return domain.ResolutionNotExecutable, "missing execute permission"
	}
	return domain.ResolutionOK, ""
}

var (
	errEmptyCommand = resolutionError("command must not be empty")
	errNotResolved  = resolutionError("executable could not be resolved")
)

type resolutionError string

func (e resolutionError) Error() string { return string(e) }
