package instrument

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/zjy-dev/bytecover/internal/logger"
)

// ModuleExtension is the file extension of loadable modules.
const ModuleExtension = ".bcl"

// Coverage drives instrumentation of every coverable module of a directory.
type Coverage struct {
	fs                   afero.Fs
	moduleOrAppDirectory string
	tempDir              string
	identifier           string
	params               *Parameters
	log                  logger.Leveled
}

// NewCoverage creates a Coverage with a fresh random identifier. An empty
// tempDir means the OS temp directory.
func NewCoverage(fs afero.Fs, moduleOrAppDirectory, tempDir string, params *Parameters, log logger.Leveled) (*Coverage, error) {
	id, err := newIdentifier()
	if err != nil {
		return nil, err
	}
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if params == nil {
		params = &Parameters{}
	}
	return &Coverage{
		fs:                   fs,
		moduleOrAppDirectory: moduleOrAppDirectory,
		tempDir:              tempDir,
		identifier:           id,
		params:               params,
		log:                  log,
	}, nil
}

// Identifier returns the identifier of this coverage run.
func (c *Coverage) Identifier() string { return c.identifier }

func newIdentifier() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate identifier: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// PrepareModules instruments every coverable module. A module that fails to
// instrument is restored from its backup and left out of the result; the
// returned error only reports backups that could not be restored.
func (c *Coverage) PrepareModules() (*PrepareResult, error) {
	c.params.ExcludeFilters = c.validFilters(c.params.ExcludeFilters)
	c.params.IncludeFilters = c.validFilters(c.params.IncludeFilters)

	modules, err := c.coverableModules()
	if err != nil {
		return nil, err
	}

	pr := &PrepareResult{
		Identifier:           c.identifier,
		ModuleOrAppDirectory: c.moduleOrAppDirectory,
		TempDirectory:        c.tempDir,
		Parameters:           *c.params,
	}

	var errs error
	for _, module := range modules {
		if IsModuleExcluded(module, c.params.ExcludeFilters) || !IsModuleIncluded(module, c.params.IncludeFilters) {
			c.log.Debugf("Excluded module: '%s'", module)
			continue
		}

		inst := NewInstrumenter(c.fs, module, c.identifier, c.tempDir, c.params, c.log)
		if !inst.CanInstrument() {
			continue
		}

		backup := BackupPath(c.tempDir, module, c.identifier)
		if err := copyFile(c.fs, module, backup); err != nil {
			c.log.Warnf("Unable to back up module: '%s' because: %v", module, err)
			continue
		}

		result, err := inst.Instrument()
		if err != nil {
			c.log.Warnf("Unable to instrument module: '%s' because: %v", module, err)
			if rerr := RestoreModule(c.fs, module, backup); rerr != nil {
				errs = multierr.Append(errs, rerr)
			}
			continue
		}
		c.log.Infof("Instrumented module: '%s'", module)
		pr.Results = append(pr.Results, result)
	}
	return pr, errs
}

func (c *Coverage) validFilters(filters []string) []string {
	var valid []string
	for _, f := range filters {
		if !IsValidFilterExpression(f) {
			c.log.Warnf("Filter '%s' is not valid for this run and will be ignored", f)
			continue
		}
		valid = append(valid, f)
	}
	return valid
}

// coverableModules lists module files in the module-or-app directory and the
// configured include directories.
func (c *Coverage) coverableModules() ([]string, error) {
	dirs := append([]string{c.moduleOrAppDirectory}, c.params.IncludeDirectories...)
	seen := make(map[string]bool)
	var modules []string
	for _, dir := range dirs {
		matches, err := afero.Glob(c.fs, filepath.Join(dir, "*"+ModuleExtension))
		if err != nil {
			return nil, fmt.Errorf("failed to list modules in %s: %w", dir, err)
		}
		for _, m := range matches {
			if seen[filepath.Base(m)] {
				continue
			}
			seen[filepath.Base(m)] = true
			modules = append(modules, m)
		}
	}
	sort.Strings(modules)
	return modules, nil
}

// BackupPath returns where the original of modulePath is kept during a run.
func BackupPath(tempDir, modulePath, identifier string) string {
	base := filepath.Base(modulePath)
	ext := filepath.Ext(base)
	return filepath.Join(tempDir, moduleName(base)+"_"+identifier+ext)
}

// RestoreModule copies the backup over modulePath and removes the backup.
func RestoreModule(fs afero.Fs, modulePath, backupPath string) error {
	if err := copyFile(fs, backupPath, modulePath); err != nil {
		return fmt.Errorf("failed to restore module %s: %w", modulePath, err)
	}
	if err := fs.Remove(backupPath); err != nil {
		return fmt.Errorf("failed to remove backup %s: %w", backupPath, err)
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	return afero.WriteFile(fs, dst, data, 0644)
}
