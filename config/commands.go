package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// CommandsFileName is the per-project command overrides file, relative to the
// project root.
const CommandsFileName = ".kanblam/commands.toml"

// ProjectCommands are the commands the QA directive tells the agent to run.
// Empty fields mean the agent picks for itself.
type ProjectCommands struct {
	Test  string `toml:"test"`
	Build string `toml:"build"`
	Lint  string `toml:"lint,omitempty"`
}

// LoadProjectCommands reads <project>/.kanblam/commands.toml. A missing file
// is not an error; it returns zero-valued commands.
func LoadProjectCommands(projectPath string) (ProjectCommands, error) {
	var cmds ProjectCommands
	path := filepath.Join(projectPath, CommandsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cmds, nil
		}
		return cmds, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cmds); err != nil {
		return cmds, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cmds, nil
}

// SaveProjectCommands writes the commands file, creating .kanblam/ if needed.
func SaveProjectCommands(projectPath string, cmds ProjectCommands) error {
	path := filepath.Join(projectPath, CommandsFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create .kanblam directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cmds); err != nil {
		return fmt.Errorf("failed to encode commands: %w", err)
	}
	return nil
}
