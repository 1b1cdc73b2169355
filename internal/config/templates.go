package config

import (
	"fmt"
	"os"

	"github.com/danmuck/edgeexport/internal/pipeline"
	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# exportctl configuration. Every key is optional; omitted keys keep their defaults.
`

// Template renders the default configuration as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(FromPipeline(pipeline.DefaultConfig(), "info"))
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
