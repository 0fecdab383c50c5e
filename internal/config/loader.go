package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// WorkdirEnv is the environment variable through which the resolved
// working-context path is exposed to both supervised processes. Command
// arguments and env values may reference it as $DUET_WORKDIR.
const WorkdirEnv = "DUET_WORKDIR"

// Load reads a duet manifest from the provided path.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Config
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	manifestDir := filepath.Dir(absPath)
	doc.ResolvedWorkdir = resolveWorkdir(manifestDir, os.ExpandEnv(doc.Workdir))

	expand := expander(doc.ResolvedWorkdir)

	for _, proc := range []struct {
		field string
		spec  *ProcessSpec
	}{
		{"server", doc.Server},
		{"inspector", doc.Inspector},
	} {
		if proc.spec == nil {
			continue
		}
		if err := resolveProcess(proc.spec, doc.ResolvedWorkdir, expand); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", absPath, proc.field, err)
		}
	}

	return &doc, nil
}

func resolveWorkdir(base, workdir string) string {
	if workdir == "" {
		return base
	}
	if filepath.IsAbs(workdir) {
		return filepath.Clean(workdir)
	}
	return filepath.Clean(filepath.Join(base, workdir))
}

// expander returns an os.Expand mapping that resolves WorkdirEnv to the
// session workdir and everything else from the host environment.
func expander(workdir string) func(string) string {
	return func(key string) string {
		if key == WorkdirEnv {
			return workdir
		}
		return os.Getenv(key)
	}
}

func resolveProcess(spec *ProcessSpec, workdir string, expand func(string) string) error {
	for i, arg := range spec.Command {
		spec.Command[i] = os.Expand(arg, expand)
	}

	var inlineEnv map[string]string
	if len(spec.Env) > 0 {
		inlineEnv = make(map[string]string, len(spec.Env))
		for k, v := range spec.Env {
			inlineEnv[k] = os.Expand(v, expand)
		}
	}

	var fileEnv map[string]string
	if spec.EnvFromFile != "" {
		expanded := os.Expand(spec.EnvFromFile, expand)
		if !filepath.IsAbs(expanded) {
			expanded = filepath.Clean(filepath.Join(workdir, expanded))
		}
		spec.EnvFromFile = expanded

		var err error
		fileEnv, err = godotenv.Read(expanded)
		if err != nil {
			return fmt.Errorf("envFromFile: load %q: %w", expanded, err)
		}
	}

	var merged map[string]string
	if len(fileEnv) > 0 {
		merged = make(map[string]string, len(fileEnv))
		for k, v := range fileEnv {
			merged[k] = v
		}
	}
	if len(inlineEnv) > 0 {
		if merged == nil {
			merged = make(map[string]string, len(inlineEnv))
		}
		for k, v := range inlineEnv {
			merged[k] = v
		}
	}
	spec.Env = merged
	return nil
}
