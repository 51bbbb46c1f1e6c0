// Package packaging assembles the distributable archive for a finished
// run: artifacts, logs, provenance and a dependency inventory.
package packaging

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/quartet-labs/quartet/internal/agent"
)

// Request bundles everything one package build needs.
type Request struct {
	// RunID names the archive
	RunID string

	// Status is the run status at packaging time
	Status string

	// Prompt is the original instruction
	Prompt string

	// TargetPath is the scaffolded workspace
	TargetPath string

	// Model is the generator model used for the run
	Model string

	// ToolVersion is the quartet version that produced the run
	ToolVersion string

	// AllowCLITools and AllowPackageInstalls record the sandbox policy
	// the run executed under
	AllowCLITools        bool
	AllowPackageInstalls bool

	// StartedAt and CompletedAt bound the run
	StartedAt   time.Time
	CompletedAt time.Time

	// Results are the agent results in pipeline order
	Results []*agent.Result

	// LogsDir holds the run's command logs, copied into the archive
	LogsDir string
}

// PackageResult describes the archive that was written.
type PackageResult struct {
	// OutputPath is the absolute path of the archive
	OutputPath string

	// Files lists the archive entries in write order
	Files []string
}

// Packager writes run archives into the dist directory.
type Packager struct {
	distDir string
	log     *zap.Logger
}

// NewPackager creates a packager rooted at distDir.
func NewPackager(distDir string, log *zap.Logger) *Packager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Packager{distDir: distDir, log: log}
}

// Package writes <distDir>/<runID>.zip. The archive carries the agent
// artifacts under artifacts/<agent>/, the command logs under logs/, an
// sbom, provenance and a manifest listing every entry.
func (p *Packager) Package(req Request) (result *PackageResult, err error) {
	if err := os.MkdirAll(p.distDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dist directory: %w", err)
	}
	outputPath := filepath.Join(p.distDir, req.RunID+".zip")

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create package %s: %w", outputPath, err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(f))
	zw := zip.NewWriter(f)
	defer multierr.AppendInvoke(&err, multierr.Close(zw))

	var files []string
	add := func(name string, write func(io.Writer) error) error {
		entry, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("failed to create archive entry %s: %w", name, err)
		}
		if err := write(entry); err != nil {
			return fmt.Errorf("failed to write archive entry %s: %w", name, err)
		}
		files = append(files, name)
		return nil
	}

	if err := add("provenance.json", jsonEntry(p.provenance(req))); err != nil {
		return nil, err
	}
	if err := add("sbom.json", jsonEntry(map[string]any{
		"run_id":       req.RunID,
		"dependencies": dependencyLines(req.Results),
	})); err != nil {
		return nil, err
	}
	if err := add("README.txt", textEntry(packageReadme(req.RunID))); err != nil {
		return nil, err
	}

	for _, res := range req.Results {
		if res == nil {
			continue
		}
		for _, artifact := range res.Artifacts {
			name := fmt.Sprintf("artifacts/%s/%s", res.Agent, artifact.Name)
			if err := add(name, artifactEntry(artifact)); err != nil {
				return nil, err
			}
		}
	}

	if err := p.addLogs(add, req.LogsDir); err != nil {
		return nil, err
	}

	manifest := map[string]any{
		"run_id":     req.RunID,
		"status":     req.Status,
		"created_at": req.CompletedAt.UTC().Format(time.RFC3339),
		"files":      append(append([]string{}, files...), "manifest.json"),
	}
	if err := add("manifest.json", jsonEntry(manifest)); err != nil {
		return nil, err
	}

	p.log.Info("package written",
		zap.String("path", outputPath),
		zap.Int("entries", len(files)))
	return &PackageResult{OutputPath: outputPath, Files: files}, nil
}

func (p *Packager) provenance(req Request) map[string]any {
	agents := make([]map[string]any, 0, len(req.Results))
	for _, res := range req.Results {
		if res == nil {
			continue
		}
		agents = append(agents, map[string]any{
			"agent":   res.Agent,
			"status":  res.Status,
			"summary": res.Summary,
		})
	}
	return map[string]any{
		"tool":             "quartet",
		"tool_version":     req.ToolVersion,
		"run_id":           req.RunID,
		"status":           req.Status,
		"prompt":           req.Prompt,
		"target_path":      req.TargetPath,
		"model":            req.Model,
		"started_at":       req.StartedAt.UTC().Format(time.RFC3339),
		"completed_at":     req.CompletedAt.UTC().Format(time.RFC3339),
		"duration_seconds": req.CompletedAt.Sub(req.StartedAt).Seconds(),
		"policy": map[string]any{
			"allow_cli_tools":        req.AllowCLITools,
			"allow_package_installs": req.AllowPackageInstalls,
		},
		"agents": agents,
	}
}

// addLogs copies the run's log directory into the archive under logs/.
// A run without executed commands has no log directory; that is fine.
func (p *Packager) addLogs(add func(string, func(io.Writer) error) error, logsDir string) error {
	if logsDir == "" {
		return nil
	}
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(logsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(logsDir, path)
		if err != nil {
			return err
		}
		return add("logs/"+filepath.ToSlash(rel), func(w io.Writer) (err error) {
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer multierr.AppendInvoke(&err, multierr.Close(src))
			_, err = io.Copy(w, src)
			return err
		})
	})
}

// dependencyLines flattens every agent's dependency pins into sorted
// "manager:package==version" strings.
func dependencyLines(results []*agent.Result) []string {
	lines := make([]string, 0, 8)
	for _, res := range results {
		if res == nil || res.Details == nil {
			continue
		}
		switch deps := res.Details["dependencies"].(type) {
		case map[string]map[string]string:
			for manager, pins := range deps {
				for pkg, version := range pins {
					lines = append(lines, fmt.Sprintf("%s:%s==%s", manager, pkg, version))
				}
			}
		case map[string]any:
			for manager, pins := range deps {
				pinMap, ok := pins.(map[string]any)
				if !ok {
					continue
				}
				for pkg, version := range pinMap {
					lines = append(lines, fmt.Sprintf("%s:%s==%v", manager, pkg, version))
				}
			}
		}
	}
	sort.Strings(lines)
	return lines
}

func packageReadme(runID string) string {
	return fmt.Sprintf(`Run package for %s

Layout:
  manifest.json    archive inventory
  provenance.json  run metadata and agent outcomes
  sbom.json        pinned dependencies as manager:package==version
  artifacts/       agent outputs, one directory per agent
  logs/            sandbox command logs
`, runID)
}

func jsonEntry(payload any) func(io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	}
}

func textEntry(content string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	}
}

func artifactEntry(a agent.Artifact) func(io.Writer) error {
	if a.Type == agent.ArtifactText {
		if text, ok := a.Payload.(string); ok {
			return textEntry(text)
		}
	}
	return jsonEntry(a.Payload)
}
