package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cpa02cmz/oh-my-opencode-sub000/async"
	"github.com/cpa02cmz/oh-my-opencode-sub000/logger"

	"github.com/myleshyson/lsprotocol-go/protocol"
)

// maxProjectDiagnosticFiles bounds the per-language file walk so a huge
// monorepo cannot turn one tool call into thousands of requests.
const maxProjectDiagnosticFiles = 200

// FileDiagnostics pairs a file with the diagnostics reported for it.
type FileDiagnostics struct {
	Path        string
	Diagnostics []protocol.Diagnostic
}

// LanguageDiagnostics is the outcome of one language's project sweep.
type LanguageDiagnostics struct {
	Language string
	Files    []FileDiagnostics
	Err      error
}

// FileDiagnostics pulls diagnostics for a single file.
func (b *Bridge) FileDiagnostics(ctx context.Context, path string) ([]protocol.Diagnostic, error) {
	client, absPath, release, err := b.AcquireForFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer release()

	return client.Diagnostics(ctx, absPath)
}

// ProjectDiagnostics sweeps a project: detects its languages, and for each
// language with a configured server pulls diagnostics for every matching
// file. Languages are swept concurrently, files within a language through
// one shared client.
func (b *Bridge) ProjectDiagnostics(ctx context.Context, projectPath string) ([]LanguageDiagnostics, error) {
	root, err := b.ValidateDocumentPath(projectPath)
	if err != nil {
		return nil, err
	}

	languages, err := b.DetectProjectLanguages(root)
	if err != nil {
		return nil, err
	}

	ops := make(map[string]func() ([]FileDiagnostics, error))
	for _, language := range languages {
		if b.config.ServerIDForLanguage(language) == "" {
			logger.Debug(fmt.Sprintf("Skipping project diagnostics for %s: no server configured", language))
			continue
		}
		lang := language
		ops[lang] = func() ([]FileDiagnostics, error) {
			return b.sweepLanguage(ctx, root, lang)
		}
	}
	if len(ops) == 0 {
		return nil, nil
	}

	results, err := async.MapWithKeys(ctx, ops)
	if err != nil {
		return nil, err
	}

	out := make([]LanguageDiagnostics, 0, len(results))
	for _, res := range results {
		out = append(out, LanguageDiagnostics{Language: res.Key, Files: res.Value, Err: res.Error})
	}
	return out, nil
}

func (b *Bridge) sweepLanguage(ctx context.Context, root, language string) ([]FileDiagnostics, error) {
	files, err := b.filesForLanguage(root, language)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	client, release, err := b.AcquireForLanguage(ctx, language, root)
	if err != nil {
		return nil, err
	}
	defer release()

	var out []FileDiagnostics
	for _, file := range files {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		diags, err := client.Diagnostics(ctx, file)
		if err != nil {
			logger.Warn(fmt.Sprintf("Diagnostics failed for %s: %v", file, err))
			continue
		}
		if len(diags) > 0 {
			out = append(out, FileDiagnostics{Path: file, Diagnostics: diags})
		}
	}
	return out, nil
}

// filesForLanguage collects project files whose extension maps to the given
// language, skipping hidden and dependency directories.
func (b *Bridge) filesForLanguage(root, language string) ([]string, error) {
	var files []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				return filepath.SkipDir
			}
			switch name {
			case "node_modules", "target", "build", "dist", "vendor":
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxProjectDiagnosticFiles {
			return filepath.SkipAll
		}
		if lang, err := b.config.LanguageForExtension(filepath.Ext(path)); err == nil && lang == language {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error walking project directory: %w", err)
	}
	return files, nil
}
