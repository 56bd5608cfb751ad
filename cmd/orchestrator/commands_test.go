// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/watch"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.md"), "b")
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(root, "image.png"), "x")
	writeFile(t, filepath.Join(root, "nested", "c.MARKDOWN"), "c")
	writeFile(t, filepath.Join(root, ".git", "d.md"), "d")
	writeFile(t, filepath.Join(root, ".hidden.md"), "e")
	explicit := filepath.Join(t.TempDir(), "notes.rst")
	writeFile(t, explicit, "f")

	files, err := collectFiles([]string{root, explicit})
	require.NoError(t, err)

	expected := []string{
		filepath.Join(root, "a.txt"),
		filepath.Join(root, "b.md"),
		filepath.Join(root, "nested", "c.MARKDOWN"),
		explicit,
	}
	assert.ElementsMatch(t, expected, files)
}

func TestCollectFiles_MissingPath(t *testing.T) {
	_, err := collectFiles([]string{filepath.Join(t.TempDir(), "nope")})
	assert.Error(t, err)
}

type fakeIngester struct {
	failOn   string
	seen     []string
	deleted  []string
	deleteOK bool
}

func (f *fakeIngester) DeleteFile(_ context.Context, filename string) error {
	if !f.deleteOK {
		return errors.New("index unavailable")
	}
	f.deleted = append(f.deleted, filename)
	return nil
}

func (f *fakeIngester) IngestFile(_ context.Context, filename string, _ []byte) (*services.IngestResult, error) {
	f.seen = append(f.seen, filename)
	if filename == f.failOn {
		return nil, errors.New("embedding backend down")
	}
	return &services.IngestResult{DocumentID: datatypes.DocumentID(filename), Filename: filename, Chunks: 1}, nil
}

func TestIngestFiles_ContinuesPastFailures(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.md")
	b := filepath.Join(dir, "b.md")
	writeFile(t, a, "a")
	writeFile(t, b, "b")
	missing := filepath.Join(dir, "gone.md")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	ingester := &fakeIngester{failOn: "a.md"}

	err := ingestFiles(context.Background(), ingester, []string{a, missing, b}, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding backend down")
	assert.Contains(t, err.Error(), "gone.md")
	assert.Equal(t, []string{"a.md", "b.md"}, ingester.seen)
	assert.Contains(t, out.String(), "Ingested "+b+" as ")
	assert.Contains(t, out.String(), "b_md")
	assert.Contains(t, out.String(), "Failed to ingest "+a)
}

func TestSyncChanges(t *testing.T) {
	dir := t.TempDir()
	edited := filepath.Join(dir, "edited.md")
	writeFile(t, edited, "v2")

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	syncer := &fakeIngester{deleteOK: true}

	err := syncChanges(context.Background(), syncer, []watch.Change{
		{Path: filepath.Join(dir, "gone.md"), Op: watch.OpRemove},
		{Path: edited, Op: watch.OpUpsert},
	}, cmd)

	require.NoError(t, err)
	assert.Equal(t, []string{"gone.md"}, syncer.deleted)
	assert.Equal(t, []string{"edited.md"}, syncer.seen)
	assert.Contains(t, out.String(), "Removed")
}

func TestSyncChanges_ReportsDeleteFailure(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	syncer := &fakeIngester{}

	err := syncChanges(context.Background(), syncer, []watch.Change{
		{Path: "/notes/gone.md", Op: watch.OpRemove},
	}, cmd)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index unavailable")
}

func TestLoadConfig_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("LLM_BACKEND_TYPE", "ollama")
	t.Setenv("WEAVIATE_SERVICE_URL", "http://from-env:8080")

	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	cmd.Flags().AddFlagSet(serveCmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--llm-backend", "openai", "--port", "9999"}))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Backend, "flag wins over env")
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "http://from-env:8080", cfg.WeaviateURL, "unset flag keeps env value")
}

func TestSetupLogging_RejectsUnknownLevel(t *testing.T) {
	old := logLevel
	defer func() { logLevel = old }()

	logLevel = "loud"
	assert.Error(t, setupLogging("test", false))
}
