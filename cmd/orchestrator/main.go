// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator runs the document QA service.
//
// # Commands
//
//   - serve: start the HTTP API (query, upload, documents, sessions,
//     WebSocket, status, metrics).
//   - ingest <path>...: run the upload pipeline over local files or
//     directories without starting the server. With --watch it keeps
//     running and mirrors edits and deletions into the index.
//
// Configuration comes from defaults, then the --config YAML file, then
// environment variables, then flags.
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Serve with a config file
//	./orchestrator serve --config config.yaml
//
//	# Index a folder of notes into Weaviate
//	WEAVIATE_SERVICE_URL=http://localhost:8080 ./orchestrator ingest ./notes
//
//	# Keep the index in sync while editing
//	WEAVIATE_SERVICE_URL=http://localhost:8080 ./orchestrator ingest --watch ./notes
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
