// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
)

// defaultHTTPTimeout bounds one generation request.
const defaultHTTPTimeout = 5 * time.Minute

// postJSON sends payload to url and returns the response body.
// Transport failures and non-2xx statuses become *faults.LLMBackendError.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string,
	payload interface{}) ([]byte, error) {

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal the payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &faults.LLMBackendError{Err: fmt.Errorf("failed to make a request to the llm: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &faults.LLMBackendError{Status: resp.StatusCode, Err: fmt.Errorf("failed to read the llm's response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("LLM backend returned an error", "status_code", resp.StatusCode, "url", url)
		return nil, &faults.LLMBackendError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
