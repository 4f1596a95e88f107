// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Saadajee/neurostack-copilot/pkg/ragclient"
)

func TestHealthSummary(t *testing.T) {
	const url = "http://localhost:8000"

	tests := []struct {
		name  string
		ready *ragclient.Readiness
		err   error
		want  string
	}{
		{
			name:  "ready",
			ready: &ragclient.Readiness{Ready: true, Message: "RAG system loaded"},
			want:  "url:    " + url + "\nstatus: healthy\nready:  yes\nRAG system loaded",
		},
		{
			name:  "loading",
			ready: &ragclient.Readiness{Message: "Indexes still loading..."},
			want:  "url:    " + url + "\nstatus: healthy\nready:  no\nIndexes still loading...",
		},
		{
			name: "readiness failed",
			err:  errors.New("boom"),
			want: "url:    " + url + "\nstatus: healthy\nready:  unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, healthSummary(url, tt.ready, tt.err))
		})
	}
}
