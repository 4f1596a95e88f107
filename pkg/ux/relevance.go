// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "github.com/charmbracelet/lipgloss"

// MaxPassages is how many passages are shown under a reply.
const MaxPassages = 5

// Band classifies a relevance percentage for display.
type Band string

const (
	BandHigh    Band = "high"
	BandMedium  Band = "medium"
	BandLow     Band = "low"
	BandMinimal Band = "minimal"
)

// BandFor returns the band of a relevance percentage (0-100).
func BandFor(relevance float64) Band {
	switch {
	case relevance >= 80:
		return BandHigh
	case relevance >= 60:
		return BandMedium
	case relevance >= 40:
		return BandLow
	default:
		return BandMinimal
	}
}

// Style returns the badge style for the band.
func (b Band) Style() lipgloss.Style {
	switch b {
	case BandHigh:
		return Styles.Success
	case BandMedium:
		return Styles.Subtitle
	case BandLow:
		return Styles.Warning
	default:
		return Styles.Muted
	}
}
