// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package release

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/autobrr/upbrr/internal/models"
)

// ExistingImages uses whatever images are already on the item. Screenshot capture
// and hosting are done by external tools that write image_list.
type ExistingImages struct{}

func (ExistingImages) EnsureImages(_ context.Context, state *models.WorkingState, _ int) ([]models.Image, error) {
	return slices.Clone(state.ImageList), nil
}

// BBCodeFormatter renders the item description followed by its images.
type BBCodeFormatter struct{}

func (BBCodeFormatter) Description(_ context.Context, state *models.WorkingState, _ string) (string, error) {
	var b strings.Builder
	if d := strings.TrimSpace(state.Description); d != "" {
		b.WriteString(d)
		b.WriteString("\n\n")
	}
	if len(state.ImageList) > 0 {
		b.WriteString("[center]")
		for _, img := range state.ImageList {
			target := img.WebURL
			if target == "" {
				target = img.RawURL
			}
			fmt.Fprintf(&b, "[url=%s][img]%s[/img][/url]", target, img.ImgURL)
		}
		b.WriteString("[/center]\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
