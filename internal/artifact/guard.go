// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package artifact

import (
	"context"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
)

// Constraints are the artifact rules of one tracker.
type Constraints struct {
	// MaxPieceLength is the piece-length ceiling; zero means unconstrained.
	MaxPieceLength int64
	Source         string
}

type Guard struct {
	codec Codec
}

func NewGuard(codec Codec) *Guard {
	if codec == nil {
		codec = MetainfoCodec{}
	}
	return &Guard{codec: codec}
}

func (g *Guard) Codec() Codec {
	return g.codec
}

// EnsureCompliant returns art unchanged when it satisfies c. Otherwise it regenerates
// the torrent from src as a private torrent with the piece length clamped to the
// ceiling and atomically replaces art.Path. Regeneration that would change the
// torrent name or file set fails instead.
func (g *Guard) EnsureCompliant(ctx context.Context, art *Artifact, c Constraints, src Source) (*Artifact, error) {
	if c.MaxPieceLength <= 0 || art.PieceLength() <= c.MaxPieceLength {
		return art, nil
	}

	log.Info().
		Str("torrent", art.Path).
		Int64("pieceLength", art.PieceLength()).
		Int64("ceiling", c.MaxPieceLength).
		Msg("Piece length exceeds tracker limit, regenerating torrent")

	info, err := buildInfo(ctx, src, c.MaxPieceLength)
	if err != nil {
		return nil, &Error{Path: art.Path, Op: "regenerate", Err: err}
	}

	if info.Name != art.Info.Name {
		return nil, &Error{Path: art.Path, Op: "regenerate", Err: fmt.Errorf("name changed from %q to %q", art.Info.Name, info.Name)}
	}
	if before, after := art.Files(), fileSet(info); !slices.Equal(before, after) {
		return nil, &Error{Path: art.Path, Op: "regenerate", Err: fmt.Errorf("file set changed: %d files before, %d after", len(before), len(after))}
	}

	private := true
	info.Private = &private
	info.Source = art.Info.Source
	if c.Source != "" {
		info.Source = c.Source
	}

	mi := *art.MetaInfo
	out := &Artifact{MetaInfo: &mi, Info: info}
	if err := g.codec.Write(out, art.Path); err != nil {
		return nil, &Error{Path: art.Path, Op: "regenerate", Err: err}
	}

	return out, nil
}
