// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package artifact

import (
	"bytes"
	"fmt"
	"path"
	"slices"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"github.com/autobrr/upbrr/internal/fsutil"
)

// Artifact is a torrent file on disk with its decoded info dictionary.
type Artifact struct {
	Path     string
	MetaInfo *metainfo.MetaInfo
	Info     metainfo.Info
}

func (a *Artifact) PieceLength() int64 {
	return a.Info.PieceLength
}

func (a *Artifact) InfoHash() string {
	return a.MetaInfo.HashInfoBytes().HexString()
}

func (a *Artifact) Private() bool {
	return a.Info.Private != nil && *a.Info.Private
}

// Files returns the logical file set as slash-separated paths relative to the
// torrent root, sorted.
func (a *Artifact) Files() []string {
	return fileSet(a.Info)
}

func fileSet(info metainfo.Info) []string {
	if len(info.Files) == 0 {
		return []string{info.Name}
	}
	out := make([]string, 0, len(info.Files))
	for _, f := range info.Files {
		out = append(out, path.Join(f.Path...))
	}
	slices.Sort(out)
	return out
}

// Codec reads and writes artifacts.
type Codec interface {
	Read(path string) (*Artifact, error)
	Write(a *Artifact, path string) error
}

// MetainfoCodec is the bencode codec backed by anacrolix/torrent.
type MetainfoCodec struct{}

func (MetainfoCodec) Read(p string) (*Artifact, error) {
	mi, err := metainfo.LoadFromFile(p)
	if err != nil {
		return nil, fmt.Errorf("read torrent %s: %w", p, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("decode torrent info %s: %w", p, err)
	}
	return &Artifact{Path: p, MetaInfo: mi, Info: info}, nil
}

// Write re-encodes a.Info into the metainfo and replaces the file at p atomically.
func (MetainfoCodec) Write(a *Artifact, p string) error {
	infoBytes, err := bencode.Marshal(a.Info)
	if err != nil {
		return fmt.Errorf("encode torrent info: %w", err)
	}
	a.MetaInfo.InfoBytes = infoBytes

	var buf bytes.Buffer
	if err := a.MetaInfo.Write(&buf); err != nil {
		return fmt.Errorf("encode torrent: %w", err)
	}

	if err := fsutil.WriteFileAtomic(p, buf.Bytes(), 0o644); err != nil {
		return err
	}
	a.Path = p
	return nil
}
