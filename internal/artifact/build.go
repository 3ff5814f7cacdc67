// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/autobrr/upbrr/internal/buildinfo"
)

const (
	MinPieceLength int64 = 32 << 10
	MaxPieceLength int64 = 16 << 20

	targetPieces = 1500
)

var videoContainers = []string{".mkv", ".mp4", ".ts"}

// Source is the content a torrent is built from.
type Source struct {
	Root string
	// Disc releases keep every file; file releases keep video containers only.
	Disc bool
}

type CreateOptions struct {
	// PieceLength overrides the policy when non-zero.
	PieceLength    int64
	MaxPieceLength int64
	Private        bool
	Source         string
	Announce       string
	Comment        string
}

// PieceLengthFor picks a power-of-two piece length giving roughly targetPieces pieces,
// bounded by MinPieceLength and by ceiling (or MaxPieceLength when ceiling is zero).
func PieceLengthFor(total, ceiling int64) int64 {
	if ceiling <= 0 || ceiling > MaxPieceLength {
		ceiling = MaxPieceLength
	}

	pl := MinPieceLength
	for pl < ceiling && total/pl > targetPieces {
		pl <<= 1
	}
	return min(pl, ceiling)
}

// includeFile applies the file-release filter: known video containers, no samples.
func includeFile(name string) bool {
	lower := strings.ToLower(name)
	if !slices.Contains(videoContainers, filepath.Ext(lower)) {
		return false
	}
	if strings.HasSuffix(lower, "sample.mkv") {
		return false
	}
	if strings.HasPrefix(lower, "sample") {
		return false
	}
	return true
}

// buildInfo collects the file list under src and hashes it with pieceLength.
func buildInfo(ctx context.Context, src Source, pieceLength int64) (metainfo.Info, error) {
	rootInfo, err := os.Stat(src.Root)
	if err != nil {
		return metainfo.Info{}, err
	}

	info := metainfo.Info{
		Name:        filepath.Base(src.Root),
		PieceLength: pieceLength,
	}

	if !rootInfo.IsDir() {
		info.Length = rootInfo.Size()
	} else {
		err := filepath.WalkDir(src.Root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if !src.Disc && !includeFile(d.Name()) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(src.Root, p)
			if err != nil {
				return err
			}
			info.Files = append(info.Files, metainfo.FileInfo{
				Length: fi.Size(),
				Path:   strings.Split(filepath.ToSlash(rel), "/"),
			})
			return nil
		})
		if err != nil {
			return metainfo.Info{}, err
		}
		if len(info.Files) == 0 {
			return metainfo.Info{}, errors.New("no files matched")
		}
		slices.SortFunc(info.Files, func(a, b metainfo.FileInfo) int {
			return strings.Compare(strings.Join(a.Path, "/"), strings.Join(b.Path, "/"))
		})
	}

	err = info.GeneratePieces(func(fi metainfo.FileInfo) (io.ReadCloser, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(fi.Path) == 0 {
			return os.Open(src.Root)
		}
		return os.Open(filepath.Join(append([]string{src.Root}, fi.Path...)...))
	})
	if err != nil {
		return metainfo.Info{}, fmt.Errorf("hash pieces: %w", err)
	}

	return info, nil
}

func totalSize(src Source) (int64, error) {
	var total int64
	err := filepath.WalkDir(src.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if p != src.Root && !src.Disc && !includeFile(d.Name()) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

// Create hashes src into a new torrent at dst.
func Create(ctx context.Context, codec Codec, src Source, dst string, opts CreateOptions) (*Artifact, error) {
	pieceLength := opts.PieceLength
	if pieceLength == 0 {
		total, err := totalSize(src)
		if err != nil {
			return nil, &Error{Path: dst, Op: "create", Err: err}
		}
		pieceLength = PieceLengthFor(total, opts.MaxPieceLength)
	}

	info, err := buildInfo(ctx, src, pieceLength)
	if err != nil {
		return nil, &Error{Path: dst, Op: "create", Err: err}
	}
	if opts.Private {
		private := true
		info.Private = &private
	}
	info.Source = opts.Source

	mi := &metainfo.MetaInfo{
		CreatedBy:    buildinfo.UserAgent,
		CreationDate: time.Now().Unix(),
		Comment:      opts.Comment,
		Announce:     opts.Announce,
	}

	a := &Artifact{MetaInfo: mi, Info: info}
	if err := codec.Write(a, dst); err != nil {
		return nil, &Error{Path: dst, Op: "create", Err: err}
	}
	return a, nil
}

// Retarget writes a copy of base for one tracker: private, with its announce URL and
// source flag. The source flag changes the info hash.
func Retarget(codec Codec, base *Artifact, dst, announce, source string) (*Artifact, error) {
	mi := *base.MetaInfo
	mi.Announce = announce
	mi.AnnounceList = nil
	mi.Comment = ""

	info := base.Info
	private := true
	info.Private = &private
	info.Source = source

	a := &Artifact{MetaInfo: &mi, Info: info}
	if err := codec.Write(a, dst); err != nil {
		return nil, &Error{Path: dst, Op: "retarget", Err: err}
	}
	return a, nil
}
