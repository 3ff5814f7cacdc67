// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/autobrr/upbrr/internal/auth"
)

// terminalInput answers prompts on the controlling terminal. It returns nil when
// stdin is not a terminal, which makes every prompt fail closed.
func terminalInput() auth.InputFunc {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	reader := bufio.NewReader(os.Stdin)

	return func(ctx context.Context, req auth.NeedsInput) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		switch req.Kind {
		case auth.InputTwoFactorCode:
			fmt.Fprintf(os.Stderr, "%s: ", req.Prompt)
			code, err := term.ReadPassword(fd)
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return "", fmt.Errorf("failed to read code: %w", err)
			}
			return strings.TrimSpace(string(code)), nil
		default:
			fmt.Fprintf(os.Stderr, "%s [y/N]: ", req.Prompt)
			line, err := reader.ReadString('\n')
			if err != nil {
				return "", fmt.Errorf("failed to read answer: %w", err)
			}
			return strings.TrimSpace(line), nil
		}
	}
}
