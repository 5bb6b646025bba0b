// Copyright © 2024 The Kelpie Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/shenwei356/util/pathutil"
	"github.com/spf13/cobra"
)

// checkError logs a flag-parsing or input-file error and terminates the
// process. Errors returned from runKelpie, including the "no starting
// primer reads found" case, do not pass through it: Execute prints them and
// exits with status 1.
func checkError(err error) {
	if err == nil {
		return
	}
	log.Errorf("%s", err)
	os.Exit(1)
}

func getFlagString(cmd *cobra.Command, flag string) string {
	v, err := cmd.Flags().GetString(flag)
	checkError(err)
	return v
}

func getFlagBool(cmd *cobra.Command, flag string) bool {
	v, err := cmd.Flags().GetBool(flag)
	checkError(err)
	return v
}

func getFlagInt(cmd *cobra.Command, flag string) int {
	v, err := cmd.Flags().GetInt(flag)
	checkError(err)
	return v
}

func getFlagFloat64(cmd *cobra.Command, flag string) float64 {
	v, err := cmd.Flags().GetFloat64(flag)
	checkError(err)
	return v
}

func getFlagNonNegativeFloat64(cmd *cobra.Command, flag string) float64 {
	v := getFlagFloat64(cmd, flag)
	if v < 0 {
		checkError(fmt.Errorf("value of flag --%s should be a non-negative number", flag))
	}
	return v
}

func getFlagNonNegativeInt(cmd *cobra.Command, flag string) int {
	v := getFlagInt(cmd, flag)
	if v < 0 {
		checkError(fmt.Errorf("value of flag --%s should be a non-negative integer", flag))
	}
	return v
}

func getFlagPositiveInt(cmd *cobra.Command, flag string) int {
	v := getFlagInt(cmd, flag)
	if v <= 0 {
		checkError(fmt.Errorf("value of flag --%s should be a positive integer", flag))
	}
	return v
}

// resolveThreads turns the raw --threads value into a worker-pool size: 0
// means "use every core", matching the CLI surface's "-t N|max" wording.
func resolveThreads(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// parseMismatchBudget parses "-mm" as either a single shared budget "N" or a
// split budget "Nf+Nr".
func parseMismatchBudget(spec string) (forward, reverse int, err error) {
	if spec == "" {
		return 1, 1, nil
	}
	if strings.Contains(spec, "+") {
		parts := strings.SplitN(spec, "+", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("invalid -mm value %q: expected Nf+Nr", spec)
		}
		forward, err = strconv.Atoi(strings.TrimSuffix(parts[0], "f"))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid -mm forward budget %q: %w", parts[0], err)
		}
		reverse, err = strconv.Atoi(strings.TrimSuffix(parts[1], "r"))
		if err != nil {
			return 0, 0, fmt.Errorf("invalid -mm reverse budget %q: %w", parts[1], err)
		}
		return forward, reverse, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid -mm value %q: %w", spec, err)
	}
	return n, n, nil
}

// parseAmpliconLength parses "-length" as either "N" or "N-M", returning the
// midpoint length used to derive the region-filter iteration cap.
func parseAmpliconLength(spec string) (int, error) {
	if spec == "" {
		return 0, nil
	}
	if strings.Contains(spec, "-") {
		parts := strings.SplitN(spec, "-", 2)
		lo, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, fmt.Errorf("invalid -length value %q: %w", spec, err)
		}
		hi, err := strconv.Atoi(parts[1])
		if err != nil {
			return 0, fmt.Errorf("invalid -length value %q: %w", spec, err)
		}
		return (lo + hi) / 2, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, fmt.Errorf("invalid -length value %q: %w", spec, err)
	}
	return n, nil
}

// expandDir expands a leading "~" and verifies a directory exists and is
// writable (via shenwei356/util/pathutil, the same helper unikmer's
// checkFiles leans on), creating it if it is missing.
func expandDir(dir string) (string, error) {
	if dir == "" {
		return dir, nil
	}
	expanded, err := homedir.Expand(dir)
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", dir, err)
	}
	exists, err := pathutil.DirExists(expanded)
	if err != nil {
		return "", fmt.Errorf("checking %q: %w", expanded, err)
	}
	if !exists {
		if err := os.MkdirAll(expanded, 0o755); err != nil {
			return "", fmt.Errorf("creating %q: %w", expanded, err)
		}
	}
	return expanded, nil
}

// checkFiles verifies every path exists and is readable, fatal on the first
// that doesn't.
func checkFiles(paths ...string) {
	for _, p := range paths {
		ok, err := pathutil.Exists(p)
		if err != nil {
			checkError(fmt.Errorf("checking %s: %w", p, err))
		}
		if !ok {
			checkError(fmt.Errorf("file does not exist: %s", p))
		}
	}
}
