// Package archivetool wraps a 7z-compatible CLI binary: listing
// contents, extracting, and detecting the real container format of a
// file by magic bytes (spec.md §4.3 "Archive driver"). It shells out
// via os/exec rather than linking an archive library — the teacher's
// own pattern of driving an external binary for work that crosses
// process boundaries (internal/daemon/dirs.go's EXDEV fallback).
package archivetool

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// Entry is one file or directory inside an archive's listing.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// Tool drives a 7z-compatible binary found at Path.
type Tool struct {
	Path    string
	Timeout time.Duration
}

// New builds a Tool, resolving the binary the way the teacher's
// config readers tolerate a missing value: an explicit configured
// path wins, otherwise fall back to "7z" and let exec.LookPath decide.
func New(configuredPath string) *Tool {
	path := configuredPath
	if path == "" {
		path = "7z"
	}
	if resolved, err := exec.LookPath(path); err == nil {
		path = resolved
	}
	return &Tool{Path: path, Timeout: 30 * time.Second}
}

// Available reports whether the binary can be invoked at all.
func (t *Tool) Available() bool {
	cmd := exec.Command(t.Path, "--help")
	return cmd.Run() == nil
}

// List returns the archive's contents using the given password ("" for
// none), or an error if the password didn't work.
func (t *Tool) List(archivePath, password string) ([]Entry, error) {
	args := []string{"l", "-ba", archivePath, passwordFlag(password)}
	out, err := t.run(args)
	if err != nil {
		return nil, err
	}
	return parseListOutput(decode7zOutput(out))
}

// Extract expands archivePath into outputDir using the given password.
func (t *Tool) Extract(archivePath, outputDir, password string) error {
	args := []string{"x", "-y", "-o" + outputDir, archivePath, passwordFlag(password)}
	_, err := t.run(args)
	return err
}

// ProbeFormat runs a bare listing and inspects the "Type = " line the
// binary prints, used as a fallback when magic-byte sniffing is
// inconclusive (spec.md §4.3 "Extension repair").
func (t *Tool) ProbeFormat(path string) (string, error) {
	out, err := t.run([]string{"l", path})
	if err != nil {
		return "", err
	}
	text := string(out)
	switch {
	case strings.Contains(text, "Type = 7z"):
		return "7z", nil
	case strings.Contains(text, "Type = zip"):
		return "zip", nil
	case strings.Contains(text, "Type = Rar"):
		return "rar", nil
	}
	return "", fmt.Errorf("archivetool: format not reported for %s", path)
}

func passwordFlag(password string) string {
	if password == "" {
		return "-p"
	}
	return "-p" + password
}

func (t *Tool) run(args []string) ([]byte, error) {
	cmd := exec.Command(t.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("archivetool: %s %v: %w (%s)", t.Path, args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// decode7zOutput best-effort decodes 7z's listing output. Most builds
// emit the host locale's codepage for non-ASCII filenames (GBK on
// Chinese Windows hosts, Shift-JIS for Japanese archive names); UTF-8
// is tried first and the conservative GBK decode is taken only if the
// input isn't valid UTF-8, falling back to the raw bytes otherwise.
func decode7zOutput(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if decoded, err := simplifiedchinese.GBK.NewDecoder().Bytes(raw); err == nil {
		return string(decoded)
	}
	if decoded, err := japanese.ShiftJIS.NewDecoder().Bytes(raw); err == nil {
		return string(decoded)
	}
	return string(raw)
}

var listLine = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2}:\d{2})\s+([D.][R.][H.][S.][A.])\s+(\d+)\s*(\d+)?\s+(.+)$`)

func parseListOutput(output string) ([]Entry, error) {
	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		m := listLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		size, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:  m[6],
			Size:  size,
			IsDir: strings.Contains(m[3], "D"),
		})
	}
	return entries, nil
}

// DetectMagic identifies a container format from a file's header
// bytes, independent of its extension (spec.md §4.3 "Extension repair").
func DetectMagic(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("archivetool: open %s: %w", path, err)
	}
	defer f.Close()

	header := make([]byte, 8)
	n, _ := f.Read(header)
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte{'P', 'K', 0x03, 0x04}),
		bytes.HasPrefix(header, []byte{'P', 'K', 0x05, 0x06}),
		bytes.HasPrefix(header, []byte{'P', 'K', 0x07, 0x08}):
		return "zip", nil
	case bytes.HasPrefix(header, []byte("Rar!")):
		return "rar", nil
	case bytes.HasPrefix(header, []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}):
		return "7z", nil
	}
	return "", fmt.Errorf("archivetool: unrecognized magic for %s", path)
}
